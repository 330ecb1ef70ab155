package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrNotWAV is returned by DecodeWAV when the payload is not a PCM16 RIFF/WAVE
// file.
var ErrNotWAV = errors.New("audio: not a PCM16 WAV payload")

// DecodeWAV extracts the PCM16 samples and their format from a RIFF/WAVE
// payload. Only uncompressed 16-bit PCM is supported.
func DecodeWAV(data []byte) ([]byte, Format, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, Format{}, ErrNotWAV
	}
	var (
		f       Format
		haveFmt bool
	)
	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		end := body + size
		if end > len(data) {
			// Streamed WAVs carry a placeholder data size; take what is there.
			end = len(data)
		}
		switch id {
		case "fmt ":
			if end-body < 16 {
				return nil, Format{}, fmt.Errorf("%w: short fmt chunk", ErrNotWAV)
			}
			tag := binary.LittleEndian.Uint16(data[body:])
			bits := binary.LittleEndian.Uint16(data[body+14:])
			if tag != 1 || bits != 16 {
				return nil, Format{}, fmt.Errorf("%w: format tag %d, %d bits", ErrNotWAV, tag, bits)
			}
			f = Format{
				Encoding:   EncodingPCM16,
				Channels:   int(binary.LittleEndian.Uint16(data[body+2:])),
				SampleRate: int(binary.LittleEndian.Uint32(data[body+4:])),
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, Format{}, fmt.Errorf("%w: data before fmt", ErrNotWAV)
			}
			return data[body:end], f, nil
		}
		// Chunks are word aligned.
		off = end + size%2
	}
	return nil, Format{}, fmt.Errorf("%w: no data chunk", ErrNotWAV)
}

// EncodeWAV wraps PCM16 samples in a RIFF/WAVE container.
func EncodeWAV(pcm []byte, f Format) []byte {
	var buf bytes.Buffer
	buf.Grow(44 + len(pcm))
	_ = WriteWAVHeader(&buf, f, len(pcm))
	buf.Write(pcm)
	return buf.Bytes()
}

// WriteWAVHeader writes a 44-byte canonical WAV header for dataLen bytes of
// PCM16 audio in format f.
func WriteWAVHeader(w io.Writer, f Format, dataLen int) error {
	channels := max(f.Channels, 1)
	blockAlign := channels * 2
	hdr := make([]byte, 44)
	copy(hdr[0:], "RIFF")
	binary.LittleEndian.PutUint32(hdr[4:], uint32(36+dataLen))
	copy(hdr[8:], "WAVE")
	copy(hdr[12:], "fmt ")
	binary.LittleEndian.PutUint32(hdr[16:], 16)
	binary.LittleEndian.PutUint16(hdr[20:], 1)
	binary.LittleEndian.PutUint16(hdr[22:], uint16(channels))
	binary.LittleEndian.PutUint32(hdr[24:], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(hdr[28:], uint32(f.SampleRate*blockAlign))
	binary.LittleEndian.PutUint16(hdr[32:], uint16(blockAlign))
	binary.LittleEndian.PutUint16(hdr[34:], 16)
	copy(hdr[36:], "data")
	binary.LittleEndian.PutUint32(hdr[40:], uint32(dataLen))
	_, err := w.Write(hdr)
	return err
}
