package audio

import (
	"fmt"
	"log/slog"
	"sync"
)

// FormatConverter converts PCM clips to a target format. It logs a warning
// on the first format mismatch and validates PCM data alignment.
// Create one per output; not designed for shared use across goroutines.
//
// Clips with a non-PCM encoding are returned unchanged; WAV clips are
// unwrapped to PCM first.
type FormatConverter struct {
	Target         Format
	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
}

// Convert converts a clip to the target format. If the source format already
// matches the target, the clip is returned unchanged (zero allocation).
// Conversion order: resample first, then channel convert.
func (c *FormatConverter) Convert(clip Clip) Clip {
	if clip.Format.Encoding == EncodingWAV {
		pcm, f, err := DecodeWAV(clip.Data)
		if err != nil {
			c.warnedCorrupt.Do(func() {
				slog.Warn("audio format converter: undecodable WAV payload, dropping clip",
					"key", clip.Key,
					"seq", clip.Seq,
					"err", err,
				)
			})
			clip.Data = nil
			return clip
		}
		clip.Data = pcm
		clip.Format = f
	}
	if !clip.Format.IsPCM() || c.Target.SampleRate == 0 {
		return clip
	}

	// Validate: odd byte count for int16 PCM.
	if len(clip.Data)%2 != 0 {
		c.warnedCorrupt.Do(func() {
			slog.Warn("audio format converter: odd byte count in PCM data, dropping clip",
				"bytes", len(clip.Data),
				"sampleRate", clip.Format.SampleRate,
				"channels", clip.Format.Channels,
			)
		})
		clip.Data = nil
		clip.Format = c.Target
		return clip
	}

	// Unknown source rate or layout: nothing sensible to convert from.
	if clip.Format.SampleRate == 0 || clip.Format.Channels == 0 {
		return clip
	}

	// Fast path: source matches target.
	if clip.Format.SampleRate == c.Target.SampleRate && clip.Format.Channels == c.Target.Channels {
		return clip
	}

	// Log warning on first mismatch.
	c.warnedMismatch.Do(func() {
		slog.Warn("audio format mismatch: converting",
			"from", formatString(clip.Format.SampleRate, clip.Format.Channels),
			"to", formatString(c.Target.SampleRate, c.Target.Channels),
		)
	})

	pcm := clip.Data
	currentRate := clip.Format.SampleRate
	currentChannels := clip.Format.Channels

	// Step 1: Resample first (avoids resampling stereo when target is mono).
	if currentRate != c.Target.SampleRate {
		if currentChannels == 1 {
			pcm = ResampleMono16(pcm, currentRate, c.Target.SampleRate)
		} else {
			pcm = ResampleStereo16(pcm, currentRate, c.Target.SampleRate)
		}
		currentRate = c.Target.SampleRate
	}

	// Step 2: Channel conversion.
	if currentChannels != c.Target.Channels {
		if currentChannels == 1 && c.Target.Channels == 2 {
			pcm = MonoToStereo(pcm)
		} else if currentChannels == 2 && c.Target.Channels == 1 {
			pcm = StereoToMono(pcm)
		}
		currentChannels = c.Target.Channels
	}

	clip.Data = pcm
	clip.Format = Format{Encoding: EncodingPCM16, SampleRate: currentRate, Channels: currentChannels}
	return clip
}

// MonoToStereo duplicates each int16 mono sample into a stereo L+R pair.
// Input must be little-endian int16 PCM (2 bytes per sample).
func MonoToStereo(pcm []byte) []byte {
	out := make([]byte, (len(pcm)/2)*4)
	for i := 0; i+1 < len(pcm); i += 2 {
		lo, hi := pcm[i], pcm[i+1]
		j := i * 2
		out[j] = lo
		out[j+1] = hi
		out[j+2] = lo
		out[j+3] = hi
	}
	return out
}

// StereoToMono averages L+R per stereo frame (4 bytes) to produce mono output.
// Uses int32 arithmetic to prevent overflow and clamps to int16 range.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		l := int32(int16(pcm[i*4]) | int16(pcm[i*4+1])<<8)
		r := int32(int16(pcm[i*4+2]) | int16(pcm[i*4+3])<<8)
		avg := min(max((l+r)/2, -32768), 32767)
		out[i*2] = byte(avg)
		out[i*2+1] = byte(avg >> 8)
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using linear
// interpolation. The input must be little-endian int16 samples. If srcRate ==
// dstRate, the input is returned unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	return resample16(pcm, srcRate, dstRate, 1)
}

// ResampleStereo16 resamples 16-bit stereo PCM from srcRate to dstRate using
// linear interpolation. Each stereo frame is 4 bytes (L+R interleaved).
// If srcRate == dstRate, the input is returned unchanged.
func ResampleStereo16(pcm []byte, srcRate, dstRate int) []byte {
	return resample16(pcm, srcRate, dstRate, 2)
}

func resample16(pcm []byte, srcRate, dstRate, channels int) []byte {
	frameBytes := 2 * channels
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < frameBytes {
		return pcm
	}
	srcFrames := len(pcm) / frameBytes
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	sample := func(frame, ch int) int16 {
		o := frame*frameBytes + ch*2
		return int16(pcm[o]) | int16(pcm[o+1])<<8
	}

	out := make([]byte, dstFrames*frameBytes)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstFrames {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)
		next := min(srcIdx+1, srcFrames-1)
		for ch := range channels {
			s0, s1 := sample(srcIdx, ch), sample(next, ch)
			v := int16(float64(s0)*(1-frac) + float64(s1)*frac)
			o := i*frameBytes + ch*2
			out[o] = byte(v)
			out[o+1] = byte(v >> 8)
		}
	}
	return out
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
