package audio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// Sink is the output device at the end of a [Player]. WriteAudio is called
// sequentially from a single goroutine with consecutive pieces of audio in
// playback order.
type Sink interface {
	WriteAudio(data []byte, f Format) error
	Close() error
}

// ErrSinkFormat is returned by sinks that cannot accept a payload format.
var ErrSinkFormat = errors.New("audio: sink cannot accept format")

// Discard is a Sink that drops all audio.
var Discard Sink = discard{}

type discard struct{}

func (discard) WriteAudio([]byte, Format) error { return nil }
func (discard) Close() error                    { return nil }

// WriterSink copies raw payload bytes to an io.Writer, whatever their format.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
	n  int64
}

// NewWriterSink returns a Sink writing to w. If w is an io.Closer it is closed
// by Close.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

// WriteAudio implements Sink.
func (s *WriterSink) WriteAudio(data []byte, _ Format) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.w.Write(data)
	s.n += int64(n)
	if err != nil {
		return fmt.Errorf("audio: write: %w", err)
	}
	return nil
}

// Written reports the number of bytes written so far.
func (s *WriterSink) Written() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n
}

// Close implements Sink.
func (s *WriterSink) Close() error {
	if c, ok := s.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// WAVFileSink writes PCM16 audio in a fixed format to a WAV file. The header
// is patched with the final data length on Close.
type WAVFileSink struct {
	mu     sync.Mutex
	f      *os.File
	format Format
	n      int
}

// NewWAVFileSink creates path and writes a provisional WAV header for format.
func NewWAVFileSink(path string, format Format) (*WAVFileSink, error) {
	if !format.IsPCM() || format.SampleRate <= 0 || format.Channels <= 0 {
		return nil, fmt.Errorf("%w: wav file needs a concrete PCM format, got %s", ErrSinkFormat, format)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("audio: create wav sink: %w", err)
	}
	if err := WriteWAVHeader(f, format, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("audio: write wav header: %w", err)
	}
	return &WAVFileSink{f: f, format: format}, nil
}

// WriteAudio implements Sink. Payloads must already be in the sink's format.
func (s *WAVFileSink) WriteAudio(data []byte, f Format) error {
	if !f.IsPCM() || f.SampleRate != s.format.SampleRate || f.Channels != s.format.Channels {
		return fmt.Errorf("%w: got %s, want %s", ErrSinkFormat, f, s.format)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.f.Write(data)
	s.n += n
	if err != nil {
		return fmt.Errorf("audio: write wav: %w", err)
	}
	return nil
}

// Close patches the header and closes the file.
func (s *WAVFileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.f.Seek(0, io.SeekStart); err != nil {
		s.f.Close()
		return fmt.Errorf("audio: seek wav header: %w", err)
	}
	if err := WriteWAVHeader(s.f, s.format, s.n); err != nil {
		s.f.Close()
		return fmt.Errorf("audio: patch wav header: %w", err)
	}
	return s.f.Close()
}
