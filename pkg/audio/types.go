// Package audio defines the playback contract of the speech pipeline.
//
// A [Player] accepts synthesized [Clip] values and is responsible for
// ordering their playback. Play is a submission, not a blocking playback
// call: implementations queue the clip and return, so that the orchestrator
// can begin synthesizing the next chunk while the current one is audible.
//
// This package also carries the small amount of PCM plumbing needed to
// normalize provider output before it reaches a sink: format conversion,
// WAV parsing and writer-backed sinks.
package audio

import (
	"context"
	"errors"
	"fmt"
)

// Encoding names the byte layout of a clip payload.
type Encoding string

const (
	// EncodingPCM16 is headerless little-endian signed 16-bit PCM.
	EncodingPCM16 Encoding = "pcm_s16le"

	// EncodingWAV is a RIFF/WAVE container around PCM16.
	EncodingWAV Encoding = "wav"

	// EncodingMP3 is an MPEG-1 Layer III stream. It is passed through
	// untouched.
	EncodingMP3 Encoding = "mp3"
)

// Format describes the encoding, sample rate and channel count of a payload.
type Format struct {
	Encoding   Encoding
	SampleRate int
	Channels   int
}

// IsPCM reports whether f is raw PCM16. An empty encoding is treated as PCM.
func (f Format) IsPCM() bool {
	return f.Encoding == "" || f.Encoding == EncodingPCM16
}

// String returns a human-readable form, e.g. "pcm_s16le 24000Hz mono".
func (f Format) String() string {
	enc := f.Encoding
	if enc == "" {
		enc = EncodingPCM16
	}
	if f.SampleRate == 0 {
		return string(enc)
	}
	return fmt.Sprintf("%s %s", enc, formatString(f.SampleRate, f.Channels))
}

// Clip is one synthesized audio payload submitted for playback.
type Clip struct {
	// Key groups the clips of one speak invocation, typically the message ID.
	// [Stopper.Stop] discards queued clips by key.
	Key string

	// Seq is the zero-based chunk index within Key.
	Seq int

	// Data is the audio payload in Format.
	Data []byte

	// Format describes Data.
	Format Format

	// Priority controls scheduling when several keys are queued. Higher values
	// play first; equal priorities play in submission order.
	Priority int
}

// ErrClosed is returned by Play after the player has been closed.
var ErrClosed = errors.New("audio: player closed")

// Player queues clips for ordered playback.
//
// Implementations must be safe for concurrent use.
type Player interface {
	// Play submits clip for playback and returns without waiting for it to be
	// heard. Clips submitted from one goroutine play in submission order
	// unless a higher-priority clip overtakes them.
	//
	// A non-nil error means the clip was not queued: the player is closed or
	// its output has failed.
	Play(ctx context.Context, clip Clip) error
}

// Stopper is implemented by players that can drop queued audio.
type Stopper interface {
	// Stop discards every queued clip with the given key and cuts off the
	// clip currently playing if it belongs to key.
	Stop(key string)
}
