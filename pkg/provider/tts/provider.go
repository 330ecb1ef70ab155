// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (OpenAI, ElevenLabs or a
// local Coqui server) and presents a uniform request/response interface:
// one call synthesizes one chunk of text into one audio payload. The speech
// orchestrator issues these calls strictly one at a time.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
)

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize converts req.Input into audio spoken by req.Voice.
	//
	// A nil *Response with a nil error means the backend produced nothing
	// usable for this input; callers skip the chunk. A non-nil error reports a
	// transport or backend failure.
	Synthesize(ctx context.Context, req Request) (*Response, error)

	// ListVoices returns all voice profiles available from this provider. The
	// list reflects the provider's current catalogue and may change between
	// calls.
	ListVoices(ctx context.Context) ([]VoiceProfile, error)
}
