// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to feed controlled audio payloads to consumers and to verify
// the requests passed to the TTS backend.
//
// Example:
//
//	p := &mock.Provider{
//	    Audio: map[string][]byte{"Hello there.": []byte("pcm")},
//	    ListVoicesResult: []tts.VoiceProfile{{ID: "v1", Name: "Alice"}},
//	}
//	resp, _ := p.Synthesize(ctx, tts.Request{Input: "Hello there."})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/murmur/pkg/audio"
	"github.com/MrWong99/murmur/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Ctx is the context passed to Synthesize.
	Ctx context.Context
	// Request is the request passed to Synthesize.
	Request tts.Request
}

// ListVoicesCall records a single invocation of ListVoices.
type ListVoicesCall struct {
	// Ctx is the context passed to ListVoices.
	Ctx context.Context
}

// Format is the audio format of every mock response.
var Format = audio.Format{Encoding: audio.EncodingPCM16, SampleRate: 16000, Channels: 1}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Audio maps request inputs to payloads. Inputs not present fall back to
	// DefaultAudio.
	Audio map[string][]byte

	// DefaultAudio is returned for inputs missing from Audio. When nil and
	// the input is not in Audio, Synthesize returns a nil response.
	DefaultAudio []byte

	// Empty lists inputs for which Synthesize returns a nil response and nil
	// error.
	Empty map[string]bool

	// Errs maps inputs to errors returned by Synthesize.
	Errs map[string]error

	// SynthesizeErr, if non-nil, is returned for every input.
	SynthesizeErr error

	// OnSynthesize, if set, is called with each request before the response
	// is produced. Tests use it to observe interleaving with playback.
	OnSynthesize func(req tts.Request)

	// ListVoicesResult is returned by ListVoices.
	ListVoicesResult []tts.VoiceProfile

	// ListVoicesErr, if non-nil, is returned as the error from ListVoices.
	ListVoicesErr error

	// --- Call records ---

	// SynthesizeCalls records every call to Synthesize in order.
	SynthesizeCalls []SynthesizeCall

	// ListVoicesCalls records every call to ListVoices in order.
	ListVoicesCalls []ListVoicesCall
}

// Synthesize records the call and returns the configured payload.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (*tts.Response, error) {
	p.mu.Lock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Ctx: ctx, Request: req})
	hook := p.OnSynthesize
	var (
		data  []byte
		found bool
		err   error
	)
	switch {
	case p.SynthesizeErr != nil:
		err = p.SynthesizeErr
	case p.Errs[req.Input] != nil:
		err = p.Errs[req.Input]
	case p.Empty[req.Input]:
	default:
		data, found = p.Audio[req.Input]
		if !found && p.DefaultAudio != nil {
			data, found = p.DefaultAudio, true
		}
	}
	p.mu.Unlock()

	if hook != nil {
		hook(req)
	}
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	return tts.NewBufferedResponse(Format, buf), nil
}

// ListVoices records the call and returns ListVoicesResult, ListVoicesErr.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ListVoicesCalls = append(p.ListVoicesCalls, ListVoicesCall{Ctx: ctx})
	return p.ListVoicesResult, p.ListVoicesErr
}

// Inputs returns the Input of every recorded Synthesize call in order.
func (p *Provider) Inputs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.SynthesizeCalls))
	for i, c := range p.SynthesizeCalls {
		out[i] = c.Request.Input
	}
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = nil
	p.ListVoicesCalls = nil
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
