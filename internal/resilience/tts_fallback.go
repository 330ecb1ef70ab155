package resilience

import (
	"context"

	"github.com/MrWong99/murmur/internal/observe"
	"github.com/MrWong99/murmur/pkg/provider/tts"
)

// kindTTS labels provider metrics recorded by [TTSFallback].
const kindTTS = "tts"

// TTSFallback implements [tts.Provider] with automatic failover across multiple
// TTS backends. Each backend has its own circuit breaker.
//
// An empty synthesis (nil response, nil error) is a success: the backend
// worked and had nothing to say, so no other backend is asked.
type TTSFallback struct {
	group   *FallbackGroup[tts.Provider]
	metrics *observe.Metrics
}

// Compile-time interface assertion.
var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
// Provider requests and errors are counted in metrics when it is non-nil.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig, metrics *observe.Metrics) *TTSFallback {
	return &TTSFallback{
		group:   NewFallbackGroup(primary, primaryName, cfg),
		metrics: metrics,
	}
}

// AddFallback registers an additional TTS provider as a fallback.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// Status reports the breaker state of every backend.
func (f *TTSFallback) Status() []EntryStatus {
	return f.group.Status()
}

// Synthesize asks the first healthy backend to synthesize req.
func (f *TTSFallback) Synthesize(ctx context.Context, req tts.Request) (*tts.Response, error) {
	return ExecuteWithResult(ctx, f.group, func(name string, p tts.Provider) (*tts.Response, error) {
		resp, err := p.Synthesize(ctx, req)
		f.record(ctx, name, err)
		return resp, err
	})
}

// ListVoices returns available voices from the first healthy provider.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	return ExecuteWithResult(ctx, f.group, func(name string, p tts.Provider) ([]tts.VoiceProfile, error) {
		voices, err := p.ListVoices(ctx)
		f.record(ctx, name, err)
		return voices, err
	})
}

func (f *TTSFallback) record(ctx context.Context, name string, err error) {
	if f.metrics == nil {
		return
	}
	switch {
	case err == nil:
		f.metrics.RecordProviderRequest(ctx, name, kindTTS, "ok")
	case IsFailure(err):
		f.metrics.RecordProviderRequest(ctx, name, kindTTS, "error")
		f.metrics.RecordProviderError(ctx, name, kindTTS)
	default:
		f.metrics.RecordProviderRequest(ctx, name, kindTTS, "cancelled")
	}
}
