package app

import (
	"fmt"
	"log/slog"

	"github.com/MrWong99/murmur/internal/config"
	"github.com/MrWong99/murmur/internal/observe"
	"github.com/MrWong99/murmur/internal/resilience"
)

// BuildTTS instantiates the configured TTS backend and its fallbacks through
// reg and composes them behind circuit breakers. With no TTS configured it
// returns empty Providers and no error.
func BuildTTS(cfg *config.Config, reg *config.Registry, m *observe.Metrics) (*Providers, error) {
	entry := cfg.Providers.TTS
	if entry.Name == "" {
		return &Providers{}, nil
	}

	primary, err := reg.CreateTTS(entry)
	if err != nil {
		return nil, fmt.Errorf("app: tts provider %q: %w", entry.Name, err)
	}
	fb := resilience.NewTTSFallback(primary, entry.Name, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			OnStateChange: func(name string, from, to resilience.State) {
				slog.Warn("circuit breaker state changed", "breaker", name, "from", from, "to", to)
			},
		},
	}, m)

	for i, fe := range cfg.Providers.TTSFallbacks {
		p, err := reg.CreateTTS(fe)
		if err != nil {
			return nil, fmt.Errorf("app: tts fallback %d (%q): %w", i, fe.Name, err)
		}
		fb.AddFallback(fallbackName(fe.Name, i), p)
	}
	slog.Info("tts provider ready", "primary", entry.Name, "fallbacks", len(cfg.Providers.TTSFallbacks))

	return &Providers{TTS: fb, TTSStatus: fb.Status}, nil
}

// fallbackName keeps breaker names unique when the same backend appears more
// than once.
func fallbackName(name string, i int) string {
	return fmt.Sprintf("%s#%d", name, i+1)
}
