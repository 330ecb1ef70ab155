package main

import (
	"log/slog"

	"github.com/MrWong99/murmur/internal/config"
	"github.com/MrWong99/murmur/pkg/provider/tts"
	"github.com/MrWong99/murmur/pkg/provider/tts/coqui"
	"github.com/MrWong99/murmur/pkg/provider/tts/elevenlabs"
	"github.com/MrWong99/murmur/pkg/provider/tts/openai"
)

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in TTS factories into reg. Each
// factory receives a config.ProviderEntry and constructs the provider from the
// real implementation package.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if v, ok := entry.StringOption("voice"); ok {
			opts = append(opts, openai.WithDefaultVoice(v))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		if f, ok := entry.StringOption("output_format"); ok {
			opts = append(opts, elevenlabs.WithOutputFormat(f))
		}
		if v, ok := entry.StringOption("voice"); ok {
			opts = append(opts, elevenlabs.WithDefaultVoice(v))
		}
		if on, ok := entry.BoolOption("streaming"); ok {
			opts = append(opts, elevenlabs.WithStreaming(on))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if lang, ok := entry.StringOption("language"); ok {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode, ok := entry.StringOption("api_mode"); ok {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	slog.Debug("registered providers", "tts", reg.TTSNames())
}
