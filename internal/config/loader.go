package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/alecthomas/chroma/v2/styles"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"tts": {"openai", "elevenlabs", "coqui"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. An empty document yields the default config.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	*cfg = cfg.WithDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Locales
	if err := validateLocale("locale", cfg.Locale); err != nil {
		errs = append(errs, err)
	}
	if err := validateLocale("speech.tts_locale", cfg.Speech.TTSLocale); err != nil {
		errs = append(errs, err)
	}

	// Render
	if s := cfg.Render.HighlightStyle; s != "" && styles.Get(s) == styles.Fallback && !strings.EqualFold(s, styles.Fallback.Name) {
		slog.Warn("unknown render.highlight_style; the fallback style will be used", "style", s)
	}

	// Speech
	if cfg.Speech.ChunkMinLength < 0 {
		errs = append(errs, fmt.Errorf("speech.chunk_min_length %d must not be negative", cfg.Speech.ChunkMinLength))
	}
	if cfg.Speech.Gap < 0 {
		errs = append(errs, fmt.Errorf("speech.gap %s must not be negative", cfg.Speech.Gap))
	}

	// Providers
	if cfg.Providers.TTS.Name == "" {
		if len(cfg.Providers.TTSFallbacks) > 0 {
			errs = append(errs, errors.New("providers.tts_fallbacks requires providers.tts to be configured"))
		} else {
			slog.Warn("no TTS provider configured; read-aloud will not be available")
		}
	}
	validateProviderName("tts", cfg.Providers.TTS.Name)
	for i, fb := range cfg.Providers.TTSFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.tts_fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName("tts", fb.Name)
	}

	// Store availability
	if cfg.Store.PostgresDSN == "" {
		slog.Debug("store.postgres_dsn is empty; stored message lookup is disabled")
	}

	return errors.Join(errs...)
}

// validateLocale reports an error when value is set but is not a
// well-formed BCP 47 tag.
func validateLocale(field, value string) error {
	if value == "" {
		return nil
	}
	if _, err := language.Parse(value); err != nil {
		return fmt.Errorf("%s %q is not a valid BCP 47 tag: %w", field, value, err)
	}
	return nil
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
