package config

import "fmt"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LocaleChanged bool
	NewLocale     string

	// SpeechChanged is set when the voice, TTS locale, chunk threshold or
	// clip gap changed.
	SpeechChanged bool
	NewSpeech     SpeechConfig

	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired lists sections that changed but are only applied on
	// restart.
	RestartRequired []string
}

// Empty reports whether d carries no changes.
func (d ConfigDiff) Empty() bool {
	return !d.LocaleChanged && !d.SpeechChanged && !d.LogLevelChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Locale != new.Locale {
		d.LocaleChanged = true
		d.NewLocale = new.Locale
	}

	if old.Speech != new.Speech {
		d.SpeechChanged = true
		d.NewSpeech = new.Speech
	}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Server.ListenAddr != new.Server.ListenAddr || old.Server.LogFormat != new.Server.LogFormat || !sameTLS(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !sameRender(old.Render, new.Render) {
		d.RestartRequired = append(d.RestartRequired, "render")
	}
	if !sameProviders(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if old.Store != new.Store {
		d.RestartRequired = append(d.RestartRequired, "store")
	}

	return d
}

func sameTLS(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func sameRender(a, b RenderConfig) bool {
	return a.HighlightStyle == b.HighlightStyle &&
		a.LinkifyEnabled() == b.LinkifyEnabled() &&
		a.HardWrapsEnabled() == b.HardWrapsEnabled()
}

// sameProviders compares the scalar fields of each entry. Options maps are
// compared by key count and string form only.
func sameProviders(a, b ProvidersConfig) bool {
	if !sameEntry(a.TTS, b.TTS) || len(a.TTSFallbacks) != len(b.TTSFallbacks) {
		return false
	}
	for i := range a.TTSFallbacks {
		if !sameEntry(a.TTSFallbacks[i], b.TTSFallbacks[i]) {
			return false
		}
	}
	return true
}

func sameEntry(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	if len(a.Options) != len(b.Options) {
		return false
	}
	for k, av := range a.Options {
		bv, ok := b.Options[k]
		if !ok || fmt.Sprint(av) != fmt.Sprint(bv) {
			return false
		}
	}
	return true
}
