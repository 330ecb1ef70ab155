package markup

import "sync"

// Factory hands out the display renderer for the active locale. A renderer,
// and with it a fresh set of overrides bound to the locale's localizer, is
// built only when the requested locale differs from the previous one.
//
// Factory is safe for concurrent use.
type Factory struct {
	opts         Options
	langs        LanguageRegistry
	localizerFor func(locale string) Localizer

	mu      sync.Mutex
	locale  string
	current *Renderer
	builds  int
}

// NewFactory returns a Factory. localizerFor must return a non-nil
// Localizer for every locale, falling back as it sees fit.
func NewFactory(opts Options, langs LanguageRegistry, localizerFor func(locale string) Localizer) *Factory {
	if langs == nil {
		langs = ChromaLanguages{}
	}
	return &Factory{opts: opts, langs: langs, localizerFor: localizerFor}
}

// ForLocale returns the renderer for locale, rebuilding it if the locale
// changed since the last call.
func (f *Factory) ForLocale(locale string) *Renderer {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current != nil && f.locale == locale {
		return f.current
	}
	ov := NewOverrides(f.localizerFor(locale), f.langs)
	f.current = New(f.opts, &ov)
	f.locale = locale
	f.builds++
	return f.current
}

// Builds reports how many renderers the factory has constructed.
func (f *Factory) Builds() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.builds
}
