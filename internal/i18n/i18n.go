// Package i18n holds the built-in UI label catalog.
//
// Labels are looked up by key for a BCP 47 locale. The locale is matched
// against the supported languages with golang.org/x/text/language, so
// "de-AT" resolves to German and "es-419" to Spanish. Keys missing from the
// matched language fall back to English, and keys missing from English are
// returned verbatim.
package i18n

import (
	"sort"

	"golang.org/x/text/language"

	"github.com/MrWong99/murmur/pkg/markup"
)

// Label keys used by the renderer and the HTTP API.
const (
	KeyCopy       = markup.CopyLabelKey
	KeyCopied     = "copied"
	KeySpeak      = "speak"
	KeyStopSpeech = "stop_speech"
)

var builtin = map[language.Tag]map[string]string{
	language.English: {
		KeyCopy:       "copy",
		KeyCopied:     "copied",
		KeySpeak:      "read aloud",
		KeyStopSpeech: "stop reading",
	},
	language.German: {
		KeyCopy:       "kopieren",
		KeyCopied:     "kopiert",
		KeySpeak:      "vorlesen",
		KeyStopSpeech: "vorlesen beenden",
	},
	language.French: {
		KeyCopy:       "copier",
		KeyCopied:     "copié",
		KeySpeak:      "lire à voix haute",
		KeyStopSpeech: "arrêter la lecture",
	},
	language.Spanish: {
		KeyCopy:       "copiar",
		KeyCopied:     "copiado",
		KeySpeak:      "leer en voz alta",
		KeyStopSpeech: "detener la lectura",
	},
	language.Japanese: {
		KeyCopy:       "コピー",
		KeyCopied:     "コピーしました",
		KeySpeak:      "読み上げ",
		KeyStopSpeech: "読み上げを停止",
	},
	language.Chinese: {
		KeyCopy:       "复制",
		KeyCopied:     "已复制",
		KeySpeak:      "朗读",
		KeyStopSpeech: "停止朗读",
	},
}

// Catalog maps locales to label tables. It is immutable and safe for
// concurrent use.
type Catalog struct {
	tags    []language.Tag
	tables  []map[string]string
	matcher language.Matcher
}

// Default returns the built-in catalog. English is the fallback language.
func Default() *Catalog {
	return New(builtin)
}

// New builds a catalog from tables. English, when present, is the fallback;
// otherwise the first tag in sorted order is.
func New(tables map[language.Tag]map[string]string) *Catalog {
	tags := make([]language.Tag, 0, len(tables))
	for t := range tables {
		if t != language.English {
			tags = append(tags, t)
		}
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].String() < tags[j].String() })
	if _, ok := tables[language.English]; ok {
		// The matcher falls back to the first supported tag.
		tags = append([]language.Tag{language.English}, tags...)
	}

	c := &Catalog{tags: tags, tables: make([]map[string]string, len(tags))}
	for i, t := range tags {
		c.tables[i] = tables[t]
	}
	if len(tags) > 0 {
		c.matcher = language.NewMatcher(tags)
	}
	return c
}

// Match returns the supported locale that best serves locale.
func (c *Catalog) Match(locale string) string {
	i := c.index(locale)
	if i < 0 {
		return language.Und.String()
	}
	return c.tags[i].String()
}

func (c *Catalog) index(locale string) int {
	if len(c.tags) == 0 {
		return -1
	}
	tag, err := language.Parse(locale)
	if err != nil {
		return 0
	}
	_, idx, conf := c.matcher.Match(tag)
	if conf == language.No {
		return 0
	}
	return idx
}

// Label returns the label for key in locale.
func (c *Catalog) Label(locale, key string) string {
	return c.Localizer(locale)(key)
}

// Localizer returns a markup.Localizer bound to locale.
func (c *Catalog) Localizer(locale string) markup.Localizer {
	i := c.index(locale)
	return func(key string) string {
		if i >= 0 {
			if s, ok := c.tables[i][key]; ok {
				return s
			}
			if s, ok := c.tables[0][key]; ok {
				return s
			}
		}
		return key
	}
}

// Supported lists the catalog's locales, fallback first.
func (c *Catalog) Supported() []string {
	out := make([]string, len(c.tags))
	for i, t := range c.tags {
		out[i] = t.String()
	}
	return out
}
