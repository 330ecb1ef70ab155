package speech

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rivo/uniseg"
	"golang.org/x/text/language"
)

// abbreviations lists, per base language, lowercase tokens ending in a period
// after which the Unicode rules would break but a sentence rarely ends.
var abbreviations = map[string]map[string]bool{
	"en": set("mr.", "mrs.", "ms.", "dr.", "prof.", "st.", "vs.", "e.g.", "i.e.", "jr.", "sr.", "approx.", "fig.", "cf."),
	"de": set("z.b.", "bzw.", "ca.", "dr.", "hr.", "fr.", "nr.", "vgl.", "u.a.", "d.h.", "evtl.", "s.", "sog.", "prof."),
	"fr": set("m.", "mme.", "mlle.", "dr.", "p.ex.", "env.", "cf.", "st.", "ste."),
	"es": set("sr.", "sra.", "srta.", "dr.", "dra.", "ud.", "uds.", "p.ej.", "aprox.", "núm."),
	"it": set("sig.", "sig.ra.", "dott.", "ing.", "p.es.", "ecc."),
	"pt": set("sr.", "sra.", "dr.", "dra.", "p.ex.", "aprox."),
	"nl": set("dhr.", "mevr.", "dr.", "bijv.", "o.a.", "m.b.t."),
}

// cjkTerminators end a sentence in Chinese, Japanese and Korean text even
// where the Unicode rules do not treat them as terminators.
var cjkTerminators = map[rune]bool{
	'…': true, '⋯': true, '；': true,
}

func set(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}

// rules is the locale tailoring applied on top of UAX #29.
type rules struct {
	abbrev map[string]bool
	cjk    bool
}

func rulesFor(locale string) rules {
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.Und
	}
	base, _ := tag.Base()
	script, _ := tag.Script()
	switch base.String() {
	case "zh", "ja", "ko":
		return rules{cjk: true}
	}
	switch script.String() {
	case "Hani", "Hans", "Hant", "Jpan", "Kore", "Hira", "Kana":
		return rules{cjk: true}
	}
	return rules{abbrev: abbreviations[base.String()]}
}

// Segment splits text into sentences using the Unicode sentence-boundary
// rules tailored to locale. An unparseable locale falls back to the
// untailored rules. Sentences are trimmed and empty ones dropped.
func Segment(text, locale string) []string {
	r := rulesFor(locale)

	var raw []string
	state := -1
	for rest := text; len(rest) > 0; {
		var s string
		s, rest, state = uniseg.FirstSentenceInString(rest, state)
		if r.cjk {
			raw = append(raw, splitCJK(s)...)
		} else {
			raw = append(raw, s)
		}
	}

	out := make([]string, 0, len(raw))
	var carry string
	for _, s := range raw {
		if carry != "" {
			s = carry + s
			carry = ""
		}
		if r.abbrev != nil && endsWithAbbreviation(s, r.abbrev) {
			carry = s
			continue
		}
		if t := strings.TrimSpace(s); t != "" {
			out = append(out, t)
		}
	}
	if t := strings.TrimSpace(carry); t != "" {
		out = append(out, t)
	}
	return out
}

// endsWithAbbreviation reports whether the last word of s is a known
// abbreviation. A break after a newline is never suppressed.
func endsWithAbbreviation(s string, abbrev map[string]bool) bool {
	if strings.HasSuffix(strings.TrimRight(s, " \t"), "\n") {
		return false
	}
	t := strings.TrimSpace(s)
	if !strings.HasSuffix(t, ".") {
		return false
	}
	word := t[strings.LastIndexFunc(t, unicode.IsSpace)+1:]
	word = strings.TrimLeftFunc(word, func(r rune) bool { return unicode.IsPunct(r) && r != '.' })
	return abbrev[strings.ToLower(word)]
}

// splitCJK breaks s after every CJK-only terminator that is not followed by
// another terminator or closing punctuation.
func splitCJK(s string) []string {
	var out []string
	start := 0
	for i, r := range s {
		if !cjkTerminators[r] {
			continue
		}
		end := i + utf8.RuneLen(r)
		for end < len(s) {
			next, size := utf8.DecodeRuneInString(s[end:])
			if !cjkTerminators[next] && !unicode.Is(unicode.Pe, next) && !unicode.Is(unicode.Pf, next) {
				break
			}
			end += size
		}
		if end <= start || end >= len(s) {
			continue
		}
		out = append(out, s[start:end])
		start = end
	}
	return append(out, s[start:])
}
