package markup

import (
	"fmt"
	"net/url"
	"strings"
)

const upperhex = "0123456789ABCDEF"

// EncodeCopyPayload percent-encodes s the way JavaScript's
// encodeURIComponent does, so browser code can recover the exact source with
// decodeURIComponent. Only ASCII letters, digits and -_.!~*'() are left
// unescaped; everything else, including every byte of a multi-byte rune, is
// written as %XX. The result is safe inside a double-quoted HTML attribute.
func EncodeCopyPayload(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if unreservedComponent(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperhex[c>>4])
		b.WriteByte(upperhex[c&15])
	}
	return b.String()
}

// DecodeCopyPayload reverses [EncodeCopyPayload].
func DecodeCopyPayload(s string) (string, error) {
	out, err := url.PathUnescape(s)
	if err != nil {
		return "", fmt.Errorf("markup: decode copy payload: %w", err)
	}
	return out, nil
}

func unreservedComponent(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	switch c {
	case '-', '_', '.', '!', '~', '*', '\'', '(', ')':
		return true
	}
	return false
}
