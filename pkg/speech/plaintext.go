// Package speech turns a chat message into ordered, synthesized audio.
//
// The pipeline is: [Extractor] renders the message text to markup and strips
// it back to plain prose, [Segment] splits the prose into sentences using the
// Unicode sentence-boundary rules tailored to a locale, [Merge] packs those
// sentences into chunks of a target length, and [Orchestrator] synthesizes
// and submits the chunks for playback one at a time, in order.
package speech

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/MrWong99/murmur/pkg/markup"
	"github.com/MrWong99/murmur/pkg/message"
)

// Extractor produces the plain text to be spoken for a message.
type Extractor struct {
	r message.Renderer
}

// NewExtractor returns an Extractor that renders text with r. A nil r uses
// the plain markup renderer (no copy affordances).
func NewExtractor(r message.Renderer) *Extractor {
	if r == nil {
		r = markup.NewPlain()
	}
	return &Extractor{r: r}
}

// Extract renders text and returns its text content with all tags removed.
func (e *Extractor) Extract(text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}
	out, err := e.r.Render(text)
	if err != nil {
		return "", fmt.Errorf("speech: extract: %w", err)
	}
	return StripTags(out), nil
}

// ExtractMessage extracts the speech text of msg: the last part with a
// non-empty text field, rendered and stripped.
func (e *Extractor) ExtractMessage(msg message.Message) (string, error) {
	return e.Extract(message.SpeechText(msg))
}

// blockEnd lists elements whose end starts a new line of text, so that
// adjacent paragraphs, list items and cells do not run together.
var blockEnd = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Li: true, atom.Pre: true,
	atom.Blockquote: true, atom.Tr: true, atom.Td: true, atom.Th: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Ul: true, atom.Ol: true, atom.Table: true,
}

// StripTags returns the text content of an HTML fragment. Entities are
// decoded, script and style contents and copy controls are dropped, block
// ends and <br> become newlines, and math elements contribute their source
// without the \( \) or \[ \] delimiters.
func StripTags(fragment string) string {
	z := html.NewTokenizer(strings.NewReader(fragment))
	var (
		b        strings.Builder
		skip     atom.Atom // element whose content is being discarded
		skipDeep int
		mathDeep int // >0 while inside a math element
		math     strings.Builder
	)
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			// io.EOF is the only error a strings.Reader can produce.
			return strings.TrimSpace(b.String())

		case html.TextToken:
			if skip != 0 {
				continue
			}
			if mathDeep > 0 {
				math.Write(z.Text())
				continue
			}
			b.Write(z.Text())

		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			a := atom.Lookup(name)
			if skip != 0 {
				if a == skip && tt == html.StartTagToken {
					skipDeep++
				}
				continue
			}
			switch {
			case a == atom.Script || a == atom.Style:
				skip, skipDeep = a, 1
			case a == atom.Button && hasClass(z, hasAttr, markup.CopyControlClass):
				skip, skipDeep = a, 1
			case a == atom.Br:
				b.WriteByte('\n')
			case a == atom.Img:
				// Images have no speakable text.
			case mathDeep > 0:
				if tt == html.StartTagToken {
					mathDeep++
				}
			case (a == atom.Span || a == atom.Div) && hasClass(z, hasAttr, "math"):
				mathDeep = 1
				math.Reset()
			}
			if tt == html.SelfClosingTagToken && skip != 0 {
				skip = 0
			}

		case html.EndTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			if skip != 0 {
				if a == skip {
					skipDeep--
					if skipDeep == 0 {
						skip = 0
					}
				}
				continue
			}
			if mathDeep > 0 {
				mathDeep--
				if mathDeep > 0 {
					continue
				}
				b.WriteString(stripMathDelimiters(math.String()))
			}
			if blockEnd[a] {
				b.WriteByte('\n')
			}
		}
	}
}

func hasClass(z *html.Tokenizer, hasAttr bool, class string) bool {
	for hasAttr {
		var key, val []byte
		key, val, hasAttr = z.TagAttr()
		if string(key) != "class" {
			continue
		}
		for _, c := range strings.Fields(string(val)) {
			if c == class {
				return true
			}
		}
	}
	return false
}

func stripMathDelimiters(s string) string {
	s = strings.TrimSpace(s)
	for _, d := range [][2]string{{`\(`, `\)`}, {`\[`, `\]`}} {
		if strings.HasPrefix(s, d[0]) && strings.HasSuffix(s, d[1]) {
			return strings.TrimSpace(s[len(d[0]) : len(s)-len(d[1])])
		}
	}
	return s
}
