package message

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"html"
	"strings"
)

// Renderer converts markdown text into HTML markup.
type Renderer interface {
	Render(text string) (string, error)
}

// Assembler turns a [Message] into display markup by rendering each part in
// order and concatenating the fragments.
type Assembler struct {
	renderer Renderer
}

// NewAssembler returns an Assembler that renders text parts with r.
func NewAssembler(r Renderer) *Assembler {
	return &Assembler{renderer: r}
}

// Assemble renders msg's parts in order:
//
//   - text parts go through the renderer;
//   - inline image data becomes an <img> with a data URI;
//   - image file references become an <img> using the matching attachment's
//     preview. Unmatched references are skipped silently.
//
// Any other part yields no markup. The result is deterministic for identical
// inputs. Renderer failures are returned unchanged in meaning, wrapped with
// the failing part's index.
func (a *Assembler) Assemble(msg Message) (string, error) {
	var b strings.Builder
	for i, p := range msg.Parts {
		switch v := p.(type) {
		case TextPart:
			out, err := a.renderer.Render(v.Text)
			if err != nil {
				return "", fmt.Errorf("message: render part %d: %w", i, err)
			}
			b.WriteString(out)
		case InlineDataPart:
			if !IsImage(v.MIMEType) {
				continue
			}
			writeImage(&b, "data:"+v.MIMEType+";base64,"+v.Data)
		case FileRefPart:
			if !IsImage(v.MIMEType) {
				continue
			}
			if att, ok := FindAttachment(msg.Attachments, v.URI); ok {
				writeImage(&b, att.Preview)
			}
		}
	}
	return b.String(), nil
}

// FindAttachment returns the first attachment whose URI equals uri.
func FindAttachment(atts []Attachment, uri string) (Attachment, bool) {
	for _, att := range atts {
		if att.URI == uri {
			return att, true
		}
	}
	return Attachment{}, false
}

func writeImage(b *strings.Builder, src string) {
	b.WriteString(`<img class="message-image" src="`)
	b.WriteString(html.EscapeString(src))
	b.WriteString(`" alt="">`)
}

// SpeechText returns the text of the last part with a non-empty text field.
// Earlier text parts are ignored; the result is "" when no part has text.
func SpeechText(msg Message) string {
	var text string
	for _, p := range msg.Parts {
		if tp, ok := p.(TextPart); ok && tp.Text != "" {
			text = tp.Text
		}
	}
	return text
}

// Fingerprint returns a stable digest of everything that affects a message's
// rendered output: id, speech text, parts and attachments. Two messages with
// equal fingerprints assemble to identical markup.
func Fingerprint(msg Message) string {
	h := sha256.New()
	field := func(s string) {
		fmt.Fprintf(h, "%d:%s;", len(s), s)
	}
	field(msg.ID)
	field(SpeechText(msg))
	for _, p := range msg.Parts {
		wp := fromPart(p)
		field(string(wp.Type))
		field(wp.Text)
		field(wp.MIMEType)
		field(wp.Data)
		field(wp.URI)
	}
	for _, att := range msg.Attachments {
		field(att.URI)
		field(att.MIMEType)
		field(att.Name)
		field(att.Preview)
	}
	return hex.EncodeToString(h.Sum(nil))
}
