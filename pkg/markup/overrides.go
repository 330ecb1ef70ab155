package markup

import (
	"fmt"
	"html"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/util"

	"github.com/MrWong99/murmur/pkg/markup/mathext"
)

// CopyLabelKey is the localization key of the copy control label.
const CopyLabelKey = "copy"

// Localizer returns the UI string for key in the active locale.
type Localizer func(key string) string

// Token is the part of a parsed block an override sees.
type Token struct {
	// Content is the block's raw source: the TeX expression for math, the
	// literal code (including its trailing newline) for fences.
	Content string

	// Info is the declared language tag of a fenced code block, exactly as
	// written. Empty for math.
	Info string
}

// DefaultFunc writes the engine's default rendering of the current block.
type DefaultFunc func(w util.BufWriter) error

// RuleFunc renders one block. def produces the markup the engine would have
// emitted without the override.
type RuleFunc func(w util.BufWriter, tok Token, def DefaultFunc) error

// Overrides replaces the render rules of the three special block types. A nil
// field keeps the engine default for that block type.
type Overrides struct {
	InlineMath RuleFunc
	BlockMath  RuleFunc
	Fence      RuleFunc
}

// LanguageRegistry reports whether the highlighter knows a language tag.
type LanguageRegistry interface {
	HasLanguage(name string) bool
}

// ChromaLanguages looks languages up in chroma's global lexer registry, the
// same registry the highlighting renderer uses.
type ChromaLanguages struct{}

// HasLanguage implements LanguageRegistry. The name is passed to chroma
// unmodified; the empty tag is never recognised.
func (ChromaLanguages) HasLanguage(name string) bool {
	return name != "" && lexers.Get(name) != nil
}

// NewOverrides returns the copy-affordance overrides. Each block keeps the
// default typeset or highlighted markup as a nested element and gains a copy
// control carrying the block's raw source, percent-encoded, plus the
// localized label. Fenced code additionally gets a header row with the
// capitalized language tag; when langs does not recognise the tag the
// highlighted body is left out and only the header row is emitted.
func NewOverrides(localize Localizer, langs LanguageRegistry) Overrides {
	label := localize(CopyLabelKey)
	return Overrides{
		InlineMath: func(w util.BufWriter, tok Token, def DefaultFunc) error {
			_, _ = w.WriteString(`<span class="copyable copyable-inline">`)
			writeCopyControl(w, tok.Content, label)
			if err := def(w); err != nil {
				return err
			}
			_, _ = w.WriteString(`</span>`)
			return nil
		},
		BlockMath: func(w util.BufWriter, tok Token, def DefaultFunc) error {
			_, _ = w.WriteString(`<div class="copyable copyable-block">`)
			writeCopyControl(w, tok.Content, label)
			if err := def(w); err != nil {
				return err
			}
			_, _ = w.WriteString("</div>\n")
			return nil
		},
		Fence: func(w util.BufWriter, tok Token, def DefaultFunc) error {
			_, _ = w.WriteString(`<div class="code-block"><div class="code-header"><span class="code-lang">`)
			_, _ = w.WriteString(html.EscapeString(Capitalize(tok.Info)))
			_, _ = w.WriteString(`</span>`)
			writeCopyControl(w, tok.Content, label)
			_, _ = w.WriteString(`</div>`)
			if langs.HasLanguage(tok.Info) {
				if err := def(w); err != nil {
					return err
				}
			}
			_, _ = w.WriteString("</div>\n")
			return nil
		},
	}
}

// CopyControlClass is the CSS class of every copy control; clipboard
// bindings select on it.
const CopyControlClass = "copy-btn"

// CopyPayloadAttr is the attribute holding the percent-encoded source.
const CopyPayloadAttr = "data-clipboard-text"

func writeCopyControl(w util.BufWriter, raw, label string) {
	_, _ = w.WriteString(`<button type="button" class="` + CopyControlClass + `" ` + CopyPayloadAttr + `="`)
	_, _ = w.WriteString(EncodeCopyPayload(raw))
	_, _ = w.WriteString(`">`)
	_, _ = w.WriteString(html.EscapeString(label))
	_, _ = w.WriteString(`</button>`)
}

// Capitalize upper-cases the first letter of s and leaves the rest as is.
func Capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if size == 0 || r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// ---- goldmark plumbing ----

// overrideRenderer registers the override rules for the three block kinds,
// binding each to the default rule captured from the wrapped renderers.
type overrideRenderer struct {
	ov       Overrides
	defaults ruleTable
}

func newOverrideRenderer(ov Overrides, defaults ...renderer.NodeRenderer) *overrideRenderer {
	return &overrideRenderer{ov: ov, defaults: captureRules(defaults...)}
}

// RegisterFuncs implements renderer.NodeRenderer.
func (r *overrideRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	if r.ov.InlineMath != nil {
		reg.Register(mathext.KindInlineMath, r.wrap(mathext.KindInlineMath, r.ov.InlineMath))
	}
	if r.ov.BlockMath != nil {
		reg.Register(mathext.KindMathBlock, r.wrap(mathext.KindMathBlock, r.ov.BlockMath))
	}
	if r.ov.Fence != nil {
		reg.Register(ast.KindFencedCodeBlock, r.wrap(ast.KindFencedCodeBlock, r.ov.Fence))
	}
}

func (r *overrideRenderer) wrap(kind ast.NodeKind, rule RuleFunc) renderer.NodeRendererFunc {
	def := r.defaults[kind]
	return func(w util.BufWriter, source []byte, n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		tok, err := tokenOf(n, source)
		if err != nil {
			return ast.WalkStop, err
		}
		err = rule(w, tok, func(w util.BufWriter) error {
			if def == nil {
				return nil
			}
			if _, err := def(w, source, n, true); err != nil {
				return err
			}
			_, err := def(w, source, n, false)
			return err
		})
		if err != nil {
			return ast.WalkStop, err
		}
		return ast.WalkSkipChildren, nil
	}
}

func tokenOf(n ast.Node, source []byte) (Token, error) {
	switch v := n.(type) {
	case *mathext.InlineMath:
		return Token{Content: string(v.Literal)}, nil
	case *mathext.MathBlock:
		return Token{Content: string(v.Literal)}, nil
	case *ast.FencedCodeBlock:
		var b strings.Builder
		lines := v.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			b.Write(seg.Value(source))
		}
		return Token{Content: b.String(), Info: string(v.Language(source))}, nil
	}
	return Token{}, fmt.Errorf("markup: no token for node kind %s", n.Kind())
}
