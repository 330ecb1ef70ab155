// Package markup converts chat message markdown into HTML.
//
// A [Renderer] wraps a goldmark instance configured with link autodetection,
// hard line breaks, chroma syntax highlighting and TeX math. Three render
// rules (inline math, block math and fenced code) can be replaced through an
// [Overrides] value; [NewOverrides] builds the standard set that wraps each
// block with a copy control carrying the block's exact source.
//
// Renderers are immutable once built and safe for concurrent use. When the
// UI locale changes the caller builds a new one (see [Factory]) instead of
// mutating an existing instance.
package markup

import (
	"bytes"
	"fmt"

	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/util"

	"github.com/MrWong99/murmur/pkg/markup/mathext"
)

const (
	// defaultStyle is the chroma style used when Options.HighlightStyle is empty.
	defaultStyle = "github"

	// Lower values win when two renderers register the same node kind, so
	// overrides must sort ahead of the highlighting and math renderers.
	overridePriority  = 100
	highlightPriority = 200
	mathPriority      = 500
)

// Options configures the base transformer.
type Options struct {
	// HighlightStyle is the chroma style name. Only relevant when CSS classes
	// are disabled; with classes the page stylesheet decides.
	HighlightStyle string

	// Linkify turns bare URLs into links.
	Linkify bool

	// HardWraps renders soft line breaks as <br>.
	HardWraps bool

	// InlineStyles emits chroma colours as style attributes instead of CSS
	// classes.
	InlineStyles bool
}

// DefaultOptions returns the configuration chat messages are rendered with.
func DefaultOptions() Options {
	return Options{
		HighlightStyle: defaultStyle,
		Linkify:        true,
		HardWraps:      true,
	}
}

// Renderer converts markdown to HTML markup.
type Renderer struct {
	md goldmark.Markdown
}

// New builds a Renderer. ov may be nil, in which case the engine's default
// render rules are used for every block.
func New(opts Options, ov *Overrides) *Renderer {
	style := opts.HighlightStyle
	if style == "" {
		style = defaultStyle
	}
	hl := highlighting.NewHTMLRenderer(
		highlighting.WithStyle(style),
		highlighting.WithFormatOptions(chromahtml.WithClasses(!opts.InlineStyles)),
	)
	math := mathext.NewHTMLRenderer()

	exts := []goldmark.Extender{extension.Table, extension.Strikethrough}
	if opts.Linkify {
		exts = append(exts, extension.Linkify)
	}
	var htmlOpts []renderer.Option
	if opts.HardWraps {
		htmlOpts = append(htmlOpts, html.WithHardWraps())
	}

	nodeRenderers := []util.PrioritizedValue{
		util.Prioritized(hl, highlightPriority),
		util.Prioritized(math, mathPriority),
	}
	if ov != nil {
		nodeRenderers = append(nodeRenderers,
			util.Prioritized(newOverrideRenderer(*ov, hl, math), overridePriority))
	}

	md := goldmark.New(
		goldmark.WithExtensions(exts...),
		goldmark.WithParserOptions(mathext.ParserOptions()...),
		goldmark.WithRendererOptions(htmlOpts...),
		goldmark.WithRendererOptions(renderer.WithNodeRenderers(nodeRenderers...)),
	)
	return &Renderer{md: md}
}

// NewPlain builds a Renderer with default options and no overrides. Its
// output is meant for text extraction, not display.
func NewPlain() *Renderer {
	return New(DefaultOptions(), nil)
}

// Render converts text to markup. Identical input yields identical output.
func (r *Renderer) Render(text string) (string, error) {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(text), &buf); err != nil {
		return "", fmt.Errorf("markup: convert: %w", err)
	}
	return buf.String(), nil
}

// ---- default rule capture ----

// ruleTable records the render funcs a node renderer registers so overrides
// can delegate to them.
type ruleTable map[ast.NodeKind]renderer.NodeRendererFunc

func (t ruleTable) Register(kind ast.NodeKind, fn renderer.NodeRendererFunc) {
	t[kind] = fn
}

func captureRules(nrs ...renderer.NodeRenderer) ruleTable {
	t := make(ruleTable)
	for _, nr := range nrs {
		nr.RegisterFuncs(t)
	}
	return t
}
