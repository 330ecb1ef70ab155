// Package mathext is a goldmark extension that recognises TeX math spans.
//
// Inline math is delimited by single dollars ($x^2$) and must fit on one
// line. The opening dollar may not be followed by whitespace and the closing
// dollar may not be preceded by whitespace or followed by a digit, so prices
// such as "$5 and $10" stay plain text. Block math opens with "$$" at the
// start of a block and runs until a line ending in "$$"; the single-line
// form "$$x$$" is also accepted.
//
// Typesetting happens client side. The default render rules emit the escaped
// TeX source inside \( \) or \[ \] delimiters, wrapped in elements carrying
// the "math" class, which is what KaTeX and MathJax auto-render look for.
package mathext

import (
	"bytes"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
)

// KindInlineMath is the node kind of [InlineMath].
var KindInlineMath = ast.NewNodeKind("InlineMath")

// KindMathBlock is the node kind of [MathBlock].
var KindMathBlock = ast.NewNodeKind("MathBlock")

// InlineMath is an inline TeX expression.
type InlineMath struct {
	ast.BaseInline

	// Literal is the expression source without delimiters.
	Literal []byte
}

// Kind implements ast.Node.
func (n *InlineMath) Kind() ast.NodeKind { return KindInlineMath }

// Dump implements ast.Node.
func (n *InlineMath) Dump(source []byte, level int) {
	ast.DumpHelper(n, source, level, map[string]string{"Literal": string(n.Literal)}, nil)
}

// MathBlock is a display TeX expression.
type MathBlock struct {
	ast.BaseBlock

	// Literal is the expression source without delimiters. Interior line
	// breaks are preserved.
	Literal []byte

	closed bool
}

// Kind implements ast.Node.
func (n *MathBlock) Kind() ast.NodeKind { return KindMathBlock }

// Dump implements ast.Node.
func (n *MathBlock) Dump(source []byte, level int) {
	ast.DumpHelper(n, source, level, map[string]string{"Literal": string(n.Literal)}, nil)
}

var dollars = []byte("$$")

// ---- inline parser ----

type inlineParser struct{}

// NewInlineParser returns a parser for $…$ spans.
func NewInlineParser() parser.InlineParser {
	return &inlineParser{}
}

func (p *inlineParser) Trigger() []byte {
	return []byte{'$'}
}

func (p *inlineParser) Parse(_ ast.Node, block text.Reader, _ parser.Context) ast.Node {
	line, _ := block.PeekLine()
	if len(line) < 3 || line[0] != '$' || line[1] == '$' || util.IsSpace(line[1]) {
		return nil
	}
	for i := 1; i < len(line); i++ {
		switch line[i] {
		case '\\':
			i++
		case '$':
			if util.IsSpace(line[i-1]) {
				continue
			}
			if i+1 < len(line) && line[i+1] >= '0' && line[i+1] <= '9' {
				continue
			}
			node := &InlineMath{Literal: append([]byte(nil), line[1:i]...)}
			block.Advance(i + 1)
			return node
		case '\n', '\r':
			return nil
		}
	}
	return nil
}

// ---- block parser ----

type blockParser struct{}

// NewBlockParser returns a parser for $$…$$ blocks.
func NewBlockParser() parser.BlockParser {
	return &blockParser{}
}

func (b *blockParser) Trigger() []byte {
	return []byte{'$'}
}

func (b *blockParser) Open(_ ast.Node, reader text.Reader, pc parser.Context) (ast.Node, parser.State) {
	line, segment := reader.PeekLine()
	pos := pc.BlockOffset()
	if pos < 0 || !bytes.HasPrefix(line[pos:], dollars) {
		return nil, parser.NoChildren
	}
	rest := bytes.TrimSpace(line[pos+len(dollars):])
	node := &MathBlock{}
	reader.Advance(segment.Len() - newlineLen(line))

	if len(rest) >= len(dollars) && bytes.HasSuffix(rest, dollars) {
		node.Literal = append(node.Literal, rest[:len(rest)-len(dollars)]...)
		node.closed = true
		return node, parser.NoChildren
	}
	if len(rest) > 0 {
		node.Literal = append(node.Literal, rest...)
		node.Literal = append(node.Literal, '\n')
	}
	return node, parser.NoChildren
}

func (b *blockParser) Continue(node ast.Node, reader text.Reader, _ parser.Context) parser.State {
	n := node.(*MathBlock)
	if n.closed {
		return parser.Close
	}
	line, segment := reader.PeekLine()
	if line == nil {
		return parser.Close
	}
	reader.Advance(segment.Len() - newlineLen(line))
	trimmed := bytes.TrimSpace(line)
	if bytes.HasSuffix(trimmed, dollars) {
		n.Literal = append(n.Literal, trimmed[:len(trimmed)-len(dollars)]...)
		n.closed = true
		return parser.Close
	}
	n.Literal = append(n.Literal, line...)
	return parser.Continue | parser.NoChildren
}

func (b *blockParser) Close(ast.Node, text.Reader, parser.Context) {}

func (b *blockParser) CanInterruptParagraph() bool { return true }

func (b *blockParser) CanAcceptIndentedLine() bool { return false }

// newlineLen is the length of line's terminator, which goldmark's block loop
// consumes itself.
func newlineLen(line []byte) int {
	if len(line) > 0 && line[len(line)-1] == '\n' {
		return 1
	}
	return 0
}

// ---- default render rules ----

// HTMLRenderer renders math nodes for client-side typesetting.
type HTMLRenderer struct{}

// NewHTMLRenderer returns the default math renderer.
func NewHTMLRenderer() renderer.NodeRenderer {
	return &HTMLRenderer{}
}

// RegisterFuncs implements renderer.NodeRenderer.
func (r *HTMLRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(KindInlineMath, r.renderInlineMath)
	reg.Register(KindMathBlock, r.renderMathBlock)
}

func (r *HTMLRenderer) renderInlineMath(w util.BufWriter, _ []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	n := node.(*InlineMath)
	_, _ = w.WriteString(`<span class="math math-inline">\(`)
	_, _ = w.Write(util.EscapeHTML(n.Literal))
	_, _ = w.WriteString(`\)</span>`)
	return ast.WalkSkipChildren, nil
}

func (r *HTMLRenderer) renderMathBlock(w util.BufWriter, _ []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	n := node.(*MathBlock)
	_, _ = w.WriteString(`<div class="math math-display">\[`)
	_, _ = w.Write(util.EscapeHTML(n.Literal))
	_, _ = w.WriteString("\\]</div>\n")
	return ast.WalkSkipChildren, nil
}

// ---- extension ----

type extension struct{}

// Math registers the math parsers and default renderer onto a goldmark
// instance.
var Math goldmark.Extender = &extension{}

func (e *extension) Extend(m goldmark.Markdown) {
	m.Parser().AddOptions(ParserOptions()...)
	m.Renderer().AddOptions(
		renderer.WithNodeRenderers(util.Prioritized(NewHTMLRenderer(), 500)),
	)
}

// ParserOptions enables math syntax without registering a renderer, for
// callers that supply their own render rules.
func ParserOptions() []parser.Option {
	return []parser.Option{
		parser.WithInlineParsers(util.Prioritized(NewInlineParser(), 150)),
		parser.WithBlockParsers(util.Prioritized(NewBlockParser(), 650)),
	}
}
