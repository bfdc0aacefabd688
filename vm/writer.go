package vm

import (
	"io"
	"strings"

	"github.com/mattn/go-runewidth"
)

// ---------------------------------------------------------------------------
// Output sinks
// ---------------------------------------------------------------------------

// Sink receives rendered text.
type Sink interface {
	io.StringWriter
	// Column is the display column the next character will land in.
	Column() int
}

// LayoutSink is a Sink that supports the wrap and anchor options and nested
// indentation. Sinks that do not implement it get plain text.
type LayoutSink interface {
	Sink
	PushIndent(indent string)
	PopIndent()
	PushAnchor()
	PopAnchor()
	// WriteWrap emits wrap when the current line has reached the line width.
	WriteWrap(wrap string) (int, error)
	SetLineWidth(width int)
}

// NoWrap disables line wrapping.
const NoWrap = -1

// AutoIndentWriter writes to an io.Writer, tracking the output column and
// indenting every line written inside an indented expression. Columns are
// display widths, so wide runes count twice.
type AutoIndentWriter struct {
	out       io.Writer
	indents   []string
	anchors   []int
	newline   string
	lineWidth int

	column      int
	index       int
	atLineStart bool
}

// NewAutoIndentWriter returns a writer with no line wrapping.
func NewAutoIndentWriter(out io.Writer) *AutoIndentWriter {
	return &AutoIndentWriter{
		out:         out,
		newline:     "\n",
		lineWidth:   NoWrap,
		atLineStart: true,
	}
}

// SetLineWidth sets the wrap threshold; values <= 0 disable wrapping.
func (w *AutoIndentWriter) SetLineWidth(width int) {
	if width <= 0 {
		width = NoWrap
	}
	w.lineWidth = width
}

// SetNewline changes the line separator written for '\n'.
func (w *AutoIndentWriter) SetNewline(nl string) {
	w.newline = nl
}

// Column implements Sink.
func (w *AutoIndentWriter) Column() int {
	return w.column
}

// Index returns the number of bytes written so far.
func (w *AutoIndentWriter) Index() int {
	return w.index
}

// PushIndent implements LayoutSink.
func (w *AutoIndentWriter) PushIndent(indent string) {
	w.indents = append(w.indents, indent)
}

// PopIndent implements LayoutSink.
func (w *AutoIndentWriter) PopIndent() {
	if len(w.indents) > 0 {
		w.indents = w.indents[:len(w.indents)-1]
	}
}

// PushAnchor implements LayoutSink. Wrapped lines are indented to at least
// the anchored column.
func (w *AutoIndentWriter) PushAnchor() {
	w.anchors = append(w.anchors, w.column)
}

// PopAnchor implements LayoutSink.
func (w *AutoIndentWriter) PopAnchor() {
	if len(w.anchors) > 0 {
		w.anchors = w.anchors[:len(w.anchors)-1]
	}
}

// WriteString implements Sink. Indentation is written lazily before the
// first character of each line, so empty output leaves no trailing blanks.
func (w *AutoIndentWriter) WriteString(s string) (int, error) {
	n := 0
	for _, r := range s {
		if r == '\r' {
			continue
		}
		if r == '\n' {
			m, err := io.WriteString(w.out, w.newline)
			n += m
			w.index += m
			if err != nil {
				return n, err
			}
			w.atLineStart = true
			w.column = 0
			continue
		}
		if w.atLineStart {
			m, err := w.indent()
			n += m
			if err != nil {
				return n, err
			}
			w.atLineStart = false
		}
		m, err := io.WriteString(w.out, string(r))
		n += m
		w.index += m
		if err != nil {
			return n, err
		}
		w.column += runewidth.RuneWidth(r)
	}
	return n, nil
}

// WriteWrap implements LayoutSink.
func (w *AutoIndentWriter) WriteWrap(wrap string) (int, error) {
	if w.lineWidth == NoWrap || wrap == "" || w.atLineStart || w.column < w.lineWidth {
		return 0, nil
	}
	n := 0
	for _, r := range wrap {
		if r == '\n' {
			m, err := io.WriteString(w.out, w.newline)
			n += m
			w.index += m
			if err != nil {
				return n, err
			}
			w.column = 0
			m, err = w.indent()
			n += m
			if err != nil {
				return n, err
			}
			continue
		}
		m, err := io.WriteString(w.out, string(r))
		n += m
		w.index += m
		if err != nil {
			return n, err
		}
		w.column += runewidth.RuneWidth(r)
	}
	return n, nil
}

// indent writes the indentation stack and pads out to the innermost anchor.
func (w *AutoIndentWriter) indent() (int, error) {
	var sb strings.Builder
	width := 0
	for _, ind := range w.indents {
		sb.WriteString(ind)
		width += runewidth.StringWidth(ind)
	}
	if len(w.anchors) > 0 {
		if anchor := w.anchors[len(w.anchors)-1]; anchor > width {
			sb.WriteString(strings.Repeat(" ", anchor-width))
			width = anchor
		}
	}
	if sb.Len() == 0 {
		return 0, nil
	}
	n, err := io.WriteString(w.out, sb.String())
	w.index += n
	w.column += width
	return n, err
}

// plainSink adapts a bare io.StringWriter that cannot report its column.
type plainSink struct {
	out    io.StringWriter
	column int
}

// AsSink wraps w so it can receive output. Values that already implement
// Sink are returned unchanged.
func AsSink(w io.StringWriter) Sink {
	if s, ok := w.(Sink); ok {
		return s
	}
	return &plainSink{out: w}
}

func (p *plainSink) WriteString(s string) (int, error) {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		p.column = runewidth.StringWidth(s[i+1:])
	} else {
		p.column += runewidth.StringWidth(s)
	}
	return p.out.WriteString(s)
}

func (p *plainSink) Column() int { return p.column }
