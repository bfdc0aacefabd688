package vm

import (
	"iter"
	"strings"
	"unicode/utf8"

	"github.com/chazu/stg/diag"
)

// ---------------------------------------------------------------------------
// Builtin functions
// ---------------------------------------------------------------------------

// builtinFunc transforms the value on top of the stack.
type builtinFunc func(r *render, f *frame, v any) any

type builtin struct {
	name string
	fn   builtinFunc
}

// Builtin indexes, the operand of OpCallBuiltin.
const (
	BuiltinFirst = iota
	BuiltinLast
	BuiltinRest
	BuiltinTrunc
	BuiltinStrip
	BuiltinTrim
	BuiltinLength
	BuiltinStrlen
	BuiltinReverse
)

// Filled in by init: trim and strlen render through the interpreter, which
// itself dispatches through this table.
var (
	builtins       []builtin
	builtinsByName map[string]int
)

func init() {
	builtins = []builtin{
		BuiltinFirst:   {"first", builtinFirst},
		BuiltinLast:    {"last", builtinLast},
		BuiltinRest:    {"rest", builtinRest},
		BuiltinTrunc:   {"trunc", builtinTrunc},
		BuiltinStrip:   {"strip", builtinStrip},
		BuiltinTrim:    {"trim", builtinTrim},
		BuiltinLength:  {"length", builtinLength},
		BuiltinStrlen:  {"strlen", builtinStrlen},
		BuiltinReverse: {"reverse", builtinReverse},
	}
	builtinsByName = make(map[string]int, len(builtins))
	for i, b := range builtins {
		builtinsByName[b.name] = i
	}
}

// LookupBuiltin returns the OpCallBuiltin operand for a builtin name. Every
// builtin takes exactly one argument.
func LookupBuiltin(name string) (int, bool) {
	i, ok := builtinsByName[name]
	return i, ok
}

// BuiltinName returns the name of builtin i.
func BuiltinName(i int) string {
	if i < 0 || i >= len(builtins) {
		return "?"
	}
	return builtins[i].name
}

// first returns the head of a sequence without forcing the rest of it.
func builtinFirst(_ *render, _ *frame, v any) any {
	seq, ok := AsSeq(v)
	if !ok {
		return v
	}
	for e := range seq {
		return e
	}
	return nil
}

func builtinLast(_ *render, _ *frame, v any) any {
	seq, ok := AsSeq(v)
	if !ok {
		return v
	}
	var last any
	for e := range seq {
		last = e
	}
	return last
}

func builtinRest(_ *render, _ *frame, v any) any {
	seq, ok := AsSeq(v)
	if !ok {
		return nil
	}
	return iter.Seq[any](func(yield func(any) bool) {
		skipped := false
		for e := range seq {
			if !skipped {
				skipped = true
				continue
			}
			if !yield(e) {
				return
			}
		}
	})
}

// trunc holds each element back by one so the last is never yielded.
func builtinTrunc(_ *render, _ *frame, v any) any {
	seq, ok := AsSeq(v)
	if !ok {
		return nil
	}
	return iter.Seq[any](func(yield func(any) bool) {
		var prev any
		have := false
		for e := range seq {
			if have && !yield(prev) {
				return
			}
			prev, have = e, true
		}
	})
}

func builtinStrip(_ *render, _ *frame, v any) any {
	seq, ok := AsSeq(v)
	if !ok {
		return v
	}
	return iter.Seq[any](func(yield func(any) bool) {
		for e := range seq {
			if IsEmpty(e) {
				continue
			}
			if !yield(e) {
				return
			}
		}
	})
}

func builtinTrim(r *render, f *frame, v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case string:
		return strings.TrimSpace(x)
	}
	if _, ok := AsSeq(v); ok {
		r.warn(f, diag.KindTypeMismatch, "trim expects a string, got a %s", describe(v))
		return ""
	}
	return strings.TrimSpace(r.toString(f, v))
}

func builtinLength(_ *render, _ *frame, v any) any {
	if v == nil {
		return 0
	}
	seq, ok := AsSeq(v)
	if !ok {
		return 1
	}
	n := 0
	for range seq {
		n++
	}
	return n
}

func builtinStrlen(r *render, f *frame, v any) any {
	return utf8.RuneCountInString(r.toString(f, v))
}

func builtinReverse(_ *render, _ *frame, v any) any {
	seq, ok := AsSeq(v)
	if !ok {
		return v
	}
	vals := Materialize(seq)
	out := make([]any, len(vals))
	for i, e := range vals {
		out[len(vals)-1-i] = e
	}
	return out
}
