package vm

import (
	"errors"
	"strings"
	"testing"

	"github.com/chazu/stg/diag"
)

// ---------------------------------------------------------------------------
// Test helpers: hand-assembled templates
// ---------------------------------------------------------------------------

type asm struct {
	b    *BytecodeBuilder
	t    *CompiledTemplate
	pool map[string]int
}

func newAsm(name string) *asm {
	return &asm{b: NewBytecodeBuilder(), t: NewCompiledTemplate(name), pool: map[string]int{}}
}

func (a *asm) str(s string) int {
	if i, ok := a.pool[s]; ok {
		return i
	}
	a.pool[s] = len(a.t.Strings)
	a.t.Strings = append(a.t.Strings, s)
	return a.pool[s]
}

func (a *asm) op(op Opcode) { a.b.Emit(op) }
func (a *asm) op1(op Opcode, x int) { a.b.Emit1(op, x) }
func (a *asm) op2(op Opcode, x, y int) { a.b.Emit2(op, x, y) }

func (a *asm) args(names ...string) *asm {
	a.t.HasFormalArgs = true
	for i, n := range names {
		a.t.FormalArgs = append(a.t.FormalArgs, &FormalArgument{Name: n, Index: i})
	}
	return a
}

func (a *asm) nest(nt *CompiledTemplate) {
	if a.t.Nested == nil {
		a.t.Nested = map[string]*CompiledTemplate{}
	}
	a.t.Nested[nt.Name] = nt
}

func (a *asm) build() *CompiledTemplate {
	a.t.Code = a.b.Bytes()
	return a.t
}

// literal returns a template that writes text.
func literal(name, text string) *CompiledTemplate {
	a := newAsm(name)
	a.op1(OpLoadStr, a.str(text))
	a.op(OpWrite)
	return a.build()
}

func execTemplate(t *testing.T, tmpl *CompiledTemplate, args map[string]any, res Resolver) (string, *diag.Collector) {
	t.Helper()
	c := diag.NewCollector()
	interp := NewInterpreter(res, c)
	out, err := interp.Render(tmpl, args)
	if err != nil {
		t.Fatalf("Render(%s) error: %v", tmpl.Name, err)
	}
	return out, c
}

// ---------------------------------------------------------------------------
// Basic execution tests
// ---------------------------------------------------------------------------

func TestInterpreterLiteral(t *testing.T) {
	out, c := execTemplate(t, literal("hello", "hello world"), nil, nil)
	if out != "hello world" {
		t.Errorf("out = %q, want %q", out, "hello world")
	}
	if c.Len() != 0 {
		t.Errorf("diagnostics = %v", c.All())
	}
}

func TestInterpreterAttribute(t *testing.T) {
	a := newAsm("t")
	a.op1(OpLoadAttr, a.str("name"))
	a.op(OpWrite)
	tmpl := a.build()

	out, c := execTemplate(t, tmpl, map[string]any{"name": "world"}, nil)
	if out != "world" {
		t.Errorf("out = %q, want world", out)
	}
	if c.Len() != 0 {
		t.Errorf("diagnostics = %v", c.All())
	}

	out, c = execTemplate(t, tmpl, nil, nil)
	if out != "" {
		t.Errorf("out = %q, want empty", out)
	}
	if got := c.Count(diag.RuntimeWarning); got != 1 {
		t.Errorf("warnings = %d, want 1", got)
	}
	if !c.Has(diag.KindNoSuchAttribute) {
		t.Error("expected a no-such-attribute warning")
	}
}

func TestInterpreterHostObjectProperty(t *testing.T) {
	tests := []struct {
		name string
		obj  any
		prop string
		want string
		kind diag.Kind
	}{
		{"value", badge{ID: "7"}, "label", "[#7]", diag.KindNone},
		{"typed nil pointer", (*badge)(nil), "label", "[]", diag.KindNone},
		{"panicking getter", broken{}, "name", "[]", diag.KindPropertyFailed},
	}
	for _, tt := range tests {
		a := newAsm("t")
		a.op1(OpLoadStr, a.str("["))
		a.op(OpWrite)
		a.op1(OpLoadAttr, a.str("p"))
		a.op1(OpLoadProp, a.str(tt.prop))
		a.op(OpWrite)
		a.op1(OpLoadStr, a.str("]"))
		a.op(OpWrite)

		out, c := execTemplate(t, a.build(), map[string]any{"p": tt.obj}, nil)
		if out != tt.want {
			t.Errorf("%s: out = %q, want %q", tt.name, out, tt.want)
		}
		if tt.kind == diag.KindNone {
			if c.Len() != 0 {
				t.Errorf("%s: diagnostics = %v", tt.name, c.All())
			}
		} else if c.Len() != 1 || !c.Has(tt.kind) {
			t.Errorf("%s: diagnostics = %v, want one %s", tt.name, c.All(), tt.kind)
		}
	}
}

func TestInterpreterFormalArgUnsetNoWarning(t *testing.T) {
	a := newAsm("t").args("x")
	a.op1(OpLoadLocal, 0)
	a.op(OpWrite)

	out, c := execTemplate(t, a.build(), nil, nil)
	if out != "" || c.Len() != 0 {
		t.Errorf("out = %q, diagnostics = %v", out, c.All())
	}
}

func TestInterpreterDefaultArgument(t *testing.T) {
	a := newAsm("t").args("x")
	a.t.FormalArgs[0].HasDefault = true
	a.t.FormalArgs[0].DefaultValue = "dflt"
	a.op1(OpLoadLocal, 0)
	a.op(OpWrite)
	tmpl := a.build()

	if out, _ := execTemplate(t, tmpl, nil, nil); out != "dflt" {
		t.Errorf("out = %q, want dflt", out)
	}
	if out, _ := execTemplate(t, tmpl, map[string]any{"x": "set"}, nil); out != "set" {
		t.Errorf("out = %q, want set", out)
	}
}

func TestInterpreterConditional(t *testing.T) {
	// <if(x)>yes<else>no<endif>
	a := newAsm("t")
	elseL, endL := a.b.NewLabel(), a.b.NewLabel()
	a.op1(OpLoadAttr, a.str("x"))
	a.b.EmitJump(OpBrf, elseL)
	a.op1(OpLoadStr, a.str("yes"))
	a.op(OpWrite)
	a.b.EmitJump(OpBr, endL)
	a.b.Mark(elseL)
	a.op1(OpLoadStr, a.str("no"))
	a.op(OpWrite)
	a.b.Mark(endL)
	tmpl := a.build()

	tests := []struct {
		x    any
		want string
	}{
		{true, "yes"},
		{false, "no"},
		{"", "yes"},
		{[]any{}, "no"},
		{[]any{1}, "yes"},
	}
	for _, tt := range tests {
		if out, _ := execTemplate(t, tmpl, map[string]any{"x": tt.x}, nil); out != tt.want {
			t.Errorf("x=%#v: out = %q, want %q", tt.x, out, tt.want)
		}
	}
}

// ---------------------------------------------------------------------------
// Iteration
// ---------------------------------------------------------------------------

// separatorTemplate assembles <items:{it|<it>}; separator=", ">.
func separatorTemplate() *CompiledTemplate {
	sub := newAsm("_sub1").args("it")
	sub.t.IsSubtemplate = true
	sub.op1(OpLoadLocal, 0)
	sub.op(OpWrite)

	a := newAsm("t")
	a.nest(sub.build())
	a.op1(OpLoadAttr, a.str("items"))
	a.op1(OpNewClosure, a.str("_sub1"))
	a.op(OpMap)
	a.op(OpOptions)
	a.op1(OpLoadStr, a.str(", "))
	a.op1(OpStoreOption, int(OptionSeparator))
	a.op(OpWriteOpt)
	return a.build()
}

func TestInterpreterSeparator(t *testing.T) {
	tmpl := separatorTemplate()
	tests := []struct {
		items any
		want  string
	}{
		{[]any{1, 2, 3}, "1, 2, 3"},
		{[]any{}, ""},
		{[]any{nil, 1, nil, 2}, "1, 2"},
		{[]int{4}, "4"},
		{"solo", "solo"},
	}
	for _, tt := range tests {
		out, c := execTemplate(t, tmpl, map[string]any{"items": tt.items}, nil)
		if out != tt.want {
			t.Errorf("items=%#v: out = %q, want %q", tt.items, out, tt.want)
		}
		if c.Len() != 0 {
			t.Errorf("items=%#v: diagnostics = %v", tt.items, c.All())
		}
	}
}

func TestInterpreterIterationIndex(t *testing.T) {
	// <items:{x|<i>.<x>}>
	sub := newAsm("_sub1").args("x")
	sub.op1(OpLoadAttr, sub.str("i"))
	sub.op(OpWrite)
	sub.op1(OpLoadStr, sub.str("."))
	sub.op(OpWrite)
	sub.op1(OpLoadLocal, 0)
	sub.op(OpWrite)

	a := newAsm("t")
	a.nest(sub.build())
	a.op1(OpLoadAttr, a.str("items"))
	a.op1(OpNewClosure, a.str("_sub1"))
	a.op(OpMap)
	a.op(OpWrite)

	out, _ := execTemplate(t, a.build(), map[string]any{"items": []string{"a", "b"}}, nil)
	if out != "1.a2.b" {
		t.Errorf("out = %q, want 1.a2.b", out)
	}
}

func TestInterpreterRotMap(t *testing.T) {
	a := newAsm("t")
	a.op1(OpLoadAttr, a.str("items"))
	a.op2(OpNew, a.str("odd"), 0)
	a.op2(OpNew, a.str("even"), 0)
	a.op1(OpRotMap, 2)
	a.op(OpWrite)

	odd := newAsm("odd")
	odd.op1(OpLoadStr, odd.str("("))
	odd.op(OpWrite)
	odd.op1(OpLoadAttr, odd.str("it"))
	odd.op(OpWrite)
	odd.op1(OpLoadStr, odd.str(")"))
	odd.op(OpWrite)

	even := newAsm("even")
	even.op1(OpLoadStr, even.str("["))
	even.op(OpWrite)
	even.op1(OpLoadAttr, even.str("it"))
	even.op(OpWrite)
	even.op1(OpLoadStr, even.str("]"))
	even.op(OpWrite)

	res := MapResolver{}
	res.Add(odd.build())
	res.Add(even.build())

	out, c := execTemplate(t, a.build(), map[string]any{"items": []any{1, 2, 3}}, res)
	if out != "(1)[2](3)" {
		t.Errorf("out = %q, want (1)[2](3)", out)
	}
	if c.Len() != 0 {
		t.Errorf("diagnostics = %v", c.All())
	}
}

func TestInterpreterZipMapStopsAtShortest(t *testing.T) {
	// <names,phones:{n,p|<n>=<p>;}>
	sub := newAsm("_sub1").args("n", "p")
	sub.op1(OpLoadLocal, 0)
	sub.op(OpWrite)
	sub.op1(OpLoadStr, sub.str("="))
	sub.op(OpWrite)
	sub.op1(OpLoadLocal, 1)
	sub.op(OpWrite)
	sub.op1(OpLoadStr, sub.str(";"))
	sub.op(OpWrite)

	a := newAsm("t")
	a.nest(sub.build())
	a.op1(OpLoadAttr, a.str("names"))
	a.op1(OpLoadAttr, a.str("phones"))
	a.op1(OpNewClosure, a.str("_sub1"))
	a.op1(OpZipMap, 2)
	a.op(OpWrite)

	out, _ := execTemplate(t, a.build(), map[string]any{
		"names":  []string{"a", "b", "c"},
		"phones": []string{"1", "2"},
	}, nil)
	if out != "a=1;b=2;" {
		t.Errorf("out = %q, want a=1;b=2;", out)
	}
}

// ---------------------------------------------------------------------------
// Builtins
// ---------------------------------------------------------------------------

func TestInterpreterBuiltins(t *testing.T) {
	tests := []struct {
		builtin int
		in      any
		want    string
	}{
		{BuiltinFirst, []any{1, 2, 3}, "1"},
		{BuiltinLast, []any{1, 2, 3}, "3"},
		{BuiltinRest, []any{1, 2, 3}, "23"},
		{BuiltinTrunc, []any{1, 2, 3}, "12"},
		{BuiltinLength, []any{1, 2, 3}, "3"},
		{BuiltinReverse, []any{1, 2, 3}, "321"},
		{BuiltinStrip, []any{nil, 1, nil}, "1"},
		{BuiltinLength, []any{nil, 1, nil}, "3"},
		{BuiltinTrim, "  x  ", "x"},
		{BuiltinStrlen, "héllo", "5"},
		{BuiltinFirst, []any{}, ""},
		{BuiltinLength, nil, "0"},
		{BuiltinLength, "abc", "1"},
		{BuiltinFirst, "abc", "abc"},
		{BuiltinRest, "abc", ""},
	}
	for _, tt := range tests {
		a := newAsm("t")
		a.op1(OpLoadAttr, a.str("xs"))
		a.op1(OpCallBuiltin, tt.builtin)
		a.op(OpWrite)

		out, c := execTemplate(t, a.build(), map[string]any{"xs": tt.in}, nil)
		if out != tt.want {
			t.Errorf("%s(%#v) = %q, want %q", BuiltinName(tt.builtin), tt.in, out, tt.want)
		}
		if c.Len() != 0 {
			t.Errorf("%s(%#v): diagnostics = %v", BuiltinName(tt.builtin), tt.in, c.All())
		}
	}
}

func TestBuiltinFirstIsLazy(t *testing.T) {
	pulled := 0
	seq := func(yield func(any) bool) {
		for i := 1; i <= 100; i++ {
			pulled++
			if !yield(i) {
				return
			}
		}
	}
	if got := builtinFirst(nil, nil, seq); got != 1 {
		t.Errorf("first = %v, want 1", got)
	}
	if pulled != 1 {
		t.Errorf("first pulled %d elements, want 1", pulled)
	}
}

func TestBuiltinTrimTypeMismatch(t *testing.T) {
	a := newAsm("t")
	a.op1(OpLoadAttr, a.str("xs"))
	a.op1(OpCallBuiltin, BuiltinTrim)
	a.op(OpWrite)

	out, c := execTemplate(t, a.build(), map[string]any{"xs": []any{"a"}}, nil)
	if out != "" {
		t.Errorf("out = %q, want empty", out)
	}
	if !c.Has(diag.KindTypeMismatch) {
		t.Error("expected a type mismatch warning")
	}
}

// ---------------------------------------------------------------------------
// Options
// ---------------------------------------------------------------------------

func optionTemplate(opt Option, value string) *CompiledTemplate {
	a := newAsm("t")
	a.op1(OpLoadAttr, a.str("v"))
	a.op(OpOptions)
	a.op1(OpLoadStr, a.str(value))
	a.op1(OpStoreOption, int(opt))
	a.op(OpWriteOpt)
	return a.build()
}

func TestInterpreterNullOption(t *testing.T) {
	tmpl := optionTemplate(OptionNull, "n/a")

	out, c := execTemplate(t, tmpl, nil, nil)
	if out != "n/a" {
		t.Errorf("unset: out = %q, want n/a", out)
	}
	if got := c.Count(diag.RuntimeWarning); got != 1 {
		t.Errorf("warnings = %d, want 1", got)
	}

	if out, _ := execTemplate(t, tmpl, map[string]any{"v": []any{}}, nil); out != "n/a" {
		t.Errorf("empty list: out = %q, want n/a", out)
	}
	if out, _ := execTemplate(t, tmpl, map[string]any{"v": []any{"a", nil, "b"}}, nil); out != "an/ab" {
		t.Errorf("list with null: out = %q, want an/ab", out)
	}
}

func TestInterpreterFormatOption(t *testing.T) {
	tmpl := optionTemplate(OptionFormat, "upper")
	if out, _ := execTemplate(t, tmpl, map[string]any{"v": "world"}, nil); out != "WORLD" {
		t.Errorf("out = %q, want WORLD", out)
	}

	unknown := optionTemplate(OptionFormat, "nope")
	out, c := execTemplate(t, unknown, map[string]any{"v": "world"}, nil)
	if out != "world" || !c.Has(diag.KindUnknownFormat) {
		t.Errorf("out = %q, diagnostics = %v", out, c.All())
	}
}

func TestInterpreterCustomFormat(t *testing.T) {
	interp := NewInterpreter(nil, nil)
	interp.Formats = map[string]FormatFunc{"stars": func(s string) string { return "*" + s + "*" }}
	out, err := interp.Render(optionTemplate(OptionFormat, "stars"), map[string]any{"v": "x"})
	if err != nil || out != "*x*" {
		t.Errorf("out = %q, err = %v", out, err)
	}
}

// ---------------------------------------------------------------------------
// Template calls and regions
// ---------------------------------------------------------------------------

func TestInterpreterIncludeLateBinding(t *testing.T) {
	a := newAsm("page")
	a.op2(OpNew, a.str("footer"), 0)
	a.op(OpWrite)
	page := a.build()

	res := MapResolver{}
	res.Add(page)

	out, c := execTemplate(t, page, nil, res)
	if out != "" || !c.Has(diag.KindNoSuchTemplate) {
		t.Errorf("missing footer: out = %q, diagnostics = %v", out, c.All())
	}

	res.Add(literal("footer", "(c) 2026"))
	if out, _ := execTemplate(t, page, nil, res); out != "(c) 2026" {
		t.Errorf("out = %q", out)
	}
}

func TestInterpreterPositionalArgs(t *testing.T) {
	callee := newAsm("bold").args("x")
	callee.op1(OpLoadStr, callee.str("<b>"))
	callee.op(OpWrite)
	callee.op1(OpLoadLocal, 0)
	callee.op(OpWrite)
	callee.op1(OpLoadStr, callee.str("</b>"))
	callee.op(OpWrite)

	a := newAsm("t")
	a.op1(OpLoadAttr, a.str("name"))
	a.op1(OpLoadStr, a.str("extra"))
	a.op2(OpNew, a.str("bold"), 2)
	a.op(OpWrite)

	res := MapResolver{}
	res.Add(callee.build())
	out, c := execTemplate(t, a.build(), map[string]any{"name": "Ann"}, res)
	if out != "<b>Ann</b>" {
		t.Errorf("out = %q", out)
	}
	if !c.Has(diag.KindArgumentCount) {
		t.Error("expected an argument count warning")
	}
}

func TestInterpreterLexicalScoping(t *testing.T) {
	// A called template does not see its caller's attributes.
	callee := newAsm("callee")
	callee.op1(OpLoadAttr, callee.str("secret"))
	callee.op(OpWrite)

	a := newAsm("t")
	a.op2(OpNew, a.str("callee"), 0)
	a.op(OpWrite)

	res := MapResolver{}
	res.Add(callee.build())
	out, c := execTemplate(t, a.build(), map[string]any{"secret": "s"}, res)
	if out != "" || !c.Has(diag.KindNoSuchAttribute) {
		t.Errorf("out = %q, diagnostics = %v", out, c.All())
	}
}

func TestInterpreterRegionOverride(t *testing.T) {
	mangled := MangledRegionName("page", "title")
	blank := NewCompiledTemplate(mangled)
	blank.IsRegion = true
	blank.RegionDefType = RegionImplicit

	a := newAsm("page")
	a.nest(blank)
	a.op2(OpRegion, a.str("page"), a.str("title"))
	a.op(OpWrite)
	page := a.build()

	res := MapResolver{}
	res.Add(page)
	out, c := execTemplate(t, page, nil, res)
	if out != "" || c.Len() != 0 {
		t.Errorf("blank region: out = %q, diagnostics = %v", out, c.All())
	}

	override := literal(mangled, "Welcome")
	override.IsRegion = true
	override.RegionDefType = RegionExplicit
	res[mangled] = override
	if out, _ := execTemplate(t, page, nil, res); out != "Welcome" {
		t.Errorf("overridden region: out = %q, want Welcome", out)
	}
}

// ---------------------------------------------------------------------------
// Fatal conditions
// ---------------------------------------------------------------------------

func TestInterpreterRecursionDepth(t *testing.T) {
	a := newAsm("rec")
	a.op2(OpNew, a.str("rec"), 0)
	a.op(OpWrite)
	rec := a.build()

	c := diag.NewCollector()
	interp := NewInterpreter(MapResolver{"rec": rec}, c)
	interp.MaxDepth = 10

	_, err := interp.Render(rec, nil)
	var fe *diag.FatalError
	if !errors.As(err, &fe) {
		t.Fatalf("err = %v, want *diag.FatalError", err)
	}
	if fe.Diagnostic.Kind != diag.KindRecursionDepth {
		t.Errorf("kind = %s, want %s", fe.Diagnostic.Kind, diag.KindRecursionDepth)
	}
	if c.Count(diag.FatalRuntimeError) != 1 {
		t.Errorf("fatal diagnostics = %d, want 1", c.Count(diag.FatalRuntimeError))
	}
}

func TestInterpreterStackUnderflowIsFatal(t *testing.T) {
	a := newAsm("bad")
	a.op(OpWrite)

	_, err := NewInterpreter(nil, nil).Render(a.build(), nil)
	var fe *diag.FatalError
	if !errors.As(err, &fe) || fe.Diagnostic.Kind != diag.KindStackDiscipline {
		t.Errorf("err = %v, want stack discipline fatal error", err)
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestInterpreterWriteFailure(t *testing.T) {
	err := NewInterpreter(nil, nil).Execute(literal("t", "x"), nil, nil, NewAutoIndentWriter(failingWriter{}))
	var fe *diag.FatalError
	if !errors.As(err, &fe) || fe.Diagnostic.Kind != diag.KindWriteFailed {
		t.Errorf("err = %v, want write failure", err)
	}
}

func TestInterpreterDeterminism(t *testing.T) {
	tmpl := separatorTemplate()
	args := map[string]any{"items": map[string]int{"b": 2, "a": 1, "c": 3}}
	first, _ := execTemplate(t, tmpl, args, nil)
	for i := 0; i < 5; i++ {
		if again, _ := execTemplate(t, tmpl, args, nil); again != first {
			t.Fatalf("render %d = %q, want %q", i, again, first)
		}
	}
	if first != "a, b, c" {
		t.Errorf("out = %q, want a, b, c", first)
	}
}

func TestInterpreterRenderIDTagsWarnings(t *testing.T) {
	a := newAsm("t")
	a.op1(OpLoadAttr, a.str("missing"))
	a.op(OpWrite)
	_, c := execTemplate(t, a.build(), nil, nil)
	all := c.All()
	if len(all) != 1 || all[0].RenderID == "" || all[0].Template != "t" {
		t.Errorf("diagnostics = %+v", all)
	}
}

func TestInterpreterPlainSink(t *testing.T) {
	var sb strings.Builder
	err := NewInterpreter(nil, nil).Execute(literal("t", "plain"), nil, nil, AsSink(&sb))
	if err != nil || sb.String() != "plain" {
		t.Errorf("out = %q, err = %v", sb.String(), err)
	}
}
