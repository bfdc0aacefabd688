package vm

import (
	"fmt"
	"iter"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	"github.com/chazu/stg/diag"
)

// DefaultMaxDepth bounds nested template invocations.
const DefaultMaxDepth = 256

var log = commonlog.GetLogger("stg.vm")

// ---------------------------------------------------------------------------
// Interpreter: Bytecode execution engine
// ---------------------------------------------------------------------------

// Interpreter executes compiled templates. It holds configuration only; all
// execution state lives in a per-call render, so one Interpreter can serve
// any number of concurrent renders as long as its Resolver allows concurrent
// reads.
type Interpreter struct {
	Resolver  Resolver
	Listener  diag.Listener
	MaxDepth  int    // 0 means DefaultMaxDepth
	LineWidth int    // wrap column; 0 disables wrapping
	Newline   string // line separator Render writes; "" means "\n"

	// Formats adds to or replaces the builtin format option names.
	Formats map[string]FormatFunc
}

// NewInterpreter creates an interpreter resolving calls through resolver.
func NewInterpreter(resolver Resolver, listener diag.Listener) *Interpreter {
	return &Interpreter{
		Resolver: resolver,
		Listener: listener,
		MaxDepth: DefaultMaxDepth,
	}
}

func (i *Interpreter) maxDepth() int {
	if i.MaxDepth <= 0 {
		return DefaultMaxDepth
	}
	return i.MaxDepth
}

func (i *Interpreter) format(name string) (FormatFunc, bool) {
	if f, ok := i.Formats[name]; ok {
		return f, true
	}
	return BuiltinFormat(name)
}

// Render executes t with args into a string.
func (i *Interpreter) Render(t *CompiledTemplate, args map[string]any) (string, error) {
	var sb strings.Builder
	w := NewAutoIndentWriter(&sb)
	w.SetLineWidth(i.LineWidth)
	if i.Newline != "" {
		w.SetNewline(i.Newline)
	}
	err := i.Execute(t, args, nil, w)
	return sb.String(), err
}

// Execute runs t with args bound to its formal arguments. The invocation's
// environment encloses enclosing, which typically holds collection globals
// and may be nil. Runtime problems are reported to the Listener and degrade
// the output locally; the only error returned is a *diag.FatalError.
func (i *Interpreter) Execute(t *CompiledTemplate, args map[string]any, enclosing *Env, out Sink) error {
	c := NewClosure(t, enclosing)
	names := make([]string, 0, len(args))
	for name := range args {
		names = append(names, name)
	}
	sort.Strings(names)

	r := i.newRender(out, enclosing)
	for _, name := range names {
		if !c.Set(name, args[name]) {
			r.warn(nil, diag.KindNoSuchAttribute, "template %s has no such attribute: %s", t.Name, name)
		}
	}
	return r.exec(c)
}

// Exec runs an already bound template reference.
func (i *Interpreter) Exec(c *Closure, out Sink) error {
	return i.newRender(out, c.Enclosing).exec(c)
}

// ---------------------------------------------------------------------------
// Per-call state
// ---------------------------------------------------------------------------

type render struct {
	interp *Interpreter
	id     string
	out    Sink
	root   *Env
	depth  int
	cur    *frame
	warned map[site]bool
}

// site identifies an instruction for once-per-site warnings.
type site struct {
	t    *CompiledTemplate
	ip   int
	kind diag.Kind
}

// frame is the execution state of one template invocation.
type frame struct {
	t     *CompiledTemplate
	env   *Env
	stack []any
	ip    int // address of the instruction being executed
}

// abort unwinds a render after a fatal diagnostic.
type abort struct {
	err *diag.FatalError
}

// vmFault signals malformed code, never bad input data.
type vmFault string

func (i *Interpreter) newRender(out Sink, root *Env) *render {
	return &render{
		interp: i,
		id:     uuid.NewString(),
		out:    out,
		root:   root,
		warned: make(map[site]bool),
	}
}

func (r *render) exec(c *Closure) (err error) {
	log.Debugf("render %s: %s", r.id, c.Template.Name)
	defer func() {
		if rec := recover(); rec != nil {
			switch x := rec.(type) {
			case abort:
				err = x.err
			case vmFault:
				err = r.fatalError(r.cur, diag.KindStackDiscipline, "internal error: %s", string(x))
			default:
				panic(rec)
			}
		}
	}()
	r.invoke(c)
	return nil
}

// invoke runs c and writes its output to the current sink.
func (r *render) invoke(c *Closure) {
	r.depth++
	defer func() { r.depth-- }()
	if r.depth > r.interp.maxDepth() {
		panic(abort{r.fatalError(r.cur, diag.KindRecursionDepth,
			"template %s exceeds the maximum call depth of %d", c.Template.Name, r.interp.maxDepth())})
	}

	caller := r.cur
	f := &frame{t: c.Template, env: r.bind(c)}
	r.cur = f
	r.run(f)
	r.cur = caller
}

// bind builds the invocation environment: formal arguments first, in order,
// so OpLoadLocal can index them, then the iteration index, then named
// attributes.
func (r *render) bind(c *Closure) *Env {
	t := c.Template
	env := &Env{Template: t, Enclosing: c.Enclosing}
	for i, fa := range t.FormalArgs {
		v := c.Args[i]
		if v == unsetArg {
			v = nil
			if fa.HasDefault {
				if fa.DefaultTemplate != nil {
					v = NewClosure(fa.DefaultTemplate, env)
				} else {
					v = fa.DefaultValue
				}
			}
		}
		env.define(fa.Name, v)
	}
	if c.Index >= 0 {
		env.define("i", c.Index+1)
		env.define("i0", c.Index)
	}
	if len(c.Named) > 0 {
		names := make([]string, 0, len(c.Named))
		for name := range c.Named {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			env.define(name, c.Named[name])
		}
	}
	return env
}

// ---------------------------------------------------------------------------
// Stack operations
// ---------------------------------------------------------------------------

func (f *frame) push(v any) {
	f.stack = append(f.stack, v)
}

func (f *frame) pop() any {
	n := len(f.stack)
	if n == 0 {
		panic(vmFault(fmt.Sprintf("stack underflow at %d in %s", f.ip, f.t.Name)))
	}
	v := f.stack[n-1]
	f.stack = f.stack[:n-1]
	return v
}

func (f *frame) top() any {
	if len(f.stack) == 0 {
		panic(vmFault(fmt.Sprintf("stack underflow at %d in %s", f.ip, f.t.Name)))
	}
	return f.stack[len(f.stack)-1]
}

func (f *frame) popN(n int) []any {
	if len(f.stack) < n {
		panic(vmFault(fmt.Sprintf("stack underflow at %d in %s", f.ip, f.t.Name)))
	}
	out := make([]any, n)
	copy(out, f.stack[len(f.stack)-n:])
	f.stack = f.stack[:len(f.stack)-n]
	return out
}

// ---------------------------------------------------------------------------
// Main interpreter loop
// ---------------------------------------------------------------------------

func (r *render) run(f *frame) {
	t := f.t
	code := t.Code
	ip := 0
	for ip < len(code) {
		f.ip = ip
		op := Opcode(code[ip])
		ip++
		operand := func(n int) int { return readOperand(code, ip+2*n) }
		if !op.Valid() || ip+2*op.Info().Operands > len(code) {
			panic(vmFault(fmt.Sprintf("bad instruction 0x%02X at %d in %s", byte(op), f.ip, t.Name)))
		}
		next := ip + 2*op.Info().Operands

		switch op {
		// --- Loads ---
		case OpLoadStr:
			f.push(t.Strings[operand(0)])

		case OpLoadAttr:
			name := t.Strings[operand(0)]
			v, ok := f.env.Lookup(name)
			if !ok {
				r.warn(f, diag.KindNoSuchAttribute, "attribute %s isn't defined", name)
			}
			f.push(v)

		case OpLoadLocal:
			v, _ := f.env.Local(operand(0))
			f.push(v)

		case OpLoadProp:
			o := f.pop()
			f.push(r.property(f, o, t.Strings[operand(0)]))

		case OpLoadPropInd:
			name := f.pop()
			o := f.pop()
			f.push(r.property(f, o, r.toString(f, name)))

		case OpNull:
			f.push(nil)
		case OpTrue:
			f.push(true)
		case OpFalse:
			f.push(false)

		// --- Options and arguments ---
		case OpOptions:
			f.push(&optionSet{})

		case OpStoreOption:
			v := f.pop()
			set, ok := f.top().(*optionSet)
			if !ok {
				panic(vmFault("STORE_OPTION without an option set"))
			}
			o := operand(0)
			if o >= NumOptions {
				panic(vmFault(fmt.Sprintf("option %d out of range", o)))
			}
			set.values[o] = v
			set.set[o] = true

		case OpArgs:
			f.push(map[string]any{})

		case OpStoreArg:
			v := f.pop()
			args, ok := f.top().(map[string]any)
			if !ok {
				panic(vmFault("STORE_ARG without an argument map"))
			}
			args[t.Strings[operand(0)]] = v

		case OpPassThru:
			args, ok := f.top().(map[string]any)
			if !ok {
				panic(vmFault("PASSTHRU without an argument map"))
			}
			r.passThrough(f, t.Strings[operand(0)], args)

		// --- Template instantiation ---
		case OpNew:
			name := t.Strings[operand(0)]
			args := f.popN(operand(1))
			callee, _ := r.resolve(f, name)
			f.push(r.instantiate(f, callee, args))

		case OpNewInd:
			args := f.popN(operand(0))
			target := f.pop()
			if c, ok := target.(*Closure); ok {
				f.push(r.instantiate(f, c, args))
				break
			}
			callee, _ := r.resolve(f, r.toString(f, target))
			f.push(r.instantiate(f, callee, args))

		case OpNewBoxArgs:
			args, _ := f.pop().(map[string]any)
			callee, _ := r.resolve(f, t.Strings[operand(0)])
			f.push(r.instantiateNamed(f, callee, args))

		case OpSuperNew:
			name := t.Strings[operand(0)]
			args := f.popN(operand(1))
			callee, _ := r.resolveSuper(f, name)
			f.push(r.instantiate(f, callee, args))

		case OpSuperNewBoxArgs:
			args, _ := f.pop().(map[string]any)
			callee, _ := r.resolveSuper(f, t.Strings[operand(0)])
			f.push(r.instantiateNamed(f, callee, args))

		case OpNewClosure:
			name := t.Strings[operand(0)]
			nt, ok := r.nested(f, name)
			if !ok {
				panic(vmFault(fmt.Sprintf("no nested template %s in %s", name, t.Name)))
			}
			f.push(NewClosure(nt, f.env))

		case OpRegion:
			owner, region := t.Strings[operand(0)], t.Strings[operand(1)]
			f.push(r.region(f, owner, region))

		case OpSuperRegion:
			owner, region := t.Strings[operand(0)], t.Strings[operand(1)]
			f.push(r.superRegion(f, owner, region))

		// --- Iteration ---
		case OpMap:
			tmpl := f.pop()
			list := f.pop()
			f.push(r.mapSeq(f, list, []any{tmpl}))

		case OpRotMap:
			tmpls := f.popN(operand(0))
			list := f.pop()
			f.push(r.mapSeq(f, list, tmpls))

		case OpZipMap:
			tmpl := f.pop()
			lists := f.popN(operand(0))
			f.push(r.zipMap(f, lists, tmpl))

		// --- Control flow ---
		case OpBrf:
			if !Truthy(f.pop()) {
				next = operand(0)
			}
		case OpBr:
			next = operand(0)

		// --- Output ---
		case OpWrite:
			r.write(f, f.pop(), nil)

		case OpWriteOpt:
			set, ok := f.pop().(*optionSet)
			if !ok {
				panic(vmFault("WRITE_OPT without an option set"))
			}
			v := f.pop()
			r.write(f, v, r.renderOptions(f, set))

		case OpIndent:
			indent := t.Strings[operand(0)]
			if l, ok := r.out.(LayoutSink); ok {
				l.PushIndent(indent)
			} else {
				r.emit(f, indent)
			}

		case OpDedent:
			if l, ok := r.out.(LayoutSink); ok {
				l.PopIndent()
			}

		case OpNewline:
			r.emit(f, "\n")

		// --- Builtins and operators ---
		case OpCallBuiltin:
			b := operand(0)
			if b >= len(builtins) {
				panic(vmFault(fmt.Sprintf("builtin %d out of range", b)))
			}
			f.push(builtins[b].fn(r, f, f.pop()))

		case OpNot:
			f.push(!Truthy(f.pop()))

		case OpOr:
			b := f.pop()
			a := f.pop()
			f.push(Truthy(a) || Truthy(b))

		case OpAnd:
			b := f.pop()
			a := f.pop()
			f.push(Truthy(a) && Truthy(b))

		case OpToStr:
			f.push(r.toString(f, f.pop()))

		case OpList:
			f.push([]any{})

		case OpAdd:
			v := f.pop()
			list, ok := f.top().([]any)
			if !ok {
				panic(vmFault("ADD without a list"))
			}
			if seq, isSeq := AsSeq(v); isSeq {
				for e := range seq {
					list = append(list, e)
				}
			} else {
				list = append(list, v)
			}
			f.stack[len(f.stack)-1] = list

		}
		ip = next
	}
	if len(f.stack) != 0 {
		panic(vmFault(fmt.Sprintf("%d values left on the stack in %s", len(f.stack), t.Name)))
	}
}

// ---------------------------------------------------------------------------
// Name resolution
// ---------------------------------------------------------------------------

func (r *render) resolve(f *frame, name string) (*CompiledTemplate, bool) {
	if r.interp.Resolver != nil {
		if t, ok := r.interp.Resolver.Resolve(name); ok {
			return t, true
		}
	}
	r.warn(f, diag.KindNoSuchTemplate, "no such template: %s", name)
	return nil, false
}

func (r *render) resolveSuper(f *frame, name string) (*CompiledTemplate, bool) {
	if sr, ok := r.interp.Resolver.(SuperResolver); ok {
		if t, ok := sr.ResolveSuper(f.t, name); ok {
			return t, true
		}
	}
	r.warn(f, diag.KindNoSuchTemplate, "no super template for %s", name)
	return nil, false
}

// nested finds a subtemplate or region defined by the current template or by
// any template on its lexical chain.
func (r *render) nested(f *frame, name string) (*CompiledTemplate, bool) {
	if nt, ok := f.t.NestedTemplate(name); ok {
		return nt, true
	}
	for env := f.env; env != nil; env = env.Enclosing {
		if nt, ok := env.Template.NestedTemplate(name); ok {
			return nt, true
		}
	}
	return nil, false
}

// region resolves a region call. An override known to the resolver wins over
// the body compiled into the owner.
func (r *render) region(f *frame, owner, region string) any {
	if r.interp.Resolver != nil {
		if t, ok := r.interp.Resolver.ResolveRegion(owner, region); ok {
			return NewClosure(t, f.env)
		}
	}
	if t, ok := r.nested(f, MangledRegionName(owner, region)); ok {
		return NewClosure(t, f.env)
	}
	r.warn(f, diag.KindNoSuchRegion, "no such region: @%s.%s", owner, region)
	return nil
}

func (r *render) superRegion(f *frame, owner, region string) any {
	mangled := MangledRegionName(owner, region)
	if sr, ok := r.interp.Resolver.(SuperResolver); ok {
		if t, ok := sr.ResolveSuper(f.t, mangled); ok {
			return NewClosure(t, f.env)
		}
	}
	if r.interp.Resolver != nil {
		if ot, ok := r.interp.Resolver.Resolve(owner); ok {
			if t, ok := ot.NestedTemplate(mangled); ok && t != f.t {
				return NewClosure(t, f.env)
			}
		}
	}
	r.warn(f, diag.KindNoSuchRegion, "no super region: @%s.%s", owner, region)
	return nil
}

// ---------------------------------------------------------------------------
// Instantiation
// ---------------------------------------------------------------------------

// instantiate binds positional args. target is nil for an unresolved name,
// a *CompiledTemplate for a fresh call, or a *Closure to rebind.
func (r *render) instantiate(f *frame, target any, args []any) any {
	var c *Closure
	switch x := target.(type) {
	case *CompiledTemplate:
		if x == nil {
			return nil
		}
		c = NewClosure(x, r.root)
	case *Closure:
		c = x.clone()
	default:
		return nil
	}
	for i, a := range args {
		if i < len(c.Template.FormalArgs) {
			c.Args[i] = a
			continue
		}
		// Map targets pass null placeholders for the element they receive.
		if a != nil {
			r.warn(f, diag.KindArgumentCount, "passed %d arg(s) to template %s with %d declared arg(s)",
				len(args), c.Template.Name, len(c.Template.FormalArgs))
			break
		}
	}
	return c
}

func (r *render) instantiateNamed(f *frame, t *CompiledTemplate, args map[string]any) any {
	if t == nil {
		return nil
	}
	c := NewClosure(t, r.root)
	names := make([]string, 0, len(args))
	for name := range args {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if !c.Set(name, args[name]) {
			r.warn(f, diag.KindNoSuchAttribute, "template %s has no such attribute: %s", t.Name, name)
		}
	}
	return c
}

// passThrough fills the arguments of the named template that the call left
// unset from the caller's environment. A template without declared arguments
// receives every visible attribute.
func (r *render) passThrough(f *frame, name string, args map[string]any) {
	var t *CompiledTemplate
	if r.interp.Resolver != nil {
		t, _ = r.interp.Resolver.Resolve(name)
	}
	if t != nil && len(t.FormalArgs) > 0 {
		for _, fa := range t.FormalArgs {
			if _, set := args[fa.Name]; set {
				continue
			}
			if v, ok := f.env.Lookup(fa.Name); ok {
				args[fa.Name] = v
			}
		}
		return
	}
	for env := f.env; env != nil; env = env.Enclosing {
		for i, n := range env.names {
			if _, set := args[n]; !set {
				args[n] = env.values[i]
			}
		}
	}
}

// property reads o.name, including arguments bound on a template reference.
func (r *render) property(f *frame, o any, name string) any {
	if c, ok := o.(*Closure); ok {
		if fa, ok := c.Template.Arg(name); ok {
			if !c.isSet(name) {
				return nil
			}
			return c.Args[fa.Index]
		}
		if v, ok := c.Named[name]; ok {
			return v
		}
		r.warn(f, diag.KindNoSuchProperty, "no such property or can't access: %s.%s", c.Template.Name, name)
		return nil
	}
	v, ok, err := lookupProperty(o, name)
	if err != nil {
		r.warn(f, diag.KindPropertyFailed, "property %s.%s failed: %v", describe(o), name, err)
		return nil
	}
	if !ok {
		r.warn(f, diag.KindNoSuchProperty, "no such property or can't access: %s.%s", describe(o), name)
	}
	return v
}

// ---------------------------------------------------------------------------
// Iteration
// ---------------------------------------------------------------------------

// mapSeq applies tmpls to the elements of list in rotation. The result is
// lazy; nulls pass through unmapped and do not advance the index.
func (r *render) mapSeq(f *frame, list any, tmpls []any) any {
	if list == nil {
		return nil
	}
	seq, ok := AsSeq(list)
	if !ok {
		return r.apply(f, tmpls[0], list, 0)
	}
	return iter.Seq[any](func(yield func(any) bool) {
		i := 0
		for v := range seq {
			if v == nil {
				if !yield(nil) {
					return
				}
				continue
			}
			c := r.apply(f, tmpls[i%len(tmpls)], v, i)
			i++
			if !yield(c) {
				return
			}
		}
	})
}

func (r *render) apply(f *frame, tmpl any, v any, index int) any {
	proto, ok := tmpl.(*Closure)
	if !ok {
		if tmpl != nil {
			r.warn(f, diag.KindTypeMismatch, "can't apply a %s to a list element", describe(tmpl))
		}
		return nil
	}
	if n := len(proto.Template.FormalArgs); n > 1 {
		r.warn(f, diag.KindArgumentCount, "template %s has %d arg(s) but is mapped across 1 value",
			proto.Template.Name, n)
	}
	c := proto.clone()
	c.setFirst(v)
	c.Index = index
	return c
}

// zipMap walks lists in lock-step, binding one element of each to the
// template's formal arguments. It stops at the end of the shortest list.
func (r *render) zipMap(f *frame, lists []any, tmpl any) any {
	proto, ok := tmpl.(*Closure)
	if !ok {
		return nil
	}
	if n := len(proto.Template.FormalArgs); n != len(lists) {
		r.warn(f, diag.KindArgumentCount, "template %s has %d arg(s) but is mapped across %d value(s)",
			proto.Template.Name, n, len(lists))
		return nil
	}
	seqs := make([]iter.Seq[any], len(lists))
	for i, l := range lists {
		if l == nil {
			seqs[i] = Seq()
		} else if s, ok := AsSeq(l); ok {
			seqs[i] = s
		} else {
			seqs[i] = Seq(l)
		}
	}
	return iter.Seq[any](func(yield func(any) bool) {
		nexts := make([]func() (any, bool), len(seqs))
		for i, s := range seqs {
			next, stop := iter.Pull(s)
			defer stop()
			nexts[i] = next
		}
		for index := 0; ; index++ {
			c := proto.clone()
			for i, next := range nexts {
				v, ok := next()
				if !ok {
					return
				}
				c.Args[i] = v
			}
			c.Index = index
			if !yield(c) {
				return
			}
		}
	})
}

// ---------------------------------------------------------------------------
// Output
// ---------------------------------------------------------------------------

func (r *render) renderOptions(f *frame, set *optionSet) *renderOptions {
	o := &renderOptions{}
	for i := 0; i < NumOptions; i++ {
		if !set.set[i] {
			continue
		}
		v := set.values[i]
		switch Option(i) {
		case OptionAnchor:
			if b, ok := v.(bool); ok {
				o.anchor = b
			} else {
				o.anchor = v != nil && r.toString(f, v) != "false"
			}
		case OptionFormat:
			o.format, o.hasFormat = r.toString(f, v), v != nil
		case OptionNull:
			o.null, o.hasNull = r.toString(f, v), v != nil
		case OptionSeparator:
			o.separator, o.hasSep = r.toString(f, v), v != nil
		case OptionWrap:
			o.wrap, o.hasWrap = r.toString(f, v), v != nil
		}
	}
	return o
}

// write renders v into the current sink. A null value, or a sequence with no
// elements, writes the null option text verbatim; the format option applies
// only to non-null text.
func (r *render) write(f *frame, v any, o *renderOptions) {
	if o != nil && o.anchor {
		if l, ok := r.out.(LayoutSink); ok {
			l.PushAnchor()
			defer l.PopAnchor()
		}
	}
	if seq, ok := AsSeq(v); ok {
		r.writeSeq(f, seq, o)
		return
	}
	r.writeValue(f, v, o)
}

// writeSeq writes each element, putting the separator only between elements
// that produced a value. Null elements are skipped unless a null option
// replaces them.
func (r *render) writeSeq(f *frame, seq iter.Seq[any], o *renderOptions) {
	seen := false
	empty := true
	for e := range seq {
		empty = false
		if IsEmpty(e) && (o == nil || !o.hasNull) {
			continue
		}
		if seen && o != nil && o.hasSep {
			r.emit(f, o.separator)
		}
		if nested, ok := AsSeq(e); ok {
			r.writeSeq(f, nested, o)
		} else {
			r.writeValue(f, e, o)
		}
		seen = true
	}
	if empty && o != nil && o.hasNull {
		r.emit(f, o.null)
	}
}

func (r *render) writeValue(f *frame, v any, o *renderOptions) {
	if v == nil {
		if o != nil && o.hasNull {
			r.wrap(f, o)
			r.emit(f, o.null)
		}
		return
	}
	if c, ok := v.(*Closure); ok && (o == nil || !o.hasFormat) {
		r.wrap(f, o)
		r.invoke(c)
		return
	}
	s := r.toString(f, v)
	if o != nil && o.hasFormat {
		if fn, ok := r.interp.format(o.format); ok {
			s = fn(s)
		} else {
			r.warn(f, diag.KindUnknownFormat, "unknown format: %s", o.format)
		}
	}
	r.wrap(f, o)
	r.emit(f, s)
}

func (r *render) wrap(f *frame, o *renderOptions) {
	if o == nil || !o.hasWrap {
		return
	}
	l, ok := r.out.(LayoutSink)
	if !ok {
		return
	}
	if _, err := l.WriteWrap(o.wrap); err != nil {
		panic(abort{r.fatalError(f, diag.KindWriteFailed, "write failed: %v", err)})
	}
}

func (r *render) emit(f *frame, s string) {
	if s == "" {
		return
	}
	if _, err := r.out.WriteString(s); err != nil {
		panic(abort{r.fatalError(f, diag.KindWriteFailed, "write failed: %v", err)})
	}
}

// toString renders v on its own, without layout options.
func (r *render) toString(f *frame, v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case *Closure:
	default:
		if _, ok := AsSeq(v); !ok {
			return ScalarString(v)
		}
	}
	var sb strings.Builder
	w := NewAutoIndentWriter(&sb)
	saved := r.out
	r.out = w
	defer func() { r.out = saved }()
	r.write(f, v, nil)
	return sb.String()
}

// ---------------------------------------------------------------------------
// Diagnostics
// ---------------------------------------------------------------------------

func (r *render) diagnostic(f *frame, cat diag.Category, kind diag.Kind, format string, args ...any) diag.Diagnostic {
	var pos diag.Position
	name := ""
	if f != nil {
		name = f.t.Name
		if loc, ok := f.t.SourceLocation(f.ip); ok {
			pos = diag.Position{Line: loc.Line, Column: loc.Column}
		}
	}
	d := diag.New(cat, kind, pos, name, format, args...)
	d.RenderID = r.id
	return d
}

// warn reports a runtime warning once per instruction and kind.
func (r *render) warn(f *frame, kind diag.Kind, format string, args ...any) {
	if f != nil {
		key := site{t: f.t, ip: f.ip, kind: kind}
		if r.warned[key] {
			return
		}
		r.warned[key] = true
	}
	diag.Or(r.interp.Listener).Report(r.diagnostic(f, diag.RuntimeWarning, kind, format, args...))
}

func (r *render) fatalError(f *frame, kind diag.Kind, format string, args ...any) *diag.FatalError {
	d := r.diagnostic(f, diag.FatalRuntimeError, kind, format, args...)
	diag.Or(r.interp.Listener).Report(d)
	log.Errorf("render %s aborted: %s", r.id, d.Msg)
	return &diag.FatalError{Diagnostic: d}
}
