package compiler

import (
	"github.com/chazu/stg/diag"
	"github.com/chazu/stg/vm"
)

// ---------------------------------------------------------------------------
// Code generator: tree -> bytecode
// ---------------------------------------------------------------------------

// codegen emits the code of one template. Subtemplates and regions get a
// child generator sharing the compiler, source and root.
type codegen struct {
	c        *Compiler
	listener diag.Listener
	source   string
	owner    string               // template name regions are mangled with
	root     *vm.CompiledTemplate // outermost template; regions register here
	t        *vm.CompiledTemplate
	b        *vm.BytecodeBuilder
	pool     map[string]int

	line, col int // last source map entry
}

func (c *Compiler) newCodegen(t, root *vm.CompiledTemplate, source string, listener diag.Listener) *codegen {
	return &codegen{
		c:        c,
		listener: listener,
		source:   source,
		owner:    regionOwner(root.Name),
		root:     root,
		t:        t,
		b:        vm.NewBytecodeBuilder(),
		pool:     make(map[string]int),
	}
}

func (g *codegen) child(t *vm.CompiledTemplate) *codegen {
	sub := g.c.newCodegen(t, g.root, g.source, g.listener)
	sub.owner = g.owner
	return sub
}

// finish installs the code. A template whose operands overflowed gets no
// code at all.
func (g *codegen) finish() {
	if err := g.b.Err(); err != nil {
		g.listener.Report(diag.New(diag.SemanticError, diag.KindCodeLimit, diag.Position{}, g.t.Name,
			"template too large: %v", err))
		g.t.Code = nil
		return
	}
	g.t.Code = g.b.Bytes()
}

// str interns s in the constant pool.
func (g *codegen) str(s string) int {
	if i, ok := g.pool[s]; ok {
		return i
	}
	i := len(g.t.Strings)
	g.t.Strings = append(g.t.Strings, s)
	g.pool[s] = i
	return i
}

// mark records the source position of the next instruction.
func (g *codegen) mark(n Node) {
	pos := n.Span().Start
	if !pos.IsValid() || (pos.Line == g.line && pos.Column == g.col) {
		return
	}
	g.line, g.col = pos.Line, pos.Column
	loc := vm.SourceLoc{Offset: g.b.Len(), Line: pos.Line, Column: pos.Column}
	if k := len(g.t.SourceMap); k > 0 && g.t.SourceMap[k-1].Offset == loc.Offset {
		g.t.SourceMap[k-1] = loc
		return
	}
	g.t.SourceMap = append(g.t.SourceMap, loc)
}

func (g *codegen) slice(span Span) string {
	start, end := span.Start.Offset, span.End.Offset
	if start < 0 || end > len(g.source) || start > end {
		return ""
	}
	return g.source[start:end]
}

// ---------------------------------------------------------------------------
// Elements
// ---------------------------------------------------------------------------

func (g *codegen) elements(els []Element) {
	for _, el := range els {
		g.element(el)
	}
}

func (g *codegen) element(el Element) {
	g.mark(el)
	switch n := el.(type) {
	case *Text:
		if n.Value == "" {
			return
		}
		g.b.Emit1(vm.OpLoadStr, g.str(n.Value))
		g.b.Emit(vm.OpWrite)

	case *Newline:
		g.b.Emit(vm.OpNewline)

	case *Indented:
		g.b.Emit1(vm.OpIndent, g.str(n.Indent))
		g.element(n.Element)
		g.b.Emit(vm.OpDedent)

	case *ExprElement:
		g.expr(n.Expr)
		if len(n.Options) == 0 {
			g.b.Emit(vm.OpWrite)
			return
		}
		g.options(n.Options)
		g.b.Emit(vm.OpWriteOpt)

	case *IfElement:
		end := g.b.NewLabel()
		for _, br := range n.Branches {
			next := g.b.NewLabel()
			g.expr(br.Cond)
			g.b.EmitJump(vm.OpBrf, next)
			g.elements(br.Body.Elements)
			g.b.EmitJump(vm.OpBr, end)
			g.b.Mark(next)
		}
		if n.Else != nil {
			g.elements(n.Else.Elements)
		}
		g.b.Mark(end)

	case *RegionElement:
		g.defineRegion(n)
		g.b.Emit2(vm.OpRegion, g.str(g.owner), g.str(n.Name))
		g.b.Emit(vm.OpWrite)
	}
}

func (g *codegen) options(opts []*Option) {
	g.b.Emit(vm.OpOptions)
	for _, opt := range opts {
		o, ok := vm.LookupOption(opt.Name)
		if !ok {
			continue
		}
		if opt.Value != nil {
			g.expr(opt.Value)
		} else {
			d, _ := o.Default()
			g.b.Emit1(vm.OpLoadStr, g.str(d))
		}
		g.b.Emit1(vm.OpStoreOption, int(o))
	}
}

// defineRegion compiles an embedded region body and registers it with the
// root, replacing any blank definition.
func (g *codegen) defineRegion(n *RegionElement) {
	mangled := vm.MangledRegionName(g.owner, n.Name)
	rt := vm.NewCompiledTemplate(mangled)
	rt.IsRegion = true
	rt.RegionDefType = vm.RegionEmbedded
	rt.Origin = g.c.Origin
	rt.Template = g.slice(n.Body.Span())

	sub := g.child(rt)
	sub.elements(n.Body.Elements)
	sub.finish()

	if g.root.Nested == nil {
		g.root.Nested = make(map[string]*vm.CompiledTemplate)
	}
	g.root.Nested[mangled] = rt
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

func (g *codegen) expr(e Expr) {
	if e == nil {
		g.b.Emit(vm.OpNull)
		return
	}
	g.mark(e)
	switch n := e.(type) {
	case *AttrRef:
		if fa, ok := g.t.Arg(n.Name); ok {
			g.b.Emit1(vm.OpLoadLocal, fa.Index)
			return
		}
		g.b.Emit1(vm.OpLoadAttr, g.str(n.Name))

	case *PropRef:
		g.expr(n.Target)
		if n.NameExpr != nil {
			g.expr(n.NameExpr)
			g.b.Emit(vm.OpLoadPropInd)
			return
		}
		g.b.Emit1(vm.OpLoadProp, g.str(n.Name))

	case *FuncCall:
		idx, _ := vm.LookupBuiltin(n.Name)
		if len(n.Args) == 0 {
			g.b.Emit(vm.OpNull)
		} else {
			g.expr(n.Args[0])
		}
		g.b.Emit1(vm.OpCallBuiltin, idx)

	case *Include:
		g.include(n, 0)

	case *IndirectInclude:
		g.indirect(n, 0)

	case *RegionCall:
		if n.Super {
			g.b.Emit2(vm.OpSuperRegion, g.str(g.owner), g.str(n.Name))
			return
		}
		g.c.DefineBlankRegion(g.root, n.Name)
		g.b.Emit2(vm.OpRegion, g.str(g.owner), g.str(n.Name))

	case *MapExpr:
		g.expr(n.List)
		for _, t := range n.Targets {
			g.mapTarget(t, 1)
		}
		if len(n.Targets) == 1 {
			g.b.Emit(vm.OpMap)
		} else {
			g.b.Emit1(vm.OpRotMap, len(n.Targets))
		}

	case *ZipExpr:
		for _, l := range n.Lists {
			g.expr(l)
		}
		g.mapTarget(n.Target, len(n.Lists))
		g.b.Emit1(vm.OpZipMap, len(n.Lists))

	case *Subtemplate:
		g.b.Emit1(vm.OpNewClosure, g.str(g.subtemplate(n)))

	case *StringLit:
		g.b.Emit1(vm.OpLoadStr, g.str(n.Value))

	case *IntLit:
		g.b.Emit1(vm.OpLoadStr, g.str(n.Value))

	case *BoolLit:
		if n.Value {
			g.b.Emit(vm.OpTrue)
		} else {
			g.b.Emit(vm.OpFalse)
		}

	case *ListLit:
		g.b.Emit(vm.OpList)
		for _, el := range n.Elements {
			g.expr(el)
			g.b.Emit(vm.OpAdd)
		}

	case *ToStr:
		g.expr(n.Expr)
		g.b.Emit(vm.OpToStr)

	case *Not:
		g.expr(n.Expr)
		g.b.Emit(vm.OpNot)

	case *And:
		g.expr(n.Left)
		g.expr(n.Right)
		g.b.Emit(vm.OpAnd)

	case *Or:
		g.expr(n.Left)
		g.expr(n.Right)
		g.b.Emit(vm.OpOr)

	default:
		g.b.Emit(vm.OpNull)
	}
}

// mapTarget emits a template applied by a map. Positional calls get one
// null placeholder per mapped list ahead of their own arguments; the map
// fills them in.
func (g *codegen) mapTarget(e Expr, lists int) {
	switch n := e.(type) {
	case *Include:
		g.mark(n)
		g.include(n, lists)
	case *IndirectInclude:
		g.mark(n)
		g.indirect(n, lists)
	default:
		g.expr(e)
	}
}

func (g *codegen) include(n *Include, placeholders int) {
	name := g.str(n.Name)
	if n.Args.IsNamed() {
		g.b.Emit(vm.OpArgs)
		for _, a := range n.Args.Named {
			g.expr(a.Value)
			g.b.Emit1(vm.OpStoreArg, g.str(a.Name))
		}
		if n.Args.PassThru {
			g.b.Emit1(vm.OpPassThru, name)
		}
		if n.Super {
			g.b.Emit1(vm.OpSuperNewBoxArgs, name)
		} else {
			g.b.Emit1(vm.OpNewBoxArgs, name)
		}
		return
	}

	for i := 0; i < placeholders; i++ {
		g.b.Emit(vm.OpNull)
	}
	if n.Args != nil {
		for _, a := range n.Args.Positional {
			g.expr(a)
		}
	}
	count := placeholders + n.Args.Len()
	if n.Super {
		g.b.Emit2(vm.OpSuperNew, name, count)
	} else {
		g.b.Emit2(vm.OpNew, name, count)
	}
}

func (g *codegen) indirect(n *IndirectInclude, placeholders int) {
	g.expr(n.NameExpr)
	for i := 0; i < placeholders; i++ {
		g.b.Emit(vm.OpNull)
	}
	if n.Args != nil {
		for _, a := range n.Args.Positional {
			g.expr(a)
		}
	}
	g.b.Emit1(vm.OpNewInd, placeholders+n.Args.Len())
}

// subtemplate compiles an anonymous template into the current template's
// nested table and returns its generated name.
func (g *codegen) subtemplate(n *Subtemplate) string {
	name := g.c.SubtemplateName()
	st := vm.NewCompiledTemplate(name)
	st.IsSubtemplate = true
	st.Origin = g.c.Origin
	st.HasFormalArgs = n.HasArgs
	for i, a := range n.FormalArgs {
		st.FormalArgs = append(st.FormalArgs, &vm.FormalArgument{Name: a, Index: i})
	}
	st.Template = g.slice(n.Body.Span())

	sub := g.child(st)
	sub.elements(n.Body.Elements)
	sub.finish()

	if g.t.Nested == nil {
		g.t.Nested = make(map[string]*vm.CompiledTemplate)
	}
	g.t.Nested[name] = st
	return name
}
