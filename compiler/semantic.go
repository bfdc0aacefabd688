package compiler

import (
	"strings"

	"github.com/chazu/stg/diag"
	"github.com/chazu/stg/vm"
)

// ---------------------------------------------------------------------------
// Semantic checks run between parsing and code generation
// ---------------------------------------------------------------------------

// checker walks a parsed template. Unknown options and misplaced or
// duplicate regions are removed from the tree; everything else is only
// reported so the valid parts still compile.
type checker struct {
	name     string
	listener diag.Listener
	errors   int
	regions  map[string]bool
}

// Check reports semantic errors in tree and returns how many it found. It
// may remove invalid nodes from tree.
func Check(tree *Template, name string, listener diag.Listener) int {
	c := &checker{name: name, listener: diag.Or(listener), regions: map[string]bool{}}
	c.template(tree, false)
	return c.errors
}

func (c *checker) errorf(n interface{ Span() Span }, kind diag.Kind, format string, args ...interface{}) {
	c.errors++
	c.listener.Report(diag.New(diag.SemanticError, kind, n.Span().Start, c.name, format, args...))
}

// template checks a body. nested is true inside subtemplates and regions,
// where regions may not be defined.
func (c *checker) template(t *Template, nested bool) {
	if t == nil {
		return
	}
	kept := t.Elements[:0]
	for _, el := range t.Elements {
		if c.element(el, nested) {
			kept = append(kept, el)
		}
	}
	t.Elements = kept
}

func (c *checker) element(el Element, nested bool) bool {
	switch n := el.(type) {
	case *Indented:
		return c.element(n.Element, nested)

	case *ExprElement:
		c.expr(n.Expr)
		n.Options = c.options(n.Options)

	case *IfElement:
		for _, b := range n.Branches {
			c.expr(b.Cond)
			c.template(b.Body, nested)
		}
		c.template(n.Else, nested)

	case *RegionElement:
		if nested {
			c.errorf(n, diag.KindBadRegion, "region @%s defined inside a subtemplate or region", n.Name)
			return false
		}
		if c.regions[n.Name] {
			c.errorf(n, diag.KindBadRegion, "region @%s is defined more than once", n.Name)
			return false
		}
		c.regions[n.Name] = true
		c.template(n.Body, true)
	}
	return true
}

func (c *checker) options(opts []*Option) []*Option {
	kept := opts[:0]
	for _, opt := range opts {
		o, ok := vm.LookupOption(opt.Name)
		if !ok {
			c.errorf(opt, diag.KindUnknownOption, "no such option: %s; valid options are %s",
				opt.Name, strings.Join(vm.OptionNames(), ", "))
			continue
		}
		if opt.Value == nil {
			if _, ok := o.Default(); !ok {
				c.errorf(opt, diag.KindOptionValue, "value required for option %s", opt.Name)
				continue
			}
		} else {
			c.expr(opt.Value)
		}
		kept = append(kept, opt)
	}
	return kept
}

func (c *checker) args(n Node, args *Args) {
	if args == nil {
		return
	}
	if args.Mixed {
		c.errorf(n, diag.KindMixedArgs, "mixed positional and named arguments")
	}
	for _, a := range args.Positional {
		c.expr(a)
	}
	seen := map[string]bool{}
	for _, a := range args.Named {
		if seen[a.Name] {
			c.errorf(n, diag.KindDuplicateArg, "argument %s given more than once", a.Name)
		}
		seen[a.Name] = true
		c.expr(a.Value)
	}
}

func (c *checker) expr(e Expr) {
	switch n := e.(type) {
	case nil:
	case *PropRef:
		c.expr(n.Target)
		c.expr(n.NameExpr)
	case *FuncCall:
		if len(n.Args) != 1 {
			c.errorf(n, diag.KindArity, "%s() takes 1 argument, got %d", n.Name, len(n.Args))
		}
		for _, a := range n.Args {
			c.expr(a)
		}
	case *Include:
		c.args(n, n.Args)
	case *IndirectInclude:
		c.expr(n.NameExpr)
		if n.Args.IsNamed() {
			c.errorf(n, diag.KindArity, "indirect template calls take positional arguments only")
		}
		c.args(n, n.Args)
	case *MapExpr:
		c.expr(n.List)
		for _, t := range n.Targets {
			c.expr(t)
		}
	case *ZipExpr:
		for _, l := range n.Lists {
			c.expr(l)
		}
		c.expr(n.Target)
	case *Subtemplate:
		seen := map[string]bool{}
		for _, a := range n.FormalArgs {
			if seen[a] {
				c.errorf(n, diag.KindDuplicateArg, "duplicate argument %s in subtemplate", a)
			}
			seen[a] = true
		}
		c.template(n.Body, true)
	case *ListLit:
		for _, el := range n.Elements {
			c.expr(el)
		}
	case *ToStr:
		c.expr(n.Expr)
	case *Not:
		c.expr(n.Expr)
	case *And:
		c.expr(n.Left)
		c.expr(n.Right)
	case *Or:
		c.expr(n.Left)
		c.expr(n.Right)
	}
}
