// Package compiler turns template source into vm.CompiledTemplates: a lexer,
// a recursive descent parser, semantic checks and a bytecode generator.
package compiler

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/sanity-io/litter"
	"github.com/tliron/commonlog"

	"github.com/chazu/stg/diag"
	"github.com/chazu/stg/vm"
)

var log = commonlog.GetLogger("stg.compiler")

// Compiler turns template source into CompiledTemplates. A Compiler is safe
// for concurrent use once configured; it only keeps the subtemplate counter.
type Compiler struct {
	Start      rune // start delimiter
	Stop       rune // stop delimiter
	SingleLine bool // reject newlines inside expressions
	Listener   diag.Listener
	Origin     string // name of the collection compiled templates belong to

	subtemplates atomic.Int64
}

// NewCompiler returns a compiler with the default '<' '>' delimiters.
func NewCompiler(listener diag.Listener) *Compiler {
	return &Compiler{Start: '<', Stop: '>', Listener: listener}
}

func (c *Compiler) listener() diag.Listener {
	return diag.Or(c.Listener)
}

func (c *Compiler) lexerOptions() LexerOptions {
	return LexerOptions{Start: c.Start, Stop: c.Stop, SingleLine: c.SingleLine}
}

// SubtemplateName returns a fresh name for an anonymous template.
func (c *Compiler) SubtemplateName() string {
	return fmt.Sprintf("_sub%d", c.subtemplates.Add(1))
}

// Compile compiles source as template name. A nil formalArgs means the
// template declares no arguments and sees every attribute it is given.
//
// The second result is the number of diagnostics reported. When the source
// has lexical or syntax errors the template has no code; semantic errors
// still produce code for the valid parts.
func (c *Compiler) Compile(name string, formalArgs []*vm.FormalArgument, source string) (*vm.CompiledTemplate, int) {
	errs := 0
	listener := diag.ListenerFunc(func(d diag.Diagnostic) {
		errs++
		c.listener().Report(d)
	})

	t := vm.NewCompiledTemplate(name)
	t.Template = source
	t.Origin = c.Origin
	t.HasFormalArgs = formalArgs != nil
	for i, fa := range formalArgs {
		fa.Index = i
	}
	t.FormalArgs = formalArgs

	tree, _ := NewParser(source, c.lexerOptions(), name, listener).Parse()
	if tree == nil || errs > 0 {
		log.Debugf("%s: %d error(s), no code generated", name, errs)
		return t, errs
	}
	if log.AllowLevel(commonlog.Debug) {
		log.Debugf("tree for %s:\n%s", name, litter.Sdump(tree))
	}

	Check(tree, name, listener)

	g := c.newCodegen(t, t, source, listener)
	g.elements(tree.Elements)
	g.finish()
	return t, errs
}

// CompileAnonymous compiles source with no name and no declared arguments.
func (c *Compiler) CompileAnonymous(source string) (*vm.CompiledTemplate, int) {
	return c.Compile("anonymous", nil, source)
}

// DefineBlankRegion registers an empty region called name in outermost,
// unless outermost already defines one, and returns the region template.
func (c *Compiler) DefineBlankRegion(outermost *vm.CompiledTemplate, name string) *vm.CompiledTemplate {
	mangled := vm.MangledRegionName(regionOwner(outermost.Name), name)
	if rt, ok := outermost.NestedTemplate(mangled); ok {
		return rt
	}
	rt := vm.NewCompiledTemplate(mangled)
	rt.IsRegion = true
	rt.RegionDefType = vm.RegionImplicit
	rt.Origin = c.Origin
	if outermost.Nested == nil {
		outermost.Nested = make(map[string]*vm.CompiledTemplate)
	}
	outermost.Nested[mangled] = rt
	return rt
}

// regionOwner returns the template a region belongs to. Templates that are
// not regions own themselves.
func regionOwner(name string) string {
	region := vm.UnmangledRegionName(name)
	if region == name {
		return name
	}
	rest := strings.TrimPrefix(name, "region__")
	return strings.TrimSuffix(rest, "__"+region)
}

// ---------------------------------------------------------------------------
// Formal argument declarations
// ---------------------------------------------------------------------------

// ParseFormalArgs parses a declaration such as
//
//	a, b="x", c={<a>}, d=true, e=[]
//
// Defaults may be strings, integers, true, false, the empty list or a
// subtemplate. The returned slice is never nil, so an empty declaration
// still declares "no arguments".
func (c *Compiler) ParseFormalArgs(decl string) ([]*vm.FormalArgument, error) {
	coll := diag.NewCollector()
	listener := diag.Tee(coll, c.listener())
	const context = "formal arguments"

	l := newExprLexer(decl, context, listener)
	p := newTokenParser(l.All(), context, listener)
	p.source = decl

	args := []*vm.FormalArgument{}
	func() {
		defer func() {
			if r := recover(); r != nil {
				switch r.(type) {
				case bailout, syntaxError:
				default:
					panic(r)
				}
			}
		}()
		seen := map[string]bool{}
		for !p.curIs(TokenEOF) {
			tok := p.expect(TokenID)
			fa := &vm.FormalArgument{Name: tok.Literal, Index: len(args)}
			if p.curIs(TokenEquals) {
				p.advance()
				start := p.cur().Pos.Offset
				c.parseDefault(p, fa, listener)
				fa.HasDefault = true
				fa.DefaultSource = strings.TrimSpace(decl[start:p.cur().Pos.Offset])
			}
			if seen[fa.Name] {
				listener.Report(diag.New(diag.SemanticError, diag.KindDuplicateArg, tok.Pos, context,
					"duplicate argument %s", fa.Name))
			} else {
				seen[fa.Name] = true
				args = append(args, fa)
			}
			if !p.curIs(TokenComma) {
				break
			}
			p.advance()
		}
		if !p.curIs(TokenEOF) {
			p.surprise()
		}
	}()
	return args, coll.Err()
}

func (c *Compiler) parseDefault(p *Parser, fa *vm.FormalArgument, listener diag.Listener) {
	tok := p.cur()
	switch tok.Type {
	case TokenString:
		p.advance()
		fa.DefaultValue = tok.Literal
	case TokenTrue, TokenFalse:
		p.advance()
		fa.DefaultValue = tok.Type == TokenTrue
	case TokenInt:
		p.advance()
		n, err := strconv.Atoi(tok.Literal)
		if err != nil {
			fa.DefaultValue = tok.Literal
		} else {
			fa.DefaultValue = n
		}
	case TokenLBracket:
		p.advance()
		p.expect(TokenRBracket)
		fa.DefaultValue = []any{}
	case TokenLCurly:
		sub := p.parseSubtemplate().(*Subtemplate)
		fa.DefaultTemplate = c.compileDefault(sub, p.source, listener)
	default:
		p.surprise()
	}
}

// compileDefault compiles a subtemplate default value on its own.
func (c *Compiler) compileDefault(sub *Subtemplate, source string, listener diag.Listener) *vm.CompiledTemplate {
	st := vm.NewCompiledTemplate(c.SubtemplateName())
	st.IsSubtemplate = true
	st.Origin = c.Origin
	st.HasFormalArgs = sub.HasArgs
	for i, a := range sub.FormalArgs {
		st.FormalArgs = append(st.FormalArgs, &vm.FormalArgument{Name: a, Index: i})
	}

	Check(sub.Body, st.Name, listener)
	g := c.newCodegen(st, st, source, listener)
	st.Template = g.slice(sub.Body.Span())
	g.elements(sub.Body.Elements)
	g.finish()
	return st
}
