package compiler

import (
	"github.com/chazu/stg/diag"
	"github.com/chazu/stg/vm"
)

// ---------------------------------------------------------------------------
// Parser: Recursive descent parser for template source
// ---------------------------------------------------------------------------

// Parser builds a tree from template tokens. Ordinary syntax errors are
// reported and recovered at the end of the enclosing tag. Blocking failures
// (premature end of input, input that is not a template at all, an empty
// tag) abandon the parse.
type Parser struct {
	tokens   []Token
	pos      int
	source   string
	name     string
	listener diag.Listener

	errors    int
	lexErrors int
}

// bailout abandons the parse.
type bailout struct{}

// syntaxError unwinds to the nearest tag-level recovery point.
type syntaxError struct{}

// NewParser lexes input and returns a parser over its tokens.
func NewParser(input string, opts LexerOptions, name string, listener diag.Listener) *Parser {
	listener = diag.Or(listener)
	l := NewLexer(input, opts, name, listener)
	p := newTokenParser(l.All(), name, listener)
	p.source = input
	p.lexErrors = l.Errors()
	return p
}

func newTokenParser(tokens []Token, name string, listener diag.Listener) *Parser {
	if n := len(tokens); n == 0 || tokens[n-1].Type != TokenEOF {
		var pos Position
		if n > 0 {
			pos = tokens[n-1].Pos
		}
		tokens = append(tokens, Token{Type: TokenEOF, Pos: pos})
	}
	return &Parser{tokens: tokens, name: name, listener: diag.Or(listener)}
}

// Parse parses an already lexed token stream.
func Parse(tokens []Token, name string, listener diag.Listener) (*Template, int) {
	return newTokenParser(tokens, name, listener).Parse()
}

// Parse returns the tree and the number of lexical and syntax errors. The
// tree is nil after a blocking failure.
func (p *Parser) Parse() (tree *Template, errs int) {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(bailout); !ok {
				panic(r)
			}
			tree = nil
		}
		errs = p.errors + p.lexErrors
	}()

	start := p.cur()
	tree = &Template{}
	for {
		tree.Elements = append(tree.Elements, p.parseElements()...)
		if p.curIs(TokenEOF) {
			break
		}
		if len(tree.Elements) == 0 && p.atBeginning() {
			p.report(diag.KindUnparseable, p.cur(), "this doesn't look like a template: \"%s\"", p.sourceText())
			panic(bailout{})
		}
		p.skipStray()
	}
	tree.SpanVal = Span{Start: start.Pos, End: p.cur().Pos}
	return tree, 0
}

// ---------------------------------------------------------------------------
// Token access
// ---------------------------------------------------------------------------

func (p *Parser) cur() Token {
	return p.tokens[p.pos]
}

func (p *Parser) peek(n int) Token {
	return p.at(p.pos + n)
}

func (p *Parser) at(i int) Token {
	if i >= len(p.tokens) {
		return p.tokens[len(p.tokens)-1]
	}
	return p.tokens[i]
}

func (p *Parser) advance() {
	if p.pos < len(p.tokens)-1 {
		p.pos++
	}
}

func (p *Parser) curIs(t TokenType) bool {
	return p.cur().Type == t
}

func (p *Parser) expect(t TokenType) Token {
	tok := p.cur()
	if tok.Type != t {
		p.fail(diag.KindNone, "mismatched input '%s' expecting %s", describeToken(tok), t)
	}
	p.advance()
	return tok
}

func (p *Parser) spanFrom(start Token) Span {
	end := start.Pos
	if p.pos > 0 {
		end = p.tokens[p.pos-1].Pos
	}
	return Span{Start: start.Pos, End: end}
}

func (p *Parser) atBeginning() bool {
	return p.pos == 0 || (p.pos == 1 && p.tokens[0].Type == TokenIndent)
}

func (p *Parser) sourceText() string {
	if p.source != "" {
		return p.source
	}
	var s string
	for _, tok := range p.tokens {
		s += tok.Literal
	}
	return s
}

func describeToken(tok Token) string {
	if tok.Literal != "" {
		return tok.Literal
	}
	return tok.Type.String()
}

// ---------------------------------------------------------------------------
// Error handling
// ---------------------------------------------------------------------------

func (p *Parser) report(kind diag.Kind, tok Token, format string, args ...interface{}) {
	p.errors++
	p.listener.Report(diag.New(diag.SyntaxError, kind, tok.Pos, p.name, format, args...))
}

func (p *Parser) prematureEOF() {
	p.report(diag.KindPrematureEOF, p.cur(), "premature EOF")
	panic(bailout{})
}

// fail reports an error at the current token and unwinds to the enclosing
// tag. Running out of input is always blocking.
func (p *Parser) fail(kind diag.Kind, format string, args ...interface{}) {
	if p.curIs(TokenEOF) {
		p.prematureEOF()
	}
	p.report(kind, p.cur(), format, args...)
	panic(syntaxError{})
}

func (p *Parser) surprise() {
	p.fail(diag.KindSurprise, "'%s' came as a complete surprise to me", describeToken(p.cur()))
}

// guard runs f. A syntax error inside f is recovered by skipping past the
// next stop delimiter.
func (p *Parser) guard(f func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			if _, isSyntax := r.(syntaxError); !isSyntax {
				panic(r)
			}
			p.synchronize()
			ok = false
		}
	}()
	f()
	return true
}

func (p *Parser) synchronize() {
	for !p.curIs(TokenRDelim) {
		if p.curIs(TokenEOF) {
			p.prematureEOF()
		}
		p.advance()
	}
	p.advance()
}

// skipStray reports a token or statement tag that cannot appear where it
// does and skips it.
func (p *Parser) skipStray() {
	if p.curIs(TokenIndent) {
		p.advance()
	}
	if !p.curIs(TokenLDelim) {
		p.report(diag.KindSurprise, p.cur(), "'%s' came as a complete surprise to me", describeToken(p.cur()))
		p.advance()
		return
	}
	p.advance()
	p.report(diag.KindSurprise, p.cur(), "'%s' came as a complete surprise to me", describeToken(p.cur()))
	p.synchronize()
}

// ---------------------------------------------------------------------------
// Elements
// ---------------------------------------------------------------------------

// parseElements parses elements up to the end of input, a closing '}' or a
// statement tag that ends the enclosing construct.
func (p *Parser) parseElements() []Element {
	var els []Element
	for {
		tok := p.cur()
		switch tok.Type {
		case TokenEOF, TokenRCurly:
			return els
		case TokenText:
			p.advance()
			els = append(els, &Text{SpanVal: p.spanFrom(tok), Value: tok.Literal})
		case TokenNewline:
			p.advance()
			els = append(els, &Newline{SpanVal: p.spanFrom(tok)})
		case TokenIndent, TokenLDelim:
			if p.stopKeyword() != TokenEOF {
				return els
			}
			els = append(els, p.parseTag()...)
		default:
			p.report(diag.KindSurprise, tok, "'%s' came as a complete surprise to me", describeToken(tok))
			p.advance()
		}
	}
}

func (p *Parser) parseBody() *Template {
	start := p.cur()
	els := p.parseElements()
	return &Template{SpanVal: Span{Start: start.Pos, End: p.cur().Pos}, Elements: els}
}

// stopKeyword returns the keyword of the statement tag at the current
// position when it ends a construct (elseif, else, endif, @end), and EOF
// otherwise.
func (p *Parser) stopKeyword() TokenType {
	i := p.pos
	if p.at(i).Type == TokenIndent {
		i++
	}
	if p.at(i).Type != TokenLDelim {
		return TokenEOF
	}
	switch kw := p.at(i + 1).Type; kw {
	case TokenElseIf, TokenElse, TokenEndIf, TokenAtEnd:
		return kw
	}
	return TokenEOF
}

// startsLine reports whether the tag at token i (its INDENT or its start
// delimiter) is the first thing on its line.
func (p *Parser) startsLine(i int) bool {
	if p.at(i).Type != TokenIndent && i > 0 && p.tokens[i-1].Type == TokenIndent {
		i--
	}
	return i == 0 || p.tokens[i-1].Type == TokenNewline
}

func (p *Parser) endsLine() bool {
	return p.curIs(TokenNewline) || p.curIs(TokenEOF)
}

func (p *Parser) parseTag() []Element {
	var indent *Token
	ld := p.pos
	if p.curIs(TokenIndent) {
		tok := p.cur()
		if p.peek(1).Type != TokenLDelim {
			p.advance()
			return []Element{&Text{SpanVal: p.spanFrom(tok), Value: tok.Literal}}
		}
		indent = &tok
		ld++
	}

	switch {
	case p.at(ld+1).Type == TokenIf:
		return p.parseIf(indent)
	case p.at(ld+1).Type == TokenAt && p.at(ld+2).Type == TokenID && p.at(ld+3).Type == TokenRDelim:
		return p.parseRegionDef(indent)
	}

	if indent != nil {
		p.advance()
	}
	el := p.parseExprElement()
	if el == nil {
		return nil
	}
	if indent != nil {
		return []Element{&Indented{SpanVal: p.spanFrom(*indent), Indent: indent.Literal, Element: el}}
	}
	return []Element{el}
}

func (p *Parser) parseExprElement() Element {
	start := p.cur()
	p.advance() // start delimiter
	if p.curIs(TokenRDelim) {
		p.report(diag.KindNotAnExpression, p.cur(), "doesn't look like an expression")
		panic(bailout{})
	}

	var el *ExprElement
	p.guard(func() {
		e := p.parseExpr()
		var opts []*Option
		if p.curIs(TokenSemicolon) {
			p.advance()
			opts = p.parseOptions()
		}
		p.expect(TokenRDelim)
		el = &ExprElement{SpanVal: p.spanFrom(start), Expr: e, Options: opts}
	})
	if el == nil {
		return nil
	}
	return el
}

func (p *Parser) parseOptions() []*Option {
	var opts []*Option
	for {
		tok := p.expect(TokenID)
		opt := &Option{Name: tok.Literal}
		if p.curIs(TokenEquals) {
			p.advance()
			opt.Value = p.parseExprNoComma()
		}
		opt.SpanVal = p.spanFrom(tok)
		opts = append(opts, opt)
		if !p.curIs(TokenComma) {
			return opts
		}
		p.advance()
	}
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

// wrapIndent keeps the indentation of a statement that shares its line with
// other content.
func wrapIndent(indent *Token, alone bool, el Element) []Element {
	if indent == nil || alone {
		return []Element{el}
	}
	return []Element{&Indented{SpanVal: el.Span(), Indent: indent.Literal, Element: el}}
}

func (p *Parser) parseIf(indent *Token) []Element {
	start := p.cur()
	alone := p.startsLine(p.pos)
	if indent != nil {
		p.advance()
	}
	p.advance() // start delimiter
	p.advance() // if

	ifEl := &IfElement{}
	cond := p.parseTagCondition()
	alone = alone && p.endsLine()
	if alone && p.curIs(TokenNewline) {
		p.advance()
	}
	branch := &IfBranch{SpanVal: p.spanFrom(start), Cond: cond, Body: p.parseBody()}
	ifEl.Branches = append(ifEl.Branches, branch)
	last := branch.Body

	for {
		tagStart := p.pos
		switch p.stopKeyword() {
		case TokenElseIf:
			tok := p.openStopTag()
			if ifEl.Else != nil {
				p.report(diag.KindSurprise, tok, "'elseif' came as a complete surprise to me")
			}
			c := p.parseTagCondition()
			p.closeStopTag(tagStart)
			b := &IfBranch{SpanVal: p.spanFrom(tok), Cond: c, Body: p.parseBody()}
			if ifEl.Else == nil {
				ifEl.Branches = append(ifEl.Branches, b)
			}
			last = b.Body

		case TokenElse:
			tok := p.openStopTag()
			p.guard(func() { p.expect(TokenRDelim) })
			p.closeStopTag(tagStart)
			body := p.parseBody()
			if ifEl.Else != nil {
				p.report(diag.KindSurprise, tok, "'else' came as a complete surprise to me")
				last.Elements = append(last.Elements, body.Elements...)
				continue
			}
			ifEl.Else = body
			last = body

		case TokenEndIf:
			p.openStopTag()
			p.guard(func() { p.expect(TokenRDelim) })
			p.closeStopTag(tagStart)
			ifEl.SpanVal = p.spanFrom(start)
			return wrapIndent(indent, alone, ifEl)

		case TokenAtEnd:
			p.skipStray()
			last.Elements = append(last.Elements, p.parseElements()...)

		default:
			if p.curIs(TokenEOF) {
				p.prematureEOF()
			}
			p.report(diag.KindNone, p.cur(), "missing endif before '%s'", describeToken(p.cur()))
			ifEl.SpanVal = p.spanFrom(start)
			return wrapIndent(indent, alone, ifEl)
		}
	}
}

// parseTagCondition parses "(cond)" and the closing delimiter of an if or
// elseif tag. A broken condition evaluates to false.
func (p *Parser) parseTagCondition() Expr {
	var cond Expr
	p.guard(func() {
		p.expect(TokenLParen)
		c := p.parseCondition()
		p.expect(TokenRParen)
		p.expect(TokenRDelim)
		cond = c
	})
	if cond == nil {
		cond = &BoolLit{SpanVal: p.spanFrom(p.cur())}
	}
	return cond
}

// openStopTag consumes the indentation, delimiter and keyword of an
// elseif, else, endif or @end tag and returns the keyword token.
func (p *Parser) openStopTag() Token {
	if p.curIs(TokenIndent) {
		p.advance()
	}
	p.advance()
	kw := p.cur()
	p.advance()
	return kw
}

// closeStopTag drops the newline after a tag that is alone on its line.
func (p *Parser) closeStopTag(tagStart int) {
	if p.startsLine(tagStart) && p.curIs(TokenNewline) {
		p.advance()
	}
}

func (p *Parser) parseRegionDef(indent *Token) []Element {
	start := p.cur()
	alone := p.startsLine(p.pos)
	if indent != nil {
		p.advance()
	}
	p.advance() // start delimiter
	p.advance() // @
	name := p.cur()
	p.advance()
	p.advance() // stop delimiter
	alone = alone && p.endsLine()
	if alone && p.curIs(TokenNewline) {
		p.advance()
	}

	region := &RegionElement{Name: name.Literal, Body: p.parseBody()}
	for {
		tagStart := p.pos
		switch p.stopKeyword() {
		case TokenAtEnd:
			p.openStopTag()
			p.guard(func() { p.expect(TokenRDelim) })
			p.closeStopTag(tagStart)
			region.SpanVal = p.spanFrom(start)
			return wrapIndent(indent, alone, region)

		case TokenElseIf, TokenElse, TokenEndIf:
			p.skipStray()
			region.Body.Elements = append(region.Body.Elements, p.parseElements()...)

		default:
			if p.curIs(TokenEOF) {
				p.prematureEOF()
			}
			p.report(diag.KindNone, p.cur(), "missing @end before '%s'", describeToken(p.cur()))
			region.SpanVal = p.spanFrom(start)
			return wrapIndent(indent, alone, region)
		}
	}
}

// ---------------------------------------------------------------------------
// Conditions
// ---------------------------------------------------------------------------

func (p *Parser) parseCondition() Expr {
	start := p.cur()
	e := p.parseAndCondition()
	for p.curIs(TokenOr) {
		p.advance()
		right := p.parseAndCondition()
		e = &Or{SpanVal: p.spanFrom(start), Left: e, Right: right}
	}
	return e
}

func (p *Parser) parseAndCondition() Expr {
	start := p.cur()
	e := p.parseNotCondition()
	for p.curIs(TokenAnd) {
		p.advance()
		right := p.parseNotCondition()
		e = &And{SpanVal: p.spanFrom(start), Left: e, Right: right}
	}
	return e
}

func (p *Parser) parseNotCondition() Expr {
	start := p.cur()
	switch {
	case p.curIs(TokenBang):
		p.advance()
		e := p.parseNotCondition()
		return &Not{SpanVal: p.spanFrom(start), Expr: e}
	case p.curIs(TokenLParen):
		p.advance()
		e := p.parseCondition()
		p.expect(TokenRParen)
		return e
	}
	return p.parseMember()
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// parseExpr parses a full expression: a zip map, a chain of maps with
// rotating targets, or a single member expression.
func (p *Parser) parseExpr() Expr {
	start := p.cur()
	first := p.parseMember()
	if p.curIs(TokenComma) {
		lists := []Expr{first}
		for p.curIs(TokenComma) {
			p.advance()
			lists = append(lists, p.parseMember())
		}
		p.expect(TokenColon)
		target := p.parseMapTarget()
		return &ZipExpr{SpanVal: p.spanFrom(start), Lists: lists, Target: target}
	}
	return p.parseMapChain(start, first, true)
}

// parseExprNoComma parses an expression that may not contain a top-level
// comma: arguments, list elements and option values.
func (p *Parser) parseExprNoComma() Expr {
	start := p.cur()
	return p.parseMapChain(start, p.parseMember(), false)
}

func (p *Parser) parseMapChain(start Token, e Expr, rotate bool) Expr {
	for p.curIs(TokenColon) {
		p.advance()
		targets := []Expr{p.parseMapTarget()}
		for rotate && p.curIs(TokenComma) {
			p.advance()
			targets = append(targets, p.parseMapTarget())
		}
		e = &MapExpr{SpanVal: p.spanFrom(start), List: e, Targets: targets}
	}
	return e
}

func (p *Parser) parseMapTarget() Expr {
	tok := p.cur()
	switch tok.Type {
	case TokenID:
		p.advance()
		p.expect(TokenLParen)
		args := p.parseArgs()
		p.expect(TokenRParen)
		return &Include{SpanVal: p.spanFrom(tok), Name: tok.Literal, Args: args}
	case TokenLCurly:
		return p.parseSubtemplate()
	case TokenLParen:
		p.advance()
		e := p.parseExpr()
		p.expect(TokenRParen)
		p.expect(TokenLParen)
		args := p.parseArgs()
		p.expect(TokenRParen)
		return &IndirectInclude{SpanVal: p.spanFrom(tok), NameExpr: e, Args: args}
	}
	p.surprise()
	return nil
}

func (p *Parser) parseMember() Expr {
	start := p.cur()
	e := p.parseInclude()
	for p.curIs(TokenDot) {
		p.advance()
		switch {
		case p.curIs(TokenID):
			name := p.cur()
			p.advance()
			e = &PropRef{SpanVal: p.spanFrom(start), Target: e, Name: name.Literal}
		case p.curIs(TokenLParen):
			p.advance()
			ne := p.parseExpr()
			p.expect(TokenRParen)
			e = &PropRef{SpanVal: p.spanFrom(start), Target: e, NameExpr: ne}
		default:
			p.surprise()
		}
	}
	return e
}

func (p *Parser) parseInclude() Expr {
	tok := p.cur()
	switch tok.Type {
	case TokenID:
		if p.peek(1).Type != TokenLParen {
			break
		}
		p.advance()
		p.advance()
		if _, ok := vm.LookupBuiltin(tok.Literal); ok {
			var args []Expr
			if !p.curIs(TokenRParen) {
				args = append(args, p.parseExprNoComma())
				for p.curIs(TokenComma) {
					p.advance()
					args = append(args, p.parseExprNoComma())
				}
			}
			p.expect(TokenRParen)
			return &FuncCall{SpanVal: p.spanFrom(tok), Name: tok.Literal, Args: args}
		}
		args := p.parseArgs()
		p.expect(TokenRParen)
		return &Include{SpanVal: p.spanFrom(tok), Name: tok.Literal, Args: args}

	case TokenSuper:
		p.advance()
		name := p.expect(TokenID)
		p.expect(TokenLParen)
		args := p.parseArgs()
		p.expect(TokenRParen)
		return &Include{SpanVal: p.spanFrom(tok), Name: name.Literal, Args: args, Super: true}

	case TokenAt:
		p.advance()
		super := false
		if p.curIs(TokenSuper) {
			p.advance()
			super = true
		}
		name := p.expect(TokenID)
		p.expect(TokenLParen)
		p.expect(TokenRParen)
		return &RegionCall{SpanVal: p.spanFrom(tok), Name: name.Literal, Super: super}
	}
	return p.parsePrimary()
}

func (p *Parser) parsePrimary() Expr {
	tok := p.cur()
	switch tok.Type {
	case TokenID:
		p.advance()
		return &AttrRef{SpanVal: p.spanFrom(tok), Name: tok.Literal}
	case TokenString:
		p.advance()
		return &StringLit{SpanVal: p.spanFrom(tok), Value: tok.Literal}
	case TokenInt:
		p.advance()
		return &IntLit{SpanVal: p.spanFrom(tok), Value: tok.Literal}
	case TokenTrue, TokenFalse:
		p.advance()
		return &BoolLit{SpanVal: p.spanFrom(tok), Value: tok.Type == TokenTrue}
	case TokenLCurly:
		return p.parseSubtemplate()
	case TokenLBracket:
		return p.parseList()
	case TokenLParen:
		p.advance()
		e := p.parseExpr()
		p.expect(TokenRParen)
		if p.curIs(TokenLParen) {
			p.advance()
			args := p.parseArgs()
			p.expect(TokenRParen)
			return &IndirectInclude{SpanVal: p.spanFrom(tok), NameExpr: e, Args: args}
		}
		return &ToStr{SpanVal: p.spanFrom(tok), Expr: e}
	}
	p.surprise()
	return nil
}

// parseArgs parses call arguments up to, not including, the closing ')'.
func (p *Parser) parseArgs() *Args {
	args := &Args{}
	if p.curIs(TokenRParen) {
		return args
	}
	for {
		switch {
		case p.curIs(TokenEllipsis):
			p.advance()
			args.PassThru = true
		case p.curIs(TokenID) && p.peek(1).Type == TokenEquals:
			name := p.cur()
			p.advance()
			p.advance()
			v := p.parseExprNoComma()
			args.Named = append(args.Named, &NamedArg{SpanVal: p.spanFrom(name), Name: name.Literal, Value: v})
		default:
			args.Positional = append(args.Positional, p.parseExprNoComma())
		}
		if !p.curIs(TokenComma) {
			break
		}
		p.advance()
	}
	args.Mixed = len(args.Positional) > 0 && args.IsNamed()
	return args
}

func (p *Parser) parseSubtemplate() Expr {
	start := p.cur()
	p.advance() // {
	sub := &Subtemplate{}
	if p.curIs(TokenID) {
		sub.HasArgs = true
		for {
			sub.FormalArgs = append(sub.FormalArgs, p.expect(TokenID).Literal)
			if !p.curIs(TokenComma) {
				break
			}
			p.advance()
		}
		p.expect(TokenPipe)
	}
	sub.Body = p.parseBody()
	if p.curIs(TokenEOF) {
		p.prematureEOF()
	}
	p.expect(TokenRCurly)
	sub.SpanVal = p.spanFrom(start)
	return sub
}

func (p *Parser) parseList() Expr {
	start := p.cur()
	p.advance() // [
	list := &ListLit{}
	if p.curIs(TokenRBracket) {
		p.advance()
		list.SpanVal = p.spanFrom(start)
		return list
	}
	for {
		if p.curIs(TokenComma) || p.curIs(TokenRBracket) {
			list.Elements = append(list.Elements, nil)
		} else {
			list.Elements = append(list.Elements, p.parseExprNoComma())
		}
		if !p.curIs(TokenComma) {
			break
		}
		p.advance()
	}
	p.expect(TokenRBracket)
	list.SpanVal = p.spanFrom(start)
	return list
}
