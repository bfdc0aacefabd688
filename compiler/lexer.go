package compiler

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/chazu/stg/diag"
)

// ---------------------------------------------------------------------------
// Lexer: Tokenizer for template source
// ---------------------------------------------------------------------------

// LexerOptions configures delimiters and line handling.
type LexerOptions struct {
	Start      rune // start delimiter, '<' by default
	Stop       rune // stop delimiter, '>' by default
	SingleLine bool // a newline inside an expression is an error
}

// DefaultLexerOptions returns the '<' '>' delimiter pair with multi-line
// expressions.
func DefaultLexerOptions() LexerOptions {
	return LexerOptions{Start: '<', Stop: '>'}
}

type lexMode int

const (
	modeText    lexMode = iota // outside delimiters
	modeSubText                // text inside {...}
	modeExpr                   // inside delimiters
)

// Lexer tokenizes template source. It switches between text and expression
// mode at the delimiters and keeps a mode stack for nested subtemplates.
// Lexical errors are reported to the listener and lexing resumes.
type Lexer struct {
	input string
	start string
	stop  string
	opts  LexerOptions

	pos  int // byte offset of the current character
	line int // current line (1-based)
	col  int // current column (1-based)

	modes       []lexMode
	pending     []Token
	atLineStart bool
	exprOnly    bool
	eofReported bool

	listener diag.Listener
	name     string
	errors   int
}

// NewLexer creates a lexer for input. name is used in diagnostics.
func NewLexer(input string, opts LexerOptions, name string, listener diag.Listener) *Lexer {
	if opts.Start == 0 {
		opts.Start = '<'
	}
	if opts.Stop == 0 {
		opts.Stop = '>'
	}
	return &Lexer{
		input:       input,
		start:       string(opts.Start),
		stop:        string(opts.Stop),
		opts:        opts,
		line:        1,
		col:         1,
		modes:       []lexMode{modeText},
		atLineStart: true,
		listener:    diag.Or(listener),
		name:        name,
	}
}

// newExprLexer lexes input as a bare expression, as in formal argument
// declarations.
func newExprLexer(input, name string, listener diag.Listener) *Lexer {
	l := NewLexer(input, DefaultLexerOptions(), name, listener)
	l.modes = []lexMode{modeExpr}
	l.exprOnly = true
	return l
}

// Tokenize returns every token of text, ending with EOF.
func Tokenize(text string, start, stop rune) []Token {
	l := NewLexer(text, LexerOptions{Start: start, Stop: stop}, "", nil)
	return l.All()
}

// All lexes the remaining input.
func (l *Lexer) All() []Token {
	var toks []Token
	for {
		tok := l.NextToken()
		toks = append(toks, tok)
		if tok.Type == TokenEOF {
			return toks
		}
	}
}

// Errors returns the number of lexical errors reported so far.
func (l *Lexer) Errors() int {
	return l.errors
}

// ---------------------------------------------------------------------------
// Character handling
// ---------------------------------------------------------------------------

func (l *Lexer) eof() bool {
	return l.pos >= len(l.input)
}

// cur returns the current character, or 0 at end of input.
func (l *Lexer) cur() rune {
	if l.eof() {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.input[l.pos:])
	return r
}

// peek returns the character after the current one.
func (l *Lexer) peek() rune {
	if l.eof() {
		return 0
	}
	_, size := utf8.DecodeRuneInString(l.input[l.pos:])
	if l.pos+size >= len(l.input) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.input[l.pos+size:])
	return r
}

func (l *Lexer) at(s string) bool {
	return strings.HasPrefix(l.input[l.pos:], s)
}

func (l *Lexer) advance() {
	if l.eof() {
		return
	}
	r, size := utf8.DecodeRuneInString(l.input[l.pos:])
	l.pos += size
	if r == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
}

func (l *Lexer) skip(s string) {
	for range s {
		l.advance()
	}
}

func (l *Lexer) position() Position {
	return Position{Offset: l.pos, Line: l.line, Column: l.col}
}

type lexState struct {
	pos, line, col int
}

func (l *Lexer) save() lexState { return lexState{l.pos, l.line, l.col} }

func (l *Lexer) restore(s lexState) { l.pos, l.line, l.col = s.pos, s.line, s.col }

func (l *Lexer) mode() lexMode {
	return l.modes[len(l.modes)-1]
}

func (l *Lexer) push(m lexMode) {
	l.modes = append(l.modes, m)
}

func (l *Lexer) pop() {
	if len(l.modes) > 1 {
		l.modes = l.modes[:len(l.modes)-1]
	}
}

func (l *Lexer) errorf(pos Position, kind diag.Kind, format string, args ...interface{}) {
	l.errors++
	l.listener.Report(diag.New(diag.LexicalError, kind, pos, l.name, format, args...))
}

func (l *Lexer) atNewline() bool {
	return l.cur() == '\n' || (l.cur() == '\r' && l.peek() == '\n')
}

// ---------------------------------------------------------------------------
// Tokens
// ---------------------------------------------------------------------------

// NextToken returns the next token.
func (l *Lexer) NextToken() Token {
	if len(l.pending) > 0 {
		tok := l.pending[0]
		l.pending = l.pending[1:]
		return tok
	}
	if l.mode() == modeExpr {
		return l.lexExpr()
	}
	return l.lexText()
}

func (l *Lexer) lexText() Token {
	for l.atLineStart && !l.eof() {
		tok, handled := l.lexLineStart()
		if tok != nil {
			return *tok
		}
		if !handled {
			break
		}
	}

	pos := l.position()
	inSub := l.mode() == modeSubText
	switch {
	case l.eof():
		return Token{Type: TokenEOF, Pos: pos}

	case l.atNewline():
		lit := "\n"
		if l.cur() == '\r' {
			lit = "\r\n"
		}
		l.skip(lit)
		l.atLineStart = true
		return Token{Type: TokenNewline, Literal: lit, Pos: pos}

	case inSub && l.cur() == '}':
		l.advance()
		l.pop()
		return Token{Type: TokenRCurly, Literal: "}", Pos: pos}

	case l.at(l.start) && !l.textEscapeAhead():
		l.skip(l.start)
		l.push(modeExpr)
		return Token{Type: TokenLDelim, Literal: l.start, Pos: pos}
	}

	var sb strings.Builder
	for !l.eof() && !l.atNewline() {
		ch := l.cur()
		if inSub && ch == '}' {
			break
		}
		if ch == '\\' {
			next := l.peek()
			if string(next) == l.start || string(next) == l.stop || next == '{' || next == '}' {
				l.advance()
				l.advance()
				sb.WriteRune(next)
				continue
			}
			sb.WriteRune(ch)
			l.advance()
			continue
		}
		if l.at(l.start) {
			if !l.textEscapeAhead() {
				break
			}
			l.lexTextEscape(&sb)
			continue
		}
		sb.WriteRune(ch)
		l.advance()
	}
	l.atLineStart = false
	if sb.Len() == 0 {
		return l.NextToken()
	}
	return Token{Type: TokenText, Literal: sb.String(), Pos: pos}
}

// textEscapeAhead reports whether the start delimiter at the current
// position begins something the text scanner consumes itself: a doubled
// delimiter, a comment or an escape tag.
func (l *Lexer) textEscapeAhead() bool {
	rest := l.input[l.pos+len(l.start):]
	return strings.HasPrefix(rest, l.start) || strings.HasPrefix(rest, "!") || strings.HasPrefix(rest, "\\")
}

// lexTextEscape consumes a doubled delimiter, a comment or an escape tag,
// appending any text it produces.
func (l *Lexer) lexTextEscape(sb *strings.Builder) {
	pos := l.position()
	l.skip(l.start)
	switch {
	case l.at(l.start):
		l.skip(l.start)
		sb.WriteString(l.start)
	case l.at("!"):
		l.skipComment(pos)
	default:
		l.lexEscapeTag(pos, sb)
	}
}

// skipComment consumes a comment whose start delimiter is already consumed.
func (l *Lexer) skipComment(pos Position) {
	end := strings.Index(l.input[l.pos+1:], "!"+l.stop)
	if end < 0 {
		l.errorf(pos, diag.KindUnterminated, "unterminated comment")
		for !l.eof() {
			l.advance()
		}
		return
	}
	l.skip(l.input[l.pos : l.pos+1+end+1+len(l.stop)])
}

// lexEscapeTag handles <\n>, <\t>, <\ >, <\uXXXX> and <\\>. The last one
// swallows the newline after it and the indentation of the next line.
func (l *Lexer) lexEscapeTag(pos Position, sb *strings.Builder) {
	swallow := false
	for !l.eof() && !l.at(l.stop) {
		if l.cur() != '\\' {
			l.badEscape(pos)
			return
		}
		l.advance()
		switch c := l.cur(); c {
		case 'n':
			sb.WriteByte('\n')
		case 't':
			sb.WriteByte('\t')
		case 'r':
			sb.WriteByte('\r')
		case ' ':
			sb.WriteByte(' ')
		case '\\':
			swallow = true
		case 'u':
			l.advance()
			hex := ""
			for i := 0; i < 4 && isHexDigit(l.cur()); i++ {
				hex += string(l.cur())
				l.advance()
			}
			if len(hex) != 4 {
				l.badEscape(pos)
				return
			}
			sb.WriteRune(rune(hexValue(hex)))
			continue
		default:
			l.badEscape(pos)
			return
		}
		l.advance()
	}
	if l.eof() {
		l.errorf(pos, diag.KindUnterminated, "unterminated escape tag")
		return
	}
	l.skip(l.stop)
	if swallow && l.atNewline() {
		if l.cur() == '\r' {
			l.advance()
		}
		l.advance()
		for l.cur() == ' ' || l.cur() == '\t' {
			l.advance()
		}
	}
}

func (l *Lexer) badEscape(pos Position) {
	l.errorf(pos, diag.KindBadCharacter, "invalid escape sequence")
	for !l.eof() && !l.at(l.stop) && !l.atNewline() {
		l.advance()
	}
	if l.at(l.stop) {
		l.skip(l.stop)
	}
}

// lexLineStart handles the first characters of a line. Whitespace before a
// start delimiter becomes an INDENT token; a comment alone on its line is
// dropped together with its newline. handled reports that input was
// consumed without producing a token.
func (l *Lexer) lexLineStart() (tok *Token, handled bool) {
	pos := l.position()
	s := l.save()
	for l.cur() == ' ' || l.cur() == '\t' {
		l.advance()
	}
	ws := l.input[s.pos:l.pos]

	if l.at(l.start + "!") {
		rest := l.input[l.pos+len(l.start)+1:]
		if end := strings.Index(rest, "!"+l.stop); end >= 0 {
			after := l.pos + len(l.start) + 1 + end + 1 + len(l.stop)
			tail := l.input[after:]
			if tail == "" || strings.HasPrefix(tail, "\n") || strings.HasPrefix(tail, "\r\n") {
				l.skip(l.input[l.pos:after])
				if l.cur() == '\r' {
					l.advance()
				}
				l.advance()
				return nil, true
			}
		}
	}

	if ws != "" && l.mode() == modeSubText && l.cur() == '}' {
		l.atLineStart = false
		return nil, true
	}

	if ws != "" && l.at(l.start) && !l.textEscapeAhead() {
		l.atLineStart = false
		return &Token{Type: TokenIndent, Literal: ws, Pos: pos}, true
	}

	l.restore(s)
	l.atLineStart = false
	return nil, false
}

// ---------------------------------------------------------------------------
// Expression mode
// ---------------------------------------------------------------------------

func (l *Lexer) lexExpr() Token {
	// A formal argument declaration is a bare expression with no delimiters.
	bare := l.exprOnly && len(l.modes) == 1
	for {
		c := l.cur()
		if c == '\n' && l.opts.SingleLine && !bare {
			pos := l.position()
			l.errorf(pos, diag.KindUnterminated, "expression not terminated before end of line")
			l.pop()
			return Token{Type: TokenRDelim, Pos: pos}
		}
		if c != ' ' && c != '\t' && c != '\r' && c != '\n' {
			break
		}
		l.advance()
	}

	pos := l.position()
	if l.eof() {
		if !bare && !l.eofReported {
			l.errorf(pos, diag.KindUnterminated, "unterminated expression, expecting %s", l.stop)
			l.eofReported = true
		}
		return Token{Type: TokenEOF, Pos: pos}
	}
	if l.at(l.stop) && !bare {
		l.skip(l.stop)
		l.pop()
		return Token{Type: TokenRDelim, Literal: l.stop, Pos: pos}
	}

	simple := func(t TokenType, lit string) Token {
		l.skip(lit)
		return Token{Type: t, Literal: lit, Pos: pos}
	}

	ch := l.cur()
	switch {
	case isLetter(ch) || ch == '_':
		return l.readIdentifier(pos)
	case isDigit(ch):
		start := l.pos
		for isDigit(l.cur()) {
			l.advance()
		}
		return Token{Type: TokenInt, Literal: l.input[start:l.pos], Pos: pos}
	case ch == '"':
		return l.readString(pos)
	case ch == '(':
		return simple(TokenLParen, "(")
	case ch == ')':
		return simple(TokenRParen, ")")
	case ch == '[':
		return simple(TokenLBracket, "[")
	case ch == ']':
		return simple(TokenRBracket, "]")
	case ch == ',':
		return simple(TokenComma, ",")
	case ch == ':':
		return simple(TokenColon, ":")
	case ch == ';':
		return simple(TokenSemicolon, ";")
	case ch == '=':
		return simple(TokenEquals, "=")
	case ch == '!':
		return simple(TokenBang, "!")
	case ch == '.':
		if l.at("...") {
			return simple(TokenEllipsis, "...")
		}
		return simple(TokenDot, ".")
	case ch == '&' && l.peek() == '&':
		return simple(TokenAnd, "&&")
	case ch == '|':
		if l.peek() == '|' {
			return simple(TokenOr, "||")
		}
		return simple(TokenPipe, "|")
	case ch == '@':
		if l.at("@end") && !isIdentChar(l.runeAt(l.pos+4)) {
			return simple(TokenAtEnd, "@end")
		}
		return simple(TokenAt, "@")
	case ch == '{':
		return l.lexSubtemplateStart(pos)
	}

	l.errorf(pos, diag.KindBadCharacter, "invalid character '%c'", ch)
	l.advance()
	return l.NextToken()
}

func (l *Lexer) runeAt(i int) rune {
	if i >= len(l.input) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.input[i:])
	return r
}

func (l *Lexer) readIdentifier(pos Position) Token {
	start := l.pos
	for isIdentChar(l.cur()) {
		l.advance()
	}
	lit := l.input[start:l.pos]
	if lit == "super" && l.cur() == '.' {
		l.advance()
		return Token{Type: TokenSuper, Literal: "super.", Pos: pos}
	}
	if t, ok := reservedWords[lit]; ok {
		return Token{Type: t, Literal: lit, Pos: pos}
	}
	return Token{Type: TokenID, Literal: lit, Pos: pos}
}

func (l *Lexer) readString(pos Position) Token {
	l.advance() // consume opening "

	var sb strings.Builder
	for !l.eof() {
		ch := l.cur()
		if ch == '"' {
			l.advance()
			return Token{Type: TokenString, Literal: sb.String(), Pos: pos}
		}
		if ch == '\\' {
			l.advance()
			switch esc := l.cur(); esc {
			case 'n':
				sb.WriteByte('\n')
			case 'r':
				sb.WriteByte('\r')
			case 't':
				sb.WriteByte('\t')
			case '"', '\\':
				sb.WriteRune(esc)
			default:
				sb.WriteByte('\\')
				sb.WriteRune(esc)
			}
			l.advance()
			continue
		}
		sb.WriteRune(ch)
		l.advance()
	}
	l.errorf(pos, diag.KindUnterminated, "unterminated string")
	return Token{Type: TokenString, Literal: sb.String(), Pos: pos}
}

// lexSubtemplateStart consumes '{' and, when present, the argument header
// "a, b |", queueing its tokens behind the LCURLY.
func (l *Lexer) lexSubtemplateStart(pos Position) Token {
	l.advance()
	l.push(modeSubText)
	l.atLineStart = false

	s := l.save()
	var header []Token
	skipSpace := func() {
		for l.cur() == ' ' || l.cur() == '\t' || l.cur() == '\r' || l.cur() == '\n' {
			l.advance()
		}
	}
	for {
		skipSpace()
		if !isLetter(l.cur()) && l.cur() != '_' {
			break
		}
		id := l.readIdentifier(l.position())
		if id.Type != TokenID {
			break
		}
		header = append(header, id)
		skipSpace()
		if l.cur() == ',' {
			header = append(header, Token{Type: TokenComma, Literal: ",", Pos: l.position()})
			l.advance()
			continue
		}
		if l.cur() == '|' && l.peek() != '|' {
			header = append(header, Token{Type: TokenPipe, Literal: "|", Pos: l.position()})
			l.advance()
			l.pending = append(l.pending, header...)
			return Token{Type: TokenLCurly, Literal: "{", Pos: pos}
		}
		break
	}
	l.restore(s)
	return Token{Type: TokenLCurly, Literal: "{", Pos: pos}
}

// ---------------------------------------------------------------------------
// Character classes
// ---------------------------------------------------------------------------

func isLetter(r rune) bool {
	return r < utf8.RuneSelf && unicode.IsLetter(r)
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

func isIdentChar(r rune) bool {
	return isLetter(r) || isDigit(r) || r == '_' || r == '/'
}

func isHexDigit(r rune) bool {
	return isDigit(r) || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}

func hexValue(s string) int {
	v := 0
	for _, r := range s {
		v <<= 4
		switch {
		case isDigit(r):
			v |= int(r - '0')
		case r >= 'a' && r <= 'f':
			v |= int(r-'a') + 10
		default:
			v |= int(r-'A') + 10
		}
	}
	return v
}
