package compiler

import (
	"fmt"

	"github.com/chazu/stg/diag"
)

// Position is a location in template source.
type Position = diag.Position

// ---------------------------------------------------------------------------
// Token types for the template lexer
// ---------------------------------------------------------------------------

// TokenType represents the type of a token.
type TokenType int

const (
	// Special tokens
	TokenEOF TokenType = iota
	TokenError

	// Text mode
	TokenText    // literal text
	TokenNewline // \n or \r\n
	TokenIndent  // whitespace at the start of a line before an expression
	TokenLDelim  // start delimiter
	TokenRDelim  // stop delimiter

	// Literals
	TokenID     // name, may contain '/'
	TokenString // "..."
	TokenInt    // 42

	// Keywords
	TokenIf
	TokenElseIf
	TokenElse
	TokenEndIf
	TokenTrue
	TokenFalse
	TokenSuper // super.
	TokenAt    // @
	TokenAtEnd // @end

	// Punctuation
	TokenLParen    // (
	TokenRParen    // )
	TokenLBracket  // [
	TokenRBracket  // ]
	TokenLCurly    // {
	TokenRCurly    // }
	TokenComma     // ,
	TokenDot       // .
	TokenColon     // :
	TokenSemicolon // ;
	TokenEquals    // =
	TokenPipe      // |
	TokenEllipsis  // ...
	TokenAnd       // &&
	TokenOr        // ||
	TokenBang      // !
)

var tokenNames = map[TokenType]string{
	TokenEOF:       "EOF",
	TokenError:     "ERROR",
	TokenText:      "TEXT",
	TokenNewline:   "NEWLINE",
	TokenIndent:    "INDENT",
	TokenLDelim:    "LDELIM",
	TokenRDelim:    "RDELIM",
	TokenID:        "ID",
	TokenString:    "STRING",
	TokenInt:       "INT",
	TokenIf:        "if",
	TokenElseIf:    "elseif",
	TokenElse:      "else",
	TokenEndIf:     "endif",
	TokenTrue:      "true",
	TokenFalse:     "false",
	TokenSuper:     "super.",
	TokenAt:        "@",
	TokenAtEnd:     "@end",
	TokenLParen:    "(",
	TokenRParen:    ")",
	TokenLBracket:  "[",
	TokenRBracket:  "]",
	TokenLCurly:    "{",
	TokenRCurly:    "}",
	TokenComma:     ",",
	TokenDot:       ".",
	TokenColon:     ":",
	TokenSemicolon: ";",
	TokenEquals:    "=",
	TokenPipe:      "|",
	TokenEllipsis:  "...",
	TokenAnd:       "&&",
	TokenOr:        "||",
	TokenBang:      "!",
}

func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Token(%d)", t)
}

// Token represents a lexical token.
type Token struct {
	Type    TokenType
	Literal string   // text after escapes are processed
	Pos     Position // start position
}

func (t Token) String() string {
	switch t.Type {
	case TokenEOF:
		return "EOF"
	case TokenError:
		return fmt.Sprintf("ERROR(%s)", t.Literal)
	}
	if len(t.Literal) > 20 {
		return fmt.Sprintf("%s(%q...)", t.Type, t.Literal[:20])
	}
	return fmt.Sprintf("%s(%q)", t.Type, t.Literal)
}

// Reserved words mapped to their token types.
var reservedWords = map[string]TokenType{
	"if":     TokenIf,
	"elseif": TokenElseIf,
	"else":   TokenElse,
	"endif":  TokenEndIf,
	"true":   TokenTrue,
	"false":  TokenFalse,
}
