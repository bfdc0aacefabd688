// Package diag carries the structured reports produced while compiling and
// rendering templates. The core never formats user-facing text itself; it
// hands Diagnostic values to a Listener and lets the host decide.
package diag

import (
	"fmt"
)

// ---------------------------------------------------------------------------
// Severity and category
// ---------------------------------------------------------------------------

// Severity ranks how bad a diagnostic is.
type Severity int

const (
	SeverityWarning Severity = iota
	SeverityError
	SeverityFatal
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityFatal:
		return "fatal"
	default:
		return fmt.Sprintf("Severity(%d)", int(s))
	}
}

// Category is the diagnostic taxonomy.
type Category int

const (
	LexicalError Category = iota
	SyntaxError
	SemanticError
	RuntimeWarning
	FatalRuntimeError
)

var categoryNames = map[Category]string{
	LexicalError:      "LexicalError",
	SyntaxError:       "SyntaxError",
	SemanticError:     "SemanticError",
	RuntimeWarning:    "RuntimeWarning",
	FatalRuntimeError: "FatalRuntimeError",
}

func (c Category) String() string {
	if name, ok := categoryNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Category(%d)", int(c))
}

// Severity returns the default severity for the category.
func (c Category) Severity() Severity {
	switch c {
	case RuntimeWarning:
		return SeverityWarning
	case FatalRuntimeError:
		return SeverityFatal
	default:
		return SeverityError
	}
}

// Kind narrows a category down to a specific cause. Blocking parse failures
// each get their own kind so callers can give actionable feedback.
type Kind string

const (
	KindNone            Kind = ""
	KindPrematureEOF    Kind = "premature-eof"
	KindUnparseable     Kind = "unparseable"
	KindNotAnExpression Kind = "not-an-expression"
	KindSurprise        Kind = "surprise"
	KindUnterminated    Kind = "unterminated"
	KindBadCharacter    Kind = "bad-character"
	KindUnknownOption   Kind = "unknown-option"
	KindOptionValue     Kind = "option-value"
	KindDuplicateArg    Kind = "duplicate-argument"
	KindBadRegion       Kind = "bad-region"
	KindArity           Kind = "arity"
	KindMixedArgs       Kind = "mixed-arguments"
	KindNoSuchAttribute Kind = "no-such-attribute"
	KindNoSuchProperty  Kind = "no-such-property"
	KindNoSuchTemplate  Kind = "no-such-template"
	KindNoSuchRegion    Kind = "no-such-region"
	KindTypeMismatch    Kind = "type-mismatch"
	KindArgumentCount   Kind = "argument-count"
	KindRecursionDepth  Kind = "recursion-depth"
	KindStackDiscipline Kind = "stack-discipline"
	KindWriteFailed     Kind = "write-failed"
	KindUnknownFormat   Kind = "unknown-format"
	KindPropertyFailed  Kind = "property-failed"
	KindCodeLimit       Kind = "code-limit"
)

// ---------------------------------------------------------------------------
// Position and Diagnostic
// ---------------------------------------------------------------------------

// Position is a location in template source.
type Position struct {
	Offset int // byte offset
	Line   int // 1-based line number
	Column int // 1-based column number
}

// IsValid reports whether the position refers to real source.
func (p Position) IsValid() bool {
	return p.Line > 0
}

func (p Position) String() string {
	if !p.IsValid() {
		return "-"
	}
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// Diagnostic is one (severity, category, position-or-context, detail) report.
type Diagnostic struct {
	Severity Severity
	Category Category
	Kind     Kind
	Pos      Position
	Template string // template name or context, may be empty
	Msg      string
	RenderID string // set for runtime diagnostics
	Err      error  // underlying cause, if any
}

// Error implements the error interface so diagnostics can be folded into
// ordinary Go error values.
func (d Diagnostic) Error() string {
	where := d.Template
	if d.Pos.IsValid() {
		if where != "" {
			where += " "
		}
		where += d.Pos.String()
	}
	msg := d.Msg
	if d.Err != nil {
		msg += ": " + d.Err.Error()
	}
	if where == "" {
		return fmt.Sprintf("%s: %s", d.Category, msg)
	}
	return fmt.Sprintf("%s %s: %s", d.Category, where, msg)
}

func (d Diagnostic) Unwrap() error {
	return d.Err
}

// New builds a diagnostic with the category's default severity.
func New(cat Category, kind Kind, pos Position, template, format string, args ...interface{}) Diagnostic {
	return Diagnostic{
		Severity: cat.Severity(),
		Category: cat,
		Kind:     kind,
		Pos:      pos,
		Template: template,
		Msg:      fmt.Sprintf(format, args...),
	}
}

// FatalError is returned from a render that was aborted.
type FatalError struct {
	Diagnostic Diagnostic
}

func (e *FatalError) Error() string {
	return e.Diagnostic.Error()
}

func (e *FatalError) Unwrap() error {
	return e.Diagnostic
}
