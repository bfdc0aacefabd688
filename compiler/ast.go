package compiler

// ---------------------------------------------------------------------------
// AST: Tree for template source
// ---------------------------------------------------------------------------

// Span represents a range in source code.
type Span struct {
	Start Position
	End   Position
}

// Node is the interface implemented by all tree nodes.
type Node interface {
	Span() Span
	node() // marker method
}

// Element is a top-level piece of a template body.
type Element interface {
	Node
	element() // marker method
}

// Expr is the interface for expression nodes.
type Expr interface {
	Node
	expr() // marker method
}

// Template is a sequence of elements: a whole template, a subtemplate body,
// a conditional branch or a region body.
type Template struct {
	SpanVal  Span
	Elements []Element
}

func (n *Template) Span() Span { return n.SpanVal }
func (n *Template) node()      {}

// ---------------------------------------------------------------------------
// Elements
// ---------------------------------------------------------------------------

// Text is literal template text.
type Text struct {
	SpanVal Span
	Value   string
}

func (n *Text) Span() Span { return n.SpanVal }
func (n *Text) node()      {}
func (n *Text) element()   {}

// Newline is a line break in template text.
type Newline struct {
	SpanVal Span
}

func (n *Newline) Span() Span { return n.SpanVal }
func (n *Newline) node()      {}
func (n *Newline) element()   {}

// Indented wraps an element preceded by whitespace at the start of a line.
type Indented struct {
	SpanVal Span
	Indent  string
	Element Element
}

func (n *Indented) Span() Span { return n.SpanVal }
func (n *Indented) node()      {}
func (n *Indented) element()   {}

// ExprElement is <expr; options>.
type ExprElement struct {
	SpanVal Span
	Expr    Expr
	Options []*Option
}

func (n *ExprElement) Span() Span { return n.SpanVal }
func (n *ExprElement) node()      {}
func (n *ExprElement) element()   {}

// Option is one name[=value] entry of an options clause. Value is nil when
// the option is named without a value.
type Option struct {
	SpanVal Span
	Name    string
	Value   Expr
}

func (n *Option) Span() Span { return n.SpanVal }

// IfElement is a conditional with its elseif chain and optional else.
type IfElement struct {
	SpanVal  Span
	Branches []*IfBranch
	Else     *Template // nil when absent
}

func (n *IfElement) Span() Span { return n.SpanVal }
func (n *IfElement) node()      {}
func (n *IfElement) element()   {}

// IfBranch is one if or elseif arm.
type IfBranch struct {
	SpanVal Span
	Cond    Expr
	Body    *Template
}

// RegionElement is an embedded region definition <@r>...<@end>. It also
// writes the region's output where it appears.
type RegionElement struct {
	SpanVal Span
	Name    string
	Body    *Template
}

func (n *RegionElement) Span() Span { return n.SpanVal }
func (n *RegionElement) node()      {}
func (n *RegionElement) element()   {}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// AttrRef is a reference to an attribute or argument by name.
type AttrRef struct {
	SpanVal Span
	Name    string
}

func (n *AttrRef) Span() Span { return n.SpanVal }
func (n *AttrRef) node()      {}
func (n *AttrRef) expr()      {}

// PropRef is target.name or target.(nameExpr).
type PropRef struct {
	SpanVal  Span
	Target   Expr
	Name     string
	NameExpr Expr // set for indirect property access
}

func (n *PropRef) Span() Span { return n.SpanVal }
func (n *PropRef) node()      {}
func (n *PropRef) expr()      {}

// FuncCall is a builtin function application such as first(xs).
type FuncCall struct {
	SpanVal Span
	Name    string
	Args    []Expr
}

func (n *FuncCall) Span() Span { return n.SpanVal }
func (n *FuncCall) node()      {}
func (n *FuncCall) expr()      {}

// Include is a named template call, t(args) or super.t(args).
type Include struct {
	SpanVal Span
	Name    string
	Args    *Args
	Super   bool
}

func (n *Include) Span() Span { return n.SpanVal }
func (n *Include) node()      {}
func (n *Include) expr()      {}

// RegionCall is @r() or @super.r().
type RegionCall struct {
	SpanVal Span
	Name    string
	Super   bool
}

func (n *RegionCall) Span() Span { return n.SpanVal }
func (n *RegionCall) node()      {}
func (n *RegionCall) expr()      {}

// IndirectInclude is (nameExpr)(args): the template name is computed.
type IndirectInclude struct {
	SpanVal  Span
	NameExpr Expr
	Args     *Args
}

func (n *IndirectInclude) Span() Span { return n.SpanVal }
func (n *IndirectInclude) node()      {}
func (n *IndirectInclude) expr()      {}

// MapExpr applies Targets in rotation to the elements of List.
type MapExpr struct {
	SpanVal Span
	List    Expr
	Targets []Expr
}

func (n *MapExpr) Span() Span { return n.SpanVal }
func (n *MapExpr) node()      {}
func (n *MapExpr) expr()      {}

// ZipExpr walks Lists in parallel, applying Target to each tuple.
type ZipExpr struct {
	SpanVal Span
	Lists   []Expr
	Target  Expr
}

func (n *ZipExpr) Span() Span { return n.SpanVal }
func (n *ZipExpr) node()      {}
func (n *ZipExpr) expr()      {}

// Subtemplate is an anonymous template {a, b | body}.
type Subtemplate struct {
	SpanVal    Span
	FormalArgs []string // nil when there is no argument header
	HasArgs    bool
	Body       *Template
}

func (n *Subtemplate) Span() Span { return n.SpanVal }
func (n *Subtemplate) node()      {}
func (n *Subtemplate) expr()      {}

// StringLit is a quoted string.
type StringLit struct {
	SpanVal Span
	Value   string
}

func (n *StringLit) Span() Span { return n.SpanVal }
func (n *StringLit) node()      {}
func (n *StringLit) expr()      {}

// IntLit is an integer literal, kept as written.
type IntLit struct {
	SpanVal Span
	Value   string
}

func (n *IntLit) Span() Span { return n.SpanVal }
func (n *IntLit) node()      {}
func (n *IntLit) expr()      {}

// BoolLit is true or false.
type BoolLit struct {
	SpanVal Span
	Value   bool
}

func (n *BoolLit) Span() Span { return n.SpanVal }
func (n *BoolLit) node()      {}
func (n *BoolLit) expr()      {}

// ListLit is [a, b, ...]. A nil element is an empty slot.
type ListLit struct {
	SpanVal  Span
	Elements []Expr
}

func (n *ListLit) Span() Span { return n.SpanVal }
func (n *ListLit) node()      {}
func (n *ListLit) expr()      {}

// ToStr is (expr): the value rendered to a string.
type ToStr struct {
	SpanVal Span
	Expr    Expr
}

func (n *ToStr) Span() Span { return n.SpanVal }
func (n *ToStr) node()      {}
func (n *ToStr) expr()      {}

// Not is !expr in a condition.
type Not struct {
	SpanVal Span
	Expr    Expr
}

func (n *Not) Span() Span { return n.SpanVal }
func (n *Not) node()      {}
func (n *Not) expr()      {}

// And is left && right in a condition.
type And struct {
	SpanVal Span
	Left    Expr
	Right   Expr
}

func (n *And) Span() Span { return n.SpanVal }
func (n *And) node()      {}
func (n *And) expr()      {}

// Or is left || right in a condition.
type Or struct {
	SpanVal Span
	Left    Expr
	Right   Expr
}

func (n *Or) Span() Span { return n.SpanVal }
func (n *Or) node()      {}
func (n *Or) expr()      {}

// ---------------------------------------------------------------------------
// Arguments
// ---------------------------------------------------------------------------

// Args holds the arguments of a template call. Positional and named forms
// are exclusive; Mixed records that the source combined them.
type Args struct {
	Positional []Expr
	Named      []*NamedArg
	PassThru   bool
	Mixed      bool
}

// NamedArg is name=value.
type NamedArg struct {
	SpanVal Span
	Name    string
	Value   Expr
}

func (n *NamedArg) Span() Span { return n.SpanVal }

// IsNamed reports whether the call uses the name=value form.
func (a *Args) IsNamed() bool {
	return a != nil && (len(a.Named) > 0 || a.PassThru)
}

// Len returns the number of positional arguments.
func (a *Args) Len() int {
	if a == nil {
		return 0
	}
	return len(a.Positional)
}
