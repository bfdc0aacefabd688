package vm

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestAsSeq(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want []any
		ok   bool
	}{
		{"nil", nil, nil, false},
		{"string", "abc", nil, false},
		{"bool", true, nil, false},
		{"bytes", []byte("abc"), nil, false},
		{"any slice", []any{1, "a"}, []any{1, "a"}, true},
		{"string slice", []string{"a", "b"}, []any{"a", "b"}, true},
		{"int slice", []int{1, 2}, []any{1, 2}, true},
		{"array", [2]string{"x", "y"}, []any{"x", "y"}, true},
		{"map keys sorted", map[string]int{"b": 1, "a": 2}, []any{"a", "b"}, true},
		{"seq", Seq(1, 2), []any{1, 2}, true},
	}

	for _, tt := range tests {
		seq, ok := AsSeq(tt.in)
		if ok != tt.ok {
			t.Errorf("%s: ok = %v, want %v", tt.name, ok, tt.ok)
			continue
		}
		if !ok {
			continue
		}
		if diff := cmp.Diff(tt.want, Materialize(seq)); diff != "" {
			t.Errorf("%s: mismatch (-want +got):\n%s", tt.name, diff)
		}
	}
}

func TestTruthy(t *testing.T) {
	tests := []struct {
		in   any
		want bool
	}{
		{nil, false},
		{false, false},
		{true, true},
		{"", true},
		{"x", true},
		{0, true},
		{[]any{}, false},
		{[]any{nil}, true},
		{Seq(), false},
	}
	for _, tt := range tests {
		if got := Truthy(tt.in); got != tt.want {
			t.Errorf("Truthy(%#v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestIsEmpty(t *testing.T) {
	if !IsEmpty(nil) || !IsEmpty([]string{}) {
		t.Error("nil and empty slices are empty")
	}
	if IsEmpty("") || IsEmpty([]any{nil}) {
		t.Error("empty string and a list holding null are not empty")
	}
}

func TestScalarString(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{"s", "s"},
		{42, "42"},
		{int64(-7), "-7"},
		{1.5, "1.5"},
		{true, "true"},
		{[]byte("raw"), "raw"},
	}
	for _, tt := range tests {
		if got := ScalarString(tt.in); got != tt.want {
			t.Errorf("ScalarString(%#v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// ---------------------------------------------------------------------------
// Property access
// ---------------------------------------------------------------------------

type person struct {
	Name string
	age  int
}

func (p person) Title() string { return "Dr" }
func (p *person) IsAdult() bool { return p.age >= 18 }

type attrs map[string]any

func (a attrs) Attribute(name string) (any, bool) {
	v, ok := a[name]
	return v, ok
}

func TestProperty(t *testing.T) {
	p := &person{Name: "Ann", age: 30}
	tests := []struct {
		name string
		obj  any
		prop string
		want any
		ok   bool
	}{
		{"field", person{Name: "Ann"}, "name", "Ann", true},
		{"pointer field", p, "name", "Ann", true},
		{"getter", person{}, "title", "Dr", true},
		{"is getter", p, "adult", true, true},
		{"unexported", person{}, "age", nil, false},
		{"missing", person{}, "height", nil, false},
		{"map", map[string]any{"k": 1}, "k", 1, true},
		{"map missing key", map[string]any{}, "k", nil, true},
		{"typed map", map[string]int{"k": 2}, "k", 2, true},
		{"attributes", attrs{"x": "y"}, "x", "y", true},
		{"attributes missing", attrs{}, "x", nil, false},
		{"nil", nil, "x", nil, true},
	}

	for _, tt := range tests {
		got, ok := Property(tt.obj, tt.prop)
		if ok != tt.ok || got != tt.want {
			t.Errorf("%s: Property = (%#v, %v), want (%#v, %v)", tt.name, got, ok, tt.want, tt.ok)
		}
	}
}

type badge struct{ ID string }

func (b badge) Label() string { return "#" + b.ID }

type broken struct{}

func (broken) Name() string { panic("no name") }

func TestPropertyTypedNilPointer(t *testing.T) {
	var b *badge
	for _, prop := range []string{"label", "id"} {
		got, ok := Property(b, prop)
		if !ok || got != nil {
			t.Errorf("Property(nil *badge, %q) = (%#v, %v), want (nil, true)", prop, got, ok)
		}
	}
}

func TestPropertyPanickingGetter(t *testing.T) {
	v, ok, err := lookupProperty(broken{}, "name")
	if !ok || v != nil {
		t.Errorf("lookupProperty = (%#v, %v), want (nil, true)", v, ok)
	}
	if err == nil || !strings.Contains(err.Error(), "no name") {
		t.Errorf("err = %v, want the getter's panic", err)
	}

	got, ok := Property(broken{}, "name")
	if !ok || got != nil {
		t.Errorf("Property = (%#v, %v), want (nil, true)", got, ok)
	}
}

// ---------------------------------------------------------------------------
// Closures
// ---------------------------------------------------------------------------

func TestClosureSet(t *testing.T) {
	declared := newAsm("d").args("x").build()
	c := NewClosure(declared, nil)
	if c.isSet("x") {
		t.Error("x should start unset")
	}
	if !c.Set("x", 1) || !c.isSet("x") {
		t.Error("Set(x) should bind the formal argument")
	}
	if c.Set("y", 2) {
		t.Error("Set(y) should fail on a template with declared args")
	}

	open := NewCompiledTemplate("open")
	c = NewClosure(open, nil)
	if !c.Set("y", 2) || c.Named["y"] != 2 {
		t.Error("templates without declared args accept any attribute")
	}
}

func TestClosureCloneDoesNotAlias(t *testing.T) {
	c := NewClosure(newAsm("d").args("x").build(), nil)
	c.Set("x", "a")
	d := c.clone()
	d.Set("x", "b")
	if c.Args[0] != "a" {
		t.Errorf("original changed to %v", c.Args[0])
	}
}
