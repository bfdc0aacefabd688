package vm

import (
	"fmt"
	"iter"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

// ---------------------------------------------------------------------------
// Values
// ---------------------------------------------------------------------------
//
// Runtime values are plain Go values:
//   - nil is Null
//   - strings, bools, numbers and anything else are scalars
//   - iter.Seq[any], slices, arrays and maps are sequences
//   - *Closure is a template reference with partially bound arguments

// Closure pairs a compiled template with bound arguments and the environment
// it was created in.
type Closure struct {
	Template  *CompiledTemplate
	Args      []any          // by formal argument index; unsetArg marks holes
	Named     map[string]any // attributes for templates without declared args
	Enclosing *Env           // lexical parent of the invocation environment
	Index     int            // iteration index (i0), or -1
}

type unset struct{}

// unsetArg marks a formal argument that was never bound.
var unsetArg = unset{}

// NewClosure returns a reference to t whose environment will enclose
// enclosing.
func NewClosure(t *CompiledTemplate, enclosing *Env) *Closure {
	c := &Closure{Template: t, Enclosing: enclosing, Index: -1}
	if len(t.FormalArgs) > 0 {
		c.Args = make([]any, len(t.FormalArgs))
		for i := range c.Args {
			c.Args[i] = unsetArg
		}
	}
	return c
}

// clone copies c so binding arguments does not alias the original.
func (c *Closure) clone() *Closure {
	n := *c
	if c.Args != nil {
		n.Args = append([]any(nil), c.Args...)
	}
	if c.Named != nil {
		n.Named = make(map[string]any, len(c.Named))
		for k, v := range c.Named {
			n.Named[k] = v
		}
	}
	return &n
}

// Set binds an argument by name. It reports false when the template declares
// formal arguments and name is not one of them.
func (c *Closure) Set(name string, v any) bool {
	if fa, ok := c.Template.Arg(name); ok {
		c.Args[fa.Index] = v
		return true
	}
	if c.Template.HasFormalArgs && len(c.Template.FormalArgs) > 0 {
		return false
	}
	if c.Named == nil {
		c.Named = make(map[string]any)
	}
	c.Named[name] = v
	return true
}

// isSet reports whether name was bound.
func (c *Closure) isSet(name string) bool {
	if fa, ok := c.Template.Arg(name); ok {
		return c.Args[fa.Index] != unsetArg
	}
	_, ok := c.Named[name]
	return ok
}

// setFirst binds the iteration value: the first formal argument, or "it".
func (c *Closure) setFirst(v any) {
	if len(c.Template.FormalArgs) > 0 {
		c.Args[0] = v
		return
	}
	if c.Named == nil {
		c.Named = make(map[string]any)
	}
	c.Named["it"] = v
}

func (c *Closure) String() string {
	return fmt.Sprintf("<template %s>", c.Template.Name)
}

// ---------------------------------------------------------------------------
// Sequences
// ---------------------------------------------------------------------------

// Seq returns a sequence over vals.
func Seq(vals ...any) iter.Seq[any] {
	return func(yield func(any) bool) {
		for _, v := range vals {
			if !yield(v) {
				return
			}
		}
	}
}

// AsSeq reports whether v is a sequence and returns it as one. Strings and
// closures are scalars. Maps iterate over their keys in sorted order.
func AsSeq(v any) (iter.Seq[any], bool) {
	switch x := v.(type) {
	case nil, string, *Closure, bool:
		return nil, false
	case iter.Seq[any]:
		return x, true
	case []any:
		return Seq(x...), true
	case []string:
		return func(yield func(any) bool) {
			for _, s := range x {
				if !yield(s) {
					return
				}
			}
		}, true
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
			return nil, false // []byte renders as text
		}
		return func(yield func(any) bool) {
			for i := 0; i < rv.Len(); i++ {
				if !yield(rv.Index(i).Interface()) {
					return
				}
			}
		}, true
	case reflect.Map:
		keys := rv.MapKeys()
		sort.Slice(keys, func(i, j int) bool {
			return fmt.Sprint(keys[i].Interface()) < fmt.Sprint(keys[j].Interface())
		})
		return func(yield func(any) bool) {
			for _, k := range keys {
				if !yield(k.Interface()) {
					return
				}
			}
		}, true
	case reflect.Func:
		if seq, ok := v.(func(func(any) bool)); ok {
			return seq, true
		}
	}
	return nil, false
}

// Materialize collects a sequence into a slice.
func Materialize(seq iter.Seq[any]) []any {
	var out []any
	for v := range seq {
		out = append(out, v)
	}
	return out
}

// IsEmpty reports whether v is null or a sequence without elements.
func IsEmpty(v any) bool {
	if v == nil {
		return true
	}
	seq, ok := AsSeq(v)
	if !ok {
		return false
	}
	for range seq {
		return false
	}
	return true
}

// Truthy is the conditional test: null and false are false, a sequence is
// true when it has elements, everything else (including "") is true.
func Truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	}
	if seq, ok := AsSeq(v); ok {
		for range seq {
			return true
		}
		return false
	}
	return true
}

// ScalarString renders a non-template, non-sequence value.
func ScalarString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case []byte:
		return string(x)
	case fmt.Stringer:
		return x.String()
	case error:
		return x.Error()
	}
	return fmt.Sprint(v)
}

// ---------------------------------------------------------------------------
// Property access
// ---------------------------------------------------------------------------

// Attributes lets host objects expose properties to templates without
// reflection.
type Attributes interface {
	Attribute(name string) (any, bool)
}

// Property returns o.name. The boolean is false when o has no such property;
// a missing map key is not an error and yields (nil, true). A getter that
// panics yields (nil, true).
func Property(o any, name string) (any, bool) {
	v, ok, _ := lookupProperty(o, name)
	return v, ok
}

// lookupProperty is Property with the panic of a failing getter returned as
// an error.
func lookupProperty(o any, name string) (any, bool, error) {
	switch x := o.(type) {
	case nil:
		return nil, true, nil
	case Attributes:
		v, ok := x.Attribute(name)
		return v, ok, nil
	case map[string]any:
		return x[name], true, nil
	case map[string]string:
		v, ok := x[name]
		if !ok {
			return nil, true, nil
		}
		return v, true, nil
	}

	rv := reflect.ValueOf(o)
	if rv.Kind() == reflect.Pointer && rv.IsNil() {
		return nil, true, nil
	}
	if rv.Kind() == reflect.Map && rv.Type().Key().Kind() == reflect.String {
		mv := rv.MapIndex(reflect.ValueOf(name).Convert(rv.Type().Key()))
		if !mv.IsValid() {
			return nil, true, nil
		}
		return mv.Interface(), true, nil
	}

	if mv, ok := getter(rv, name); ok {
		v, err := callGetter(mv)
		return v, true, err
	}
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, true, nil
		}
		rv = rv.Elem()
	}
	if rv.Kind() == reflect.Struct {
		if f := rv.FieldByName(capitalize(name)); f.IsValid() && f.CanInterface() {
			return f.Interface(), true, nil
		}
		if f := rv.FieldByName(name); f.IsValid() && f.CanInterface() {
			return f.Interface(), true, nil
		}
	}
	return nil, false, nil
}

// getter looks for a zero-argument getter: Name, GetName, IsName, HasName.
func getter(rv reflect.Value, name string) (reflect.Value, bool) {
	if !rv.IsValid() {
		return reflect.Value{}, false
	}
	c := capitalize(name)
	for _, m := range []string{c, "Get" + c, "Is" + c, "Has" + c} {
		mv := rv.MethodByName(m)
		if mv.IsValid() && mv.Type().NumIn() == 0 && mv.Type().NumOut() == 1 {
			return mv, true
		}
	}
	return reflect.Value{}, false
}

func callGetter(mv reflect.Value) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = nil, fmt.Errorf("getter panicked: %v", r)
		}
	}()
	return mv.Call(nil)[0].Interface(), nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

// describe gives a short type name for diagnostics.
func describe(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case *Closure:
		return "template"
	}
	if _, ok := AsSeq(v); ok {
		return "sequence"
	}
	return strings.TrimPrefix(fmt.Sprintf("%T", v), "*")
}
