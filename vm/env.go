package vm

import "sort"

// Env is the set of bindings visible to one template invocation. Frames are
// linked lexically: Enclosing is the environment where the template was
// defined or captured, never the caller's. A frame is filled in once when the
// invocation starts and is read-only afterwards, so sibling invocations that
// share a parent never alias each other.
type Env struct {
	Template  *CompiledTemplate
	Enclosing *Env

	names  []string
	values []any
}

// NewEnv returns a root environment holding attrs, typically the
// collection-wide globals a render starts from.
func NewEnv(enclosing *Env, attrs map[string]any) *Env {
	e := &Env{Enclosing: enclosing}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		e.define(k, attrs[k])
	}
	return e
}

func (e *Env) define(name string, v any) {
	for i, n := range e.names {
		if n == name {
			e.values[i] = v
			return
		}
	}
	e.names = append(e.names, name)
	e.values = append(e.values, v)
}

// Lookup resolves name by walking from e through its enclosing chain.
func (e *Env) Lookup(name string) (any, bool) {
	for env := e; env != nil; env = env.Enclosing {
		for i, n := range env.names {
			if n == name {
				return env.values[i], true
			}
		}
	}
	return nil, false
}

// Local returns the i-th binding of this frame only.
func (e *Env) Local(i int) (any, bool) {
	if e == nil || i < 0 || i >= len(e.values) {
		return nil, false
	}
	return e.values[i], true
}

// Names returns the names bound in this frame, in binding order.
func (e *Env) Names() []string {
	return append([]string(nil), e.names...)
}

// Depth returns the length of the lexical chain starting at e.
func (e *Env) Depth() int {
	n := 0
	for env := e; env != nil; env = env.Enclosing {
		n++
	}
	return n
}
