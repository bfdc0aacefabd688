package vm

// Resolver maps template and region names to compiled templates at run time.
// Lookups happen on every call so a collection can replace a definition
// without recompiling its callers. Implementations shared across concurrent
// renders must allow concurrent reads.
type Resolver interface {
	Resolve(name string) (*CompiledTemplate, bool)
	ResolveRegion(owner, region string) (*CompiledTemplate, bool)
}

// SuperResolver is implemented by resolvers that keep an inheritance chain.
// ResolveSuper returns the definition of name that caller's collection
// overrides.
type SuperResolver interface {
	ResolveSuper(caller *CompiledTemplate, name string) (*CompiledTemplate, bool)
}

// MapResolver is a fixed name -> template table. Region lookups use mangled
// names.
type MapResolver map[string]*CompiledTemplate

// Resolve implements Resolver.
func (m MapResolver) Resolve(name string) (*CompiledTemplate, bool) {
	t, ok := m[name]
	return t, ok
}

// ResolveRegion implements Resolver.
func (m MapResolver) ResolveRegion(owner, region string) (*CompiledTemplate, bool) {
	t, ok := m[MangledRegionName(owner, region)]
	return t, ok
}

// Add registers t and the regions it defines.
func (m MapResolver) Add(t *CompiledTemplate) {
	m[t.Name] = t
	for _, r := range t.Regions() {
		if _, exists := m[r.Name]; !exists {
			m[r.Name] = r
		}
	}
}
