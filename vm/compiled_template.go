package vm

import (
	"sort"
)

// ---------------------------------------------------------------------------
// CompiledTemplate: the immutable output of the code generator
// ---------------------------------------------------------------------------

// RegionType records how a region template came to exist.
type RegionType int

const (
	// RegionNone marks an ordinary template.
	RegionNone RegionType = iota
	// RegionImplicit is the blank placeholder created for <@r()> with no body.
	RegionImplicit
	// RegionEmbedded is a region whose body is written inline with <@r>...<@end>.
	RegionEmbedded
	// RegionExplicit is a region body supplied from outside, usually an override.
	RegionExplicit
)

func (r RegionType) String() string {
	switch r {
	case RegionNone:
		return "NONE"
	case RegionImplicit:
		return "IMPLICIT"
	case RegionEmbedded:
		return "EMBEDDED"
	case RegionExplicit:
		return "EXPLICIT"
	}
	return "UNKNOWN"
}

// FormalArgument is a declared input of a template.
type FormalArgument struct {
	Name  string
	Index int

	// Default value. DefaultTemplate wins over DefaultValue when set; it is
	// instantiated in the callee's own environment.
	HasDefault      bool
	DefaultValue    any
	DefaultTemplate *CompiledTemplate
	DefaultSource   string
}

// SourceLoc maps a bytecode offset to a source position.
type SourceLoc struct {
	Offset int // bytecode offset
	Line   int // 1-based line number
	Column int // 1-based column number
}

// CompiledTemplate is one compiled template, subtemplate or region.
// It must not be modified once the code generator hands it out.
type CompiledTemplate struct {
	Name string

	// Formal arguments in declaration order.
	FormalArgs    []*FormalArgument
	HasFormalArgs bool

	// Compiled code.
	Code    []byte
	Strings []string // ordered unique constant pool

	// Subtemplates and regions defined by this template, by name.
	Nested map[string]*CompiledTemplate

	IsRegion      bool
	RegionDefType RegionType
	IsSubtemplate bool

	// Origin names the collection that compiled this template; super calls
	// use it to find the overridden definition.
	Origin string

	// Debugging support.
	Template  string      // source text
	SourceMap []SourceLoc // bytecode offset -> source position
}

// NewCompiledTemplate returns an empty template with the given name.
func NewCompiledTemplate(name string) *CompiledTemplate {
	return &CompiledTemplate{Name: name}
}

// Arg returns the formal argument called name.
func (t *CompiledTemplate) Arg(name string) (*FormalArgument, bool) {
	for _, fa := range t.FormalArgs {
		if fa.Name == name {
			return fa, true
		}
	}
	return nil, false
}

// NestedTemplate returns a subtemplate or region defined by t.
func (t *CompiledTemplate) NestedTemplate(name string) (*CompiledTemplate, bool) {
	if t == nil || t.Nested == nil {
		return nil, false
	}
	nt, ok := t.Nested[name]
	return nt, ok
}

// NestedNames returns the nested template names in sorted order.
func (t *CompiledTemplate) NestedNames() []string {
	names := make([]string, 0, len(t.Nested))
	for name := range t.Nested {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Regions returns t's region templates (at any nesting depth of t's own map),
// sorted by name.
func (t *CompiledTemplate) Regions() []*CompiledTemplate {
	var out []*CompiledTemplate
	for _, name := range t.NestedNames() {
		if nt := t.Nested[name]; nt.IsRegion {
			out = append(out, nt)
		}
	}
	return out
}

// CodeSize returns the number of bytes of code.
func (t *CompiledTemplate) CodeSize() int {
	return len(t.Code)
}

// SourceLocation returns the source location for a bytecode offset: the most
// recent mapping at or before the offset.
func (t *CompiledTemplate) SourceLocation(offset int) (SourceLoc, bool) {
	var result SourceLoc
	found := false
	for _, loc := range t.SourceMap {
		if loc.Offset > offset {
			break
		}
		result = loc
		found = true
	}
	return result, found
}

// ---------------------------------------------------------------------------
// Region naming
// ---------------------------------------------------------------------------

const regionPrefix = "region__"

// MangledRegionName returns the global name of region in owner. It is a pure
// function of its inputs.
func MangledRegionName(owner, region string) string {
	return regionPrefix + owner + "__" + region
}

// UnmangledRegionName returns the region part of a mangled name.
func UnmangledRegionName(mangled string) string {
	if len(mangled) <= len(regionPrefix) || mangled[:len(regionPrefix)] != regionPrefix {
		return mangled
	}
	rest := mangled[len(regionPrefix):]
	for i := len(rest) - 2; i >= 0; i-- {
		if rest[i] == '_' && rest[i+1] == '_' {
			return rest[i+2:]
		}
	}
	return mangled
}
