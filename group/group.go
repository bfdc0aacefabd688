// Package group keeps a named, in-memory collection of compiled templates
// and resolves the calls between them.
package group

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/tliron/commonlog"

	"github.com/chazu/stg/compiler"
	"github.com/chazu/stg/config"
	"github.com/chazu/stg/diag"
	"github.com/chazu/stg/vm"
)

var log = commonlog.GetLogger("stg.group")

// Group is a collection of templates and explicit region overrides. A group
// may import other groups; names it does not define are looked up in its
// imports in order, and super calls go to the imports of the group that
// compiled the caller.
//
// Definitions take a write lock and lookups a read lock, so rendering can
// proceed concurrently with itself.
type Group struct {
	Name   string
	Config *config.Config

	mu        sync.RWMutex
	templates vm.MapResolver
	imports   []*Group
	listener  diag.Listener
	compiler  *compiler.Compiler
	interp    *vm.Interpreter
}

// New creates an empty group. A nil cfg means config.Default(), and an empty
// name means cfg.Group.Name. Diagnostics go to the stg.group log until
// SetListener replaces it.
func New(name string, cfg *config.Config) *Group {
	if cfg == nil {
		cfg = config.Default()
	}
	if name == "" {
		name = cfg.Group.Name
	}
	listener := diag.NewLogListener("stg.group")
	g := &Group{
		Name:      name,
		Config:    cfg,
		templates: vm.MapResolver{},
		listener:  listener,
	}
	g.compiler = &compiler.Compiler{
		Start:      cfg.StartRune(),
		Stop:       cfg.StopRune(),
		SingleLine: cfg.Lexer.SingleLine,
		Origin:     name,
	}
	g.interp = &vm.Interpreter{
		Resolver:  g,
		Listener:  listener,
		MaxDepth:  cfg.Render.MaxDepth,
		LineWidth: cfg.Render.LineWidth,
		Newline:   cfg.Render.Newline,
	}
	return g
}

// Open finds the stg.toml above dir, configures logging from it and returns
// an empty group named after it. Without a stg.toml the defaults apply.
func Open(dir string) (*Group, error) {
	cfg, err := config.FindAndLoad(dir)
	if err != nil {
		return nil, errors.Wrap(err, "open group")
	}
	if cfg == nil {
		cfg = config.Default()
	}
	cfg.ConfigureLogging()
	g := New("", cfg)
	log.Infof("opened group %s (config %s)", g.Name, cfg.Dir)
	return g, nil
}

// SetListener sends compile and render diagnostics to l instead of the log;
// a nil l discards them. Renders already running keep the listener they
// started with.
func (g *Group) SetListener(l diag.Listener) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.listener = l
	interp := *g.interp
	interp.Listener = l
	g.interp = &interp
}

// Interpreter returns the interpreter that renders this group's templates.
func (g *Group) Interpreter() *vm.Interpreter {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.interp
}

// Compiler returns the compiler configured for this group.
func (g *Group) Compiler() *compiler.Compiler {
	return g.compiler
}

// DefineTemplate compiles source and registers it as name, replacing any
// previous definition. argDecl is a formal argument list such as
// `a, b="x"`; an empty argDecl leaves the arguments undeclared.
//
// Nothing is registered when compilation reports errors. The returned error
// joins every error diagnostic.
func (g *Group) DefineTemplate(name, argDecl, source string) (*vm.CompiledTemplate, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	coll := diag.NewCollector()
	g.compiler.Listener = diag.Tee(coll, g.listener)

	var args []*vm.FormalArgument
	if argDecl != "" {
		var err error
		if args, err = g.compiler.ParseFormalArgs(argDecl); err != nil {
			return nil, errors.Wrapf(err, "template %s", name)
		}
	}

	t, _ := g.compiler.Compile(name, args, source)
	if err := coll.Err(); err != nil {
		return nil, errors.Wrapf(err, "template %s", name)
	}
	if err := vm.Verify(t); err != nil {
		return nil, errors.Wrapf(err, "template %s", name)
	}

	g.dropImplicitRegions(name)
	g.templates.Add(t)
	log.Debugf("%s: defined %s (%d bytes of code)", g.Name, name, t.CodeSize())
	return t, nil
}

// dropImplicitRegions forgets the regions a previous definition of owner
// embedded so a redefinition registers its own. Explicit overrides stay.
func (g *Group) dropImplicitRegions(owner string) {
	old, ok := g.templates[owner]
	if !ok {
		return
	}
	for _, r := range old.Regions() {
		if cur, ok := g.templates[r.Name]; ok && cur == r {
			delete(g.templates, r.Name)
		}
	}
}

// DefineRegion overrides region r of template owner with source. owner must
// already define r, either in this group or in an import.
func (g *Group) DefineRegion(owner, region, source string) (*vm.CompiledTemplate, error) {
	ot, ok := g.Resolve(owner)
	if !ok {
		return nil, errors.Errorf("region @%s.%s: no such template %s", owner, region, owner)
	}
	mangled := vm.MangledRegionName(owner, region)
	if _, ok := ot.NestedTemplate(mangled); !ok {
		return nil, errors.Errorf("region @%s.%s: template %s has no region %s", owner, region, owner, region)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	coll := diag.NewCollector()
	g.compiler.Listener = diag.Tee(coll, g.listener)
	t, _ := g.compiler.Compile(mangled, nil, source)
	if err := coll.Err(); err != nil {
		return nil, errors.Wrapf(err, "region @%s.%s", owner, region)
	}
	if err := vm.Verify(t); err != nil {
		return nil, errors.Wrapf(err, "region @%s.%s", owner, region)
	}
	t.IsRegion = true
	t.RegionDefType = vm.RegionExplicit

	g.templates[mangled] = t
	log.Debugf("%s: overrode @%s.%s", g.Name, owner, region)
	return t, nil
}

// Import makes parent's templates visible to g. Earlier imports take
// precedence over later ones.
func (g *Group) Import(parent *Group) error {
	if parent == nil {
		return errors.New("import: nil group")
	}
	if parent == g || parent.reaches(g) {
		return errors.Errorf("import: %s already imports %s", parent.Name, g.Name)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	for _, imp := range g.imports {
		if imp == parent {
			return nil
		}
	}
	g.imports = append(g.imports, parent)
	log.Infof("%s: imported %s", g.Name, parent.Name)
	return nil
}

// reaches reports whether other is reachable through g's imports.
func (g *Group) reaches(other *Group) bool {
	g.mu.RLock()
	imports := append([]*Group(nil), g.imports...)
	g.mu.RUnlock()
	for _, imp := range imports {
		if imp == other || imp.reaches(other) {
			return true
		}
	}
	return false
}

// Resolve implements vm.Resolver.
func (g *Group) Resolve(name string) (*vm.CompiledTemplate, bool) {
	g.mu.RLock()
	t, ok := g.templates[name]
	imports := g.imports
	g.mu.RUnlock()
	if ok {
		return t, true
	}
	return resolveIn(imports, name)
}

func resolveIn(groups []*Group, name string) (*vm.CompiledTemplate, bool) {
	for _, imp := range groups {
		if t, ok := imp.Resolve(name); ok {
			return t, true
		}
	}
	return nil, false
}

// ResolveRegion implements vm.Resolver. It returns explicit overrides and
// regions embedded in their owner alike.
func (g *Group) ResolveRegion(owner, region string) (*vm.CompiledTemplate, bool) {
	return g.Resolve(vm.MangledRegionName(owner, region))
}

// ResolveSuper implements vm.SuperResolver.
func (g *Group) ResolveSuper(caller *vm.CompiledTemplate, name string) (*vm.CompiledTemplate, bool) {
	origin := g
	if caller != nil {
		if og, ok := g.find(caller.Origin); ok {
			origin = og
		}
	}
	origin.mu.RLock()
	imports := origin.imports
	origin.mu.RUnlock()
	return resolveIn(imports, name)
}

// find locates the group called name among g and its imports.
func (g *Group) find(name string) (*Group, bool) {
	if g.Name == name {
		return g, true
	}
	g.mu.RLock()
	imports := g.imports
	g.mu.RUnlock()
	for _, imp := range imports {
		if og, ok := imp.find(name); ok {
			return og, true
		}
	}
	return nil, false
}

// Lookup is Resolve with an error for unknown names.
func (g *Group) Lookup(name string) (*vm.CompiledTemplate, error) {
	if t, ok := g.Resolve(name); ok {
		return t, nil
	}
	return nil, errors.Errorf("group %s: no such template %s", g.Name, name)
}

// Render renders the template called name with attrs.
func (g *Group) Render(name string, attrs map[string]any) (string, error) {
	t, err := g.Lookup(name)
	if err != nil {
		return "", err
	}
	out, err := g.Interpreter().Render(t, attrs)
	if err != nil {
		return out, errors.Wrapf(err, "render %s", name)
	}
	return out, nil
}

// TemplateNames lists the templates defined directly in g, regions
// excluded, in sorted order.
func (g *Group) TemplateNames() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var names []string
	for name, t := range g.templates {
		if !t.IsRegion {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
