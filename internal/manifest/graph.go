// Package manifest loads the vendor manifest and resolves it into a graph of
// vendors for one target platform.
package manifest

import (
	"fmt"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/qiniu/x/log"
	"golang.org/x/mod/module"
)

// Vendor is one resolved third-party dependency. Exactly one of CMake and
// Script is set.
type Vendor struct {
	Name string
	// Source is the absolute checkout directory.
	Source string
	// Out is the absolute output directory, <out>/<name>[/debug].
	Out    string
	Deps   []Dep
	CMake  *CMakeConfig
	Script *ScriptConfig
}

// Dep links a local alias to the vendor it names.
type Dep struct {
	Alias  string
	Vendor *Vendor
}

type CMakeConfig struct {
	Targets   []string
	Arguments []string
	Includes  []string
	Platforms []string
	Native    bool
}

// ScriptConfig runs "[Executor] File Arguments..." in the source directory.
type ScriptConfig struct {
	File      string
	Executor  string
	Arguments []string
}

// PlatformOut returns the directory holding the vendor's output for one
// platform: per-arch subdirectories, include/ and the hash records.
func (v *Vendor) PlatformOut(platform string) string {
	return filepath.Join(v.Out, platform)
}

// Graph is the manifest resolved for one platform. It is read-only once
// built.
type Graph struct {
	Platform string
	Debug    bool
	// OutRoot is the directory every vendor output lives under.
	OutRoot string
	// Names lists every vendor the manifest declares, for any platform.
	Names   []string
	Vendors map[string]*Vendor
	// Order lists the resolved vendors in declaration order.
	Order []string
	Path  string
}

// Options selects what the manifest is resolved for.
type Options struct {
	Platform string
	Debug    bool
}

// ResolveGraph links the manifest's vendors for one platform in a single
// pass. Vendors with nothing to build on the platform are left out and
// dependencies naming them are dropped. A dependency cycle among the
// remaining vendors is reported as a *CyclicDependencyError.
func ResolveGraph(m *Manifest, opts Options) (*Graph, error) {
	if opts.Platform == "" {
		return nil, configErrorf(m.Path, "", "no platform")
	}
	if m.Out == "" {
		return nil, configErrorf(m.Path, "", `missing "out" directory`)
	}
	sourceRoot := abs(m.Dir, m.Source)
	outRoot := abs(m.Dir, m.Out)

	g := &Graph{
		Platform: opts.Platform,
		Debug:    opts.Debug,
		OutRoot:  outRoot,
		Names:    m.Names(),
		Vendors:  make(map[string]*Vendor),
		Path:     m.Path,
	}
	depNames := make(map[*Vendor]map[string]string)
	for i := range m.Vendors {
		decl := &m.Vendors[i]
		if err := checkName(decl.Name); err != nil {
			return nil, &ConfigError{Path: m.Path, Vendor: decl.Name, Err: err}
		}
		v, restricted, err := newVendor(decl, m.Dir, sourceRoot, outRoot, opts)
		if err != nil {
			return nil, &ConfigError{Path: m.Path, Vendor: decl.Name, Err: err}
		}
		if v == nil {
			log.Debugf("vendor %s has nothing to build for %s", decl.Name, opts.Platform)
			continue
		}
		// A later declaration replaces an earlier one only when it is
		// specific to some platforms.
		if _, dup := g.Vendors[v.Name]; dup && v.Script == nil && !restricted {
			continue
		}
		if _, dup := g.Vendors[v.Name]; !dup {
			g.Order = append(g.Order, v.Name)
		}
		g.Vendors[v.Name] = v
		depNames[v] = decl.Deps
	}

	for _, name := range g.Order {
		v := g.Vendors[name]
		deps := depNames[v]
		aliases := make([]string, 0, len(deps))
		for alias := range deps {
			aliases = append(aliases, alias)
		}
		sort.Strings(aliases)
		for _, alias := range aliases {
			dep, ok := g.Vendors[deps[alias]]
			if !ok {
				log.Debugf("vendor %s: dropping dependency %s=%s, not built for %s", name, alias, deps[alias], opts.Platform)
				continue
			}
			v.Deps = append(v.Deps, Dep{Alias: alias, Vendor: dep})
		}
	}

	nop := func(*Vendor) error { return nil }
	for _, name := range g.Order {
		if err := Walk(g.Vendors[name], nop); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func newVendor(decl *VendorDecl, projectDir, sourceRoot, outRoot string, opts Options) (v *Vendor, restricted bool, err error) {
	dir := decl.Dir
	if dir == "" {
		dir = decl.Name
	}
	v = &Vendor{
		Name:   decl.Name,
		Source: abs(sourceRoot, dir),
		Out:    filepath.Join(outRoot, decl.Name),
	}
	if opts.Debug {
		v.Out = filepath.Join(v.Out, "debug")
	}
	if c := decl.CMake; c != nil {
		restricted = c.Platforms != nil
		if !restricted || slices.Contains(c.Platforms, opts.Platform) {
			if len(c.Targets) == 0 {
				return nil, false, fmt.Errorf("cmake config has no targets")
			}
			v.CMake = &CMakeConfig{
				Targets:   slices.Clone(c.Targets),
				Arguments: slices.Clone(c.Arguments),
				Includes:  slices.Clone(c.Includes),
				Platforms: slices.Clone(c.Platforms),
				Native:    c.Native,
			}
		}
	}
	if s := decl.Scripts[opts.Platform]; s != nil {
		if s.File == "" {
			return nil, false, fmt.Errorf("script for %s has no file", opts.Platform)
		}
		v.Script = &ScriptConfig{
			File:      abs(projectDir, s.File),
			Executor:  s.Executor,
			Arguments: slices.Clone(s.Arguments),
		}
		v.CMake = nil
	}
	if v.CMake == nil && v.Script == nil {
		return nil, false, nil
	}
	return v, restricted, nil
}

// checkName accepts names usable as a single directory element.
func checkName(name string) error {
	if name == "" {
		return fmt.Errorf("empty vendor name")
	}
	if strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("vendor name %q must not contain path separators", name)
	}
	if err := module.CheckFilePath(name); err != nil {
		return fmt.Errorf("vendor name: %w", err)
	}
	return nil
}

func abs(base, path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(base, path)
}

// Lookup returns the resolved vendor called name.
func (g *Graph) Lookup(name string) (*Vendor, error) {
	v, ok := g.Vendors[name]
	if !ok {
		return nil, configErrorf(g.Path, name, "no vendor matches %q on %s", name, g.Platform)
	}
	return v, nil
}

// Declared reports whether the manifest declares name for any platform.
func (g *Graph) Declared(name string) bool {
	return slices.Contains(g.Names, name)
}

// Walk visits v's transitive dependencies depth first, each once, before
// v itself. It fails on a dependency cycle.
func Walk(v *Vendor, fn func(*Vendor) error) error {
	const (
		visiting = 1
		done     = 2
	)
	state := make(map[*Vendor]int)
	var stack []string
	var visit func(*Vendor) error
	visit = func(v *Vendor) error {
		switch state[v] {
		case done:
			return nil
		case visiting:
			return CycleError(stack, v.Name)
		}
		state[v] = visiting
		stack = append(stack, v.Name)
		for _, d := range v.Deps {
			if err := visit(d.Vendor); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		state[v] = done
		return fn(v)
	}
	return visit(v)
}
