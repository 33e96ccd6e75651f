package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"gopkg.in/yaml.v2"
)

// Manifest is the declarative vendor table as written on disk.
type Manifest struct {
	// Source is the root of the checked out vendor sources.
	Source string `json:"source" yaml:"source"`
	// Out is the root every vendor publishes under.
	Out     string       `json:"out" yaml:"out"`
	Vendors []VendorDecl `json:"vendors" yaml:"vendors"`

	// Dir is the directory relative paths are resolved against.
	Dir string `json:"-" yaml:"-"`
	// Path is the file the manifest was loaded from, if any.
	Path string `json:"-" yaml:"-"`
}

type VendorDecl struct {
	Name    string                 `json:"name" yaml:"name"`
	Dir     string                 `json:"dir,omitempty" yaml:"dir,omitempty"`
	Deps    map[string]string      `json:"deps,omitempty" yaml:"deps,omitempty"`
	CMake   *CMakeDecl             `json:"cmake,omitempty" yaml:"cmake,omitempty"`
	Scripts map[string]*ScriptDecl `json:"scripts,omitempty" yaml:"scripts,omitempty"`
}

type CMakeDecl struct {
	Targets   []string `json:"targets" yaml:"targets" hcl:"targets"`
	Arguments []string `json:"arguments,omitempty" yaml:"arguments,omitempty" hcl:"arguments,optional"`
	Includes  []string `json:"includes,omitempty" yaml:"includes,omitempty" hcl:"includes,optional"`
	// Platforms is an allow-list; nil means every platform.
	Platforms []string `json:"platforms,omitempty" yaml:"platforms,omitempty" hcl:"platforms,optional"`
	// Native selects the platform's own cmake generator instead of Ninja.
	Native bool `json:"native,omitempty" yaml:"native,omitempty" hcl:"native,optional"`
}

type ScriptDecl struct {
	File      string   `json:"file" yaml:"file"`
	Executor  string   `json:"executor,omitempty" yaml:"executor,omitempty"`
	Arguments []string `json:"arguments,omitempty" yaml:"arguments,omitempty"`
}

// HCL has no keyed maps of blocks, so scripts are labelled blocks there:
//
//	vendor "zlib" {
//	  script "android" { file = "build.sh" }
//	}
type hclManifest struct {
	Source  string      `hcl:"source,optional"`
	Out     string      `hcl:"out,optional"`
	Vendors []hclVendor `hcl:"vendor,block"`
}

type hclVendor struct {
	Name    string            `hcl:"name,label"`
	Dir     string            `hcl:"dir,optional"`
	Deps    map[string]string `hcl:"deps,optional"`
	CMake   *CMakeDecl        `hcl:"cmake,block"`
	Scripts []hclScript       `hcl:"script,block"`
}

type hclScript struct {
	Platform  string   `hcl:"platform,label"`
	File      string   `hcl:"file"`
	Executor  string   `hcl:"executor,optional"`
	Arguments []string `hcl:"arguments,optional"`
}

// Load reads the manifest at path. The format follows the extension:
// .json, .yaml/.yml or .hcl.
func Load(path string) (*Manifest, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}
	m, err := Decode(data, abs)
	if err != nil {
		return nil, err
	}
	m.Dir = filepath.Dir(abs)
	m.Path = abs
	return m, nil
}

// Decode parses data; filename selects the format and names the source in
// diagnostics.
func Decode(data []byte, filename string) (*Manifest, error) {
	var m Manifest
	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".json":
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, &ConfigError{Path: filename, Err: fmt.Errorf("not a valid JSON file: %w", err)}
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, &ConfigError{Path: filename, Err: fmt.Errorf("not a valid YAML file: %w", err)}
		}
	case ".hcl":
		if err := decodeHCL(data, filename, &m); err != nil {
			return nil, err
		}
	default:
		return nil, &ConfigError{Path: filename, Err: fmt.Errorf("unknown manifest format %q", ext)}
	}
	return &m, nil
}

func decodeHCL(data []byte, filename string, m *Manifest) error {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(data, filename)
	if diags.HasErrors() {
		return &ConfigError{Path: filename, Err: fmt.Errorf("failed to parse HCL: %w", diags)}
	}
	var raw hclManifest
	if diags := gohcl.DecodeBody(file.Body, nil, &raw); diags.HasErrors() {
		return &ConfigError{Path: filename, Err: fmt.Errorf("failed to decode HCL: %w", diags)}
	}
	m.Source, m.Out = raw.Source, raw.Out
	for _, v := range raw.Vendors {
		decl := VendorDecl{Name: v.Name, Dir: v.Dir, Deps: v.Deps, CMake: v.CMake}
		for _, s := range v.Scripts {
			if decl.Scripts == nil {
				decl.Scripts = make(map[string]*ScriptDecl)
			}
			decl.Scripts[s.Platform] = &ScriptDecl{File: s.File, Executor: s.Executor, Arguments: s.Arguments}
		}
		m.Vendors = append(m.Vendors, decl)
	}
	return nil
}

// Names returns every declared vendor name once, in declaration order,
// regardless of platform.
func (m *Manifest) Names() []string {
	seen := make(map[string]bool, len(m.Vendors))
	var names []string
	for _, v := range m.Vendors {
		if !seen[v.Name] {
			seen[v.Name] = true
			names = append(names, v.Name)
		}
	}
	return names
}
