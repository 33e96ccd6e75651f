// Package platform describes the target platforms vendors are built for and
// the host toolchains that build them.
package platform

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"github.com/goplus/vbuild/internal/proc"
)

// DefaultVersion identifies the build recipe itself. Changing it invalidates
// every recorded fingerprint.
const DefaultVersion = "1.0.3"

// Kind names a target platform.
type Kind string

const (
	Android Kind = "android"
	IOS     Kind = "ios"
	Mac     Kind = "mac"
	Win     Kind = "win"
	Web     Kind = "web"
	Linux   Kind = "linux"
	Ohos    Kind = "ohos"
)

var archTable = map[Kind][]string{
	Android: {"arm", "arm64"},
	IOS:     {"arm64", "arm64-simulator", "x64"},
	Mac:     {"arm64", "x64"},
	Win:     {"x64", "x86"},
	Web:     {"wasm"},
	Linux:   {"x64"},
	Ohos:    {"arm64"},
}

var (
	ErrUnknownPlatform   = errors.New("unknown platform")
	ErrUnsupportedArch   = errors.New("unsupported arch")
	ErrToolchainNotFound = errors.New("toolchain not found")
)

// Kinds returns every supported platform, sorted by name.
func Kinds() []Kind {
	kinds := make([]Kind, 0, len(archTable))
	for k := range archTable {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

// DefaultArchs returns the archs built for kind when none is requested.
func DefaultArchs(kind Kind) []string {
	return slices.Clone(archTable[kind])
}

// HostKind returns the platform matching the running operating system.
func HostKind() Kind {
	switch runtime.GOOS {
	case "darwin":
		return Mac
	case "windows":
		return Win
	}
	return Linux
}

// Tool is one detected build tool.
type Tool struct {
	Name    string
	Version string
	Path    string
}

// Options configures a Platform.
type Options struct {
	Debug   bool
	Verbose bool
	// Arch restricts the platform to a single arch.
	Arch string
	// ToolsDir holds cmake toolchain files and per-host prebuilt tools
	// (<ToolsDir>/mac, <ToolsDir>/linux, <ToolsDir>/win).
	ToolsDir string
	Runner   proc.Runner
	// Lookup reads the environment; nil means os.LookupEnv.
	Lookup func(string) (string, bool)
}

// Platform is the capability set the build pipeline needs from a target
// platform. Variants override argument construction and tool lookup.
type Platform interface {
	Name() string
	Kind() Kind
	Archs() []string
	Debug() bool
	Verbose() bool
	// BuildType returns the CMAKE_BUILD_TYPE: "Debug" or "Release".
	BuildType() string
	// Tools returns the detected toolchain; it is stable for one installation.
	Tools() []Tool
	// ToolVersion renders DefaultVersion and Tools as one identity string.
	ToolVersion() string
	// CommandPath resolves cmd for arch, falling back to cmd itself.
	CommandPath(cmd, arch string) string
	// CMakeCommand returns the argv prefix that invokes cmake.
	CMakeCommand(arch string) []string
	// CMakeArgs returns platform specific configure arguments.
	CMakeArgs(arch string) []string
	// NativeGenerator returns the cmake generator used instead of Ninja when a
	// vendor asks for the native one; "" selects cmake's default.
	NativeGenerator() string
	// NativeBuildCommand returns the argv building target with the native
	// generator, or nil to build through "cmake --build".
	NativeBuildCommand(target, arch string, jobs int) []string
	// Wrap adapts cmd to run inside the platform's toolchain environment.
	Wrap(cmd *proc.Command, arch string) *proc.Command
	LibraryTool() LibraryTool
}

// New returns the platform of kind, detecting its toolchain.
func New(ctx context.Context, kind Kind, opts Options) (Platform, error) {
	archs, ok := archTable[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlatform, kind)
	}
	if opts.Runner == nil {
		opts.Runner = proc.NewRunner(opts.Verbose)
	}
	if opts.Lookup == nil {
		opts.Lookup = os.LookupEnv
	}
	b := &base{kind: kind, archs: slices.Clone(archs), opts: opts}
	if opts.Arch != "" {
		if err := b.setArch(opts.Arch); err != nil {
			return nil, err
		}
	}

	switch kind {
	case Android:
		ndk := findNDK(opts.Lookup)
		if ndk.Path == "" {
			return nil, fmt.Errorf("%w: could not find NDK_HOME", ErrToolchainNotFound)
		}
		b.tools = []Tool{{Name: "NDK", Version: ndk.Version, Path: ndk.Path}}
		p := &android{base: b, ndkHome: ndk.Path}
		b.lib = &stripTool{arTool{p: p, runner: opts.Runner}}
		return p, nil
	case IOS, Mac:
		p := &apple{base: b}
		b.lib = &appleTool{p: p, runner: opts.Runner}
		return p, nil
	case Win:
		msvc := findMSVC(ctx, opts.Runner, filepath.Join(opts.ToolsDir, "win", "vswhere.exe"))
		p := &win{base: b}
		if msvc.Path != "" {
			p.vcvars64 = existing(filepath.Join(msvc.Path, "VC", "Auxiliary", "Build", "vcvars64.bat"))
			p.vcvars32 = existing(filepath.Join(msvc.Path, "VC", "Auxiliary", "Build", "vcvars32.bat"))
		}
		if p.vcvars64 == "" || p.vcvars32 == "" {
			return nil, fmt.Errorf("%w: could not find MSVC", ErrToolchainNotFound)
		}
		b.tools = []Tool{{Name: "MSVC", Version: msvc.Version, Path: msvc.Path}}
		b.lib = &winTool{p: p, runner: opts.Runner}
		return p, nil
	case Web:
		version := findEmscriptenVersion(ctx, opts.Runner)
		if version == "" {
			return nil, fmt.Errorf("%w: could not find Emscripten", ErrToolchainNotFound)
		}
		b.tools = []Tool{{Name: "Emscripten", Version: version}}
		p := &web{base: b}
		b.lib = &arTool{p: p, runner: opts.Runner}
		return p, nil
	case Ohos:
		b.lib = &stripTool{arTool{p: b, runner: opts.Runner}}
		return b, nil
	}
	p := &linux{base: b}
	b.lib = &arTool{p: p, runner: opts.Runner}
	return p, nil
}

func existing(path string) string {
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

// base implements the behaviour shared by every platform.
type base struct {
	kind  Kind
	archs []string
	opts  Options
	tools []Tool
	lib   LibraryTool
}

func (b *base) setArch(arch string) error {
	arch = strings.ToLower(arch)
	if !slices.Contains(b.archs, arch) {
		return fmt.Errorf("%w: %q for %s (want one of %s)", ErrUnsupportedArch, arch, b.kind, strings.Join(b.archs, ", "))
	}
	b.archs = []string{arch}
	return nil
}

func (b *base) Name() string              { return string(b.kind) }
func (b *base) Kind() Kind                { return b.kind }
func (b *base) Archs() []string           { return slices.Clone(b.archs) }
func (b *base) Debug() bool               { return b.opts.Debug }
func (b *base) Verbose() bool             { return b.opts.Verbose }
func (b *base) Tools() []Tool             { return slices.Clone(b.tools) }
func (b *base) LibraryTool() LibraryTool  { return b.lib }
func (b *base) NativeGenerator() string   { return "" }
func (b *base) CMakeArgs(string) []string { return nil }

func (b *base) BuildType() string {
	if b.opts.Debug {
		return "Debug"
	}
	return "Release"
}

func (b *base) ToolVersion() string {
	var sb strings.Builder
	sb.WriteString(DefaultVersion)
	for _, t := range b.tools {
		fmt.Fprintf(&sb, " (%s: %s)", t.Name, t.Version)
	}
	return sb.String()
}

func (b *base) CommandPath(cmd, arch string) string {
	if b.opts.ToolsDir == "" {
		return cmd
	}
	path := filepath.Join(b.opts.ToolsDir, hostDir(), cmd)
	if b.kind == Win && filepath.Ext(cmd) == "" {
		path += ".exe"
	}
	if existing(path) != "" {
		return path
	}
	return cmd
}

func (b *base) CMakeCommand(arch string) []string {
	return []string{b.CommandPath("cmake", arch)}
}

func (b *base) NativeBuildCommand(target, arch string, jobs int) []string {
	return nil
}

func (b *base) Wrap(cmd *proc.Command, arch string) *proc.Command {
	return cmd
}

func hostDir() string {
	switch runtime.GOOS {
	case "darwin":
		return "mac"
	case "windows":
		return "win"
	}
	return "linux"
}

type linux struct {
	*base
}

func (p *linux) CMakeArgs(string) []string {
	return []string{"-DCMAKE_POSITION_INDEPENDENT_CODE=ON"}
}
