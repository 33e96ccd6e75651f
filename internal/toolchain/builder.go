// Package toolchain runs the external tools that compile one vendor for the
// requested archs.
package toolchain

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/qiniu/x/log"

	"github.com/goplus/vbuild/internal/manifest"
	"github.com/goplus/vbuild/internal/platform"
	"github.com/goplus/vbuild/internal/proc"
	"github.com/goplus/vbuild/internal/publish"
	"github.com/goplus/vbuild/x/cmake"
)

// DefaultMaxRetries is the attempt budget of a failing command.
const DefaultMaxRetries = 3

// Options configures a Builder.
type Options struct {
	Platform platform.Platform
	// Runner defaults to an exec runner following the platform verbosity.
	Runner proc.Runner
	// Jobs is the parallel job count; 0 selects DefaultJobs.
	Jobs int
	// MaxRetries is the number of attempts per command; 0 selects
	// DefaultMaxRetries.
	MaxRetries int
	// Incremental keeps cmake build trees between runs.
	Incremental bool
	// Strip removes debug symbols from published release libraries.
	Strip bool
}

// Builder compiles vendors with cmake or their build script.
type Builder struct {
	platform    platform.Platform
	runner      proc.Runner
	jobs        int
	maxRetries  int
	incremental bool
	strip       bool
	sleep       func(time.Duration)
}

// New returns a Builder for opts.Platform.
func New(opts Options) *Builder {
	b := &Builder{
		platform:    opts.Platform,
		runner:      opts.Runner,
		jobs:        opts.Jobs,
		maxRetries:  opts.MaxRetries,
		incremental: opts.Incremental,
		strip:       opts.Strip,
		sleep:       time.Sleep,
	}
	if b.runner == nil {
		b.runner = proc.NewRunner(opts.Platform.Verbose())
	}
	if b.jobs <= 0 {
		b.jobs = DefaultJobs()
	}
	if b.maxRetries <= 0 {
		b.maxRetries = DefaultMaxRetries
	}
	return b
}

// Jobs returns the parallel job count passed to native build tools.
func (b *Builder) Jobs() int { return b.jobs }

// BuildVendor builds v for archs into v.PlatformOut and returns the archs it
// produced. A script build always produces every platform arch.
func (b *Builder) BuildVendor(ctx context.Context, v *manifest.Vendor, archs []string) ([]string, error) {
	if v.Script != nil {
		if err := b.buildScript(ctx, v); err != nil {
			return nil, err
		}
		return b.platform.Archs(), nil
	}
	if v.CMake == nil {
		return nil, fmt.Errorf("vendor %s has nothing to build for %s", v.Name, b.platform.Name())
	}
	if err := b.buildCMake(ctx, v, archs); err != nil {
		return nil, err
	}
	return archs, nil
}

func (b *Builder) buildScript(ctx context.Context, v *manifest.Vendor) error {
	s := v.Script
	cmd := &proc.Command{Dir: v.Source}
	if s.Executor != "" {
		cmd.Name = s.Executor
		cmd.Args = append([]string{s.File}, s.Arguments...)
	} else {
		cmd.Name = s.File
		cmd.Args = append([]string{}, s.Arguments...)
	}
	cmd.Env = []string{
		"VENDOR_BUILD_TYPE=" + b.platform.BuildType(),
		"VENDOR_OUT_DIR=" + v.Out,
	}
	for _, d := range v.Deps {
		cmd.Env = append(cmd.Env, "VENDOR_DEPS_"+d.Alias+"="+d.Vendor.Out)
	}
	for _, e := range cmd.Env {
		log.Infof("env: %s", e)
	}
	log.Infof("cwd: %s", v.Source)
	_, err := b.run(ctx, v.Name, "", cmd)
	return err
}

func (b *Builder) buildCMake(ctx context.Context, v *manifest.Vendor, archs []string) (err error) {
	p := b.platform
	log.Infof("[Toolchains] %s", p.ToolVersion())
	outPath := v.PlatformOut(p.Name())
	buildPath := filepath.Join(outPath, "build-"+strings.Join(v.CMake.Targets, "-"))
	if !b.incremental {
		if err := os.RemoveAll(buildPath); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(buildPath, 0o755); err != nil {
		return err
	}

	restore, err := cmake.PatchLists(v.Source, p.Kind() == platform.Web)
	if err != nil {
		return fmt.Errorf("build %s: %w", v.Name, err)
	}
	defer func() {
		if rerr := restore(); rerr != nil {
			log.Errorf("restore %s: %v", filepath.Join(v.Source, "CMakeLists.txt"), rerr)
			if err == nil {
				err = rerr
			}
		}
	}()

	artifacts := make(map[string][]string, len(archs))
	for _, arch := range archs {
		files, err := b.buildArch(ctx, v, filepath.Join(buildPath, arch), arch)
		if err != nil {
			return err
		}
		artifacts[arch] = files
	}
	if err := restore(); err != nil {
		return err
	}
	restore = func() error { return nil }

	if _, err := publish.CopyArtifacts(ctx, p.LibraryTool(), artifacts, outPath, b.strip && !p.Debug()); err != nil {
		return fmt.Errorf("build %s: %w", v.Name, err)
	}
	if len(v.CMake.Includes) > 0 && len(archs) > 0 {
		if err := publish.CopyIncludes(v.Source, filepath.Join(buildPath, archs[0]), outPath, v.CMake.Includes); err != nil {
			return fmt.Errorf("build %s: %w", v.Name, err)
		}
	}
	if !b.incremental {
		return os.RemoveAll(buildPath)
	}
	return nil
}

// buildArch configures and builds every target of v for one arch and
// returns the produced artifacts, companion files included.
func (b *Builder) buildArch(ctx context.Context, v *manifest.Vendor, buildDir, arch string) ([]string, error) {
	p := b.platform
	targets := v.CMake.Targets
	log.Infof("Building the '%s' arch of [%s]:", arch, strings.Join(targets, ", "))
	if err := os.MkdirAll(buildDir, 0o755); err != nil {
		return nil, err
	}

	c := cmake.New(v.Source, buildDir)
	c.Program(p.CMakeCommand(arch)...)
	c.BuildType(p.BuildType())
	ninja := p.CommandPath("ninja", arch)
	if v.CMake.Native {
		c.Generator(p.NativeGenerator())
	} else {
		c.Generator("Ninja")
		if ninja != "ninja" {
			c.Set("CMAKE_MAKE_PROGRAM", ninja)
		}
	}
	if p.Verbose() {
		c.DefineBool("CMAKE_VERBOSE_MAKEFILE", true)
	}
	c.Args(p.CMakeArgs(arch)...)
	c.Args(v.CMake.Arguments...)
	for _, d := range v.Deps {
		c.Use(d.Alias, dependency(d.Vendor, p.Name(), arch))
	}
	env := c.Env()

	if _, err := b.run(ctx, v.Name, arch, command(c.ConfigureCommand(), buildDir, env)); err != nil {
		return nil, err
	}

	var artifacts []string
	for _, target := range targets {
		argv := []string{ninja, "-j", strconv.Itoa(b.jobs), target}
		if v.CMake.Native {
			if argv = p.NativeBuildCommand(target, arch, b.jobs); argv == nil {
				argv = c.BuildCommand(target, b.jobs)
			}
		}
		if _, err := b.run(ctx, v.Name, arch, command(argv, buildDir, env)); err != nil {
			return nil, err
		}
		var found bool
		artifacts, found = findTarget(target, buildDir, artifacts, p.Kind() == platform.Win)
		if !found {
			log.Errorf("Could not find the library file matches '%s'!", target)
			return nil, &BuildError{
				Vendor:          v.Name,
				Arch:            arch,
				Dir:             buildDir,
				Target:          target,
				MissingArtifact: true,
				Listing:         listDir(buildDir),
			}
		}
	}
	return artifacts, nil
}

func command(argv []string, dir string, env []string) *proc.Command {
	return &proc.Command{Name: argv[0], Args: argv[1:], Dir: dir, Env: env}
}

// dependency describes the published output of dep for arch. Headers fall
// back to the dependency's sources when it published none.
func dependency(dep *manifest.Vendor, platformName, arch string) cmake.Dependency {
	out := dep.PlatformOut(platformName)
	includeDir := filepath.Join(out, "include")
	if _, err := os.Stat(includeDir); err != nil {
		includeDir = dep.Source
	}
	libDir := filepath.Join(out, arch)
	if _, err := os.Stat(libDir); err != nil {
		libDir = out
	}
	return cmake.Dependency{
		IncludeDir: includeDir,
		LibraryDir: libDir,
		Libraries:  platform.FindLibraries(libDir),
	}
}
