// Package cmake builds cmake configure and build command lines.
package cmake

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

type defineValue struct {
	value    string
	typeName string
}

// CMake describes one cmake build tree. It only assembles argv and
// environment; running them is up to the caller.
type CMake struct {
	program   []string
	sourceDir string
	buildDir  string
	generator string
	buildType string
	defines   map[string]defineValue
	args      []string
	env       map[string][]string
	envKeys   []string
}

// New returns a CMake configuring sourceDir into buildDir with "cmake".
func New(sourceDir, buildDir string) *CMake {
	return &CMake{
		program:   []string{"cmake"},
		sourceDir: sourceDir,
		buildDir:  buildDir,
		defines:   make(map[string]defineValue),
		env:       make(map[string][]string),
	}
}

// Program overrides the argv prefix invoking cmake (e.g. "emcmake", "cmake").
func (c *CMake) Program(argv ...string) {
	if len(argv) > 0 {
		c.program = argv
	}
}

// Generator sets the CMake generator (e.g. "Ninja", "Xcode"). Empty keeps
// cmake's default.
func (c *CMake) Generator(name string) { c.generator = name }

// BuildType sets CMAKE_BUILD_TYPE (e.g. "Release", "Debug").
func (c *CMake) BuildType(name string) { c.buildType = name }

// Define adds a -D<key>:STRING=<value> definition.
func (c *CMake) Define(key, value string) {
	c.defines[key] = defineValue{value: value, typeName: "STRING"}
}

// DefineBool adds a -D<key>:BOOL=ON/OFF definition.
func (c *CMake) DefineBool(key string, value bool) {
	v := "OFF"
	if value {
		v = "ON"
	}
	c.defines[key] = defineValue{value: v, typeName: "BOOL"}
}

// Set adds an untyped -D<key>=<value> definition.
func (c *CMake) Set(key, value string) {
	c.defines[key] = defineValue{value: value}
}

// Args appends raw configure arguments, kept in order after the definitions.
func (c *CMake) Args(args ...string) { c.args = append(c.args, args...) }

// Dependency is a prebuilt library the project would otherwise look up with
// find_package.
type Dependency struct {
	IncludeDir string
	LibraryDir string
	Libraries  []string
}

// Use makes the project consume dep under the package name alias instead of
// searching the system for it.
func (c *CMake) Use(alias string, dep Dependency) {
	c.Set("CMAKE_DISABLE_FIND_PACKAGE_"+alias, "TRUE")
	c.Set(alias+"_FOUND", "TRUE")
	if dep.IncludeDir != "" {
		c.Set(alias+"_INCLUDE_DIR", dep.IncludeDir)
		c.Set(alias+"_INCLUDE_DIRS", dep.IncludeDir)
		c.prependEnv("CMAKE_INCLUDE_PATH", dep.IncludeDir)
	}
	if len(dep.Libraries) > 0 {
		libs := strings.Join(dep.Libraries, ";")
		c.Set(alias+"_LIBRARY", libs)
		c.Set(alias+"_LIBRARIES", libs)
	}
	if dep.LibraryDir != "" {
		if _, err := os.Stat(dep.LibraryDir); err == nil {
			c.prependEnv("CMAKE_LIBRARY_PATH", dep.LibraryDir)
		}
	}
}

// Env returns the environment entries collected by Use, each list placed in
// front of the value inherited from the process.
func (c *CMake) Env() []string {
	if len(c.envKeys) == 0 {
		return nil
	}
	sep := string(os.PathListSeparator)
	env := make([]string, 0, len(c.envKeys))
	for _, key := range c.envKeys {
		value := strings.Join(c.env[key], sep)
		if cur := os.Getenv(key); cur != "" {
			value += sep + cur
		}
		env = append(env, key+"="+value)
	}
	return env
}

func (c *CMake) prependEnv(key, value string) {
	if _, ok := c.env[key]; !ok {
		c.envKeys = append(c.envKeys, key)
	}
	c.env[key] = append([]string{value}, c.env[key]...)
}

// ConfigureCommand returns the argv of "cmake -S <source> -B <build>" with
// all configured options.
func (c *CMake) ConfigureCommand() []string {
	argv := append([]string{}, c.program...)
	argv = append(argv, "-S", c.sourceDir, "-B", c.buildDir)
	if c.generator != "" {
		argv = append(argv, "-G", c.generator)
	}
	if c.buildType != "" {
		c.Set("CMAKE_BUILD_TYPE", c.buildType)
	}
	argv = append(argv, c.definesArgs()...)
	return append(argv, c.args...)
}

// BuildCommand returns the argv of "cmake --build" for one target.
func (c *CMake) BuildCommand(target string, jobs int) []string {
	argv := append([]string{}, c.program...)
	argv = append(argv, "--build", c.buildDir)
	if c.buildType != "" {
		argv = append(argv, "--config", c.buildType)
	}
	if target != "" {
		argv = append(argv, "--target", target)
	}
	if jobs > 0 {
		argv = append(argv, "-j", strconv.Itoa(jobs))
	}
	return argv
}

// BuildDir returns the build tree.
func (c *CMake) BuildDir() string { return c.buildDir }

func (c *CMake) definesArgs() []string {
	if len(c.defines) == 0 {
		return nil
	}
	keys := make([]string, 0, len(c.defines))
	for k := range c.defines {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	args := make([]string, 0, len(keys))
	for _, k := range keys {
		d := c.defines[k]
		if d.typeName == "" {
			args = append(args, "-D"+k+"="+d.value)
			continue
		}
		args = append(args, "-D"+k+":"+d.typeName+"="+d.value)
	}
	return args
}

const (
	listsFile = "CMakeLists.txt"

	installMacro = "macro (install)\nendmacro ()\n"
	sharedLibs   = "# Disable error for the web platform.\nSET_PROPERTY(GLOBAL PROPERTY TARGET_SUPPORTS_SHARED_LIBS true)\n"
)

var projectKeys = []string{"project(", "project (", "PROJECT(", "PROJECT ("}

// PatchLists rewrites sourceDir/CMakeLists.txt so install() rules are
// disabled and, with allowShared, shared libraries are accepted on
// platforms that normally reject them. It returns a function restoring the
// original text; restore is a no-op when nothing changed.
func PatchLists(sourceDir string, allowShared bool) (restore func() error, err error) {
	path := filepath.Join(sourceDir, listsFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	text, original := transformLists(string(data), allowShared)
	if text == original {
		return func() error { return nil }, nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte(text), info.Mode().Perm()); err != nil {
		return nil, err
	}
	return func() error {
		return os.WriteFile(path, []byte(original), info.Mode().Perm())
	}, nil
}

// transformLists returns the patched text and the text to restore. A file
// left patched by an interrupted run is recognised and its pristine form
// recovered.
func transformLists(text string, allowShared bool) (patched, original string) {
	patched, original = text, text
	if strings.Contains(text, "install(") || strings.Contains(text, "INSTALL(") {
		if strings.HasPrefix(text, installMacro) {
			original = original[len(installMacro):]
		} else {
			patched = installMacro + patched
		}
	}
	if !allowShared {
		return
	}
	if i := strings.Index(original, sharedLibs); i >= 0 {
		original = original[:i] + original[i+len(sharedLibs):]
		return
	}
	i := -1
	for _, key := range projectKeys {
		if i = strings.Index(patched, key); i >= 0 {
			break
		}
	}
	if i < 0 {
		return
	}
	tail := patched[i:]
	nl := strings.Index(tail, "\n")
	if nl < 0 {
		patched += "\n" + sharedLibs
		return
	}
	patched = patched[:i] + tail[:nl+1] + sharedLibs + tail[nl+1:]
	return
}
