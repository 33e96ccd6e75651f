package platform

import (
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/goplus/vbuild/internal/fsutil"
)

var (
	staticExts  = []string{".a", ".lib"}
	sharedExts  = []string{".so", ".dylib", ".dll", ".wasm"}
	libraryExts = append(slices.Clone(staticExts), sharedExts...)
)

func withExt(exts []string) func(string) bool {
	return func(path string) bool {
		return slices.Contains(exts, filepath.Ext(path))
	}
}

// FindLibraries returns every static or shared library under dir, sorted.
// A missing dir yields no libraries.
func FindLibraries(dir string) []string {
	files, _ := fsutil.FindFiles(dir, withExt(libraryExts))
	return files
}

// IsLibrary reports whether file is a static or shared library by extension.
func IsLibrary(file string) bool {
	return slices.Contains(libraryExts, filepath.Ext(file))
}

// IsStaticLibrary reports whether file is a static archive by extension.
func IsStaticLibrary(file string) bool {
	return slices.Contains(staticExts, filepath.Ext(file))
}

// IsFramework reports whether path is an Apple framework bundle directory.
func IsFramework(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".framework") && isDir(path)
}

// FindFrameworks returns every *.framework bundle under dir that contains its
// binary. Bundles are not searched further.
func FindFrameworks(dir string) []string {
	var list []string
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if strings.HasSuffix(strings.ToLower(e.Name()), ".framework") {
			if existing(filepath.Join(path, frameworkName(path))) != "" {
				list = append(list, path)
			}
			continue
		}
		list = append(list, FindFrameworks(path)...)
	}
	sort.Strings(list)
	return list
}

// frameworkName returns the binary name of a framework bundle.
func frameworkName(path string) string {
	name := filepath.Base(path)
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// frameworkBinary returns the binary inside a framework bundle, or path
// itself for a plain library file.
func frameworkBinary(path string) string {
	if IsFramework(path) {
		return filepath.Join(path, frameworkName(path))
	}
	return path
}
