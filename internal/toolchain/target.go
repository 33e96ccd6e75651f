package toolchain

import (
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/goplus/vbuild/internal/platform"
)

// findTarget locates the artifact target produced under dir and appends it
// to found. Candidates are, in order: libraries whose name ends with target,
// a file named exactly target, then the first library not yet taken (the
// project may rename its output). A .wasm artifact brings its .js loader.
// With multi every suffix match is kept, as a win DLL comes with its import
// library.
func findTarget(target, dir string, found []string, multi bool) ([]string, bool) {
	candidates := append(platform.FindLibraries(dir), platform.FindFrameworks(dir)...)
	matched := false
	for _, file := range candidates {
		base := filepath.Base(file)
		name := strings.TrimSuffix(base, filepath.Ext(base))
		if !strings.HasSuffix(name, target) || slices.Contains(found, file) {
			continue
		}
		found = append(found, file)
		matched = true
		if filepath.Ext(file) == ".wasm" {
			if js := strings.TrimSuffix(file, ".wasm") + ".js"; exists(js) {
				found = append(found, js)
			}
		}
		if !multi {
			return found, true
		}
	}
	if matched {
		return found, true
	}
	if exact := findExact(dir, target); exact != "" {
		return append(found, exact), true
	}
	for _, file := range candidates {
		if !slices.Contains(found, file) {
			return append(found, file), true
		}
	}
	return found, false
}

func findExact(dir, name string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var subdirs []string
	for _, e := range entries {
		path := filepath.Join(dir, e.Name())
		if e.IsDir() {
			subdirs = append(subdirs, path)
			continue
		}
		if e.Name() == name {
			return path
		}
	}
	for _, sub := range subdirs {
		if found := findExact(sub, name); found != "" {
			return found
		}
	}
	return ""
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
