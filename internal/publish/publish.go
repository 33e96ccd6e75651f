// Package publish copies build artifacts into their output layout and
// combines the libraries of several vendors into one per arch.
package publish

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/qiniu/x/log"

	"github.com/goplus/vbuild/internal/fsutil"
	"github.com/goplus/vbuild/internal/platform"
)

// CopyArtifacts copies every artifact of each arch to outPath/<arch>/,
// keeping its file name, and returns the published paths. With strip,
// libraries lose their debug symbols after the copy. A missing artifact is
// an error.
func CopyArtifacts(ctx context.Context, tool platform.LibraryTool, artifacts map[string][]string, outPath string, strip bool) ([]string, error) {
	archs := make([]string, 0, len(artifacts))
	for arch := range artifacts {
		archs = append(archs, arch)
	}
	sort.Strings(archs)

	var published []string
	for _, arch := range archs {
		for _, file := range artifacts[arch] {
			dst := filepath.Join(outPath, arch, filepath.Base(file))
			if err := fsutil.CopyPath(file, dst); err != nil {
				return published, fmt.Errorf("publish %s: %w", file, err)
			}
			if strip && (platform.IsLibrary(dst) || platform.IsFramework(dst)) {
				if err := tool.StripDebugSymbols(ctx, dst, arch); err != nil {
					return published, fmt.Errorf("strip %s: %w", dst, err)
				}
			}
			published = append(published, dst)
		}
	}
	return published, nil
}

const (
	sourceKey = "${SOURCE_DIR}"
	buildKey  = "${BUILD_DIR}"
)

// CopyIncludes copies the .h files selected by includes into
// outPath/include. An include is a path or glob relative to sourceDir, or
// to buildDir when prefixed with ${BUILD_DIR}; files keep their path
// relative to the parent of the matched entry.
func CopyIncludes(sourceDir, buildDir, outPath string, includes []string) error {
	for _, inc := range includes {
		root := sourceDir
		switch {
		case strings.HasPrefix(inc, sourceKey):
			inc = inc[len(sourceKey):]
		case strings.HasPrefix(inc, buildKey):
			inc = inc[len(buildKey):]
			root = buildDir
		}
		matches, err := filepath.Glob(filepath.Join(root, inc))
		if err != nil {
			return fmt.Errorf("include %q: %w", inc, err)
		}
		if len(matches) == 0 {
			log.Warnf("include %q matches nothing under %s", inc, root)
		}
		for _, match := range matches {
			base := filepath.Dir(match)
			files, err := fsutil.FindFiles(match, func(path string) bool {
				return strings.EqualFold(filepath.Ext(path), ".h")
			})
			if err != nil {
				return err
			}
			for _, file := range files {
				rel, err := filepath.Rel(base, file)
				if err != nil {
					return err
				}
				if err := fsutil.CopyPath(file, filepath.Join(outPath, "include", rel)); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// PublishLibraries writes, for each arch, one static library named
// lib<basename(outPath)><ext> into outPath/<arch>, combining the static
// libraries found under every libraryDir/<arch>. Several inputs are merged,
// a single one is copied. Prior output of the arch is removed first.
func PublishLibraries(ctx context.Context, tool platform.LibraryTool, libraryDirs []string, outPath string, archs []string) ([]string, error) {
	var published []string
	for _, arch := range archs {
		var libraries []string
		for _, dir := range libraryDirs {
			libs, err := fsutil.FindFiles(filepath.Join(dir, arch), platform.IsStaticLibrary)
			if err != nil {
				return published, fmt.Errorf("publish %s: %w", arch, err)
			}
			libraries = append(libraries, libs...)
		}
		if len(libraries) == 0 {
			continue
		}
		archDir := filepath.Join(outPath, arch)
		output := filepath.Join(archDir, "lib"+filepath.Base(outPath)+filepath.Ext(libraries[0]))
		if err := os.RemoveAll(archDir); err != nil {
			return published, err
		}
		if err := os.MkdirAll(archDir, 0o755); err != nil {
			return published, err
		}
		if len(libraries) > 1 {
			log.Infof("merging %d libraries into %s", len(libraries), output)
			if err := tool.MergeLibraries(ctx, libraries, output, arch); err != nil {
				return published, fmt.Errorf("merge %s: %w", output, err)
			}
		} else if err := fsutil.CopyPath(libraries[0], output); err != nil {
			return published, fmt.Errorf("publish %s: %w", libraries[0], err)
		}
		published = append(published, output)
	}
	return published, nil
}
