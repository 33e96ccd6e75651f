package platform

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/qiniu/x/log"

	"github.com/goplus/vbuild/internal/fsutil"
	"github.com/goplus/vbuild/internal/proc"
)

// ErrUnsupported is returned for post-processing a platform cannot do.
var ErrUnsupported = errors.New("not supported on this platform")

// LibraryTool post-processes built libraries. Every operation fully
// overwrites its output, so repeating a call is safe.
type LibraryTool interface {
	// MergeLibraries combines static libraries into one archive at output.
	MergeLibraries(ctx context.Context, libraries []string, output, arch string) error
	// StripDebugSymbols removes debug symbols from library in place.
	StripDebugSymbols(ctx context.Context, library, arch string) error
	// CreateFatLibrary combines per-arch copies of one library into output.
	CreateFatLibrary(ctx context.Context, libraries []string, output string, removeOrigins bool) error
	// CreateXCFramework packages every library under libraryPath/<arch> as
	// an xcframework in outPath.
	CreateXCFramework(ctx context.Context, libraryPath, headerPath, outPath string) error
}

func run(ctx context.Context, r proc.Runner, p Platform, arch, dir string, argv ...string) error {
	cmd := p.Wrap(&proc.Command{Name: argv[0], Args: argv[1:], Dir: dir}, arch)
	_, err := r.Run(ctx, cmd)
	return err
}

// arTool merges static libraries by extracting and re-archiving their
// objects with ar.
type arTool struct {
	p      Platform
	runner proc.Runner
}

func (t *arTool) StripDebugSymbols(context.Context, string, string) error { return nil }

func (t *arTool) CreateFatLibrary(context.Context, []string, string, bool) error {
	return fmt.Errorf("fat library for %s: %w", t.p.Name(), ErrUnsupported)
}

func (t *arTool) CreateXCFramework(context.Context, string, string, string) error {
	return fmt.Errorf("xcframework for %s: %w", t.p.Name(), ErrUnsupported)
}

func (t *arTool) MergeLibraries(ctx context.Context, libraries []string, output, arch string) error {
	output, err := filepath.Abs(output)
	if err != nil {
		return err
	}
	tempDir := filepath.Join(filepath.Dir(output), "temp")
	if err := os.RemoveAll(tempDir); err != nil {
		return err
	}
	defer os.RemoveAll(tempDir)
	ar := t.p.CommandPath("ar", arch)
	for _, lib := range libraries {
		if err := t.extract(ctx, ar, tempDir, lib, arch); err != nil {
			return err
		}
	}
	objects, err := fsutil.FindFiles(tempDir, isObjectFile)
	if err != nil {
		return err
	}
	if err := os.Remove(output); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	args := []string{ar, "rc", output}
	for _, obj := range objects {
		rel, err := filepath.Rel(tempDir, obj)
		if err != nil {
			return err
		}
		args = append(args, rel)
	}
	return run(ctx, t.runner, t.p, arch, tempDir, args...)
}

func isObjectFile(path string) bool {
	ext := filepath.Ext(path)
	return ext == ".o" || ext == ".obj"
}

// extract unpacks library into its own directory below dir. Archives may
// hold several members with the same name; each copy is extracted by index
// and renamed to "<n>.<member>".
func (t *arTool) extract(ctx context.Context, ar, dir, library, arch string) error {
	library, err := filepath.Abs(library)
	if err != nil {
		return err
	}
	name := filepath.Base(library)
	libDir := filepath.Join(dir, strings.TrimSuffix(name, filepath.Ext(name)))
	if err := os.MkdirAll(libDir, 0o755); err != nil {
		return err
	}
	if err := run(ctx, t.runner, t.p, arch, libDir, ar, "x", library); err != nil {
		return err
	}
	res, err := t.runner.Run(ctx, t.p.Wrap(&proc.Command{Name: ar, Args: []string{"t", library}, Dir: libDir}, arch))
	if err != nil {
		return err
	}
	counts := make(map[string]int)
	var order []string
	for _, member := range strings.Split(res.Stdout, "\n") {
		member = strings.TrimSpace(member)
		if member == "" {
			continue
		}
		if counts[member] == 0 {
			order = append(order, member)
		}
		counts[member]++
	}
	for _, member := range order {
		n := counts[member]
		if n == 1 {
			continue
		}
		log.Debugf("%s holds %d copies of %s", library, n, member)
		memberPath := filepath.Join(libDir, member)
		os.Remove(memberPath)
		for i := 1; i <= n; i++ {
			if err := run(ctx, t.runner, t.p, arch, libDir, ar, "xN", strconv.Itoa(i), library, member); err != nil {
				return err
			}
			if err := os.Rename(memberPath, filepath.Join(libDir, strconv.Itoa(i)+"."+member)); err != nil {
				return err
			}
		}
	}
	return nil
}

// stripTool is arTool plus symbol stripping with the platform strip.
type stripTool struct {
	arTool
}

func (t *stripTool) StripDebugSymbols(ctx context.Context, library, arch string) error {
	return run(ctx, t.runner, t.p, arch, "", t.p.CommandPath("strip", arch), "-S", library)
}

type winTool struct {
	p      Platform
	runner proc.Runner
}

func (t *winTool) MergeLibraries(ctx context.Context, libraries []string, output, arch string) error {
	args := []string{t.p.CommandPath("lib", arch), "/out:" + output}
	return run(ctx, t.runner, t.p, arch, "", append(args, libraries...)...)
}

func (t *winTool) StripDebugSymbols(context.Context, string, string) error { return nil }

func (t *winTool) CreateFatLibrary(context.Context, []string, string, bool) error {
	return fmt.Errorf("fat library for win: %w", ErrUnsupported)
}

func (t *winTool) CreateXCFramework(context.Context, string, string, string) error {
	return fmt.Errorf("xcframework for win: %w", ErrUnsupported)
}

type appleTool struct {
	p      *apple
	runner proc.Runner
}

func (t *appleTool) MergeLibraries(ctx context.Context, libraries []string, output, arch string) error {
	if err := os.Remove(output); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	args := append([]string{"libtool", "-static"}, libraries...)
	return run(ctx, t.runner, t.p, arch, "", append(args, "-o", output)...)
}

func (t *appleTool) StripDebugSymbols(ctx context.Context, library, arch string) error {
	if !fsutil.Exists(library) {
		return nil
	}
	return run(ctx, t.runner, t.p, arch, "", "strip", "-S", frameworkBinary(library))
}

func (t *appleTool) CreateFatLibrary(ctx context.Context, libraries []string, output string, removeOrigins bool) error {
	if len(libraries) == 0 {
		return nil
	}
	first := libraries[0]
	if err := os.RemoveAll(output); err != nil {
		return err
	}
	if err := fsutil.CopyPath(first, output); err != nil {
		return err
	}
	if len(libraries) > 1 {
		args := []string{"lipo", "-create"}
		for _, lib := range libraries {
			args = append(args, frameworkBinary(lib))
		}
		args = append(args, "-o", frameworkBinary(output))
		if err := run(ctx, t.runner, t.p, "", filepath.Dir(output), args...); err != nil {
			return err
		}
	}
	if removeOrigins {
		for _, lib := range libraries {
			os.RemoveAll(lib)
			fsutil.RemoveEmptyDir(filepath.Dir(lib))
		}
	}
	return nil
}

func (t *appleTool) CreateXCFramework(ctx context.Context, libraryPath, headerPath, outPath string) error {
	if outPath == "" {
		outPath = libraryPath
	}
	keys, groups := t.p.xcframeworkSlices()
	if len(keys) == 0 {
		return nil
	}
	firstArch := filepath.Join(libraryPath, groups[keys[0]][0])
	libraries := append(FindLibraries(firstArch), FindFrameworks(firstArch)...)
	for _, lib := range libraries {
		fileName := filepath.Base(lib)
		name := strings.TrimSuffix(fileName, filepath.Ext(fileName))
		framework := IsFramework(lib)

		var fat []string
		for _, key := range keys {
			var files []string
			for _, arch := range groups[key] {
				files = append(files, filepath.Join(libraryPath, arch, fileName))
			}
			out := filepath.Join(libraryPath, name+"-"+key, fileName)
			if err := t.CreateFatLibrary(ctx, files, out, false); err != nil {
				return err
			}
			fat = append(fat, out)
		}

		args := []string{"xcodebuild", "-create-xcframework"}
		for _, f := range fat {
			if framework {
				args = append(args, "-framework", f)
				continue
			}
			args = append(args, "-library", f)
			if headerPath != "" {
				args = append(args, "-headers", headerPath)
			}
		}
		output := filepath.Join(outPath, name+".xcframework")
		if err := os.RemoveAll(output); err != nil {
			return err
		}
		os.RemoveAll(filepath.Join(outPath, name+".dSYMs"))
		args = append(args, "-output", output)
		err := run(ctx, t.runner, t.p, "", outPath, args...)
		for _, f := range fat {
			os.RemoveAll(filepath.Dir(f))
		}
		if err != nil {
			return err
		}
	}
	return nil
}
