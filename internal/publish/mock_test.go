package publish

import (
	"context"
	"os"

	"github.com/goplus/vbuild/internal/platform"
)

type fakeTool struct {
	merged   [][]string
	outputs  []string
	stripped []string
	xcframes int
	xcErr    error
}

func (t *fakeTool) MergeLibraries(ctx context.Context, libraries []string, output, arch string) error {
	t.merged = append(t.merged, libraries)
	t.outputs = append(t.outputs, output)
	return os.WriteFile(output, []byte("merged"), 0o644)
}

func (t *fakeTool) StripDebugSymbols(ctx context.Context, library, arch string) error {
	t.stripped = append(t.stripped, library)
	return nil
}

func (t *fakeTool) CreateFatLibrary(ctx context.Context, libraries []string, output string, removeOrigins bool) error {
	return platform.ErrUnsupported
}

func (t *fakeTool) CreateXCFramework(ctx context.Context, libraryPath, headerPath, outPath string) error {
	t.xcframes++
	return t.xcErr
}

type countingProgress struct {
	n, max int
	err    error
}

func (p *countingProgress) ChangeMax(max int) { p.max = max }

func (p *countingProgress) Add(n int) error {
	p.n += n
	return p.err
}
