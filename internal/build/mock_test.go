package build

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/goplus/vbuild/internal/fingerprint"
	"github.com/goplus/vbuild/internal/lockedfile"
	"github.com/goplus/vbuild/internal/manifest"
)

type buildCall struct {
	vendor string
	archs  []string
}

// fakeToolchain writes lib<vendor>.a for every requested arch.
type fakeToolchain struct {
	platform string
	calls    []buildCall
	// fail makes the named vendor fail after writing its artifacts.
	fail map[string]bool
	// allArchs makes the named vendors report every given arch, like a
	// script build.
	allArchs map[string][]string
}

var errToolFailed = errors.New("tool failed")

func (f *fakeToolchain) BuildVendor(ctx context.Context, v *manifest.Vendor, archs []string) ([]string, error) {
	f.calls = append(f.calls, buildCall{v.Name, slices.Clone(archs)})
	if all, ok := f.allArchs[v.Name]; ok {
		archs = all
	}
	for _, arch := range archs {
		dir := filepath.Join(v.PlatformOut(f.platform), arch)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(filepath.Join(dir, "lib"+v.Name+".a"), []byte(v.Name), 0o644); err != nil {
			return nil, err
		}
	}
	if f.fail[v.Name] {
		return nil, errToolFailed
	}
	return archs, nil
}

func (f *fakeToolchain) vendors() []string {
	var names []string
	for _, c := range f.calls {
		names = append(names, c.vendor)
	}
	return names
}

type fakePublisher struct {
	calls [][]string
	dirs  []string
}

func (p *fakePublisher) Publish(ctx context.Context, libraryDirs []string, outPath string, archs []string) error {
	p.calls = append(p.calls, slices.Clone(archs))
	p.dirs = slices.Clone(libraryDirs)
	for _, arch := range archs {
		dir := filepath.Join(outPath, arch)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(dir, "lib"+filepath.Base(outPath)+".a"), nil, 0o644); err != nil {
			return err
		}
	}
	return nil
}

type countingRecorder struct {
	hits, builds, failures, publishes int
	removed                           []string
}

func (r *countingRecorder) CacheHit(string, int)             { r.hits++ }
func (r *countingRecorder) Built(string, int, time.Duration) { r.builds++ }
func (r *countingRecorder) Failed(string)                    { r.failures++ }
func (r *countingRecorder) Published(int)                    { r.publishes++ }
func (r *countingRecorder) Removed(dir string)               { r.removed = append(r.removed, dir) }

// loadGraph writes manifest to a temporary project and resolves it for
// linux.
func loadGraph(t *testing.T, dir, manifestJSON string) *manifest.Graph {
	t.Helper()
	path := filepath.Join(dir, "vendor.json")
	if err := os.WriteFile(path, []byte(manifestJSON), 0o644); err != nil {
		t.Fatal(err)
	}
	m, err := manifest.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	g, err := manifest.ResolveGraph(m, manifest.Options{Platform: "linux"})
	if err != nil {
		t.Fatalf("ResolveGraph: %v", err)
	}
	return g
}

type harness struct {
	graph *manifest.Graph
	tc    *fakeToolchain
	pub   *fakePublisher
	rec   *countingRecorder
	archs []string
	tool  string
}

// orchestrator returns a fresh Orchestrator, as a new process would use.
func (h *harness) orchestrator() *Orchestrator {
	var rec Recorder
	if h.rec != nil {
		rec = h.rec
	}
	return New(Options{
		Graph:       h.graph,
		Archs:       h.archs,
		Fingerprint: fingerprint.NewWithRevision(h.tool, func(string) string { return "rev1" }),
		Toolchain:   h.tc,
		Publisher:   h.pub,
		Lock:        lockedfile.Options{Timeout: 2 * time.Second},
		Recorder:    rec,
	})
}

func newHarness(t *testing.T, manifestJSON string, archs ...string) *harness {
	t.Helper()
	g := loadGraph(t, t.TempDir(), manifestJSON)
	return &harness{
		graph: g,
		tc:    &fakeToolchain{platform: "linux", fail: map[string]bool{}, allArchs: map[string][]string{}},
		pub:   &fakePublisher{},
		rec:   &countingRecorder{},
		archs: archs,
		tool:  "cmake 3.28",
	}
}
