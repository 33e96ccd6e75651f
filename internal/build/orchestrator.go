// Package build decides what needs building and drives vendor builds in
// dependency order, then publishes their combined libraries.
package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/qiniu/x/log"

	"github.com/goplus/vbuild/internal/lockedfile"
	"github.com/goplus/vbuild/internal/manifest"
)

// Toolchain builds one vendor for archs into its platform output directory
// and returns the archs it produced.
type Toolchain interface {
	BuildVendor(ctx context.Context, v *manifest.Vendor, archs []string) ([]string, error)
}

// Publisher combines the libraries found under libraryDirs into outPath
// for archs.
type Publisher interface {
	Publish(ctx context.Context, libraryDirs []string, outPath string, archs []string) error
}

// Fingerprinter returns the cache key of a vendor.
type Fingerprinter interface {
	Fingerprint(v *manifest.Vendor) (string, error)
}

// Recorder observes build events. Methods must be cheap.
type Recorder interface {
	CacheHit(vendor string, archs int)
	Built(vendor string, archs int, elapsed time.Duration)
	Failed(vendor string)
	Published(archs int)
	Removed(dir string)
}

type nopRecorder struct{}

func (nopRecorder) CacheHit(string, int)             {}
func (nopRecorder) Built(string, int, time.Duration) {}
func (nopRecorder) Failed(string)                    {}
func (nopRecorder) Published(int)                    {}
func (nopRecorder) Removed(string)                   {}

// Options configures an Orchestrator.
type Options struct {
	Graph *manifest.Graph
	// Archs are the architectures to build.
	Archs       []string
	Fingerprint Fingerprinter
	Toolchain   Toolchain
	// Publisher is required only when BuildAll is given a publish directory.
	Publisher Publisher
	Lock      lockedfile.Options
	// Recorder receives build events; leave it nil to drop them. A nil
	// pointer wrapped in the interface is not nil and is called as is.
	Recorder  Recorder
}

type state int

const (
	notVisited state = iota
	dependenciesBuilding
	built
	failed
)

// Orchestrator builds the vendors of one graph. It is not safe for
// concurrent use; other processes are excluded with directory locks.
type Orchestrator struct {
	graph *manifest.Graph
	archs []string
	fp    Fingerprinter
	tc    Toolchain
	pub   Publisher
	lock  lockedfile.Options
	rec   Recorder

	state map[*manifest.Vendor]state
	errs  map[*manifest.Vendor]error
	dirs  map[*manifest.Vendor][]string
	stack []string
	built []string
}

// New returns an Orchestrator for opts.Graph.
func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		graph: opts.Graph,
		archs: slices.Clone(opts.Archs),
		fp:    opts.Fingerprint,
		tc:    opts.Toolchain,
		pub:   opts.Publisher,
		lock:  opts.Lock,
		rec:   opts.Recorder,
		state: make(map[*manifest.Vendor]state),
		errs:  make(map[*manifest.Vendor]error),
		dirs:  make(map[*manifest.Vendor][]string),
	}
	if o.rec == nil {
		o.rec = nopRecorder{}
	}
	return o
}

// Built returns the names of the vendors rebuilt so far, in build order.
func (o *Orchestrator) Built() []string { return slices.Clone(o.built) }

// BuildVendor builds the vendor called name after its dependencies and
// returns the platform output directories of the vendor and of every
// transitive dependency, the vendor's own first.
func (o *Orchestrator) BuildVendor(ctx context.Context, name string) ([]string, error) {
	v, err := o.graph.Lookup(name)
	if err != nil {
		return nil, err
	}
	if err := o.buildVendor(ctx, v); err != nil {
		return nil, err
	}
	return slices.Clone(o.dirs[v]), nil
}

func (o *Orchestrator) buildVendor(ctx context.Context, v *manifest.Vendor) error {
	switch o.state[v] {
	case built:
		return nil
	case failed:
		return o.errs[v]
	case dependenciesBuilding:
		return manifest.CycleError(o.stack, v.Name)
	}
	o.state[v] = dependenciesBuilding
	o.stack = append(o.stack, v.Name)
	err := o.build(ctx, v)
	o.stack = o.stack[:len(o.stack)-1]
	if err != nil {
		o.state[v] = failed
		o.errs[v] = err
		o.rec.Failed(v.Name)
		return err
	}
	o.state[v] = built
	return nil
}

func (o *Orchestrator) build(ctx context.Context, v *manifest.Vendor) error {
	outPath := v.PlatformOut(o.graph.Platform)
	dirs := []string{outPath}
	for _, d := range v.Deps {
		if err := o.buildVendor(ctx, d.Vendor); err != nil {
			return err
		}
		for _, dir := range o.dirs[d.Vendor] {
			if !slices.Contains(dirs, dir) {
				dirs = append(dirs, dir)
			}
		}
	}
	o.dirs[v] = dirs

	fp, err := o.fp.Fingerprint(v)
	if err != nil {
		return err
	}
	queued := o.stale(outPath, fp)
	if len(queued) == 0 {
		log.Debugf("%s is up to date for %s", v.Name, o.graph.Platform)
		o.rec.CacheHit(v.Name, len(o.archs))
		return nil
	}
	return lockedfile.WithLock(outPath, o.lock, func() error {
		// Another process may have built it while we waited.
		if queued = o.stale(outPath, fp); len(queued) == 0 {
			log.Infof("%s was built by another process", v.Name)
			o.rec.CacheHit(v.Name, len(o.archs))
			return nil
		}
		return o.rebuild(ctx, v, outPath, fp, queued)
	})
}

// stale returns the archs whose record in dir does not match want.
func (o *Orchestrator) stale(dir, want string) []string {
	var queued []string
	for _, arch := range o.archs {
		if ReadRecord(dir, arch) != want {
			queued = append(queued, arch)
		}
	}
	return queued
}

func (o *Orchestrator) rebuild(ctx context.Context, v *manifest.Vendor, outPath, fp string, queued []string) error {
	for _, arch := range queued {
		if err := purge(outPath, arch); err != nil {
			return err
		}
	}
	if err := os.Remove(filepath.Join(outPath, legacyRecord)); err != nil && !os.IsNotExist(err) {
		return err
	}

	buildType := "release"
	if o.graph.Debug {
		buildType = "debug"
	}
	banner := v.Name + "-" + o.graph.Platform + "-" + buildType
	log.Infof("====================== build %s start ======================", banner)
	start := time.Now()
	archs, err := o.tc.BuildVendor(ctx, v, queued)
	if err != nil {
		return fmt.Errorf("build %s: %w", v.Name, err)
	}
	for _, arch := range archs {
		if err := writeRecord(outPath, arch, fp); err != nil {
			return err
		}
	}
	log.Infof("======================= build %s end =======================", banner)
	o.built = append(o.built, v.Name)
	o.rec.Built(v.Name, len(archs), time.Since(start))
	return nil
}

// Summary describes a BuildAll run.
type Summary struct {
	// Built lists the vendors rebuilt, in build order.
	Built []string
	// Dirs are the platform output directories of every vendor involved,
	// sorted.
	Dirs []string
	// Published lists the archs republished into the publish directory.
	Published []string
	// Removed lists output directories of vendors no longer declared.
	Removed []string
}

// BuildAll builds names, or every vendor of the graph when names is empty.
// With a publishDir, the static libraries of every vendor involved are
// combined there for each arch whose inputs changed. Output directories of
// vendors the manifest no longer declares are removed afterwards.
func (o *Orchestrator) BuildAll(ctx context.Context, names []string, publishDir string) (*Summary, error) {
	if len(names) == 0 {
		names = o.graph.Order
	}
	var dirs []string
	for _, name := range names {
		list, err := o.BuildVendor(ctx, name)
		if err != nil {
			return nil, err
		}
		for _, dir := range list {
			if !slices.Contains(dirs, dir) {
				dirs = append(dirs, dir)
			}
		}
	}
	slices.Sort(dirs)
	sum := &Summary{Dirs: dirs}

	if publishDir != "" && len(dirs) > 0 {
		published, err := o.publish(ctx, names, dirs, publishDir)
		if err != nil {
			return nil, err
		}
		sum.Published = published
	}
	removed, err := o.CollectGarbage(publishDir)
	if err != nil {
		return nil, err
	}
	sum.Removed = removed
	sum.Built = o.Built()
	return sum, nil
}

func joinNames(names []string) string { return "[" + strings.Join(names, ",") + "]" }
