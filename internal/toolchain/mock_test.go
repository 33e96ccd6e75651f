package toolchain

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goplus/vbuild/internal/platform"
	"github.com/goplus/vbuild/internal/proc"
)

type fakeRunner struct {
	cmds    []*proc.Command
	handler func(cmd *proc.Command) (*proc.Result, error)
}

func (r *fakeRunner) Run(ctx context.Context, cmd *proc.Command) (*proc.Result, error) {
	r.cmds = append(r.cmds, cmd)
	if r.handler != nil {
		return r.handler(cmd)
	}
	return &proc.Result{}, nil
}

func (r *fakeRunner) count(name string) int {
	n := 0
	for _, c := range r.cmds {
		if c.Name == name {
			n++
		}
	}
	return n
}

func exitWith(cmd *proc.Command, code int, output string) (*proc.Result, error) {
	res := &proc.Result{ExitCode: code, Stderr: output}
	return res, &proc.ExitError{Command: cmd, Result: res}
}

// ninjaWrites returns a handler whose ninja invocations drop lib<target>.a
// into the build directory.
func ninjaWrites(t *testing.T) func(cmd *proc.Command) (*proc.Result, error) {
	return func(cmd *proc.Command) (*proc.Result, error) {
		if cmd.Name == "ninja" {
			target := cmd.Args[len(cmd.Args)-1]
			if err := os.WriteFile(filepath.Join(cmd.Dir, "lib"+target+".a"), []byte(target), 0o644); err != nil {
				t.Errorf("write artifact: %v", err)
			}
		}
		return &proc.Result{}, nil
	}
}

func newBuilder(t *testing.T, r proc.Runner, opts Options) (*Builder, *[]time.Duration) {
	t.Helper()
	p, err := platform.New(context.Background(), platform.Linux, platform.Options{Runner: r})
	if err != nil {
		t.Fatalf("platform.New: %v", err)
	}
	opts.Platform = p
	opts.Runner = r
	if opts.Jobs == 0 {
		opts.Jobs = 4
	}
	b := New(opts)
	var sleeps []time.Duration
	b.sleep = func(d time.Duration) { sleeps = append(sleeps, d) }
	return b, &sleeps
}
