package platform

import (
	"context"
	"strings"

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

func (r *fakeRunner) lines() []string {
	var out []string
	for _, c := range r.cmds {
		out = append(out, c.String())
	}
	return out
}

func (r *fakeRunner) find(prefix string) *proc.Command {
	for _, c := range r.cmds {
		if strings.HasPrefix(c.String(), prefix) {
			return c
		}
	}
	return nil
}

func envLookup(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}
