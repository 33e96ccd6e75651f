// Package proc runs external build tools as blocking calls.
package proc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/qiniu/x/log"
)

// Command describes one external process invocation.
type Command struct {
	Name string
	Args []string
	// Dir is the working directory; empty means the current one.
	Dir string
	// Env entries ("KEY=value") are appended to the parent environment.
	Env []string
}

// String renders the command line for diagnostics.
func (c *Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, quote(c.Name))
	for _, a := range c.Args {
		parts = append(parts, quote(a))
	}
	return strings.Join(parts, " ")
}

func quote(s string) string {
	if s == "" {
		return `""`
	}
	if strings.ContainsAny(s, " \t\"'") && s[0] != '"' && s[0] != '\'' {
		return `"` + s + `"`
	}
	return s
}

// Result is the outcome of a finished process.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Output returns stdout followed by stderr.
func (r *Result) Output() string {
	return r.Stdout + r.Stderr
}

// ExitError reports a process that ran but exited non-zero.
type ExitError struct {
	Command *Command
	Result  *Result
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("command %q in %s exited with code %d", e.Command.String(), e.Command.Dir, e.Result.ExitCode)
}

// Runner executes commands and blocks until they exit.
type Runner interface {
	Run(ctx context.Context, cmd *Command) (*Result, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	// Verbose streams child output to Stdout/Stderr while it runs.
	Verbose bool
	Stdout  io.Writer
	Stderr  io.Writer
}

// NewRunner returns an ExecRunner writing to the process's own streams.
func NewRunner(verbose bool) *ExecRunner {
	return &ExecRunner{Verbose: verbose, Stdout: os.Stdout, Stderr: os.Stderr}
}

// Run starts cmd and waits for it. Output is always captured; a non-zero
// exit is returned as *ExitError together with the Result.
func (r *ExecRunner) Run(ctx context.Context, cmd *Command) (*Result, error) {
	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr
	if r.Verbose {
		c.Stdout = io.MultiWriter(&stdout, writerOr(r.Stdout, os.Stdout))
		c.Stderr = io.MultiWriter(&stderr, writerOr(r.Stderr, os.Stderr))
	}

	log.Debugf("[EXEC] %s", cmd.String())
	if cmd.Dir != "" {
		log.Debugf("[EXEC] cwd: %s", cmd.Dir)
	}
	start := time.Now()
	err := c.Run()
	res := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, &ExitError{Command: cmd, Result: res}
		}
		return res, fmt.Errorf("run %q: %w", cmd.String(), err)
	}
	log.Debugf("[EXEC] completed in %s", res.Duration.Round(time.Millisecond))
	return res, nil
}

func writerOr(w, fallback io.Writer) io.Writer {
	if w != nil {
		return w
	}
	return fallback
}

// Output runs cmd and returns its trimmed combined output, or "" on any
// failure. It is meant for probing tool versions.
func Output(ctx context.Context, r Runner, cmd *Command) string {
	res, err := r.Run(ctx, cmd)
	if err != nil || res == nil {
		return ""
	}
	return strings.TrimSpace(res.Output())
}
