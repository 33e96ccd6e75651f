package toolchain

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/qiniu/x/log"

	"github.com/goplus/vbuild/internal/proc"
)

// transientSignatures mark failures caused by the machine rather than the
// sources; a command failing with one of them is run again.
var transientSignatures = []string{
	"Resource temporarily unavailable",
	"Device or resource busy",
	"Cannot allocate memory",
	"No space left on device",
	"ninja: build stopped",
}

const (
	maxRetryDelay = 5 * time.Second
	// maxCleanup bounds the partial objects removed before a retry.
	maxCleanup = 10
)

func isTransient(cmd *proc.Command, output string) bool {
	for _, sig := range transientSignatures {
		if strings.Contains(output, sig) {
			return true
		}
	}
	return strings.Contains(cmd.String(), "make") && strings.Contains(output, "Error 2")
}

func retryDelay(attempt int) time.Duration {
	return min(time.Duration(attempt)*time.Second, maxRetryDelay)
}

// run executes cmd, retrying transient failures up to b.maxRetries attempts
// in total. Failures are returned as *BuildError.
func (b *Builder) run(ctx context.Context, vendor, arch string, cmd *proc.Command) (*proc.Result, error) {
	cmd = b.platform.Wrap(cmd, arch)
	for attempt := 1; ; attempt++ {
		if attempt > 1 {
			log.Warnf("[RETRY] attempt %d/%d for command: %s", attempt, b.maxRetries, cmd)
			b.sleep(retryDelay(attempt))
		}
		res, err := b.runner.Run(ctx, cmd)
		if err == nil {
			return res, nil
		}
		berr := &BuildError{Vendor: vendor, Arch: arch, Command: cmd.String(), Dir: cmd.Dir, Err: err}
		var exitErr *proc.ExitError
		if !errors.As(err, &exitErr) {
			return res, berr
		}
		berr.ExitCode = exitErr.Result.ExitCode
		berr.Output = tail(exitErr.Result.Output(), 40)
		if attempt >= b.maxRetries {
			log.Errorf("[RETRY] all %d attempts failed for command: %s", b.maxRetries, cmd)
			berr.Listing = listDir(cmd.Dir)
			return res, berr
		}
		if !isTransient(cmd, exitErr.Result.Output()) {
			berr.Listing = listDir(cmd.Dir)
			return res, berr
		}
		log.Warnf("[RETRY] attempt %d/%d failed with a transient error, will retry", attempt, b.maxRetries)
		cleanupPartial(cmd.Dir)
	}
}

// cleanupPartial removes up to maxCleanup object files and CMakeCache.txt
// from dir so a retry does not link half-written objects.
func cleanupPartial(dir string) {
	if dir == "" {
		return
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	removed := 0
	for _, e := range entries {
		if removed >= maxCleanup {
			return
		}
		name := e.Name()
		if e.IsDir() || !(strings.HasSuffix(name, ".o") || strings.HasSuffix(name, ".obj") || name == "CMakeCache.txt") {
			continue
		}
		if os.Remove(filepath.Join(dir, name)) == nil {
			log.Debugf("[RETRY] cleaned up: %s", name)
			removed++
		}
	}
}
