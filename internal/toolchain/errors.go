package toolchain

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
)

// ErrBuildFailed is matched by every BuildError.
var ErrBuildFailed = errors.New("build failed")

// maxListing bounds the build directory entries attached to a BuildError.
const maxListing = 50

// BuildError reports a vendor build that failed after its retries, or whose
// tool reported success without producing the expected artifact.
type BuildError struct {
	Vendor   string
	Arch     string
	Command  string
	Dir      string
	ExitCode int
	// Output is the tail of the failing command's output.
	Output string
	// Listing is a bounded listing of Dir, relative to it.
	Listing []string
	// MissingArtifact is set when Target produced no matching file.
	MissingArtifact bool
	Target          string
	Err             error
}

func (e *BuildError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "build %s", e.Vendor)
	if e.Arch != "" {
		fmt.Fprintf(&sb, " (%s)", e.Arch)
	}
	if e.MissingArtifact {
		fmt.Fprintf(&sb, ": could not find the library file matching %q in %s", e.Target, e.Dir)
		return sb.String()
	}
	fmt.Fprintf(&sb, ": %q in %s", e.Command, e.Dir)
	if e.ExitCode != 0 {
		fmt.Fprintf(&sb, " exited with code %d", e.ExitCode)
	} else if e.Err != nil {
		fmt.Fprintf(&sb, ": %v", e.Err)
	}
	return sb.String()
}

func (e *BuildError) Unwrap() error { return e.Err }

func (e *BuildError) Is(target error) bool { return target == ErrBuildFailed }

// Details renders the output tail and the directory listing for a
// diagnostic report.
func (e *BuildError) Details() string {
	var sb strings.Builder
	if e.Output != "" {
		sb.WriteString(e.Output)
		if !strings.HasSuffix(e.Output, "\n") {
			sb.WriteString("\n")
		}
	}
	if len(e.Listing) > 0 {
		fmt.Fprintf(&sb, "contents of %s:\n", e.Dir)
		for _, name := range e.Listing {
			sb.WriteString("  ")
			sb.WriteString(name)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// listDir returns up to maxListing entries below dir, relative to it, and
// a final "..." entry when there are more.
func listDir(dir string) []string {
	var list []string
	truncated := false
	filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || path == dir {
			return nil
		}
		if len(list) >= maxListing {
			truncated = true
			return fs.SkipAll
		}
		rel, _ := filepath.Rel(dir, path)
		if d.IsDir() {
			rel += string(filepath.Separator)
		}
		list = append(list, rel)
		return nil
	})
	if truncated {
		list = append(list, "...")
	}
	return list
}

// tail returns the last n lines of s.
func tail(s string, n int) string {
	s = strings.TrimRight(s, "\n")
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
