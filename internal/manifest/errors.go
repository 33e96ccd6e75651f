package manifest

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrConfig           = errors.New("invalid vendor config")
	ErrCyclicDependency = errors.New("cyclic dependency")
)

// ConfigError reports a malformed manifest or a reference that cannot be
// satisfied. It is raised before any build starts.
type ConfigError struct {
	Path   string
	Vendor string
	Err    error
}

func (e *ConfigError) Error() string {
	var sb strings.Builder
	sb.WriteString(ErrConfig.Error())
	if e.Path != "" {
		sb.WriteString(" ")
		sb.WriteString(e.Path)
	}
	if e.Vendor != "" {
		fmt.Fprintf(&sb, ": vendor %q", e.Vendor)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *ConfigError) Unwrap() error { return e.Err }

func (e *ConfigError) Is(target error) bool { return target == ErrConfig }

func configErrorf(path, vendor, format string, args ...any) error {
	return &ConfigError{Path: path, Vendor: vendor, Err: fmt.Errorf(format, args...)}
}

// CyclicDependencyError reports a vendor reached again while its own
// dependencies are still being processed.
type CyclicDependencyError struct {
	Path []string
}

func (e *CyclicDependencyError) Error() string {
	if len(e.Path) == 0 {
		return ErrCyclicDependency.Error()
	}
	return ErrCyclicDependency.Error() + ": " + strings.Join(e.Path, " -> ")
}

func (e *CyclicDependencyError) Unwrap() error { return ErrCyclicDependency }

// CycleError builds a CyclicDependencyError from the active stack and the
// vendor that closes the cycle.
func CycleError(stack []string, name string) error {
	start := 0
	for i, n := range stack {
		if n == name {
			start = i
			break
		}
	}
	path := append(append([]string{}, stack[start:]...), name)
	return &CyclicDependencyError{Path: path}
}
