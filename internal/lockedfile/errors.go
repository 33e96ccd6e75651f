package lockedfile

import (
	"errors"
	"fmt"
	"time"
)

// ErrLockTimeout is matched by every *TimeoutError.
var ErrLockTimeout = errors.New("timeout waiting for build lock")

// TimeoutError reports a lock that stayed held past the wait timeout.
type TimeoutError struct {
	Path   string
	Waited time.Duration
	// Owner is nil when the marker could not be read at timeout.
	Owner *Owner
	Age   time.Duration
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("%v: %s (waited %s)", ErrLockTimeout, e.Path, e.Waited.Round(time.Second))
	if e.Owner != nil {
		msg += fmt.Sprintf(", held by pid %d on host %q for %s",
			e.Owner.PID, e.Owner.Hostname, e.Age.Round(time.Second))
	}
	return msg
}

func (e *TimeoutError) Unwrap() error { return ErrLockTimeout }
