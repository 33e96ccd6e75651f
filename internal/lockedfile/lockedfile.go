// Package lockedfile provides a cross-process mutex backed by a marker file.
//
// A lock is a small JSON file created exclusively inside the guarded
// directory. It records the owning pid, host and creation time so that
// waiters can reclaim locks left behind by crashed or killed processes.
// Removals of the marker, by its owner or by a reclaiming waiter, are
// serialized through a short-lived sidecar file next to it.
package lockedfile

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io/fs"
	"math"
	mrand "math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"github.com/qiniu/x/log"
)

// LockName is the marker file created in a guarded directory.
const LockName = ".build.lock"

const (
	DefaultStaleThreshold = 15 * time.Minute
	DefaultTimeout        = DefaultStaleThreshold + 5*time.Minute

	baseDelay = 100 * time.Millisecond
	maxDelay  = 5 * time.Second

	guardSuffix = ".reclaim"
	guardPoll   = 10 * time.Millisecond
	guardStale  = 30 * time.Second
)

// Owner is the content of a lock marker.
type Owner struct {
	PID       int    `json:"pid"`
	Timestamp int64  `json:"timestamp"` // unix milliseconds
	Hostname  string `json:"hostname"`
	Token     string `json:"token,omitempty"`
}

// Age returns how long ago the lock was created.
func (o *Owner) Age(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(o.Timestamp))
}

// Options tunes lock acquisition. Zero values select the defaults.
type Options struct {
	// Timeout bounds the total wait for a held lock.
	Timeout time.Duration
	// StaleThreshold is the age after which a lock is reclaimed regardless
	// of whether its owner still runs.
	StaleThreshold time.Duration
}

// Mutex is a lock on a single marker file.
type Mutex struct {
	path string
	opts Options

	pid      int
	hostname string
	now      func() time.Time
	sleep    func(time.Duration)
	alive    func(pid int) bool
}

// MutexAt returns a mutex using the file at path as the lock marker.
func MutexAt(path string) *Mutex {
	return MutexWithOptions(path, Options{})
}

// MutexWithOptions is like MutexAt with explicit timeouts.
func MutexWithOptions(path string, opts Options) *Mutex {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.StaleThreshold <= 0 {
		opts.StaleThreshold = DefaultStaleThreshold
	}
	hostname, _ := os.Hostname()
	return &Mutex{
		path:     path,
		opts:     opts,
		pid:      os.Getpid(),
		hostname: hostname,
		now:      time.Now,
		sleep:    time.Sleep,
		alive:    processAlive,
	}
}

// Path returns the marker file path.
func (mu *Mutex) Path() string { return mu.path }

// WithLock runs fn while holding the lock of dir. The lock is released
// before WithLock returns, whether fn succeeded, failed or panicked.
func WithLock(dir string, opts Options, fn func() error) error {
	mu := MutexWithOptions(filepath.Join(dir, LockName), opts)
	start := time.Now()
	unlock, err := mu.Lock()
	if err != nil {
		return err
	}
	defer unlock()

	if waited := time.Since(start); waited > time.Second {
		log.Infof("[LOCK] acquired %s after %ds", mu.path, int(waited.Seconds()))
	} else {
		log.Debugf("[LOCK] acquired %s", mu.path)
	}
	return fn()
}

// Lock blocks until the lock is held or the timeout expires. The returned
// function releases the lock.
func (mu *Mutex) Lock() (unlock func(), err error) {
	dir := filepath.Dir(mu.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	start := mu.now()
	for {
		content, err := mu.tryCreate()
		if err == nil {
			return func() { mu.release(content) }, nil
		}
		switch {
		case errors.Is(err, fs.ErrExist):
			if mu.reclaimIfStale() {
				continue
			}
			if err := mu.wait(start); err != nil {
				return nil, err
			}
		case errors.Is(err, fs.ErrNotExist):
			// the directory vanished under a concurrent cleanup
			if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
				mu.sleep(baseDelay)
			}
			if mu.now().Sub(start) > mu.opts.Timeout {
				return nil, mu.timeoutError(start)
			}
		default:
			return nil, err
		}
	}
}

// tryCreate atomically creates the marker with its content in place, so a
// concurrent reader never observes an empty lock file.
func (mu *Mutex) tryCreate() ([]byte, error) {
	owner := Owner{
		PID:       mu.pid,
		Timestamp: mu.now().UnixMilli(),
		Hostname:  mu.hostname,
		Token:     newToken(),
	}
	content, err := json.Marshal(owner)
	if err != nil {
		return nil, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(mu.path), LockName+".tmp-*")
	if err != nil {
		return nil, err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	_, werr := tmp.Write(content)
	cerr := tmp.Close()
	if werr != nil {
		return nil, werr
	}
	if cerr != nil {
		return nil, cerr
	}
	if err := os.Link(tmpName, mu.path); err != nil {
		return nil, err
	}
	return content, nil
}

func (mu *Mutex) readOwner() (content []byte, owner *Owner, err error) {
	content, err = os.ReadFile(mu.path)
	if err != nil {
		return nil, nil, err
	}
	var o Owner
	if err := json.Unmarshal(content, &o); err != nil || o.Timestamp == 0 {
		return content, nil, nil
	}
	return content, &o, nil
}

// reclaimIfStale removes the current marker if its owner is provably gone
// or it outlived the stale threshold. It reports whether the caller should
// retry immediately.
func (mu *Mutex) reclaimIfStale() bool {
	content, owner, err := mu.readOwner()
	if err != nil {
		// released between our create attempt and this read
		return errors.Is(err, fs.ErrNotExist)
	}
	if !mu.isStale(owner) {
		return false
	}
	if owner != nil {
		log.Warnf("[LOCK] removing stale lock (%dmin old, pid %d on %s): %s",
			int(owner.Age(mu.now()).Minutes()), owner.PID, owner.Hostname, mu.path)
	} else {
		log.Warnf("[LOCK] removing unreadable lock: %s", mu.path)
	}
	return mu.reclaim(content)
}

func (mu *Mutex) isStale(owner *Owner) bool {
	if owner == nil {
		return true
	}
	if owner.Age(mu.now()) > mu.opts.StaleThreshold {
		return true
	}
	return owner.Hostname == mu.hostname && !mu.alive(owner.PID)
}

// reclaim removes the marker if it still holds the content judged stale.
// It reports whether the caller should retry at once.
func (mu *Mutex) reclaim(stale []byte) bool {
	unguard, err := mu.guard()
	if err != nil {
		log.Debugf("[LOCK] reclaim %s: %v", mu.path, err)
		return false
	}
	defer unguard()

	current, err := os.ReadFile(mu.path)
	if err != nil {
		return errors.Is(err, fs.ErrNotExist)
	}
	if !bytes.Equal(current, stale) {
		// another waiter reclaimed it first
		return true
	}
	if err := os.Remove(mu.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Errorf("[LOCK] failed to remove stale %s: %v", mu.path, err)
		return false
	}
	return true
}

// guard takes the sidecar that serializes every removal of the marker.
// The marker is only created while absent, so holding the guard makes a
// compare-then-remove atomic. A guard older than guardStale was left by a
// crashed process and is broken.
func (mu *Mutex) guard() (unguard func(), err error) {
	path := mu.path + guardSuffix
	for {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			f.Close()
			return func() { os.Remove(path) }, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, err
		}
		if fi, err := os.Stat(path); err == nil && time.Since(fi.ModTime()) > guardStale {
			log.Warnf("[LOCK] breaking abandoned %s", path)
			os.Remove(path)
			continue
		}
		time.Sleep(guardPoll)
	}
}

func (mu *Mutex) wait(start time.Time) error {
	elapsed := mu.now().Sub(start)
	if elapsed > mu.opts.Timeout {
		return mu.timeoutError(start)
	}
	if _, err := os.Stat(mu.path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	delay := backoff(elapsed, mrand.Float64())
	if delay > time.Second {
		log.Infof("[LOCK] waiting for build lock (%ds): %s", int(elapsed.Seconds()), mu.path)
	}
	mu.sleep(delay)
	return nil
}

// backoff returns the delay before the next attempt: exponential in the
// number of seconds already waited, capped, plus up to 30% jitter.
func backoff(elapsed time.Duration, jitter float64) time.Duration {
	attempt := math.Min(math.Floor(elapsed.Seconds()), 10)
	base := math.Min(float64(baseDelay)*math.Pow(1.5, attempt), float64(maxDelay))
	return time.Duration(base + jitter*0.3*base)
}

func (mu *Mutex) timeoutError(start time.Time) error {
	e := &TimeoutError{Path: mu.path, Waited: mu.now().Sub(start)}
	if _, owner, err := mu.readOwner(); err == nil && owner != nil {
		e.Owner = owner
		e.Age = owner.Age(mu.now())
	}
	return e
}

// release deletes the marker only while it still holds our content.
func (mu *Mutex) release(content []byte) {
	if unguard, err := mu.guard(); err == nil {
		defer unguard()
	}
	current, err := os.ReadFile(mu.path)
	if err != nil {
		return
	}
	if !bytes.Equal(current, content) {
		log.Warnf("[LOCK] lock %s was taken over by another process, leaving it in place", mu.path)
		return
	}
	if err := os.Remove(mu.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Errorf("[LOCK] failed to release %s: %v", mu.path, err)
		return
	}
	log.Debugf("[LOCK] released %s", mu.path)
}

func newToken() string {
	var b [8]byte
	rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
