package lockedfile

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeClock advances only when the mutex sleeps.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func writeOwner(t *testing.T, path string, o Owner) {
	t.Helper()
	data, err := json.Marshal(o)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLockUnlock(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "not", "yet", "created")
	mu := MutexAt(filepath.Join(dir, LockName))

	unlock, err := mu.Lock()
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	data, err := os.ReadFile(mu.Path())
	if err != nil {
		t.Fatalf("marker not created: %v", err)
	}
	var o Owner
	if err := json.Unmarshal(data, &o); err != nil {
		t.Fatalf("marker content: %v", err)
	}
	if o.PID != os.Getpid() || o.Timestamp == 0 || o.Token == "" {
		t.Errorf("owner = %+v", o)
	}

	unlock()
	if _, err := os.Stat(mu.Path()); !os.IsNotExist(err) {
		t.Errorf("marker still present after unlock: %v", err)
	}
}

func TestWithLockMutualExclusion(t *testing.T) {
	dir := t.TempDir()
	var inside, maxInside, runs int32
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := WithLock(dir, Options{Timeout: time.Minute}, func() error {
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				atomic.AddInt32(&inside, -1)
				atomic.AddInt32(&runs, 1)
				return nil
			})
			if err != nil {
				t.Errorf("WithLock: %v", err)
			}
		}()
	}
	wg.Wait()
	if maxInside != 1 {
		t.Errorf("max concurrent holders = %d, want 1", maxInside)
	}
	if runs != 4 {
		t.Errorf("runs = %d, want 4", runs)
	}
}

func TestWithLockPropagatesError(t *testing.T) {
	dir := t.TempDir()
	want := errors.New("boom")
	if err := WithLock(dir, Options{}, func() error { return want }); !errors.Is(err, want) {
		t.Errorf("WithLock = %v, want %v", err, want)
	}
	if _, err := os.Stat(filepath.Join(dir, LockName)); !os.IsNotExist(err) {
		t.Error("lock not released after failing fn")
	}
}

func TestReclaimDeadOwner(t *testing.T) {
	dir := t.TempDir()
	mu := MutexAt(filepath.Join(dir, LockName))
	mu.alive = func(int) bool { return false }
	mu.sleep = func(time.Duration) { t.Fatal("waited for a lock whose owner is dead") }
	writeOwner(t, mu.Path(), Owner{PID: 424242, Timestamp: time.Now().UnixMilli(), Hostname: mu.hostname})

	unlock, err := mu.Lock()
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	defer unlock()

	_, owner, _ := mu.readOwner()
	if owner == nil || owner.PID != os.Getpid() {
		t.Errorf("owner after reclaim = %+v", owner)
	}
}

func TestReclaimByAge(t *testing.T) {
	dir := t.TempDir()
	mu := MutexWithOptions(filepath.Join(dir, LockName), Options{StaleThreshold: time.Minute})
	mu.sleep = func(time.Duration) { t.Fatal("waited for an expired lock") }
	writeOwner(t, mu.Path(), Owner{
		PID:       1,
		Timestamp: time.Now().Add(-2 * time.Minute).UnixMilli(),
		Hostname:  "some-other-host",
	})

	unlock, err := mu.Lock()
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	unlock()
}

func TestReclaimUnparsable(t *testing.T) {
	dir := t.TempDir()
	mu := MutexAt(filepath.Join(dir, LockName))
	mu.sleep = func(time.Duration) { t.Fatal("waited for a corrupt lock") }
	if err := os.WriteFile(mu.Path(), []byte("12345"), 0o644); err != nil {
		t.Fatal(err)
	}
	unlock, err := mu.Lock()
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	unlock()
}

func TestLockTimeout(t *testing.T) {
	dir := t.TempDir()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	mu := MutexWithOptions(filepath.Join(dir, LockName), Options{Timeout: 3 * time.Second})
	mu.now = clock.Now
	mu.sleep = clock.Sleep
	writeOwner(t, mu.Path(), Owner{PID: 77, Timestamp: clock.Now().UnixMilli(), Hostname: "build-agent-2"})

	_, err := mu.Lock()
	if !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("Lock = %v, want ErrLockTimeout", err)
	}
	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("error type %T, want *TimeoutError", err)
	}
	if te.Owner == nil || te.Owner.PID != 77 || te.Owner.Hostname != "build-agent-2" {
		t.Errorf("owner = %+v", te.Owner)
	}
	if te.Waited <= 3*time.Second {
		t.Errorf("waited = %v, want > 3s", te.Waited)
	}
	if _, err := os.Stat(mu.Path()); err != nil {
		t.Errorf("foreign lock was removed: %v", err)
	}
}

func TestReleaseKeepsForeignLock(t *testing.T) {
	dir := t.TempDir()
	mu := MutexAt(filepath.Join(dir, LockName))
	unlock, err := mu.Lock()
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	// another process reclaimed the lock and now owns it
	writeOwner(t, mu.Path(), Owner{PID: 99, Timestamp: time.Now().UnixMilli(), Hostname: "other"})
	unlock()
	if _, err := os.Stat(mu.Path()); err != nil {
		t.Errorf("release removed a lock it no longer owns: %v", err)
	}
}

func TestReclaimKeepsNewOwner(t *testing.T) {
	dir := t.TempDir()
	clock := &fakeClock{now: time.Now()}
	mu := MutexWithOptions(filepath.Join(dir, LockName), Options{Timeout: time.Second})
	mu.now = clock.Now
	mu.sleep = clock.Sleep
	writeOwner(t, mu.Path(), Owner{PID: 424242, Timestamp: clock.Now().UnixMilli(), Hostname: mu.hostname})

	fresh := Owner{PID: 31337, Timestamp: clock.Now().UnixMilli(), Hostname: "build-agent-2", Token: "fresh"}
	stop := make(chan struct{})
	var wg sync.WaitGroup
	var stolen atomic.Bool
	var once sync.Once
	mu.alive = func(int) bool {
		once.Do(func() {
			// a faster waiter reclaimed the dead lock and holds a new one,
			// while another process keeps trying to create the marker
			writeOwner(t, mu.Path(), fresh)
			tmp := filepath.Join(dir, "contender")
			if err := os.WriteFile(tmp, []byte("contender"), 0o644); err != nil {
				t.Error(err)
				return
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					select {
					case <-stop:
						return
					default:
					}
					if os.Link(tmp, mu.Path()) == nil {
						stolen.Store(true)
						return
					}
					runtime.Gosched()
				}
			}()
		})
		return false
	}

	_, err := mu.Lock()
	close(stop)
	wg.Wait()
	if !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("Lock = %v, want ErrLockTimeout", err)
	}
	if stolen.Load() {
		t.Fatal("live lock was removed and taken by a second process")
	}
	_, owner, _ := mu.readOwner()
	if owner == nil || owner.Token != "fresh" {
		t.Errorf("owner = %+v, want the new holder", owner)
	}
}

func TestReclaimWaitsForGuard(t *testing.T) {
	dir := t.TempDir()
	mu := MutexAt(filepath.Join(dir, LockName))
	mu.alive = func(int) bool { return false }
	writeOwner(t, mu.Path(), Owner{PID: 424242, Timestamp: time.Now().UnixMilli(), Hostname: mu.hostname})
	guard := mu.Path() + guardSuffix
	if err := os.WriteFile(guard, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		unlock, err := mu.Lock()
		if err == nil {
			unlock()
		}
		done <- err
	}()
	select {
	case err := <-done:
		t.Fatalf("Lock returned %v while the guard was held", err)
	case <-time.After(100 * time.Millisecond):
	}
	if _, err := os.Stat(mu.Path()); err != nil {
		t.Fatalf("stale marker removed without the guard: %v", err)
	}

	os.Remove(guard)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Lock: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Lock did not proceed after the guard was released")
	}
	if _, err := os.Stat(guard); !os.IsNotExist(err) {
		t.Errorf("guard left behind: %v", err)
	}
}

func TestAbandonedGuardIsBroken(t *testing.T) {
	dir := t.TempDir()
	mu := MutexAt(filepath.Join(dir, LockName))
	mu.alive = func(int) bool { return false }
	writeOwner(t, mu.Path(), Owner{PID: 424242, Timestamp: time.Now().UnixMilli(), Hostname: mu.hostname})
	guard := mu.Path() + guardSuffix
	if err := os.WriteFile(guard, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-2 * guardStale)
	if err := os.Chtimes(guard, old, old); err != nil {
		t.Fatal(err)
	}

	unlock, err := mu.Lock()
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	unlock()
}

func TestLockRecreatesVanishedDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	clock := &fakeClock{now: time.Now()}
	mu := MutexWithOptions(filepath.Join(dir, LockName), Options{Timeout: time.Minute})
	mu.now = clock.Now
	writeOwner(t, mu.Path(), Owner{PID: 77, Timestamp: clock.Now().UnixMilli(), Hostname: "build-agent-2"})

	waits := 0
	mu.sleep = func(d time.Duration) {
		waits++
		clock.Sleep(d)
		// a concurrent clean removes the whole output directory
		if err := os.RemoveAll(dir); err != nil {
			t.Error(err)
		}
	}

	unlock, err := mu.Lock()
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	defer unlock()
	if waits != 1 {
		t.Errorf("waited %d times, want 1", waits)
	}
	_, owner, _ := mu.readOwner()
	if owner == nil || owner.PID != os.Getpid() {
		t.Errorf("owner = %+v", owner)
	}
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		elapsed time.Duration
		jitter  float64
		want    time.Duration
	}{
		{0, 0, 100 * time.Millisecond},
		{0, 1, 130 * time.Millisecond},
		{time.Second, 0, 150 * time.Millisecond},
		{time.Hour, 0, 5 * time.Second},
	}
	for _, tt := range tests {
		if got := backoff(tt.elapsed, tt.jitter); got != tt.want {
			t.Errorf("backoff(%v, %v) = %v, want %v", tt.elapsed, tt.jitter, got, tt.want)
		}
	}
}
