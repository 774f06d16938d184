package filelock

import (
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
)

func TestFileLockTryLock(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "test.lock")

	first := NewFileLock(lockPath)
	ok, err := first.TryLock()
	if err != nil || !ok {
		t.Fatalf("TryLock() = %v, %v", ok, err)
	}

	// a second flock handle on the same file is excluded
	second := NewFileLock(lockPath)
	ok, err = second.TryLock()
	if err != nil {
		t.Fatalf("TryLock() error = %v", err)
	}
	if ok {
		t.Fatal("second handle should not acquire a held lock")
	}

	if err := first.Unlock(); err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
	ok, _ = second.TryLock()
	if !ok {
		t.Error("lock should be free after unlock")
	}
	second.Unlock()
}

func TestKeyedLocksInProcess(t *testing.T) {
	locks := NewKeyedLocks("")

	release, err := locks.TryAcquire("agent:a1")
	if err != nil {
		t.Fatalf("TryAcquire() error = %v", err)
	}
	if !locks.Held("agent:a1") {
		t.Error("key should be held")
	}

	if _, err := locks.TryAcquire("agent:a1"); !errors.Is(err, ErrLocked) {
		t.Errorf("expected ErrLocked, got %v", err)
	}
	if _, err := locks.TryAcquire("network"); err != nil {
		t.Errorf("different key should be free: %v", err)
	}

	if err := release(); err != nil {
		t.Fatalf("release() error = %v", err)
	}
	if err := release(); err != nil {
		t.Errorf("second release should be a no-op: %v", err)
	}
	if locks.Held("agent:a1") {
		t.Error("key still held after release")
	}
}

func TestKeyedLocksAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	a := NewKeyedLocks(dir)
	b := NewKeyedLocks(dir)

	release, err := a.TryAcquire("resource:cpu")
	if err != nil {
		t.Fatalf("TryAcquire() error = %v", err)
	}
	if want := filepath.Join(dir, "resource_cpu.lock"); a.LockPath("resource:cpu") != want {
		t.Errorf("LockPath() = %q, want %q", a.LockPath("resource:cpu"), want)
	}

	if _, err := b.TryAcquire("resource:cpu"); !errors.Is(err, ErrLocked) {
		t.Errorf("expected ErrLocked from second instance, got %v", err)
	}

	release()
	releaseB, err := b.TryAcquire("resource:cpu")
	if err != nil {
		t.Fatalf("lock should be free after release: %v", err)
	}
	releaseB()
}

func TestKeyedLocksConcurrent(t *testing.T) {
	locks := NewKeyedLocks(t.TempDir())

	const goroutines = 20
	var wg sync.WaitGroup
	var acquired int32
	releases := make(chan func() error, goroutines)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if release, err := locks.TryAcquire("store"); err == nil {
				atomic.AddInt32(&acquired, 1)
				releases <- release
			}
		}()
	}
	wg.Wait()
	close(releases)

	if acquired != 1 {
		t.Errorf("exactly one goroutine should acquire the key, got %d", acquired)
	}
	for release := range releases {
		release()
	}
}
