// Package filelock provides non-blocking exclusive locks keyed by name.
// Locks are held in-process and, when a directory is configured, also as
// flock files so separate sentinel processes exclude each other.
package filelock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/gofrs/flock"
)

// ErrLocked is returned when a key is already held.
var ErrLocked = errors.New("lock is held")

// FileLock wraps a flock file lock.
type FileLock struct {
	flock *flock.Flock
	path  string
}

// NewFileLock creates a new file lock for the given path.
// The lock file will be created at the specified path.
func NewFileLock(path string) *FileLock {
	return &FileLock{
		flock: flock.New(path),
		path:  path,
	}
}

// Path returns the lock file path.
func (fl *FileLock) Path() string {
	return fl.path
}

// TryLock attempts to acquire an exclusive lock on the file without blocking.
// Returns true if the lock was acquired, false if the lock is held by another process.
func (fl *FileLock) TryLock() (bool, error) {
	acquired, err := fl.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("failed to try lock on %s: %w", fl.path, err)
	}
	return acquired, nil
}

// Unlock releases the lock.
func (fl *FileLock) Unlock() error {
	if err := fl.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock on %s: %w", fl.path, err)
	}
	return nil
}

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// KeyedLocks hands out one exclusive lock per key.
type KeyedLocks struct {
	mu   sync.Mutex
	held map[string]*FileLock // nil value when no lock dir is configured
	dir  string
}

// NewKeyedLocks creates a lock set. An empty dir keeps locks in-process only.
func NewKeyedLocks(dir string) *KeyedLocks {
	return &KeyedLocks{held: make(map[string]*FileLock), dir: dir}
}

// LockPath returns the flock file used for key, or "" without a lock dir.
func (k *KeyedLocks) LockPath(key string) string {
	if k.dir == "" {
		return ""
	}
	return filepath.Join(k.dir, unsafeKeyChars.ReplaceAllString(key, "_")+".lock")
}

// Held reports whether key is currently held by this process.
func (k *KeyedLocks) Held(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	_, ok := k.held[key]
	return ok
}

// TryAcquire takes the lock for key without blocking. It returns ErrLocked
// (wrapped) when the key is held here or by another process. The returned
// release function is safe to call more than once.
func (k *KeyedLocks) TryAcquire(key string) (func() error, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if _, busy := k.held[key]; busy {
		return nil, fmt.Errorf("%s: %w", key, ErrLocked)
	}

	var fl *FileLock
	if path := k.LockPath(key); path != "" {
		if err := os.MkdirAll(k.dir, 0755); err != nil {
			return nil, fmt.Errorf("create lock directory %s: %w", k.dir, err)
		}
		fl = NewFileLock(path)
		ok, err := fl.TryLock()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%s (held by another process): %w", key, ErrLocked)
		}
	}
	k.held[key] = fl

	var once sync.Once
	return func() error {
		var err error
		once.Do(func() { err = k.release(key, fl) })
		return err
	}, nil
}

func (k *KeyedLocks) release(key string, fl *FileLock) error {
	k.mu.Lock()
	delete(k.held, key)
	k.mu.Unlock()

	if fl != nil {
		return fl.Unlock()
	}
	return nil
}
