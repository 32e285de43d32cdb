package daemon

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrAlreadyLocked is returned when a non-blocking lock acquisition fails
// because another process already holds it.
var ErrAlreadyLocked = fmt.Errorf("lock file is held by another process")

// LockFile is the exclusive lock a supervisor holds for the lifetime of
// the daemon process, living next to the PID file.
type LockFile struct {
	path  string
	flock *flock.Flock
}

// NewLockFile creates a lock file manager for the given path.
func NewLockFile(path string) *LockFile {
	return &LockFile{path: path, flock: flock.New(path)}
}

// Path returns the lock file path.
func (l *LockFile) Path() string {
	return l.path
}

// TryLock acquires the exclusive lock without blocking. It returns
// ErrAlreadyLocked if another process holds it.
func (l *LockFile) TryLock() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}

	acquired, err := l.flock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !acquired {
		return ErrAlreadyLocked
	}
	return nil
}

// Unlock releases the lock and removes the lock file.
func (l *LockFile) Unlock() error {
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	_ = os.Remove(l.path)
	return nil
}
