package daemon

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockFile_TryLockUnlock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.pid.lock")
	lock := NewLockFile(path)

	require.NoError(t, lock.TryLock())
	_, err := os.Stat(path)
	require.NoError(t, err)

	require.NoError(t, lock.Unlock())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "lock file should be removed on unlock")
}

func TestLockFile_TryLock_AlreadyHeld(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.pid.lock")

	lock1 := NewLockFile(path)
	require.NoError(t, lock1.TryLock())
	defer lock1.Unlock()

	lock2 := NewLockFile(path)
	err := lock2.TryLock()
	assert.ErrorIs(t, err, ErrAlreadyLocked)
}

func TestLockFile_CreatesDirectory(t *testing.T) {
	nested := filepath.Join(t.TempDir(), "nested", "deep", "daemon.pid.lock")
	lock := NewLockFile(nested)

	require.NoError(t, lock.TryLock())
	defer lock.Unlock()

	_, err := os.Stat(nested)
	require.NoError(t, err)
}
