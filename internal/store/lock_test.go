package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amerrors "github.com/Aman-CERP/amangrep/internal/errors"
)

func TestBuildLock_AcquireRelease(t *testing.T) {
	// Given: a lock path in a directory that does not exist yet
	path := filepath.Join(t.TempDir(), "locks", "abcd.lock")
	lock := NewBuildLock(path)

	// When: acquiring and releasing
	require.NoError(t, lock.Acquire(context.Background()))
	assert.True(t, lock.Held())
	require.NoError(t, lock.Release())
	assert.False(t, lock.Held())
}

func TestBuildLock_TryAcquire_SecondHolderFails(t *testing.T) {
	// Given: one holder of the lock
	path := filepath.Join(t.TempDir(), "build.lock")
	first := NewBuildLock(path)
	held, err := first.TryAcquire()
	require.NoError(t, err)
	require.True(t, held)
	defer first.Release()

	// When: a second instance tries the same file
	second := NewBuildLock(path)
	held, err = second.TryAcquire()

	// Then: it does not get the lock and does not error
	require.NoError(t, err)
	assert.False(t, held)
}

func TestBuildLock_Acquire_BoundedWaitReportsContention(t *testing.T) {
	// Given: a held lock and a short deadline for the contender
	path := filepath.Join(t.TempDir(), "build.lock")
	holder := NewBuildLock(path)
	held, err := holder.TryAcquire()
	require.NoError(t, err)
	require.True(t, held)
	defer holder.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	// When: the contender waits out its deadline
	err = NewBuildLock(path).Acquire(ctx)

	// Then: it gets a retryable lock-contention error, not a hang
	require.Error(t, err)
	assert.Equal(t, amerrors.ErrCodeLockTimeout, amerrors.GetCode(err))
	assert.True(t, amerrors.IsRetryable(err))
}

func TestBuildLock_ReleaseWithoutHold(t *testing.T) {
	lock := NewBuildLock(filepath.Join(t.TempDir(), "build.lock"))
	require.NoError(t, lock.Release())
	require.NoError(t, lock.Release())
}

func TestBuildLock_ReacquireAfterRelease(t *testing.T) {
	// Given: a lock that was held once and released
	path := filepath.Join(t.TempDir(), "build.lock")
	lock := NewBuildLock(path)
	require.NoError(t, lock.Acquire(context.Background()))
	require.NoError(t, lock.Release())

	// When: another instance wants it afterwards
	next := NewBuildLock(path)
	held, err := next.TryAcquire()

	// Then: the lock is free again
	require.NoError(t, err)
	assert.True(t, held)
	require.NoError(t, next.Release())
}
