package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	amerrors "github.com/Aman-CERP/amangrep/internal/errors"
)

const lockRetryDelay = 50 * time.Millisecond

// BuildLock serializes catalog writers across processes. Two amangrep
// processes pointed at the same tree must not build or maintain the
// same index concurrently; the loser waits for a bounded time and then
// reports contention instead of hanging. Lock files live outside the
// index directories so eviction and quarantine never race the lock
// itself.
type BuildLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

func NewBuildLock(path string) *BuildLock {
	return &BuildLock{path: path, flock: flock.New(path)}
}

// Acquire polls for the lock until ctx is cancelled. A deadline on ctx
// bounds the wait; expiry comes back as a retryable lock error.
func (l *BuildLock) Acquire(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("creating lock directory: %w", err)
	}

	acquired, err := l.flock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		if ctx.Err() != nil {
			return amerrors.New(amerrors.ErrCodeLockTimeout,
				"another process holds the build lock", ctx.Err())
		}
		return fmt.Errorf("acquiring build lock: %w", err)
	}
	if !acquired {
		return amerrors.New(amerrors.ErrCodeLockTimeout,
			"another process holds the build lock", nil)
	}

	l.locked = true
	return nil
}

// TryAcquire attempts the lock without waiting.
func (l *BuildLock) TryAcquire() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return false, fmt.Errorf("creating lock directory: %w", err)
	}

	acquired, err := l.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("acquiring build lock: %w", err)
	}
	if acquired {
		l.locked = true
	}
	return acquired, nil
}

// Release is safe to call when the lock is not held.
func (l *BuildLock) Release() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("releasing build lock: %w", err)
	}
	return nil
}

func (l *BuildLock) Path() string {
	return l.path
}

func (l *BuildLock) Held() bool {
	return l.locked
}
