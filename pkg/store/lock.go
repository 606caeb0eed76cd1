package store

import (
	"context"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/glorpus-work/gvm/pkg/errors"
)

// Lock acquisition tuning. A short grace period absorbs another process
// finishing up; persistent contention surfaces as ErrLockHeld.
const (
	lockRetryInterval = 100 * time.Millisecond
	lockGracePeriod   = 10 * time.Second
)

// Lock acquires the exclusive root lock (an advisory file lock on R/.lock:
// flock on Unix, LockFileEx on Windows) and returns its release function.
// The lock must be held for the entire mutating operation, never released
// across intermediate steps.
func (m *Manager) Lock(ctx context.Context) (func(), error) {
	fl := flock.New(m.lockPath())

	graceCtx, cancel := context.WithTimeout(ctx, lockGracePeriod)
	defer cancel()

	locked, err := fl.TryLockContext(graceCtx, lockRetryInterval)
	if err != nil && graceCtx.Err() == nil {
		return nil, errors.Wrap(err, "acquiring root lock")
	}
	if !locked {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.Wrapf(errors.ErrLockHeld, "%s", m.lockPath())
	}

	return func() { _ = fl.Unlock() }, nil
}

func (m *Manager) lockPath() string {
	return filepath.Join(m.root, LockFileName)
}
