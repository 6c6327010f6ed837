// Package dirlock guards a data directory so that only one process
// coordinates the GPU of a host at a time.
package dirlock

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

const (
	lockName   = ".silly-media.lock"
	retryDelay = 100 * time.Millisecond
)

// ErrHeld is returned when another process owns the directory.
var ErrHeld = errors.New("data directory is locked by another process")

// Lock is an exclusive flock(2) on <dir>/.silly-media.lock.
type Lock struct {
	fl *flock.Flock
}

// Acquire takes the lock, retrying until ctx is done. A ctx without deadline
// makes a single attempt.
func Acquire(ctx context.Context, dir string) (*Lock, error) {
	fl := flock.New(filepath.Join(dir, lockName))
	var (
		ok  bool
		err error
	)
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		ok, err = fl.TryLockContext(ctx, retryDelay)
	} else {
		ok, err = fl.TryLock()
	}
	if err != nil && ctx.Err() == nil {
		return nil, fmt.Errorf("lock %s: %w", fl.Path(), err)
	}
	if !ok {
		return nil, fmt.Errorf("lock %s: %w", fl.Path(), ErrHeld)
	}
	return &Lock{fl: fl}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.fl.Path() }

// Release unlocks; safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}
