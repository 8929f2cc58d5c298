// Package lock serializes the load-modify-save cycle of the project store.
// Only one global lock exists; there is no per-project locking.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"projecttracker/pkg/metrics"
)

var ErrNotAcquired = errors.New("store write lock not acquired")

type Locker interface {
	// Lock blocks until the lock is held or ctx is done. The returned
	// function releases it and is safe to call more than once.
	Lock(ctx context.Context) (unlock func(), err error)
}

// LocalLocker is an in-process lock for a single replica.
type LocalLocker struct {
	sem chan struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{sem: make(chan struct{}, 1)}
}

func (l *LocalLocker) Lock(ctx context.Context) (func(), error) {
	start := time.Now()
	select {
	case l.sem <- struct{}{}:
		metrics.RecordLockWait("local", time.Since(start))
		var once sync.Once
		return func() { once.Do(func() { <-l.sem }) }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrNotAcquired, ctx.Err())
	}
}
