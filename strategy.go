package locktree

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Locker is the concurrency control of a Tree. Read is used for lookups and Write for insertions and updates.
// Both block until the lock is acquired in the requested mode or until ctx is done. When an acquisition fails,
// nothing is held, and the context's error is returned. On success, the returned function releases the lock.
type Locker interface {
	Read(ctx context.Context) (func(), error)
	Write(ctx context.Context) (func(), error)
}

// Exclusive is a Locker with a single mode: both Read and Write take the same lock, and only one of them can
// hold it at a time.
type Exclusive struct {
	sem *semaphore.Weighted
}

var (
	_ Locker = (*Exclusive)(nil)
	_ Locker = (*RWLock)(nil)
)

// NewExclusive creates a Locker that serializes every operation.
func NewExclusive() *Exclusive {
	return &Exclusive{sem: semaphore.NewWeighted(1)}
}

func (e *Exclusive) acquire(ctx context.Context) (func(), error) {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	return func() { e.sem.Release(1) }, nil
}

// Read acquires the lock exclusively.
func (e *Exclusive) Read(ctx context.Context) (func(), error) { return e.acquire(ctx) }

// Write acquires the lock exclusively.
func (e *Exclusive) Write(ctx context.Context) (func(), error) { return e.acquire(ctx) }
