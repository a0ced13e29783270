package locktree

import (
	"context"
	"sync"
)

type lockType int

const (
	readLock lockType = iota
	writeLock
)

type operation struct {
	typ       lockType
	item      *item
	blockedBy int
	blocking  []*operation
	granted   chan struct{}
}

// RWLock is a reader/writer lock that grants access in the order of the requests. A request waits only for the
// earlier requests that conflict with it: read requests for earlier writes, write requests for any earlier
// request. Neither readers nor writers can be starved.
//
// The zero value is ready to use.
type RWLock struct {
	mx      sync.Mutex
	pending queue
}

func conflicts(a, b lockType) bool {
	return a == writeLock || b == writeLock
}

// NewRWLock creates a reader/writer lock. It is equivalent to new(RWLock).
func NewRWLock() *RWLock {
	return &RWLock{}
}

func (l *RWLock) enqueue(typ lockType) *operation {
	l.mx.Lock()
	defer l.mx.Unlock()
	o := &operation{
		typ:     typ,
		granted: make(chan struct{}),
	}

	l.pending.rangeOver(func(earlier *operation) {
		if conflicts(earlier.typ, o.typ) {
			o.blockedBy++
			earlier.blocking = append(earlier.blocking, o)
		}
	})

	o.item = l.pending.push(o)
	if o.blockedBy == 0 {
		close(o.granted)
	}

	return o
}

// release removes the operation from the queue, both when it was granted and when it was abandoned while
// waiting. Operations that were blocked by an abandoned one may still be blocked by others.
func (l *RWLock) release(o *operation) {
	l.mx.Lock()
	defer l.mx.Unlock()
	l.pending.remove(o.item)
	for _, b := range o.blocking {
		b.blockedBy--
		if b.blockedBy == 0 {
			close(b.granted)
		}
	}

	o.blocking = nil
}

func (l *RWLock) acquire(ctx context.Context, typ lockType) (func(), error) {
	o := l.enqueue(typ)
	release := func() { l.release(o) }
	select {
	case <-o.granted:
		return release, nil
	case <-ctx.Done():
		// the lock may have been granted concurrently with the cancellation, in which case it gets released
		// here, too
		release()
		return nil, ctx.Err()
	}
}

// Read acquires the lock in shared mode. It blocks until every earlier write request has been released or
// abandoned, or until ctx is done. On success, the returned function must be called to release the lock.
func (l *RWLock) Read(ctx context.Context) (func(), error) { return l.acquire(ctx, readLock) }

// Write acquires the lock in exclusive mode. It blocks until every earlier request has been released or
// abandoned, or until ctx is done. On success, the returned function must be called to release the lock.
func (l *RWLock) Write(ctx context.Context) (func(), error) { return l.acquire(ctx, writeLock) }
