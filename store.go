package locktree

import (
	"bytes"
	"context"
	"time"

	"github.com/aryszka/locktree/internal/metrics"
)

// Variant names of the predefined trees, as they appear in the metrics.
const (
	VariantCoarse    = "coarse"
	VariantReadWrite = "readwrite"
	VariantCustom    = "custom"
)

// Tree is a sorted key-value container safe for concurrent use. Its concurrency control is defined by the
// Locker it was created with.
type Tree struct {
	lock    Locker
	variant string
	tree    tree
}

// New creates an empty tree protected by l.
func New(l Locker) *Tree {
	return newTree(l, VariantCustom)
}

// NewCoarse creates an empty tree where every operation, including lookups, is serialized by a single lock.
func NewCoarse() *Tree {
	return newTree(NewExclusive(), VariantCoarse)
}

// NewReadWrite creates an empty tree where lookups can proceed concurrently, while insertions and updates
// exclude every other operation.
func NewReadWrite() *Tree {
	return newTree(NewRWLock(), VariantReadWrite)
}

func newTree(l Locker, variant string) *Tree {
	return &Tree{lock: l, variant: variant}
}

// Variant returns the name of the locking variant of the tree.
func (t *Tree) Variant() string {
	return t.variant
}

func (t *Tree) acquire(ctx context.Context, mode string, method func(context.Context) (func(), error)) (func(), error) {
	start := time.Now()
	release, err := method(ctx)
	metrics.LockWait.WithLabelValues(t.variant, mode).Observe(time.Since(start).Seconds())
	return release, err
}

// PutContext stores value under key. If key is already present, its value is replaced. The tree keeps its own
// copy of both key and value. When ctx is done before the lock could be acquired, PutContext returns the
// context's error, and the tree is left unchanged.
func (t *Tree) PutContext(ctx context.Context, key, value []byte) error {
	release, err := t.acquire(ctx, "write", t.lock.Write)
	if err != nil {
		metrics.Operations.WithLabelValues(t.variant, "put", metrics.ResultInterrupted).Inc()
		return err
	}

	defer release()
	if t.tree.insert(key, value) {
		metrics.Operations.WithLabelValues(t.variant, "put", metrics.ResultInsert).Inc()
		metrics.Keys.WithLabelValues(t.variant).Inc()
		return nil
	}

	metrics.Operations.WithLabelValues(t.variant, "put", metrics.ResultUpdate).Inc()
	return nil
}

// GetContext returns a copy of the value stored under key. The boolean result is false when the key is not
// present, which is the only way to tell a missing key from an empty value. When ctx is done before the lock
// could be acquired, GetContext returns the context's error.
func (t *Tree) GetContext(ctx context.Context, key []byte) ([]byte, bool, error) {
	release, err := t.acquire(ctx, "read", t.lock.Read)
	if err != nil {
		metrics.Operations.WithLabelValues(t.variant, "get", metrics.ResultInterrupted).Inc()
		return nil, false, err
	}

	defer release()
	value, ok := t.tree.lookup(key)
	if !ok {
		metrics.Operations.WithLabelValues(t.variant, "get", metrics.ResultMiss).Inc()
		return nil, false, nil
	}

	metrics.Operations.WithLabelValues(t.variant, "get", metrics.ResultHit).Inc()
	return bytes.Clone(value), true, nil
}

// Put stores value under key, replacing the previous value if the key is already present. It blocks until the
// lock is acquired.
func (t *Tree) Put(key, value []byte) {
	// cannot fail, the background context is never done
	_ = t.PutContext(context.Background(), key, value)
}

// Get returns the value stored under key, and false if the key is not present. It blocks until the lock is
// acquired.
func (t *Tree) Get(key []byte) ([]byte, bool) {
	value, ok, _ := t.GetContext(context.Background(), key)
	return value, ok
}

func (t *Tree) read(f func()) {
	release, _ := t.lock.Read(context.Background())
	defer release()
	f()
}

// Len returns the number of keys stored in the tree.
func (t *Tree) Len() int {
	var n int
	t.read(func() { n = t.tree.size })
	return n
}

// Height returns the number of nodes on the longest path from the root. Since the tree is never rebalanced, it
// can be as large as Len.
func (t *Tree) Height() int {
	var h int
	t.read(func() { h = t.tree.height() })
	return h
}

// Verify checks that the keys of the tree are stored in strictly increasing order and that the number of
// reachable nodes matches Len. It returns an error wrapping ErrOrder or ErrSize when they don't.
func (t *Tree) Verify() error {
	var err error
	t.read(func() { err = t.tree.verify() })
	return err
}
