package locktree

import (
	"bytes"
	"errors"
	"fmt"
)

var (
	// ErrOrder is returned by Verify when the keys of the tree are not in strictly increasing order.
	ErrOrder = errors.New("tree keys out of order")

	// ErrSize is returned by Verify when the number of reachable nodes differs from the recorded size.
	ErrSize = errors.New("tree size mismatch")
)

type node struct {
	key         []byte
	value       []byte
	left, right *node
}

// tree is not synchronized. Every method expects the caller to hold the appropriate lock.
type tree struct {
	root *node
	size int
}

func newNode(key, value []byte) *node {
	return &node{
		key:   bytes.Clone(key),
		value: bytes.Clone(value),
	}
}

// insert returns true when a new node was created, and false when the value of an existing node was replaced.
func (t *tree) insert(key, value []byte) bool {
	slot := &t.root
	for *slot != nil {
		n := *slot
		switch c := Compare(key, n.key); {
		case c == 0:
			n.value = bytes.Clone(value)
			return false
		case c < 0:
			slot = &n.left
		default:
			slot = &n.right
		}
	}

	*slot = newNode(key, value)
	t.size++
	return true
}

func (t *tree) lookup(key []byte) ([]byte, bool) {
	n := t.root
	for n != nil {
		switch c := Compare(key, n.key); {
		case c == 0:
			return n.value, true
		case c < 0:
			n = n.left
		default:
			n = n.right
		}
	}

	return nil, false
}

// walk visits the nodes in key order, until f returns false. It returns false if the walk was stopped by f.
func (t *tree) walk(f func(key, value []byte) bool) bool {
	var visit func(*node) bool
	visit = func(n *node) bool {
		if n == nil {
			return true
		}

		return visit(n.left) && f(n.key, n.value) && visit(n.right)
	}

	return visit(t.root)
}

func (t *tree) height() int {
	var measure func(*node) int
	measure = func(n *node) int {
		if n == nil {
			return 0
		}

		return 1 + max(measure(n.left), measure(n.right))
	}

	return measure(t.root)
}

func (t *tree) verify() error {
	var (
		prev  []byte
		count int
		err   error
	)

	t.walk(func(key, _ []byte) bool {
		if count > 0 && Compare(prev, key) >= 0 {
			err = fmt.Errorf("%w: %x not before %x", ErrOrder, prev, key)
			return false
		}

		prev = key
		count++
		return true
	})

	if err != nil {
		return err
	}

	if count != t.size {
		return fmt.Errorf("%w: found %d nodes, expected %d", ErrSize, count, t.size)
	}

	return nil
}
