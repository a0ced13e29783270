package locktree

// item is the position of a pending or granted operation in the lock queue.
type item struct {
	operation  *operation
	prev, next *item
}

// queue keeps the operations of a lock in the order they were requested.
type queue struct {
	first, last *item
}

func (q *queue) empty() bool {
	return q.first == nil
}

func (q *queue) rangeOver(f func(*operation)) {
	for i := q.first; i != nil; i = i.next {
		f(i.operation)
	}
}

func (q *queue) push(o *operation) *item {
	i := &item{operation: o}
	if q.empty() {
		q.first, q.last = i, i
		return i
	}

	q.last.next = i
	i.prev = q.last
	q.last = i
	return i
}

func (q *queue) remove(i *item) {
	if i.prev != nil {
		i.prev.next = i.next
	}

	if i.next != nil {
		i.next.prev = i.prev
	}

	if q.first == i {
		q.first = i.next
	}

	if q.last == i {
		q.last = i.prev
	}

	i.prev, i.next = nil, nil
}
