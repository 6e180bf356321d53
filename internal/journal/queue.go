package journal

import "sync"

// Queue is an unbounded FIFO backed by a ring buffer that doubles once it
// is 70% full. Push never blocks; Pop blocks until an item arrives or the
// queue is closed and empty.
type Queue[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	ring   []T
	head   int
	count  int
	closed bool

	pushed int64
	popped int64
	grows  int
}

// QueueStats is a point-in-time view of a Queue.
type QueueStats struct {
	Len      int
	Capacity int
	Pushed   int64
	Popped   int64
	Grows    int
}

// NewQueue creates a queue with the given starting capacity.
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	q := &Queue[T]{ring: make([]T, capacity)}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends item. Returns false once the queue is closed.
func (q *Queue[T]) Push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	if (q.count+1)*10 >= len(q.ring)*7 {
		q.growLocked()
	}
	q.ring[(q.head+q.count)%len(q.ring)] = item
	q.count++
	q.pushed++
	q.cond.Signal()
	return true
}

// Pop removes the oldest item, blocking while the queue is empty and open.
// The second result is false once the queue is closed and drained.
func (q *Queue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.count == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.count == 0 {
		var zero T
		return zero, false
	}
	return q.takeLocked(), true
}

// Drain removes up to max items without blocking. max <= 0 takes everything.
func (q *Queue[T]) Drain(max int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.count
	if max > 0 && max < n {
		n = max
	}
	if n == 0 {
		return nil
	}
	out := make([]T, n)
	for i := range out {
		out[i] = q.takeLocked()
	}
	return out
}

// Close stops accepting items and wakes blocked consumers. Items already
// queued can still be popped.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Stats returns queue counters.
func (q *Queue[T]) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Len:      q.count,
		Capacity: len(q.ring),
		Pushed:   q.pushed,
		Popped:   q.popped,
		Grows:    q.grows,
	}
}

func (q *Queue[T]) takeLocked() T {
	var zero T
	item := q.ring[q.head]
	q.ring[q.head] = zero
	q.head = (q.head + 1) % len(q.ring)
	q.count--
	q.popped++
	return item
}

// growLocked doubles the ring, unwrapping it so head is 0.
func (q *Queue[T]) growLocked() {
	next := make([]T, len(q.ring)*2)
	n := copy(next, q.ring[q.head:])
	if n < q.count {
		copy(next[n:], q.ring[:q.count-n])
	}
	q.ring = next
	q.head = 0
	q.grows++
}
