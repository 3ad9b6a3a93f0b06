package transcriber

import "sync"

type queueEntry[T any] struct {
	seq   uint64
	value T
}

// queue is a FIFO shared by one producer and one consumer. With a positive
// capacity a push onto a full queue evicts the oldest entry. Consumers peek
// with Front and remove with Advance once the entry has been handled, so a
// failed write leaves the entry in place for the next connection.
type queue[T any] struct {
	mu       sync.Mutex
	entries  []queueEntry[T]
	capacity int
	nextSeq  uint64
	closed   bool
	ready    chan struct{}
}

func newQueue[T any](capacity int) *queue[T] {
	return &queue[T]{
		capacity: capacity,
		ready:    make(chan struct{}, 1),
	}
}

// Push appends v and reports whether the oldest entry was evicted to make
// room. Pushes after Close are ignored.
func (q *queue[T]) Push(v T) (evicted bool) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	if q.capacity > 0 && len(q.entries) >= q.capacity {
		var zero queueEntry[T]
		q.entries[0] = zero
		q.entries = q.entries[1:]
		evicted = true
	}
	q.nextSeq++
	q.entries = append(q.entries, queueEntry[T]{seq: q.nextSeq, value: v})
	q.mu.Unlock()
	q.signal()
	return evicted
}

func (q *queue[T]) Front() (queueEntry[T], bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return queueEntry[T]{}, false
	}
	return q.entries[0], true
}

// Advance removes the front entry if it is still seq. An entry evicted
// while it was being handled is not removed twice.
func (q *queue[T]) Advance(seq uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) > 0 && q.entries[0].seq == seq {
		var zero queueEntry[T]
		q.entries[0] = zero
		q.entries = q.entries[1:]
	}
}

func (q *queue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		var zero T
		return zero, false
	}
	v := q.entries[0].value
	var zero queueEntry[T]
	q.entries[0] = zero
	q.entries = q.entries[1:]
	return v, true
}

func (q *queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Reset drops every entry and returns how many were dropped.
func (q *queue[T]) Reset() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.entries)
	q.entries = nil
	return n
}

// Close stops accepting pushes. Entries already queued stay readable.
func (q *queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

func (q *queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Ready fires after a push or Close. It may fire spuriously.
func (q *queue[T]) Ready() <-chan struct{} { return q.ready }

func (q *queue[T]) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
