// File: concurrency/ring.go
//
// RingQueue is a bounded lock-free MPMC queue used as each cport's RX
// queue, so the transport's receive path and a cport's worker goroutine
// never block each other under load. Vyukov-style sequence-numbered
// cells, adapted from momentics-hioload-ws/core/concurrency/lock_free_queue.go
// (generalized name, identical algorithm).
package concurrency

import "sync/atomic"

const cacheLinePad = 64

type cell[T any] struct {
	sequence atomic.Uint64
	data     T
}

// RingQueue is a fixed-capacity, power-of-two-sized MPMC ring buffer.
type RingQueue[T any] struct {
	head uint64
	_    [cacheLinePad]byte
	tail uint64
	_    [cacheLinePad]byte
	mask uint64
	cells []cell[T]
}

// NewRingQueue creates a queue whose capacity is rounded up to the next
// power of two, minimum 2.
func NewRingQueue[T any](capacity int) *RingQueue[T] {
	if capacity < 2 {
		capacity = 2
	}
	size := 1
	for size < capacity {
		size <<= 1
	}

	q := &RingQueue[T]{
		mask:  uint64(size - 1),
		cells: make([]cell[T], size),
	}
	for i := range q.cells {
		q.cells[i].sequence.Store(uint64(i))
	}
	return q
}

// Enqueue adds val, returning false if the queue is full.
func (q *RingQueue[T]) Enqueue(val T) bool {
	for {
		tail := atomic.LoadUint64(&q.tail)
		index := tail & q.mask
		c := &q.cells[index]
		seq := c.sequence.Load()
		dif := int64(seq) - int64(tail)

		switch {
		case dif == 0:
			if atomic.CompareAndSwapUint64(&q.tail, tail, tail+1) {
				c.data = val
				c.sequence.Store(tail + 1)
				return true
			}
		case dif < 0:
			return false
		default:
			// tail moved under us, retry
		}
	}
}

// Dequeue removes and returns the oldest item; ok is false if empty.
func (q *RingQueue[T]) Dequeue() (item T, ok bool) {
	for {
		head := atomic.LoadUint64(&q.head)
		index := head & q.mask
		c := &q.cells[index]
		seq := c.sequence.Load()
		dif := int64(seq) - int64(head+1)

		switch {
		case dif == 0:
			if atomic.CompareAndSwapUint64(&q.head, head, head+1) {
				item = c.data
				c.sequence.Store(head + q.mask + 1)
				return item, true
			}
		case dif < 0:
			var zero T
			return zero, false
		default:
			// head moved under us, retry
		}
	}
}

// Len reports an instantaneous, possibly-stale count of queued items.
func (q *RingQueue[T]) Len() int {
	tail := atomic.LoadUint64(&q.tail)
	head := atomic.LoadUint64(&q.head)
	if tail < head {
		return 0
	}
	return int(tail - head)
}
