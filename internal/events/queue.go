package events

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueClosed is returned by Push after Close.
var ErrQueueClosed = errors.New("queue closed")

// Queue is a bounded, single-consumer FIFO. Push blocks while the buffer is
// full and never drops. Close stops intake; Run keeps draining until every
// item pushed before Close has been handled.
type Queue[T any] struct {
	ch chan T

	mu     sync.RWMutex
	closed bool
	once   sync.Once
}

// NewQueue creates a queue holding up to size items before Push blocks.
func NewQueue[T any](size int) *Queue[T] {
	if size <= 0 {
		size = 1
	}
	return &Queue[T]{ch: make(chan T, size)}
}

// Push enqueues v, waiting for room if necessary.
func (q *Queue[T]) Push(v T) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	q.ch <- v
	return nil
}

// PushContext is Push with a cancellable wait.
func (q *Queue[T]) PushContext(ctx context.Context, v T) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.ch <- v:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops intake. It is safe to call more than once. Pushes already
// waiting for room finish before the channel is closed.
func (q *Queue[T]) Close() {
	q.once.Do(func() {
		q.mu.Lock()
		q.closed = true
		close(q.ch)
		q.mu.Unlock()
	})
}

// Len returns the number of buffered items.
func (q *Queue[T]) Len() int {
	return len(q.ch)
}

// Cap returns the buffer size.
func (q *Queue[T]) Cap() int {
	return cap(q.ch)
}

// Run hands every item to handle, in order, until the queue is closed and
// empty. Only one goroutine may call Run.
func (q *Queue[T]) Run(handle func(T)) {
	for v := range q.ch {
		handle(v)
	}
}
