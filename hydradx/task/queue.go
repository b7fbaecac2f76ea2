package task

import "sync"

// Queue is where callbacks are delivered, e.g. a caller's event loop.
type Queue interface {
	Dispatch(fn func())
}

// InlineQueue runs callbacks on the dispatching goroutine.
type InlineQueue struct{}

func (InlineQueue) Dispatch(fn func()) {
	fn()
}

// SerialQueue runs callbacks one at a time, in dispatch order, on its own goroutine.
type SerialQueue struct {
	ch       chan func()
	done     chan struct{}
	stopOnce sync.Once
	mu       sync.RWMutex
	stopped  bool
}

func NewSerialQueue(buffer int) *SerialQueue {
	q := &SerialQueue{ch: make(chan func(), buffer), done: make(chan struct{})}
	go func() {
		defer close(q.done)
		for fn := range q.ch {
			fn()
		}
	}()
	return q
}

// Dispatch enqueues fn. Callbacks dispatched after Stop are dropped.
func (q *SerialQueue) Dispatch(fn func()) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.stopped {
		return
	}
	q.ch <- fn
}

// Stop drains the queued callbacks and stops the worker
func (q *SerialQueue) Stop() {
	q.stopOnce.Do(func() {
		q.mu.Lock()
		q.stopped = true
		close(q.ch)
		q.mu.Unlock()
	})
	<-q.done
}
