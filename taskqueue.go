package webcodecs

import (
	"sync"
	"sync/atomic"
)

// controlMessageQueue serializes the async operations queued against one
// AudioDecoder/AudioEncoder/VideoDecoder/VideoEncoder instance: a single
// goroutine drains a buffered channel of closures in submission order.
//
// When a task returns an error, onError is invoked exactly once (the codec
// uses this to close itself and fire its error callback). Later tasks still
// run: cleanup steps like backend frees must not be dropped just because an
// earlier step failed. Output suppression after an error is the codec's
// job, via its state.
type controlMessageQueue struct {
	tasks   chan func() error
	done    chan struct{}
	onError func(error)
	errored atomic.Bool
	closeMu sync.Mutex
	closed  bool
}

// newControlMessageQueue starts the queue's worker goroutine. onError is
// invoked (on the worker goroutine) the first time a task fails.
func newControlMessageQueue(onError func(error)) *controlMessageQueue {
	q := &controlMessageQueue{
		tasks:   make(chan func() error, 256),
		done:    make(chan struct{}),
		onError: onError,
	}
	go q.processLoop()
	return q
}

func (q *controlMessageQueue) processLoop() {
	defer close(q.done)
	for task := range q.tasks {
		if err := task(); err != nil {
			if q.errored.CompareAndSwap(false, true) && q.onError != nil {
				q.onError(err)
			}
		}
	}
}

// enqueue appends a task. It returns InvalidState if the queue has already
// been closed.
func (q *controlMessageQueue) enqueue(task func() error) error {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return stateErrorf("control message queue is closed")
	}
	q.tasks <- task
	return nil
}

// close stops accepting new tasks. Already-queued tasks still drain on the
// worker goroutine; close does not wait for them, so it is safe to call
// from inside an output callback.
func (q *controlMessageQueue) close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.tasks)
}

// wait blocks until the worker goroutine has drained every queued task.
// Only meaningful after close.
func (q *controlMessageQueue) wait() { <-q.done }
