package workers

import (
	"context"
	"sync"
)

// Future is the pending outcome of a submitted task.
type Future struct {
	started   chan struct{}
	done      chan struct{}
	startOnce sync.Once
	once      sync.Once
	err       error
}

func newFuture() *Future {
	return &Future{
		started: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (f *Future) markStarted() {
	f.startOnce.Do(func() { close(f.started) })
}

func (f *Future) complete(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// Started is closed once a worker has begun running the task. A task
// skipped because its context ended while queued never starts.
func (f *Future) Started() <-chan struct{} {
	return f.started
}

// Done is closed once the task has finished.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the task finishes or ctx is done, whichever comes first.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
