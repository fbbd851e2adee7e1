package dispatch

import (
	"context"
	"sync"
)

// Future is the eventual result of a call. It settles exactly once.
type Future struct {
	done  chan struct{}
	once  sync.Once
	value any
	err   error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// settledFuture returns a future that already failed with err
func settledFuture(err error) *Future {
	f := newFuture()
	f.settle(nil, err)
	return f
}

// settle sets the result. It returns false if the future was already settled.
func (f *Future) settle(value any, err error) bool {
	settled := false
	f.once.Do(func() {
		f.value, f.err = value, err
		close(f.done)
		settled = true
	})
	return settled
}

// Done is closed when the future settles
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Await blocks until the future settles or ctx ends. Cancelling ctx only
// stops waiting, the call stays in flight.
func (f *Future) Await(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Settled reports whether the future has settled
func (f *Future) Settled() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}
