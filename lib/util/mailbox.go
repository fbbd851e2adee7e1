package util

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// node is a single element of the mailbox list
type node[T any] struct {
	value *T
	next  atomic.Pointer[node[T]]
}

// Mailbox is an unbounded multi-producer single-consumer queue.
//
// Producers append with Push, which never blocks on the consumer. A single
// goroutine owned by the mailbox hands the items in push order to the
// channel returned by Recv. Items pushed by one goroutine (or by producers
// serialised by a lock) are delivered in exactly that order.
//
// Close stops accepting new items and lets the consumer drain what is queued,
// after which the Recv channel is closed. Abort additionally discards every
// item that was not delivered yet.
type Mailbox[T any] struct {
	head     atomic.Pointer[node[T]]
	tail     atomic.Pointer[node[T]]
	out      chan *T
	done     chan struct{}
	consumer sync.WaitGroup
	closed   atomic.Bool
	aborted  sync.Once
	pending  atomic.Int64
	// pushing counts Push calls between their closed check and their append
	pushing atomic.Int64

	mu   sync.Mutex
	cond *sync.Cond
}

// NewMailbox creates a mailbox and starts its delivery goroutine
func NewMailbox[T any]() *Mailbox[T] {
	sentinel := &node[T]{}

	q := &Mailbox[T]{
		out:  make(chan *T),
		done: make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	q.head.Store(sentinel)
	q.tail.Store(sentinel)

	q.consumer.Add(1)
	go q.deliver()

	return q
}

// Push appends an item. It returns false if the item is nil or the mailbox
// is closed.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (q *Mailbox[T]) Push(value *T) bool {
	if value == nil {
		return false
	}

	// the consumer does not stop while a push that saw the mailbox open is
	// still appending
	q.pushing.Add(1)
	if q.closed.Load() {
		q.pushing.Add(-1)
		q.wake()
		return false
	}

	n := &node[T]{value: value}
	var backoff uint8

	for {
		tail := q.tail.Load()
		next := tail.next.Load()
		if next == nil {
			if tail.next.CompareAndSwap(nil, n) {
				// another producer may already have moved the tail
				q.tail.CompareAndSwap(tail, n)
				q.pending.Add(1)
				q.pushing.Add(-1)
				q.wake()
				return true
			}
		} else {
			q.tail.CompareAndSwap(tail, next)
		}

		// exponential backoff under contention
		if backoff < 10 {
			backoff++
			for i := 0; i < 1<<backoff; i++ {
				runtime.Gosched()
			}
		}
		runtime.Gosched()
	}
}

// deliver moves items from the list to the out channel until the mailbox is
// closed and drained, or aborted
func (q *Mailbox[T]) deliver() {
	defer q.consumer.Done()
	defer close(q.out)

	for {
		select {
		case <-q.done:
			return
		default:
		}

		head := q.head.Load()
		next := head.next.Load()

		if next == nil {
			q.mu.Lock()
			for q.head.Load().next.Load() == nil && !q.drained() {
				q.cond.Wait()
			}
			empty := q.head.Load().next.Load() == nil
			q.mu.Unlock()

			if empty {
				return
			}
			continue
		}

		value := next.value
		select {
		case q.out <- value:
		case <-q.done:
			return
		}

		q.head.Store(next)
		next.value = nil
		q.pending.Add(-1)
	}
}

// wake signals the consumer. Taking the lock orders the signal after the
// consumer's empty check.
func (q *Mailbox[T]) wake() {
	q.mu.Lock()
	q.cond.Signal()
	q.mu.Unlock()
}

// drained reports whether no more items can arrive
func (q *Mailbox[T]) drained() bool {
	return q.closed.Load() && q.pushing.Load() == 0
}

// Recv returns the channel the items are delivered on. It is closed once the
// mailbox is closed and drained, or aborted.
func (q *Mailbox[T]) Recv() <-chan *T {
	return q.out
}

// Close stops accepting items. Queued items are still delivered.
func (q *Mailbox[T]) Close() {
	q.closed.Store(true)

	q.mu.Lock()
	q.cond.Broadcast()
	q.mu.Unlock()
}

// Abort closes the mailbox and discards every item not yet delivered. It
// returns after the delivery goroutine has stopped.
func (q *Mailbox[T]) Abort() {
	q.aborted.Do(func() {
		q.Close()
		close(q.done)
	})
	q.consumer.Wait()
}

// IsClosed returns true if the mailbox no longer accepts items
func (q *Mailbox[T]) IsClosed() bool {
	return q.closed.Load()
}

// Len returns the number of items pushed but not yet delivered
func (q *Mailbox[T]) Len() int {
	return int(q.pending.Load())
}
