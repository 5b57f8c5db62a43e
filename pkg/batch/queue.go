package batch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Siddhant-K-code/textembed/pkg/executor"
)

// errWaitTimeout is the internal dequeue-timeout marker used during batch
// collection. Never surfaces to callers.
var errWaitTimeout = errors.New("queue wait timed out")

// request is one enqueued submission.
type request struct {
	inputs []executor.Input
	handle *Handle
}

// queue is an unbounded FIFO shared by many submitters and the worker pool.
// Enqueue and dequeue are the only operations. An optional bound turns the
// logically unbounded queue into a rejecting one; 0 keeps it unbounded and
// the memory risk on the operator.
type queue struct {
	mu     sync.Mutex
	items  []*request
	signal chan struct{}
	bound  int
}

func newQueue(bound int) *queue {
	return &queue{
		signal: make(chan struct{}, 1),
		bound:  bound,
	}
}

// push appends one request, preserving submission order.
func (q *queue) push(r *request) error {
	q.mu.Lock()
	if q.bound > 0 && len(q.items) >= q.bound {
		q.mu.Unlock()
		return ErrOverloaded
	}
	q.items = append(q.items, r)
	q.mu.Unlock()
	q.wake()
	return nil
}

// pop removes the oldest request. A negative wait blocks until an item
// arrives or ctx is canceled; otherwise pop gives up with errWaitTimeout
// after the wait elapses.
func (q *queue) pop(ctx context.Context, wait time.Duration) (*request, error) {
	var timeout <-chan time.Time
	if wait >= 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		timeout = timer.C
	}

	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			r := q.items[0]
			q.items = q.items[1:]
			remaining := len(q.items)
			q.mu.Unlock()
			if remaining > 0 {
				// Keep other waiters from sleeping on a non-empty queue:
				// coalesced signals would otherwise strand them.
				q.wake()
			}
			return r, nil
		}
		q.mu.Unlock()

		select {
		case <-q.signal:
		case <-timeout:
			return nil, errWaitTimeout
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (q *queue) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// drain removes and returns everything still queued.
func (q *queue) drain() []*request {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

// depth returns the number of queued requests.
func (q *queue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
