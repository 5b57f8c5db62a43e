package batch

import (
	"context"
	"sync"

	"github.com/Siddhant-K-code/textembed/pkg/executor"
)

// Result is what a successful submission resolves to: one embedding and one
// usage count per input, in input order.
type Result struct {
	Embeddings []executor.Embedding
	Usage      []int
}

type outcome struct {
	result *Result
	err    error
}

// Handle is the one-shot completion channel between a submitter and the
// dispatcher. The submitter creates it and awaits it; the dispatcher signals
// it exactly once with either a result or an error. An abandoned handle is
// still signaled and the result discarded.
type Handle struct {
	ch   chan outcome
	once sync.Once
}

// NewHandle creates an unsignaled handle.
func NewHandle() *Handle {
	return &Handle{ch: make(chan outcome, 1)}
}

// complete signals the handle with a result. Only the first signal wins.
func (h *Handle) complete(res *Result) {
	h.once.Do(func() {
		h.ch <- outcome{result: res}
	})
}

// fail signals the handle with an error. Only the first signal wins.
func (h *Handle) fail(err error) {
	h.once.Do(func() {
		h.ch <- outcome{err: err}
	})
}

// Await blocks until the dispatcher signals the handle or ctx is canceled.
// Cancellation abandons the handle; the in-flight batch is unaffected.
func (h *Handle) Await(ctx context.Context) (*Result, error) {
	select {
	case out := <-h.ch:
		return out.result, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
