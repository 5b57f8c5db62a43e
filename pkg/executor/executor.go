// Package executor implements the inference side of the embedding server:
// the Embedder contract consumed by the batch dispatcher, the dtype cast,
// per-input usage accounting, and the bridge to the underlying model.
package executor

import (
	"context"
	"errors"
	"fmt"
)

// Common errors returned by embedders.
var (
	ErrEmptyBatch = errors.New("empty input batch")
	ErrMixedBatch = errors.New("batch mixes text and image inputs")
)

// Model is the raw inference backend: given a list of strings it returns
// one raw float32 vector per string, in order. Implementations must be safe
// for concurrent calls; the reference ONNX runtime is reentrant in
// inference-only mode.
type Model interface {
	// EncodeBatch embeds all texts in one forward pass.
	EncodeBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the embedding dimension.
	Dimension() int

	// Close releases model resources.
	Close() error
}

// Embedder turns a batch of inputs into dtype-cast embeddings plus
// per-input usage counts. One batch in, one result out: results are never
// partial, and input order is preserved.
type Embedder interface {
	// WarmUp performs one dummy inference to amortize lazy initialization.
	// Idempotent after the first success.
	WarmUp(ctx context.Context) error

	// ProcessBatch embeds inputs (all text or all image, never mixed) and
	// returns one embedding and one usage count per input, in input order.
	ProcessBatch(ctx context.Context, inputs []Input) ([]Embedding, []int, error)

	// Dimension returns the embedding dimension.
	Dimension() int

	// Close releases the underlying model.
	Close() error
}

// InferenceError wraps a failure inside the model forward pass. The
// dispatcher fails the whole batch with it and keeps running.
type InferenceError struct {
	Model string
	Err   error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference failed for model %s: %v", e.Model, e.Err)
}

func (e *InferenceError) Unwrap() error {
	return e.Err
}
