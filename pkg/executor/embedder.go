package executor

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// TransformerEmbedder adapts a sentence-transformer Model to the Embedder
// contract. It owns the preprocessing (usage accounting), the forward pass
// and the dtype cast. The model is held by composition so tests can inject
// a fake backend.
type TransformerEmbedder struct {
	model Model
	name  string
	dtype EmbeddingDtype
	log   zerolog.Logger
	warm  atomic.Bool
}

// NewTransformerEmbedder wraps model for the served name and dtype.
func NewTransformerEmbedder(model Model, name string, dtype EmbeddingDtype, log zerolog.Logger) *TransformerEmbedder {
	return &TransformerEmbedder{
		model: model,
		name:  name,
		dtype: dtype,
		log:   log.With().Str("model", name).Logger(),
	}
}

// WarmUp runs one dummy inference so the first client request does not pay
// for lazy initialization. Safe to call more than once.
func (e *TransformerEmbedder) WarmUp(ctx context.Context) error {
	if e.warm.Load() {
		return nil
	}
	if _, err := e.model.EncodeBatch(ctx, []string{"warm up"}); err != nil {
		return &InferenceError{Model: e.name, Err: fmt.Errorf("warm-up: %w", err)}
	}
	e.warm.Store(true)
	e.log.Debug().Int("dimension", e.model.Dimension()).Msg("model warmed up")
	return nil
}

// ProcessBatch embeds all inputs in one forward pass, casts the result to
// the configured dtype and returns one usage count per input. The result is
// never partial: on model failure all inputs fail together.
func (e *TransformerEmbedder) ProcessBatch(ctx context.Context, inputs []Input) ([]Embedding, []int, error) {
	if len(inputs) == 0 {
		return nil, nil, ErrEmptyBatch
	}

	texts := make([]string, len(inputs))
	usage := make([]int, len(inputs))
	images := 0
	for i, in := range inputs {
		if in.IsImage() {
			images++
		}
		texts[i] = in.Text
		usage[i] = in.Usage()
	}
	if images > 0 {
		if images < len(inputs) {
			return nil, nil, ErrMixedBatch
		}
		return nil, nil, &InferenceError{
			Model: e.name,
			Err:   fmt.Errorf("model does not accept image input"),
		}
	}

	raw, err := e.model.EncodeBatch(ctx, texts)
	if err != nil {
		return nil, nil, &InferenceError{Model: e.name, Err: err}
	}
	if len(raw) != len(inputs) {
		return nil, nil, &InferenceError{
			Model: e.name,
			Err:   fmt.Errorf("model returned %d vectors for %d inputs", len(raw), len(inputs)),
		}
	}

	embeddings := make([]Embedding, len(raw))
	for i, vec := range raw {
		embeddings[i] = CastEmbedding(vec, e.dtype)
	}
	return embeddings, usage, nil
}

// Dimension returns the embedding dimension of the wrapped model.
func (e *TransformerEmbedder) Dimension() int {
	return e.model.Dimension()
}

// Close releases the wrapped model.
func (e *TransformerEmbedder) Close() error {
	return e.model.Close()
}
