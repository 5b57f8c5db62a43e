package engine

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/Siddhant-K-code/textembed/pkg/executor"
	"github.com/Siddhant-K-code/textembed/pkg/executor/onnx"
)

// ONNXFactory returns the default embedder factory: it loads the ONNX
// export named by args.Model and wraps it with the dtype cast and usage
// accounting.
func ONNXFactory() EmbedderFactory {
	return func(ctx context.Context, args Args, log zerolog.Logger) (executor.Embedder, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		model, err := onnx.Load(args.Model)
		if err != nil {
			return nil, err
		}
		return executor.NewTransformerEmbedder(model, args.ServedModelName, args.EmbeddingDtype, log), nil
	}
}
