package engine

import (
	"fmt"
	"runtime"

	"github.com/Siddhant-K-code/textembed/pkg/executor"
)

// Args is the immutable configuration for a single model engine.
type Args struct {
	// Model is the model identifier: a directory containing the ONNX
	// export of a sentence-transformers checkpoint. Required.
	Model string

	// ServedModelName is the externally visible name clients address the
	// model by. Defaults to Model.
	ServedModelName string

	// TrustRemoteCode allows model archives to carry custom code. The
	// flag travels with the args for parity with upstream checkpoints;
	// the ONNX backend has no code to execute either way.
	TrustRemoteCode bool

	// Workers is the dispatcher worker count. Defaults to the CPU count.
	Workers int

	// BatchSize bounds request items per inference batch. Defaults to 32.
	BatchSize int

	// EmbeddingDtype selects the output representation. Defaults to float32.
	EmbeddingDtype executor.EmbeddingDtype
}

// WithDefaults fills unset optional fields.
func (a Args) WithDefaults() Args {
	if a.ServedModelName == "" {
		a.ServedModelName = a.Model
	}
	if a.Workers == 0 {
		a.Workers = runtime.NumCPU()
	}
	if a.BatchSize == 0 {
		a.BatchSize = 32
	}
	if a.EmbeddingDtype == "" {
		a.EmbeddingDtype = executor.DtypeFloat32
	}
	return a
}

// Validate checks the args after defaulting. Violations are ErrConfig.
func (a Args) Validate() error {
	if a.Model == "" {
		return fmt.Errorf("%w: model is required", ErrConfig)
	}
	if a.Workers < 1 {
		return fmt.Errorf("%w: workers must be >= 1, got %d", ErrConfig, a.Workers)
	}
	if a.BatchSize < 1 {
		return fmt.Errorf("%w: batch size must be >= 1, got %d", ErrConfig, a.BatchSize)
	}
	if _, err := executor.ParseDtype(string(a.EmbeddingDtype)); err != nil {
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return nil
}
