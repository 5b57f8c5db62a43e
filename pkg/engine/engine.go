// Package engine ties one embedder and one batch dispatcher into a single
// lifecycle unit, and groups engines into a named array for multi-model
// serving.
package engine

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/Siddhant-K-code/textembed/pkg/batch"
	"github.com/Siddhant-K-code/textembed/pkg/executor"
	"github.com/Siddhant-K-code/textembed/pkg/metrics"
)

// Engine lifecycle states.
const (
	stateCreated int32 = iota
	stateStarted
	stateStopped
)

// EmbedderFactory constructs the embedder when the engine starts, so model
// loading happens inside Start and tests can inject fakes.
type EmbedderFactory func(ctx context.Context, args Args, log zerolog.Logger) (executor.Embedder, error)

// Options carries the engine's dependencies.
type Options struct {
	// Factory builds the embedder. Defaults to the ONNX factory.
	Factory EmbedderFactory

	// Logger is used by the engine and its dispatcher.
	Logger zerolog.Logger

	// Metrics is optional shared instrumentation.
	Metrics *metrics.Metrics

	// QueueBound optionally bounds the dispatcher queue; 0 = unbounded.
	QueueBound int
}

// Engine owns one set of engine arguments, one embedder and one
// dispatcher. States: Created -> Started -> Stopped; Submit is valid only
// while started.
type Engine struct {
	args       Args
	opts       Options
	embedder   executor.Embedder
	dispatcher *batch.Dispatcher
	state      atomic.Int32
	log        zerolog.Logger
}

// New validates args (after defaulting) and creates an engine in the
// Created state. Nothing is loaded until Start.
func New(args Args, opts Options) (*Engine, error) {
	args = args.WithDefaults()
	if err := args.Validate(); err != nil {
		return nil, err
	}
	if opts.Factory == nil {
		opts.Factory = ONNXFactory()
	}
	return &Engine{
		args: args,
		opts: opts,
		log:  opts.Logger.With().Str("model", args.ServedModelName).Logger(),
	}, nil
}

// Args returns the engine arguments.
func (e *Engine) Args() Args {
	return e.args
}

// Running reports whether the engine accepts submissions.
func (e *Engine) Running() bool {
	return e.state.Load() == stateStarted
}

// Start loads the model, warms it up, then spawns the dispatcher workers.
// Warm-up runs before worker spawn so the first client request does not pay
// for lazy initialization; warm-up failure fails Start. Double-start is an
// error.
func (e *Engine) Start(ctx context.Context) error {
	if e.state.Load() == stateStarted {
		return fmt.Errorf("%w: model %s", ErrAlreadyStarted, e.args.ServedModelName)
	}

	embedder, err := e.opts.Factory(ctx, e.args, e.log)
	if err != nil {
		return fmt.Errorf("load model %s: %w", e.args.Model, err)
	}

	if err := embedder.WarmUp(ctx); err != nil {
		_ = embedder.Close()
		return fmt.Errorf("warm up model %s: %w", e.args.Model, err)
	}

	dispatcher, err := batch.New(embedder, e.args.ServedModelName, batch.Config{
		Workers:    e.args.Workers,
		BatchSize:  e.args.BatchSize,
		QueueBound: e.opts.QueueBound,
	}, e.log, e.opts.Metrics)
	if err != nil {
		_ = embedder.Close()
		return err
	}
	if err := dispatcher.Start(); err != nil {
		_ = embedder.Close()
		return err
	}

	e.embedder = embedder
	e.dispatcher = dispatcher
	e.state.Store(stateStarted)
	e.log.Info().
		Int("workers", e.args.Workers).
		Int("batch_size", e.args.BatchSize).
		Str("dtype", string(e.args.EmbeddingDtype)).
		Msg("engine started")
	return nil
}

// Stop shuts the dispatcher down, waits for the workers to exit and
// releases the model. Stopping an already-stopped engine warns and returns
// nil; stopping a never-started engine is ErrNotRunning.
func (e *Engine) Stop(ctx context.Context) error {
	switch e.state.Load() {
	case stateCreated:
		return fmt.Errorf("%w: model %s was never started", ErrNotRunning, e.args.ServedModelName)
	case stateStopped:
		e.log.Warn().Msg("engine already stopped")
		return nil
	}

	e.state.Store(stateStopped)
	if err := e.dispatcher.Shutdown(ctx); err != nil {
		return err
	}
	if err := e.embedder.Close(); err != nil {
		e.log.Warn().Err(err).Msg("closing embedder")
	}
	e.log.Info().Msg("engine stopped")
	return nil
}

// Submit validates the request and enqueues it, returning the completion
// handle the caller awaits. The handle is signaled exactly once by the
// dispatcher.
func (e *Engine) Submit(inputs []executor.Input) (*batch.Handle, error) {
	if e.state.Load() != stateStarted {
		return nil, fmt.Errorf("%w: start the engine before submitting", ErrNotRunning)
	}
	if len(inputs) == 0 {
		return nil, executor.ErrEmptyBatch
	}
	h := batch.NewHandle()
	if err := e.dispatcher.Submit(inputs, h); err != nil {
		return nil, err
	}
	return h, nil
}

// Embed is the submit-and-await convenience used by the HTTP and MCP
// adapters.
func (e *Engine) Embed(ctx context.Context, inputs []executor.Input) (*batch.Result, error) {
	h, err := e.Submit(inputs)
	if err != nil {
		return nil, err
	}
	return h.Await(ctx)
}

// Dimension returns the embedding dimension, or 0 before Start.
func (e *Engine) Dimension() int {
	if e.embedder == nil {
		return 0
	}
	return e.embedder.Dimension()
}

// QueueDepth returns the dispatcher queue depth, or 0 before Start.
func (e *Engine) QueueDepth() int {
	if e.dispatcher == nil {
		return 0
	}
	return e.dispatcher.QueueDepth()
}
