// Package batch implements the dynamic batching dispatcher: a per-model
// FIFO queue drained by a fixed pool of workers that coalesce queued
// requests into size- and time-bounded inference batches and fan the
// results back out to each submitter's completion handle.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/Siddhant-K-code/textembed/pkg/executor"
	"github.com/Siddhant-K-code/textembed/pkg/metrics"
)

// CollectTimeout bounds how long a worker waits for one more request while
// growing a batch. It is the extra latency a request can pay at steady
// state in exchange for larger batches.
const CollectTimeout = 50 * time.Millisecond

// Errors returned by the dispatcher.
var (
	// ErrShutdown fails requests still queued when the dispatcher stops.
	ErrShutdown = errors.New("dispatcher is shut down")
	// ErrOverloaded rejects submissions when a queue bound is configured
	// and reached.
	ErrOverloaded = errors.New("request queue is full")
)

// Dispatcher states.
const (
	stateNotStarted int32 = iota
	stateRunning
	stateDraining
	stateStopped
)

// Config sizes one dispatcher.
type Config struct {
	// Workers is the number of concurrent batch workers. Must be >= 1.
	Workers int

	// BatchSize bounds the number of request items per batch. Must be
	// >= 1. The bound is on items, not flattened inputs: a single item
	// larger than the bound still goes through intact.
	BatchSize int

	// QueueBound optionally bounds the queue; 0 keeps it unbounded.
	QueueBound int
}

// Dispatcher owns the request queue and the worker pool for one model.
type Dispatcher struct {
	embedder  executor.Embedder
	model     string
	workers   int
	batchSize int
	queue     *queue
	state     atomic.Int32
	cancel    context.CancelFunc
	ctx       context.Context
	wg        sync.WaitGroup
	log       zerolog.Logger
	metrics   *metrics.Metrics
}

// New creates a dispatcher for embedder. Workers are not spawned until
// Start. metrics may be nil.
func New(embedder executor.Embedder, model string, cfg Config, log zerolog.Logger, m *metrics.Metrics) (*Dispatcher, error) {
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("workers must be >= 1, got %d", cfg.Workers)
	}
	if cfg.BatchSize < 1 {
		return nil, fmt.Errorf("batch size must be >= 1, got %d", cfg.BatchSize)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		embedder:  embedder,
		model:     model,
		workers:   cfg.Workers,
		batchSize: cfg.BatchSize,
		queue:     newQueue(cfg.QueueBound),
		ctx:       ctx,
		cancel:    cancel,
		log:       log.With().Str("model", model).Logger(),
		metrics:   m,
	}, nil
}

// Start spawns the worker pool. Calling Start twice is an error.
func (d *Dispatcher) Start() error {
	if !d.state.CompareAndSwap(stateNotStarted, stateRunning) {
		return fmt.Errorf("dispatcher for model %s already started", d.model)
	}
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
	d.log.Info().Int("workers", d.workers).Int("batch_size", d.batchSize).
		Msg("batch workers started")
	return nil
}

// Submit enqueues one request. Non-blocking beyond the enqueue itself; the
// caller awaits the handle. Empty input lists are rejected before enqueue.
func (d *Dispatcher) Submit(inputs []executor.Input, h *Handle) error {
	if len(inputs) == 0 {
		return executor.ErrEmptyBatch
	}
	if d.state.Load() != stateRunning {
		return ErrShutdown
	}
	if err := d.queue.push(&request{inputs: inputs, handle: h}); err != nil {
		return err
	}
	d.metrics.SetQueueDepth(d.model, d.queue.depth())
	return nil
}

// Shutdown signals all workers to terminate, waits for them to exit, then
// fails everything still queued with ErrShutdown so no client is dropped
// silently. An in-flight batch is allowed to complete. Repeated shutdowns
// are no-ops.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	if !d.state.CompareAndSwap(stateRunning, stateDraining) {
		return nil
	}
	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	leftover := d.queue.drain()
	for _, req := range leftover {
		req.handle.fail(ErrShutdown)
	}
	if len(leftover) > 0 {
		d.log.Warn().Int("requests", len(leftover)).
			Msg("failed queued requests at shutdown")
	}
	d.metrics.SetQueueDepth(d.model, 0)
	d.state.Store(stateStopped)
	d.log.Info().Msg("dispatcher stopped")
	return nil
}

// QueueDepth returns the number of requests waiting in the queue.
func (d *Dispatcher) QueueDepth() int {
	return d.queue.depth()
}

// worker loops: block for one request, greedily collect more until the
// batch is full or a dequeue times out, run one inference, fan results out.
func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()
	log := d.log.With().Int("worker", id).Logger()
	log.Debug().Msg("worker started")

	for {
		// Once shutdown is signaled, requests still queued are left for
		// Shutdown to fail rather than picked up as a new batch.
		if d.ctx.Err() != nil {
			log.Debug().Msg("worker exiting")
			return
		}
		first, err := d.queue.pop(d.ctx, -1)
		if err != nil {
			// Shutdown signaled while waiting.
			log.Debug().Msg("worker exiting")
			return
		}

		requests := []*request{first}
		for len(requests) < d.batchSize {
			req, err := d.queue.pop(d.ctx, CollectTimeout)
			if err != nil {
				// Collection timed out, or shutdown arrived mid-collection;
				// either way the collected batch still runs to completion.
				break
			}
			requests = append(requests, req)
		}
		d.metrics.SetQueueDepth(d.model, d.queue.depth())

		d.process(log, requests)
	}
}

// process runs one batch and signals every handle in it. A panicking
// inference call fails the batch but never kills the worker.
func (d *Dispatcher) process(log zerolog.Logger, requests []*request) {
	defer func() {
		if r := recover(); r != nil {
			err := &executor.InferenceError{
				Model: d.model,
				Err:   fmt.Errorf("panic during batch: %v", r),
			}
			for _, req := range requests {
				req.handle.fail(err)
			}
			log.Error().Interface("panic", r).Msg("recovered from panic in batch worker")
		}
	}()

	// Flatten the per-request inputs; offsets is the index map back into
	// the flattened array.
	total := 0
	for _, req := range requests {
		total += len(req.inputs)
	}
	flat := make([]executor.Input, 0, total)
	offsets := make([]int, len(requests))
	for i, req := range requests {
		offsets[i] = len(flat)
		flat = append(flat, req.inputs...)
	}

	start := time.Now()
	// Shutdown must not cancel an in-flight batch.
	embeddings, usage, err := d.embedder.ProcessBatch(context.WithoutCancel(d.ctx), flat)
	elapsed := time.Since(start)

	if err != nil {
		d.metrics.RecordInferenceError(d.model)
		for _, req := range requests {
			req.handle.fail(err)
		}
		log.Error().Err(err).Int("items", len(requests)).Int("inputs", total).
			Msg("batch failed")
		return
	}

	for i, req := range requests {
		n := len(req.inputs)
		req.handle.complete(&Result{
			Embeddings: embeddings[offsets[i] : offsets[i]+n],
			Usage:      usage[offsets[i] : offsets[i]+n],
		})
	}

	d.metrics.ObserveBatch(d.model, len(requests), total, elapsed)
	log.Debug().Int("items", len(requests)).Int("inputs", total).
		Dur("elapsed", elapsed).Msg("processed batch")
}
