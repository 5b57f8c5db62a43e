package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Siddhant-K-code/textembed/pkg/executor"
)

// fakeEmbedder implements executor.Embedder without a real model.
type fakeEmbedder struct {
	mu        sync.Mutex
	warmErr   error
	warmedUp  bool
	closed    bool
	processed int
}

func (f *fakeEmbedder) WarmUp(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.warmErr != nil {
		return f.warmErr
	}
	f.warmedUp = true
	return nil
}

func (f *fakeEmbedder) ProcessBatch(ctx context.Context, inputs []executor.Input) ([]executor.Embedding, []int, error) {
	f.mu.Lock()
	f.processed++
	f.mu.Unlock()
	embeddings := make([]executor.Embedding, len(inputs))
	usage := make([]int, len(inputs))
	for i, in := range inputs {
		embeddings[i] = executor.CastEmbedding([]float32{float32(len(in.Text))}, executor.DtypeFloat32)
		usage[i] = in.Usage()
	}
	return embeddings, usage, nil
}

func (f *fakeEmbedder) Dimension() int { return 1 }

func (f *fakeEmbedder) processedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.processed
}

func (f *fakeEmbedder) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func fakeFactory(emb *fakeEmbedder) EmbedderFactory {
	return func(ctx context.Context, args Args, log zerolog.Logger) (executor.Embedder, error) {
		return emb, nil
	}
}

func newTestEngine(t *testing.T, emb *fakeEmbedder) *Engine {
	t.Helper()
	e, err := New(Args{Model: "fake", ServedModelName: "fake", Workers: 1, BatchSize: 4},
		Options{Factory: fakeFactory(emb), Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return e
}

func TestEngineLifecycle(t *testing.T) {
	emb := &fakeEmbedder{}
	e := newTestEngine(t, emb)

	if e.Running() {
		t.Fatal("engine should not run before Start")
	}

	ctx := context.Background()
	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !e.Running() {
		t.Fatal("engine should run after Start")
	}
	if !emb.warmedUp {
		t.Error("Start must warm the model up")
	}

	// Double start raises an error.
	if err := e.Start(ctx); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("expected ErrAlreadyStarted, got %v", err)
	}

	if err := e.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if e.Running() {
		t.Fatal("engine should not run after Stop")
	}
	if !emb.closed {
		t.Error("Stop must close the embedder")
	}

	// Stop after stop is a no-op.
	if err := e.Stop(ctx); err != nil {
		t.Errorf("second Stop should be a no-op, got %v", err)
	}
}

func TestEngineStop_NeverStarted(t *testing.T) {
	e := newTestEngine(t, &fakeEmbedder{})
	if err := e.Stop(context.Background()); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
}

func TestEngineStart_WarmUpFailure(t *testing.T) {
	emb := &fakeEmbedder{warmErr: errors.New("cold model")}
	e := newTestEngine(t, emb)

	if err := e.Start(context.Background()); err == nil {
		t.Fatal("Start should fail when warm-up fails")
	}
	if e.Running() {
		t.Error("engine must not run after failed Start")
	}
	if !emb.closed {
		t.Error("failed Start must release the embedder")
	}
}

func TestEngineSubmit_RequiresRunning(t *testing.T) {
	e := newTestEngine(t, &fakeEmbedder{})

	if _, err := e.Submit(executor.TextInputs([]string{"x"})); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning before Start, got %v", err)
	}

	ctx := context.Background()
	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := e.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if _, err := e.Submit(executor.TextInputs([]string{"x"})); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning after Stop, got %v", err)
	}
}

func TestEngineSubmit_EmptyInputs(t *testing.T) {
	e := newTestEngine(t, &fakeEmbedder{})
	ctx := context.Background()
	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer func() { _ = e.Stop(ctx) }()

	if _, err := e.Submit(nil); !errors.Is(err, executor.ErrEmptyBatch) {
		t.Fatalf("expected ErrEmptyBatch, got %v", err)
	}
}

func TestEngineEmbed_RoundTrip(t *testing.T) {
	e := newTestEngine(t, &fakeEmbedder{})
	ctx := context.Background()
	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer func() { _ = e.Stop(ctx) }()

	awaitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	result, err := e.Embed(awaitCtx, executor.TextInputs([]string{"hello", "hi"}))
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(result.Embeddings) != 2 {
		t.Fatalf("expected 2 embeddings, got %d", len(result.Embeddings))
	}
	if result.Usage[0] != 5 || result.Usage[1] != 2 {
		t.Errorf("usage = %v, want [5 2]", result.Usage)
	}
	if e.Dimension() != 1 {
		t.Errorf("dimension = %d, want 1", e.Dimension())
	}
}

func TestEngineNew_InvalidArgs(t *testing.T) {
	_, err := New(Args{}, Options{Logger: zerolog.Nop()})
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}
