package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/Siddhant-K-code/textembed/pkg/engine"
	"github.com/Siddhant-K-code/textembed/pkg/executor"
)

// stubEmbedder embeds each text as [len, -len] cast to the engine's dtype.
type stubEmbedder struct {
	dtype executor.EmbeddingDtype
}

func (s *stubEmbedder) WarmUp(ctx context.Context) error { return nil }

func (s *stubEmbedder) ProcessBatch(ctx context.Context, inputs []executor.Input) ([]executor.Embedding, []int, error) {
	embeddings := make([]executor.Embedding, len(inputs))
	usage := make([]int, len(inputs))
	for i, in := range inputs {
		if in.IsImage() {
			return nil, nil, &executor.InferenceError{Model: "stub", Err: fmt.Errorf("image input not supported")}
		}
		n := float32(len(in.Text))
		embeddings[i] = executor.CastEmbedding([]float32{n, -n}, s.dtype)
		usage[i] = in.Usage()
	}
	return embeddings, usage, nil
}

func (s *stubEmbedder) Dimension() int { return 2 }
func (s *stubEmbedder) Close() error   { return nil }

func newTestServer(t *testing.T, apiKeys []string, names ...string) (*Server, *engine.Array) {
	t.Helper()
	if len(names) == 0 {
		names = []string{"mini"}
	}

	argsList := make([]engine.Args, len(names))
	for i, n := range names {
		argsList[i] = engine.Args{Model: "model-" + n, ServedModelName: n, Workers: 1, BatchSize: 4}
	}
	array, err := engine.FromArgs(argsList, engine.Options{
		Factory: func(ctx context.Context, args engine.Args, log zerolog.Logger) (executor.Embedder, error) {
			return &stubEmbedder{dtype: args.EmbeddingDtype}, nil
		},
		Logger: zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("FromArgs failed: %v", err)
	}
	if err := array.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll failed: %v", err)
	}
	t.Cleanup(func() { _ = array.StopAll(context.Background()) })

	return NewServer(array, Options{Logger: zerolog.Nop(), APIKeys: apiKeys}), array
}

func postEmbedding(t *testing.T, handler http.Handler, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/embedding", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHandleEmbedding_SingleString(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := postEmbedding(t, s.Handler(), `{"input": "hello world"}`, nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp EmbeddingResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response JSON: %v", err)
	}
	if resp.Object != "list" || resp.Model != "mini" {
		t.Errorf("envelope = %q/%q", resp.Object, resp.Model)
	}
	if len(resp.Data) != 1 {
		t.Fatalf("data = %d entries, want 1", len(resp.Data))
	}
	if resp.Data[0].Index != 0 {
		t.Errorf("index = %d, want 0", resp.Data[0].Index)
	}
	// "hello world" is 11 characters.
	if resp.Usage.PromptTokens != 11 {
		t.Errorf("usage = %d, want 11", resp.Usage.PromptTokens)
	}
	if resp.ID == "" || resp.ID[:10] != "textembed-" {
		t.Errorf("id = %q, want textembed-<uuid>", resp.ID)
	}
}

func TestHandleEmbedding_ArrayOrderPreserved(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := postEmbedding(t, s.Handler(), `{"input": ["a", "bbb", "cc"]}`, nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Data []struct {
			Embedding []float64 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response JSON: %v", err)
	}
	if len(resp.Data) != 3 {
		t.Fatalf("data = %d entries, want 3", len(resp.Data))
	}
	wantLens := []float64{1, 3, 2}
	for i, obj := range resp.Data {
		if obj.Index != i {
			t.Errorf("data[%d].index = %d", i, obj.Index)
		}
		if obj.Embedding[0] != wantLens[i] {
			t.Errorf("data[%d] is not the embedding of input %d", i, i)
		}
	}
}

func TestHandleEmbedding_BinaryWireFormat(t *testing.T) {
	argsList := []engine.Args{{
		Model: "model-bin", ServedModelName: "bin",
		Workers: 1, BatchSize: 4,
		EmbeddingDtype: executor.DtypeBinary,
	}}
	array, err := engine.FromArgs(argsList, engine.Options{
		Factory: func(ctx context.Context, args engine.Args, log zerolog.Logger) (executor.Embedder, error) {
			return &stubEmbedder{dtype: args.EmbeddingDtype}, nil
		},
		Logger: zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("FromArgs failed: %v", err)
	}
	if err := array.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll failed: %v", err)
	}
	t.Cleanup(func() { _ = array.StopAll(context.Background()) })
	s := NewServer(array, Options{Logger: zerolog.Nop()})

	rec := postEmbedding(t, s.Handler(), `{"input": "x"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Data []struct {
			Embedding []int `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("binary embedding should serialize as integers: %v", err)
	}
	for _, bit := range resp.Data[0].Embedding {
		if bit != 0 && bit != 1 {
			t.Errorf("binary component = %d, want 0 or 1", bit)
		}
	}
}

func TestHandleEmbedding_UnknownModel(t *testing.T) {
	s, _ := newTestServer(t, nil, "A", "B")
	rec := postEmbedding(t, s.Handler(), `{"input": "x", "model": "Z"}`, nil)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}

	var body struct {
		Error struct {
			Type  string `json:"type"`
			Param struct {
				AvailableModels []string `json:"available_models"`
			} `json:"param"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("bad error JSON: %v", err)
	}
	if body.Error.Type != "model_not_found" {
		t.Errorf("error type = %q", body.Error.Type)
	}
	if len(body.Error.Param.AvailableModels) != 2 {
		t.Errorf("available models = %v, want [A B]", body.Error.Param.AvailableModels)
	}
}

func TestHandleEmbedding_MultiModelRouting(t *testing.T) {
	s, _ := newTestServer(t, nil, "A", "B")
	rec := postEmbedding(t, s.Handler(), `{"input": "x", "model": "A"}`, nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp EmbeddingResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response JSON: %v", err)
	}
	if resp.Model != "A" {
		t.Errorf("response model = %q, want A", resp.Model)
	}
}

func TestHandleEmbedding_BadRequests(t *testing.T) {
	s, _ := newTestServer(t, nil)
	handler := s.Handler()

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{"input": `},
		{"missing input", `{}`},
		{"empty array", `{"input": []}`},
		{"numeric input", `{"input": 42}`},
		{"bad modality", `{"input": "x", "modality": "audio"}`},
		{"bad base64", `{"input": "not-base64!!!", "modality": "image"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postEmbedding(t, handler, tt.body, nil)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestHandleEmbedding_MethodNotAllowed(t *testing.T) {
	s, _ := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/v1/embedding", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}

func TestAuth(t *testing.T) {
	s, _ := newTestServer(t, []string{"sk-good"})
	handler := s.Handler()

	rec := postEmbedding(t, handler, `{"input": "x"}`, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no key: status = %d, want 401", rec.Code)
	}

	rec = postEmbedding(t, handler, `{"input": "x"}`, map[string]string{"Authorization": "Bearer sk-bad"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad key: status = %d, want 401", rec.Code)
	}

	rec = postEmbedding(t, handler, `{"input": "x"}`, map[string]string{"Authorization": "Bearer sk-good"})
	if rec.Code != http.StatusOK {
		t.Errorf("good key: status = %d, want 200", rec.Code)
	}

	// Health stays open even with auth enabled.
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	healthRec := httptest.NewRecorder()
	handler.ServeHTTP(healthRec, req)
	if healthRec.Code != http.StatusOK {
		t.Errorf("health: status = %d, want 200", healthRec.Code)
	}
}

func TestHandleModels(t *testing.T) {
	s, _ := newTestServer(t, nil, "A", "B")
	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var list ModelList
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("bad response JSON: %v", err)
	}
	if list.Object != "list" || len(list.Data) != 2 {
		t.Fatalf("list = %+v", list)
	}
	if list.Data[0].ID != "A" || list.Data[1].ID != "B" {
		t.Errorf("model order = %q, %q, want A, B", list.Data[0].ID, list.Data[1].ID)
	}
}

func TestHealthAndRoot(t *testing.T) {
	s, _ := newTestServer(t, nil)
	handler := s.Handler()

	for _, path := range []string{"/health", "/"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("%s: status = %d, want 200", path, rec.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/no/such/path", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown path: status = %d, want 404", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	s, _ := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodOptions, "/v1/embedding", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS headers on preflight")
	}
}
