// Package api implements the HTTP adapter over the engine array: request
// validation, model routing, the OpenAI-style embedding endpoint and the
// monitoring endpoints. Batching stays invisible to clients; the adapter
// submits, awaits the completion handle and serializes the result.
package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/Siddhant-K-code/textembed/pkg/engine"
	"github.com/Siddhant-K-code/textembed/pkg/metrics"
	"github.com/Siddhant-K-code/textembed/pkg/telemetry"
)

// Server routes HTTP requests to engines.
type Server struct {
	array     *engine.Array
	metrics   *metrics.Metrics
	tracer    *telemetry.Provider
	log       zerolog.Logger
	validKeys map[string]bool
}

// Options carries the server's dependencies.
type Options struct {
	Metrics *metrics.Metrics
	Tracer  *telemetry.Provider
	Logger  zerolog.Logger
	APIKeys []string
}

// NewServer creates the HTTP adapter for array.
func NewServer(array *engine.Array, opts Options) *Server {
	validKeys := make(map[string]bool)
	for _, key := range opts.APIKeys {
		key = strings.TrimSpace(key)
		if key != "" {
			validKeys[key] = true
		}
	}
	return &Server{
		array:     array,
		metrics:   opts.Metrics,
		tracer:    opts.Tracer,
		log:       opts.Logger,
		validKeys: validKeys,
	}
}

// Handler returns the routed handler with CORS, auth and metrics
// middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/embedding",
		s.metrics.Middleware("/v1/embedding", s.auth(s.handleEmbedding)))
	mux.HandleFunc("/v1/models",
		s.metrics.Middleware("/v1/models", s.auth(s.handleModels)))
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/", s.handleRoot)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// auth enforces bearer api-key auth when keys are configured.
func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	if len(s.validKeys) == 0 {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeError(w, http.StatusUnauthorized, "unauthorized", "Authorization header required", nil)
			return
		}
		token := strings.TrimPrefix(header, "Bearer ")
		if !s.validKeys[token] {
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid API key", nil)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleEmbedding(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "invalid_request", "Method not allowed", nil)
		return
	}

	var req EmbeddingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON: "+err.Error(), nil)
		return
	}

	inputs, err := req.Inputs()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), nil)
		return
	}

	eng, err := s.array.Lookup(req.Model)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	model := eng.Args().ServedModelName

	ctx := r.Context()
	if s.tracer != nil {
		var span trace.Span
		ctx, span = s.tracer.StartSubmit(ctx, model, len(inputs))
		defer span.End()
	}

	start := time.Now()
	result, err := eng.Embed(ctx, inputs)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	data := make([]EmbeddingObject, len(result.Embeddings))
	total := 0
	for i, emb := range result.Embeddings {
		data[i] = EmbeddingObject{Object: "embedding", Embedding: emb, Index: i}
		total += result.Usage[i]
	}

	s.log.Debug().
		Str("model", model).
		Int("inputs", len(inputs)).
		Dur("elapsed", time.Since(start)).
		Msg("embedding request served")

	resp := EmbeddingResponse{
		Object:  "list",
		Data:    data,
		Model:   model,
		Usage:   UsageInfo{PromptTokens: total, TotalTokens: total},
		ID:      "textembed-" + uuid.NewString(),
		Created: time.Now().Unix(),
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "invalid_request", "Method not allowed", nil)
		return
	}

	infos := make([]ModelInfo, 0, len(s.array.Engines()))
	for _, eng := range s.array.Engines() {
		args := eng.Args()
		infos = append(infos, ModelInfo{
			ID:      args.ServedModelName,
			Object:  "model",
			OwnedBy: "textembed",
			Created: time.Now().Unix(),
			Stats: map[string]any{
				"workers":     args.Workers,
				"batch_size":  args.BatchSize,
				"dtype":       string(args.EmbeddingDtype),
				"dimension":   eng.Dimension(),
				"queue_depth": eng.QueueDepth(),
			},
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(ModelList{Object: "list", Data: infos})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"message": "Health check done",
		"code":    http.StatusOK,
		"payload": map[string]int64{"unix": time.Now().Unix()},
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, http.StatusNotFound, "not_found", "No such endpoint", nil)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"message": "Text embedding inference service.",
		"code":    http.StatusOK,
		"endpoints": map[string]string{
			"embedding": "POST /v1/embedding",
			"models":    "GET /v1/models",
			"health":    "GET /health",
			"metrics":   "GET /metrics",
		},
	})
}
