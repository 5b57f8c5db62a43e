package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Siddhant-K-code/textembed/pkg/batch"
	"github.com/Siddhant-K-code/textembed/pkg/engine"
	"github.com/Siddhant-K-code/textembed/pkg/executor"
)

// errorBody is the OpenAI-style error envelope.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
	Param   any    `json:"param,omitempty"`
}

// writeError emits one error envelope with the given status.
func writeError(w http.ResponseWriter, status int, typ, msg string, param any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: errorDetail{
		Message: msg,
		Type:    typ,
		Code:    status,
		Param:   param,
	}})
}

// writeEngineError maps core errors onto HTTP statuses.
func writeEngineError(w http.ResponseWriter, err error) {
	var notFound *engine.ModelNotFoundError
	var inference *executor.InferenceError

	switch {
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, "model_not_found", notFound.Error(),
			map[string]any{"available_models": notFound.Available})
	case errors.Is(err, engine.ErrNotRunning):
		writeError(w, http.StatusServiceUnavailable, "not_running", err.Error(), nil)
	case errors.Is(err, executor.ErrEmptyBatch), errors.Is(err, executor.ErrMixedBatch):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), nil)
	case errors.Is(err, batch.ErrOverloaded):
		writeError(w, http.StatusTooManyRequests, "overloaded", err.Error(), nil)
	case errors.Is(err, batch.ErrShutdown):
		writeError(w, http.StatusServiceUnavailable, "shutting_down", err.Error(), nil)
	case errors.As(err, &inference):
		writeError(w, http.StatusInternalServerError, "inference_error", err.Error(), nil)
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), nil)
	}
}
