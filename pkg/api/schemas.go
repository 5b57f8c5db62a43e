package api

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/Siddhant-K-code/textembed/pkg/executor"
)

// EmbeddingRequest is the JSON request body for /v1/embedding. Input
// accepts either a single string or an array of strings; with modality
// "image" each string is a base64-encoded image payload.
type EmbeddingRequest struct {
	Input    json.RawMessage `json:"input"`
	Model    string          `json:"model,omitempty"`
	Modality string          `json:"modality,omitempty"`
	User     string          `json:"user,omitempty"`
}

// Inputs decodes the request body into executor inputs.
func (r *EmbeddingRequest) Inputs() ([]executor.Input, error) {
	var texts []string
	var single string
	if err := json.Unmarshal(r.Input, &single); err == nil {
		texts = []string{single}
	} else if err := json.Unmarshal(r.Input, &texts); err != nil {
		return nil, fmt.Errorf("'input' must be a string or an array of strings")
	}
	if len(texts) == 0 {
		return nil, fmt.Errorf("'input' must not be empty")
	}

	switch r.Modality {
	case "", "text":
		return executor.TextInputs(texts), nil
	case "image":
		inputs := make([]executor.Input, len(texts))
		for i, t := range texts {
			buf, err := base64.StdEncoding.DecodeString(t)
			if err != nil {
				return nil, fmt.Errorf("input %d: invalid base64 image payload: %v", i, err)
			}
			inputs[i] = executor.Input{Image: buf}
		}
		return inputs, nil
	default:
		return nil, fmt.Errorf("unsupported modality %q (use 'text' or 'image')", r.Modality)
	}
}

// EmbeddingObject is one vector in the response.
type EmbeddingObject struct {
	Object    string             `json:"object"`
	Embedding executor.Embedding `json:"embedding"`
	Index     int                `json:"index"`
}

// UsageInfo aggregates per-input usage counts for the response envelope.
type UsageInfo struct {
	PromptTokens int `json:"prompt_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// EmbeddingResponse is the JSON response for /v1/embedding.
type EmbeddingResponse struct {
	Object  string            `json:"object"`
	Data    []EmbeddingObject `json:"data"`
	Model   string            `json:"model"`
	Usage   UsageInfo         `json:"usage"`
	ID      string            `json:"id"`
	Created int64             `json:"created"`
}

// ModelInfo describes one served model.
type ModelInfo struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	OwnedBy string         `json:"owned_by"`
	Created int64          `json:"created"`
	Stats   map[string]any `json:"stats,omitempty"`
}

// ModelList is the JSON response for /v1/models.
type ModelList struct {
	Object string      `json:"object"`
	Data   []ModelInfo `json:"data"`
}
