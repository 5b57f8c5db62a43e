// Package onnx runs sentence-transformer models through ONNX Runtime with
// a HuggingFace tokenizer. A model directory is expected to contain
// model.onnx and tokenizer.json, the layout produced by the optimum ONNX
// export of sentence-transformers checkpoints.
package onnx

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/daulet/tokenizers"
	ort "github.com/yalue/onnxruntime_go"

	vmath "github.com/Siddhant-K-code/textembed/pkg/math"
)

// maxTokens caps the sequence length to prevent OOM on pathological inputs.
const maxTokens = 512

var (
	runtimeOnce sync.Once
	runtimeErr  error
)

// ensureRuntime initializes the ONNX Runtime environment once per process.
// ONNXRUNTIME_SHARED_LIBRARY_PATH overrides the library lookup.
func ensureRuntime() error {
	runtimeOnce.Do(func() {
		if path := os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH"); path != "" {
			ort.SetSharedLibraryPath(path)
		}
		if !ort.IsInitialized() {
			runtimeErr = ort.InitializeEnvironment()
		}
	})
	return runtimeErr
}

// Model wraps one ONNX session and its tokenizer.
// Thread-safe for inference: ONNX Runtime handles concurrency internally.
type Model struct {
	session    *ort.DynamicAdvancedSession
	tokenizer  *tokenizers.Tokenizer
	inputNames []string
	dimension  int
	wantTypes  bool // model declares a token_type_ids input
}

// Load opens the model at dir. The embedding dimension is read from the
// session's output metadata.
func Load(dir string) (*Model, error) {
	if err := ensureRuntime(); err != nil {
		return nil, fmt.Errorf("initialize onnxruntime: %w", err)
	}

	modelPath := filepath.Join(dir, "model.onnx")
	tokenizerPath := filepath.Join(dir, "tokenizer.json")

	tk, err := tokenizers.FromFile(tokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer %s: %w", tokenizerPath, err)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		tk.Close()
		return nil, fmt.Errorf("read model info %s: %w", modelPath, err)
	}

	inputNames := make([]string, len(inputs))
	wantTypes := false
	for i := range inputs {
		inputNames[i] = inputs[i].Name
		if inputs[i].Name == "token_type_ids" {
			wantTypes = true
		}
	}
	outputNames := make([]string, len(outputs))
	for i := range outputs {
		outputNames[i] = outputs[i].Name
	}

	// The last axis of the first output is the embedding dimension for both
	// [batch, dim] and [batch, seq, dim] shaped models. Dynamic axes report
	// -1; those resolve on the first forward pass.
	dimension := 0
	if len(outputs) > 0 && len(outputs[0].Dimensions) > 0 {
		dims := outputs[0].Dimensions
		if last := int(dims[len(dims)-1]); last > 0 {
			dimension = last
		}
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath, inputNames, outputNames, nil)
	if err != nil {
		tk.Close()
		return nil, fmt.Errorf("create session %s: %w", modelPath, err)
	}

	return &Model{
		session:    session,
		tokenizer:  tk,
		inputNames: inputNames,
		dimension:  dimension,
		wantTypes:  wantTypes,
	}, nil
}

// tokenizedBatch holds padded, flattened encoder inputs for one batch.
type tokenizedBatch struct {
	ids    []int64
	mask   []int64
	types  []int64
	masks  [][]uint32 // per-sequence attention masks for pooling
	seqLen int
}

// tokenize encodes, truncates and pads all texts to a common length.
func (m *Model) tokenize(texts []string) tokenizedBatch {
	allIDs := make([][]int64, len(texts))
	allMasks := make([][]uint32, len(texts))
	allTypes := make([][]int64, len(texts))
	maxLen := 0

	for i, text := range texts {
		encoding := m.tokenizer.EncodeWithOptions(text, true,
			tokenizers.WithReturnAttentionMask(),
			tokenizers.WithReturnTypeIDs(),
		)

		ids := make([]int64, len(encoding.IDs))
		mask := make([]uint32, len(encoding.AttentionMask))
		typeIDs := make([]int64, len(encoding.TypeIDs))
		for j := range encoding.IDs {
			ids[j] = int64(encoding.IDs[j])
		}
		copy(mask, encoding.AttentionMask)
		for j := range encoding.TypeIDs {
			typeIDs[j] = int64(encoding.TypeIDs[j])
		}

		if len(ids) > maxTokens {
			ids = ids[:maxTokens]
			mask = mask[:maxTokens]
			typeIDs = typeIDs[:maxTokens]
		}

		allIDs[i] = ids
		allMasks[i] = mask
		allTypes[i] = typeIDs
		if len(ids) > maxLen {
			maxLen = len(ids)
		}
	}
	if maxLen == 0 {
		maxLen = 1
	}

	batch := tokenizedBatch{
		ids:    make([]int64, len(texts)*maxLen),
		mask:   make([]int64, len(texts)*maxLen),
		types:  make([]int64, len(texts)*maxLen),
		masks:  make([][]uint32, len(texts)),
		seqLen: maxLen,
	}

	for i := range allIDs {
		padded := make([]uint32, maxLen)
		copy(padded, allMasks[i])
		batch.masks[i] = padded
		for j := 0; j < len(allIDs[i]); j++ {
			idx := i*maxLen + j
			batch.ids[idx] = allIDs[i][j]
			batch.mask[idx] = int64(allMasks[i][j])
			batch.types[idx] = allTypes[i][j]
		}
		// Padding positions stay zero: PAD id, mask 0, type 0.
	}
	return batch
}

// EncodeBatch embeds all texts in one forward pass. Models that emit
// last_hidden_state are mean-pooled over the attention mask; models that
// emit a sentence embedding directly are used as-is. Vectors are
// L2-normalized, matching the sentence-transformers default.
func (m *Model) EncodeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	batch := m.tokenize(texts)
	shape := ort.NewShape(int64(len(texts)), int64(batch.seqLen))

	idsTensor, err := ort.NewTensor(shape, batch.ids)
	if err != nil {
		return nil, fmt.Errorf("create input_ids tensor: %w", err)
	}
	defer idsTensor.Destroy()

	maskTensor, err := ort.NewTensor(shape, batch.mask)
	if err != nil {
		return nil, fmt.Errorf("create attention_mask tensor: %w", err)
	}
	defer maskTensor.Destroy()

	inputs := []ort.Value{idsTensor, maskTensor}
	if m.wantTypes {
		typesTensor, err := ort.NewTensor(shape, batch.types)
		if err != nil {
			return nil, fmt.Errorf("create token_type_ids tensor: %w", err)
		}
		defer typesTensor.Destroy()
		inputs = append(inputs, typesTensor)
	}

	outputs := []ort.Value{nil}
	if err := m.session.Run(inputs, outputs); err != nil {
		return nil, fmt.Errorf("forward pass: %w", err)
	}
	if outputs[0] == nil {
		return nil, fmt.Errorf("forward pass returned no output")
	}

	result, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output type %T, expected *Tensor[float32]", outputs[0])
	}
	defer result.Destroy()

	data := result.GetData()
	outShape := result.GetShape()

	switch len(outShape) {
	case 2:
		// [batch, dim]: pooled sentence embeddings.
		dim := int(outShape[1])
		if m.dimension <= 0 {
			m.dimension = dim
		}
		vectors := make([][]float32, len(texts))
		for i := range texts {
			vec := make([]float32, dim)
			copy(vec, data[i*dim:(i+1)*dim])
			vectors[i] = vmath.NormalizeL2(vec)
		}
		return vectors, nil
	case 3:
		// [batch, seq, dim]: token embeddings, mean-pool over the mask.
		seqLen := int(outShape[1])
		dim := int(outShape[2])
		if m.dimension <= 0 {
			m.dimension = dim
		}
		vectors := make([][]float32, len(texts))
		for i := range texts {
			hidden := data[i*seqLen*dim : (i+1)*seqLen*dim]
			vec := vmath.MeanPool(hidden, batch.masks[i], seqLen, dim)
			vectors[i] = vmath.NormalizeL2(vec)
		}
		return vectors, nil
	default:
		return nil, fmt.Errorf("unexpected output rank %d", len(outShape))
	}
}

// Dimension returns the embedding dimension.
func (m *Model) Dimension() int {
	return m.dimension
}

// Close releases the session and tokenizer.
func (m *Model) Close() error {
	if m.tokenizer != nil {
		m.tokenizer.Close()
		m.tokenizer = nil
	}
	if m.session != nil {
		if err := m.session.Destroy(); err != nil {
			return err
		}
		m.session = nil
	}
	return nil
}
