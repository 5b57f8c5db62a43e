package executor

import (
	"encoding/json"
	"fmt"

	"github.com/x448/float16"
)

// EmbeddingDtype selects the numeric representation of returned embeddings.
type EmbeddingDtype string

const (
	// DtypeFloat32 emits IEEE-754 single precision components.
	DtypeFloat32 EmbeddingDtype = "float32"
	// DtypeFloat16 emits components rounded through IEEE-754 half precision.
	DtypeFloat16 EmbeddingDtype = "float16"
	// DtypeBinary emits one 0/1 byte per component: 1 iff the pre-cast
	// float was strictly greater than zero.
	DtypeBinary EmbeddingDtype = "binary"
)

// ParseDtype validates a dtype string from config or CLI flags.
func ParseDtype(s string) (EmbeddingDtype, error) {
	switch EmbeddingDtype(s) {
	case DtypeFloat32, DtypeFloat16, DtypeBinary:
		return EmbeddingDtype(s), nil
	case "":
		return DtypeFloat32, nil
	default:
		return "", fmt.Errorf("unsupported embedding dtype %q (use 'float32', 'float16' or 'binary')", s)
	}
}

// Input is one element of an embedding request: either a text string or a
// pre-decoded image buffer. A single request never mixes the two kinds.
type Input struct {
	Text  string
	Image []byte
}

// IsImage reports whether the input carries an image buffer.
func (in Input) IsImage() bool {
	return in.Image != nil
}

// Usage returns the per-input usage count: code points for text, bytes for
// images. Usage is deliberately a character count rather than a tokenizer
// token count; clients depend on the shipped accounting.
func (in Input) Usage() int {
	if in.IsImage() {
		return len(in.Image)
	}
	return len([]rune(in.Text))
}

// TextInputs wraps plain strings as inputs.
func TextInputs(texts []string) []Input {
	inputs := make([]Input, len(texts))
	for i, t := range texts {
		inputs[i] = Input{Text: t}
	}
	return inputs
}

// Embedding is one output vector after the dtype cast. Exactly one of the
// value slices is populated depending on the dtype.
type Embedding struct {
	Dtype   EmbeddingDtype
	Float32 []float32 // float32 and float16 dtypes
	Binary  []uint8   // binary dtype
}

// CastEmbedding converts a raw float32 vector into the configured dtype.
// The cast is part of the public contract: callers observe the exact values.
func CastEmbedding(raw []float32, dtype EmbeddingDtype) Embedding {
	switch dtype {
	case DtypeFloat16:
		rounded := make([]float32, len(raw))
		for i, v := range raw {
			rounded[i] = float16.Fromfloat32(v).Float32()
		}
		return Embedding{Dtype: DtypeFloat16, Float32: rounded}
	case DtypeBinary:
		bits := make([]uint8, len(raw))
		for i, v := range raw {
			if v > 0 {
				bits[i] = 1
			}
		}
		return Embedding{Dtype: DtypeBinary, Binary: bits}
	default:
		out := make([]float32, len(raw))
		copy(out, raw)
		return Embedding{Dtype: DtypeFloat32, Float32: out}
	}
}

// Dimension returns the number of components in the vector.
func (e Embedding) Dimension() int {
	if e.Dtype == DtypeBinary {
		return len(e.Binary)
	}
	return len(e.Float32)
}

// MarshalJSON emits arrays of numbers for float dtypes and arrays of 0|1
// integers for the binary dtype.
func (e Embedding) MarshalJSON() ([]byte, error) {
	if e.Dtype == DtypeBinary {
		ints := make([]int, len(e.Binary))
		for i, b := range e.Binary {
			ints[i] = int(b)
		}
		return json.Marshal(ints)
	}
	return json.Marshal(e.Float32)
}
