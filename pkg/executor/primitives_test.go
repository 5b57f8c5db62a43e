package executor

import (
	"encoding/json"
	"testing"

	"github.com/x448/float16"
)

func TestParseDtype(t *testing.T) {
	tests := []struct {
		input   string
		want    EmbeddingDtype
		wantErr bool
	}{
		{"float32", DtypeFloat32, false},
		{"float16", DtypeFloat16, false},
		{"binary", DtypeBinary, false},
		{"", DtypeFloat32, false},
		{"int8", "", true},
		{"FLOAT32", "", true},
	}
	for _, tt := range tests {
		got, err := ParseDtype(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseDtype(%q): expected error", tt.input)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseDtype(%q) failed: %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseDtype(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestCastEmbedding_Float32(t *testing.T) {
	raw := []float32{0.25, -1.5, 3.75}
	e := CastEmbedding(raw, DtypeFloat32)
	if e.Dtype != DtypeFloat32 {
		t.Fatalf("dtype = %q", e.Dtype)
	}
	if e.Dimension() != 3 {
		t.Fatalf("dimension = %d, want 3", e.Dimension())
	}
	for i, v := range raw {
		if e.Float32[i] != v {
			t.Errorf("component %d = %f, want %f", i, e.Float32[i], v)
		}
	}

	// The cast copies; mutating the source must not leak through.
	raw[0] = 99
	if e.Float32[0] == 99 {
		t.Error("cast aliased the input slice")
	}
}

func TestCastEmbedding_Float16RoundTrips(t *testing.T) {
	raw := []float32{0.1, -0.333333, 1024.5, 0}
	e := CastEmbedding(raw, DtypeFloat16)
	if e.Dtype != DtypeFloat16 {
		t.Fatalf("dtype = %q", e.Dtype)
	}
	for i, v := range e.Float32 {
		// Every component must be exactly representable in half precision.
		if float16.Fromfloat32(v).Float32() != v {
			t.Errorf("component %d = %f is not a half-precision value", i, v)
		}
	}
	// Rounding changes values that do not fit in 11 bits of mantissa.
	if e.Float32[0] == raw[0] {
		t.Error("expected 0.1 to round under half precision")
	}
}

func TestCastEmbedding_Binary(t *testing.T) {
	raw := []float32{0.5, -0.5, 0, 1e-7, -1e-7}
	e := CastEmbedding(raw, DtypeBinary)
	if e.Dtype != DtypeBinary {
		t.Fatalf("dtype = %q", e.Dtype)
	}
	want := []uint8{1, 0, 0, 1, 0}
	for i, b := range e.Binary {
		if b != want[i] {
			t.Errorf("bit %d = %d, want %d", i, b, want[i])
		}
	}
	if e.Dimension() != len(raw) {
		t.Errorf("dimension = %d, want %d", e.Dimension(), len(raw))
	}
}

func TestEmbeddingMarshalJSON(t *testing.T) {
	bin := CastEmbedding([]float32{1, -1, 2}, DtypeBinary)
	data, err := json.Marshal(bin)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(data) != "[1,0,1]" {
		t.Errorf("binary JSON = %s, want [1,0,1]", data)
	}

	f32 := CastEmbedding([]float32{0.5, 1.5}, DtypeFloat32)
	data, err = json.Marshal(f32)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(data) != "[0.5,1.5]" {
		t.Errorf("float32 JSON = %s, want [0.5,1.5]", data)
	}
}

func TestInputUsage(t *testing.T) {
	tests := []struct {
		name  string
		input Input
		want  int
	}{
		{"ascii text", Input{Text: "hello world"}, 11},
		{"empty text", Input{Text: ""}, 0},
		{"multibyte text", Input{Text: "héllo"}, 5},
		{"image bytes", Input{Image: make([]byte, 42)}, 42},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.input.Usage(); got != tt.want {
				t.Errorf("Usage() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestTextInputs(t *testing.T) {
	inputs := TextInputs([]string{"a", "b"})
	if len(inputs) != 2 {
		t.Fatalf("len = %d, want 2", len(inputs))
	}
	for i, in := range inputs {
		if in.IsImage() {
			t.Errorf("input %d unexpectedly an image", i)
		}
	}
	if inputs[1].Text != "b" {
		t.Errorf("input order not preserved")
	}
}
