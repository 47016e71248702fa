package faceid

import (
	"fmt"
	"math"
)

// Embedding is a fixed-length face descriptor. Treat it as immutable once produced.
type Embedding []float64

// Dim returns the dimensionality of the embedding.
func (e Embedding) Dim() int {
	return len(e)
}

// Clone returns a copy that does not share storage with e.
func (e Embedding) Clone() Embedding {
	if e == nil {
		return nil
	}
	out := make(Embedding, len(e))
	copy(out, e)
	return out
}

// Float32 converts the embedding for float32 consumers (pgvector, hnsw).
func (e Embedding) Float32() []float32 {
	out := make([]float32, len(e))
	for i, v := range e {
		out[i] = float32(v)
	}
	return out
}

// FromFloat32 widens a float32 vector into an Embedding.
func FromFloat32(v []float32) Embedding {
	out := make(Embedding, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

// Distance returns the Euclidean distance between a and b.
// The sum of squares is accumulated before the single square root.
func Distance(a, b Embedding) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d != %d", ErrDimensionMismatch, len(a), len(b))
	}
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum), nil
}

// CheckDim validates e against the deployment dimensionality.
func CheckDim(e Embedding, dim int) error {
	if len(e) == 0 {
		return ErrEmptyEmbedding
	}
	if len(e) != dim {
		return fmt.Errorf("%w: want %d, got %d", ErrDimensionMismatch, dim, len(e))
	}
	for _, v := range e {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return ErrInvalidEmbedding
		}
	}
	return nil
}
