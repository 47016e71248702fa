package faceid

import (
	"errors"
	"math"
	"math/rand"
	"testing"
)

func randomEmbedding(r *rand.Rand, dim int) Embedding {
	e := make(Embedding, dim)
	for i := range e {
		e[i] = r.Float64()*2 - 1
	}
	return e
}

func TestDistance(t *testing.T) {
	tests := []struct {
		name     string
		a, b     Embedding
		expected float64
	}{
		{"identical", Embedding{1, 2, 3}, Embedding{1, 2, 3}, 0},
		{"unit axis", Embedding{0, 0}, Embedding{1, 0}, 1},
		{"3-4-5", Embedding{0, 0}, Embedding{3, 4}, 5},
		{"negative components", Embedding{-1, -1}, Embedding{1, 1}, math.Sqrt(8)},
		{"empty", Embedding{}, Embedding{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Distance(tt.a, tt.b)
			if err != nil {
				t.Fatalf("Distance(%v, %v) error: %v", tt.a, tt.b, err)
			}
			if math.Abs(got-tt.expected) > 1e-12 {
				t.Errorf("Distance(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.expected)
			}
		})
	}
}

func TestDistanceDimensionMismatch(t *testing.T) {
	_, err := Distance(Embedding{1, 2}, Embedding{1, 2, 3})
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("Distance with mismatched dims: err = %v, want ErrDimensionMismatch", err)
	}
}

func TestDistanceProperties(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		a := randomEmbedding(r, 128)
		b := randomEmbedding(r, 128)

		self, _ := Distance(a, a)
		if self != 0 {
			t.Fatalf("Distance(e, e) = %v, want 0", self)
		}

		ab, _ := Distance(a, b)
		ba, _ := Distance(b, a)
		if ab != ba {
			t.Fatalf("Distance not symmetric: %v != %v", ab, ba)
		}
		if ab <= 0 {
			t.Fatalf("Distance of distinct vectors = %v, want > 0", ab)
		}
	}
}

func TestDistanceNearDuplicates(t *testing.T) {
	a := make(Embedding, 128)
	b := make(Embedding, 128)
	for i := range a {
		a[i] = 0.5
		b[i] = 0.5
	}
	b[17] += 1e-9

	got, _ := Distance(a, b)
	if math.Abs(got-1e-9) > 1e-15 {
		t.Errorf("Distance of near-duplicates = %v, want 1e-9", got)
	}
}

func TestCheckDim(t *testing.T) {
	tests := []struct {
		name string
		e    Embedding
		dim  int
		want error
	}{
		{"ok", Embedding{1, 2, 3}, 3, nil},
		{"empty", Embedding{}, 3, ErrEmptyEmbedding},
		{"short", Embedding{1, 2}, 3, ErrDimensionMismatch},
		{"nan", Embedding{1, math.NaN(), 3}, 3, ErrInvalidEmbedding},
		{"inf", Embedding{1, math.Inf(1), 3}, 3, ErrInvalidEmbedding},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckDim(tt.e, tt.dim)
			if tt.want == nil && err != nil {
				t.Fatalf("CheckDim(%v, %d) = %v, want nil", tt.e, tt.dim, err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Fatalf("CheckDim(%v, %d) = %v, want %v", tt.e, tt.dim, err, tt.want)
			}
		})
	}
}

func TestFloat32RoundTrip(t *testing.T) {
	e := Embedding{0.25, -0.5, 1}
	back := FromFloat32(e.Float32())
	for i := range e {
		if back[i] != e[i] {
			t.Errorf("component %d = %v, want %v", i, back[i], e[i])
		}
	}
}
