// Package embed turns person crops into appearance vectors.
package embed

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
)

var (
	// ErrZeroVector is returned for an embedding that cannot be normalized.
	ErrZeroVector = errors.New("zero or non-finite embedding")
	// ErrDimension is returned when the model answers with an unexpected length.
	ErrDimension = errors.New("embedding dimension mismatch")
)

// Embedder computes an L2-normalized embedding of a person crop.
type Embedder interface {
	Embed(ctx context.Context, crop image.Image) ([]float32, error)
	// Model identifies the embedding model, recorded with every embedding.
	Model() string
	Dim() int
}

// Normalize scales v to unit length in place and returns it.
func Normalize(v []float32) ([]float32, error) {
	var sum float64
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, ErrZeroVector
		}
		sum += f * f
	}
	norm := math.Sqrt(sum)
	if norm == 0 || math.IsInf(norm, 0) {
		return nil, ErrZeroVector
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v, nil
}

// checkDim validates the length of v against dim.
func checkDim(v []float32, dim int) error {
	if len(v) != dim {
		return fmt.Errorf("%w: got %d, want %d", ErrDimension, len(v), dim)
	}
	return nil
}
