// Package embedding generates vector embeddings for capture chunks and
// drives their batched insertion into the vector and keyword indices.
package embedding

import (
	"context"
	"math"
	"time"
)

const (
	MinBatchSize     = 1
	MaxBatchSize     = 256
	DefaultBatchSize = 32

	DefaultTimeout        = 60 * time.Second
	DefaultMaxRetries     = 3
	DefaultMaxConcurrency = 4
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	ModelName() string
	Available(ctx context.Context) bool
	Close() error
}

// normalizeVector L2-normalizes v, returning a new slice so cosine
// distance over the vector index reduces to a dot product. A zero vector
// is returned as is (the same slice).
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	out := make([]float32, len(v))
	for i, val := range v {
		out[i] = float32(float64(val) / magnitude)
	}
	return out
}
