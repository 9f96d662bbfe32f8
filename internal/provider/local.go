package provider

import (
	"context"
	"crypto/sha256"
	"math"
)

// LocalDimensions is the length of vectors produced by LocalEmbedder.
const LocalDimensions = 64

// LocalEmbedder derives a deterministic unit vector from the SHA-256 digest
// of the text. It carries no semantics beyond exact-match similarity and is
// used when no embedding backend is reachable.
type LocalEmbedder struct{}

// Embed implements Embedder.
func (LocalEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	return LocalEmbedding(text, LocalDimensions), nil
}

// LocalEmbedding repeats the digest bytes cyclically to dims values and
// L2-normalizes the result.
func LocalEmbedding(text string, dims int) []float64 {
	digest := sha256.Sum256([]byte(text))
	values := make([]float64, dims)
	var sum float64
	for i := range values {
		v := float64(digest[i%len(digest)])
		values[i] = v
		sum += v * v
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		norm = 1
	}
	for i := range values {
		values[i] /= norm
	}
	return values
}
