// Package vectorizer turns free text into fixed-dimension vectors.
// The embedding model itself is an external collaborator; this package
// holds the contract, an HTTP client for a model server, a deterministic
// local fallback, and an optional cross-process cache.
package vectorizer

import (
	"context"
	"errors"
)

// DefaultDimension matches the all-MiniLM-L6-v2 sentence embedding model
// the intake pipeline was tuned against.
const DefaultDimension = 384

// ErrVectorUnavailable means no embedding could be produced. Callers skip
// similarity-dependent steps for the record and retry later; they must
// not fail ingestion over it.
var ErrVectorUnavailable = errors.New("embedding unavailable")

// Embedder produces a fixed-dimension vector for a text. Embedding is
// deterministic within a process lifetime: the same text always yields
// the same vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
	Model() string
}
