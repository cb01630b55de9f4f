package vectorizer

import (
	"context"
	"hash/fnv"
	"strings"

	"github.com/aduanhub/caselink/pkg/similarity"
)

// HashEmbedder is a deterministic, dependency-free embedder: tokens are
// feature-hashed into a fixed number of buckets and the result is
// L2-normalized. Texts sharing vocabulary land close in cosine space,
// which is enough for offline operation and for exercising the grouping
// policy in tests. It is not a semantic model.
type HashEmbedder struct {
	dimension int
}

var _ Embedder = (*HashEmbedder)(nil)

// NewHashEmbedder creates a hash embedder with the given dimensionality.
func NewHashEmbedder(dimension int) *HashEmbedder {
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	return &HashEmbedder{dimension: dimension}
}

// Embed hashes each token (and adjacent token bigram, for a little word
// order sensitivity) into a bucket and normalizes the counts.
func (e *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dimension)

	tokens := tokenize(text)
	for i, tok := range tokens {
		vec[e.bucket(tok)]++
		if i > 0 {
			vec[e.bucket(tokens[i-1]+" "+tok)]++
		}
	}

	return similarity.Normalize(vec), nil
}

// Dimension returns the vector dimensionality.
func (e *HashEmbedder) Dimension() int { return e.dimension }

// Model identifies the embedding scheme for cache keys.
func (e *HashEmbedder) Model() string { return "feature-hash-v1" }

func (e *HashEmbedder) bucket(token string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(token))
	return int(h.Sum32() % uint32(e.dimension))
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'))
	})
}
