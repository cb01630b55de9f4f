// Package index provides top-K cosine similarity retrieval over record
// vectors. Two functionally equivalent backends exist: an in-memory matrix
// for process-lifetime speed, and a persisted scan over the record store,
// which is the system of record.
package index

import (
	"context"
	"sort"
)

// Match is one similarity search result. Rank is 1-based.
type Match struct {
	ID    int64   `json:"id"`
	Score float32 `json:"score"`
	Rank  int     `json:"rank"`
}

// Index answers top-K nearest-by-cosine queries over (id, vector) entries.
// Excluding the querying record from its own results is the caller's
// responsibility; the index has no notion of where a query came from.
type Index interface {
	// Add inserts or upserts one entry. Last write wins per id.
	Add(ctx context.Context, id int64, vector []float32) error

	// Search returns the k entries most similar to query, sorted by
	// descending cosine score with ties broken by ascending id.
	Search(ctx context.Context, query []float32, k int) ([]Match, error)
}

// rank sorts matches by descending score, ascending id, keeps the top k,
// and assigns 1-based ranks. Ordering is fully deterministic so repeated
// queries return identical output.
func rank(matches []Match, k int) []Match {
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})

	if k > 0 && len(matches) > k {
		matches = matches[:k]
	}
	for i := range matches {
		matches[i].Rank = i + 1
	}
	return matches
}
