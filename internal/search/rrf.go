// Package search provides the operator-facing record search, fusing
// vector similarity with keyword matching.
package search

import "sort"

// ScoredID pairs a record id with a composite search score.
type ScoredID struct {
	Score float64
	ID    int64
}

// RRF fuses multiple ranked lists using Reciprocal Rank Fusion (k=60).
// Each input list must be sorted descending by score (best first).
//
// Weighting rules:
//   - The first list receives a 2x weight multiplier; callers pass the
//     vector ranking first so semantic matches dominate
//   - Top-rank bonuses: rank=0 -> +0.05, rank<=2 -> +0.02
//
// Returns a deduplicated list sorted by fused score descending.
func RRF(lists ...[]ScoredID) []ScoredID {
	scores := make(map[int64]float64)
	var order []int64

	for listIdx, list := range lists {
		weight := 1.0
		if listIdx == 0 {
			weight = 2.0
		}
		for rank, item := range list {
			rankBonus := 0.0
			if rank == 0 {
				rankBonus = 0.05
			} else if rank <= 2 {
				rankBonus = 0.02
			}
			contrib := weight/(60.0+float64(rank)+1) + rankBonus
			if _, exists := scores[item.ID]; !exists {
				order = append(order, item.ID)
			}
			scores[item.ID] += contrib
		}
	}

	result := make([]ScoredID, 0, len(scores))
	for _, id := range order {
		result = append(result, ScoredID{ID: id, Score: scores[id]})
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Score > result[j].Score
	})
	return result
}
