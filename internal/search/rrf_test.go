package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRRF_EmptyInput(t *testing.T) {
	assert.Empty(t, RRF())
	assert.Empty(t, RRF(nil, nil))
}

func TestRRF_SingleList(t *testing.T) {
	list := []ScoredID{
		{ID: 1, Score: 0.9},
		{ID: 2, Score: 0.8},
		{ID: 3, Score: 0.7},
	}

	fused := RRF(list)
	assert.Len(t, fused, 3)
	assert.Equal(t, int64(1), fused[0].ID)
	assert.Equal(t, int64(2), fused[1].ID)
	assert.Equal(t, int64(3), fused[2].ID)
}

func TestRRF_AgreementWins(t *testing.T) {
	vector := []ScoredID{
		{ID: 10, Score: 0.95},
		{ID: 20, Score: 0.80},
	}
	keyword := []ScoredID{
		{ID: 20, Score: 1.0},
		{ID: 30, Score: 0.5},
	}

	fused := RRF(vector, keyword)
	assert.Len(t, fused, 3)
	// 20 appears in both lists, so it accumulates the most score despite
	// ranking below 10 in the vector list.
	assert.Equal(t, int64(20), fused[0].ID)
}

func TestRRF_FirstListWeighted(t *testing.T) {
	vector := []ScoredID{{ID: 1, Score: 0.9}}
	keyword := []ScoredID{{ID: 2, Score: 0.9}}

	fused := RRF(vector, keyword)
	assert.Len(t, fused, 2)
	assert.Equal(t, int64(1), fused[0].ID)
	assert.Greater(t, fused[0].Score, fused[1].Score)
}

func TestRRF_Deduplicates(t *testing.T) {
	a := []ScoredID{{ID: 7, Score: 1.0}}
	b := []ScoredID{{ID: 7, Score: 1.0}}
	c := []ScoredID{{ID: 7, Score: 1.0}}

	fused := RRF(a, b, c)
	assert.Len(t, fused, 1)
	assert.Equal(t, int64(7), fused[0].ID)
}
