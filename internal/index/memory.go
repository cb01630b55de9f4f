package index

import (
	"context"
	"fmt"
	"sync"

	"github.com/aduanhub/caselink/pkg/similarity"
)

// Memory is the in-memory index backend. Entries live for the process
// lifetime only; the scoring matrix is rebuilt after every insert.
type Memory struct {
	mu        sync.RWMutex
	dimension int
	ids       []int64
	matrix    [][]float32
	slots     map[int64]int // id -> position in ids/matrix
}

var _ Index = (*Memory)(nil)

// NewMemory creates an empty in-memory index for vectors of the given
// dimensionality.
func NewMemory(dimension int) *Memory {
	return &Memory{
		dimension: dimension,
		slots:     make(map[int64]int),
	}
}

// Add inserts or upserts one entry and rebuilds the matrix row. Concurrent
// adds on distinct ids are independent; per id, last write wins.
func (m *Memory) Add(_ context.Context, id int64, vector []float32) error {
	if len(vector) != m.dimension {
		return fmt.Errorf("add %d: vector has %d dimensions, want %d", id, len(vector), m.dimension)
	}

	row := make([]float32, len(vector))
	copy(row, vector)

	m.mu.Lock()
	defer m.mu.Unlock()

	if slot, ok := m.slots[id]; ok {
		m.matrix[slot] = row
		return nil
	}

	m.slots[id] = len(m.ids)
	m.ids = append(m.ids, id)
	m.matrix = append(m.matrix, row)
	return nil
}

// Search scores the query against every entry.
func (m *Memory) Search(_ context.Context, query []float32, k int) ([]Match, error) {
	if len(query) != m.dimension {
		return nil, fmt.Errorf("search: query has %d dimensions, want %d", len(query), m.dimension)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	matches := make([]Match, 0, len(m.ids))
	for i, id := range m.ids {
		score, err := similarity.Cosine(query, m.matrix[i])
		if err != nil {
			return nil, err
		}
		matches = append(matches, Match{ID: id, Score: score})
	}

	return rank(matches, k), nil
}

// Len returns the number of entries in the index.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.ids)
}
