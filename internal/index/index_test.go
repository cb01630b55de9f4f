package index

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aduanhub/caselink/pkg/models"
)

// fakeSource is an in-memory RecordSource for persisted-backend tests.
type fakeSource struct {
	vectors map[int64][]float32
}

func newFakeSource() *fakeSource {
	return &fakeSource{vectors: make(map[int64][]float32)}
}

func (f *fakeSource) FetchWithVectors(context.Context) ([]*models.Record, error) {
	records := make([]*models.Record, 0, len(f.vectors))
	for id, v := range f.vectors {
		records = append(records, &models.Record{ID: id, Vector: v, Status: models.RecordStatusProcessed})
	}
	return records, nil
}

func (f *fakeSource) SetVector(_ context.Context, id int64, vector []float32) error {
	f.vectors[id] = vector
	return nil
}

// backends builds both index implementations over the same fixture so
// every test asserts they behave identically.
func backends(t *testing.T, dimension int) map[string]Index {
	t.Helper()
	return map[string]Index{
		"memory":    NewMemory(dimension),
		"persisted": NewPersisted(newFakeSource(), dimension),
	}
}

func TestSearchOrderingAndRanks(t *testing.T) {
	ctx := context.Background()

	for name, idx := range backends(t, 2) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, idx.Add(ctx, 1, []float32{1, 0}))
			require.NoError(t, idx.Add(ctx, 2, []float32{0.9, 0.1}))
			require.NoError(t, idx.Add(ctx, 3, []float32{0, 1}))

			matches, err := idx.Search(ctx, []float32{1, 0}, 3)
			require.NoError(t, err)
			require.Len(t, matches, 3)

			assert.Equal(t, int64(1), matches[0].ID)
			assert.InDelta(t, 1.0, matches[0].Score, 0.0001)
			assert.Equal(t, 1, matches[0].Rank)

			assert.Equal(t, int64(2), matches[1].ID)
			assert.Equal(t, 2, matches[1].Rank)

			assert.Equal(t, int64(3), matches[2].ID)
			assert.InDelta(t, 0.0, matches[2].Score, 0.0001)
			assert.Equal(t, 3, matches[2].Rank)
		})
	}
}

func TestSearchTiesBrokenByAscendingID(t *testing.T) {
	ctx := context.Background()

	for name, idx := range backends(t, 2) {
		t.Run(name, func(t *testing.T) {
			// Insert out of id order; identical vectors tie on score.
			require.NoError(t, idx.Add(ctx, 9, []float32{1, 0}))
			require.NoError(t, idx.Add(ctx, 3, []float32{1, 0}))
			require.NoError(t, idx.Add(ctx, 6, []float32{1, 0}))

			matches, err := idx.Search(ctx, []float32{1, 0}, 3)
			require.NoError(t, err)
			require.Len(t, matches, 3)
			assert.Equal(t, int64(3), matches[0].ID)
			assert.Equal(t, int64(6), matches[1].ID)
			assert.Equal(t, int64(9), matches[2].ID)
		})
	}
}

func TestSearchTruncatesToK(t *testing.T) {
	ctx := context.Background()

	for name, idx := range backends(t, 2) {
		t.Run(name, func(t *testing.T) {
			for i := int64(1); i <= 10; i++ {
				require.NoError(t, idx.Add(ctx, i, []float32{1, float32(i) / 100}))
			}
			matches, err := idx.Search(ctx, []float32{1, 0}, 4)
			require.NoError(t, err)
			assert.Len(t, matches, 4)
			assert.Equal(t, 4, matches[3].Rank)
		})
	}
}

func TestAddUpsertsLastWriteWins(t *testing.T) {
	ctx := context.Background()

	for name, idx := range backends(t, 2) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, idx.Add(ctx, 1, []float32{1, 0}))
			require.NoError(t, idx.Add(ctx, 1, []float32{0, 1}))

			matches, err := idx.Search(ctx, []float32{0, 1}, 1)
			require.NoError(t, err)
			require.Len(t, matches, 1)
			assert.Equal(t, int64(1), matches[0].ID)
			assert.InDelta(t, 1.0, matches[0].Score, 0.0001)
		})
	}
}

func TestDimensionValidation(t *testing.T) {
	ctx := context.Background()

	for name, idx := range backends(t, 3) {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, idx.Add(ctx, 1, []float32{1, 0}))
			_, err := idx.Search(ctx, []float32{1, 0}, 5)
			assert.Error(t, err)
		})
	}
}

func TestSearchEmptyIndex(t *testing.T) {
	ctx := context.Background()

	for name, idx := range backends(t, 2) {
		t.Run(name, func(t *testing.T) {
			matches, err := idx.Search(ctx, []float32{1, 0}, 5)
			require.NoError(t, err)
			assert.Empty(t, matches)
		})
	}
}

func TestMemoryLen(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(2)
	require.NoError(t, m.Add(ctx, 1, []float32{1, 0}))
	require.NoError(t, m.Add(ctx, 1, []float32{0, 1}))
	require.NoError(t, m.Add(ctx, 2, []float32{0, 1}))
	assert.Equal(t, 2, m.Len())
}
