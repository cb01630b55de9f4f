package gorm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aduanhub/caselink/pkg/models"
)

func TestRecordInsertAndGet(t *testing.T) {
	store := testStore(t)
	records := NewRecordStore(store)
	ctx := context.Background()

	rec := models.NewRecord("Rasuah tender", "Pegawai menerima RM5,000 untuk meluluskan tender X", models.UrgencyHigh)
	id, err := records.Insert(ctx, rec)
	require.NoError(t, err)
	assert.Positive(t, id)
	assert.NotEmpty(t, rec.Reference)

	got, err := records.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Rasuah tender", got.Title)
	assert.Equal(t, models.RecordStatusReceived, got.Status)
	assert.False(t, got.HasVector())
	assert.False(t, got.CaseID.Valid)

	byRef, err := records.GetByReference(ctx, rec.Reference)
	require.NoError(t, err)
	assert.Equal(t, id, byRef.ID)

	_, err = records.GetByID(ctx, 99999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecordSetVector(t *testing.T) {
	store := testStore(t)
	records := NewRecordStore(store)
	ctx := context.Background()

	id := insertTestRecord(t, records, "title", "text", nil)
	require.NoError(t, records.SetVector(ctx, id, []float32{0.1, 0.2, 0.3}))

	got, err := records.GetByID(ctx, id)
	require.NoError(t, err)
	assert.True(t, got.HasVector())
	assert.Equal(t, models.JSONFloat32Array{0.1, 0.2, 0.3}, got.Vector)
	assert.Equal(t, models.RecordStatusProcessed, got.Status)
	assert.True(t, got.ProcessedAt.Valid)

	assert.ErrorIs(t, records.SetVector(ctx, 99999, []float32{1}), ErrNotFound)
}

func TestFetchWithVectors(t *testing.T) {
	store := testStore(t)
	records := NewRecordStore(store)
	ctx := context.Background()

	insertTestRecord(t, records, "no vector", "text", nil)
	id2 := insertTestRecord(t, records, "second", "text", []float32{1, 0})
	id3 := insertTestRecord(t, records, "third", "text", []float32{0, 1})

	got, err := records.FetchWithVectors(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	// Ordered by id ascending.
	assert.Equal(t, id2, got[0].ID)
	assert.Equal(t, id3, got[1].ID)
}

func TestListUnassigned(t *testing.T) {
	store := testStore(t)
	records := NewRecordStore(store)
	cases := NewCaseStore(store, "CASE")
	ctx := context.Background()

	id1 := insertTestRecord(t, records, "assigned", "text", []float32{1, 0})
	id2 := insertTestRecord(t, records, "unassigned", "text", []float32{0, 1})

	_, err := cases.CreateCase(ctx, []int64{id1}, CreateCaseOptions{AddedBy: models.AddedBySystem})
	require.NoError(t, err)

	got, err := records.ListUnassigned(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, id2, got[0].ID)
}
