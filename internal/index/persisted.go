package index

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/aduanhub/caselink/pkg/models"
	"github.com/aduanhub/caselink/pkg/similarity"
)

// RecordSource is the slice of the record store the persisted index needs.
type RecordSource interface {
	FetchWithVectors(ctx context.Context) ([]*models.Record, error)
	SetVector(ctx context.Context, id int64, vector []float32) error
}

// Persisted is the durable index backend. Entries are record rows carrying
// a vector column; every query re-reads and scores all eligible rows.
// O(n) per query, but correct across restarts: this backend is the system
// of record.
type Persisted struct {
	records   RecordSource
	dimension int
}

var _ Index = (*Persisted)(nil)

// NewPersisted creates a persisted index over the given record source.
func NewPersisted(records RecordSource, dimension int) *Persisted {
	return &Persisted{records: records, dimension: dimension}
}

// Add writes the vector to the record row.
func (p *Persisted) Add(ctx context.Context, id int64, vector []float32) error {
	if len(vector) != p.dimension {
		return fmt.Errorf("add %d: vector has %d dimensions, want %d", id, len(vector), p.dimension)
	}
	return p.records.SetVector(ctx, id, vector)
}

// Search scans every row with a vector and scores it against the query.
// Rows whose stored vector has a mismatched dimensionality (e.g. written
// by a different embedding model) are skipped, not fatal.
func (p *Persisted) Search(ctx context.Context, query []float32, k int) ([]Match, error) {
	if len(query) != p.dimension {
		return nil, fmt.Errorf("search: query has %d dimensions, want %d", len(query), p.dimension)
	}

	rows, err := p.records.FetchWithVectors(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch records with vectors: %w", err)
	}

	matches := make([]Match, 0, len(rows))
	for _, rec := range rows {
		score, err := similarity.Cosine(query, rec.Vector)
		if err != nil {
			log.Warn().Int64("record_id", rec.ID).Int("dims", len(rec.Vector)).
				Msg("Skipping record with mismatched vector dimensions")
			continue
		}
		matches = append(matches, Match{ID: rec.ID, Score: score})
	}

	return rank(matches, k), nil
}
