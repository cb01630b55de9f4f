package search

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/aduanhub/caselink/internal/index"
	"github.com/aduanhub/caselink/internal/vectorizer"
	"github.com/aduanhub/caselink/pkg/models"
)

// RecordSource is the slice of the record store the search manager needs.
type RecordSource interface {
	SearchKeyword(ctx context.Context, query string, limit int) ([]*models.Record, error)
	GetByID(ctx context.Context, id int64) (*models.Record, error)
}

// Result is one search hit with its fused score.
type Result struct {
	Record *models.Record `json:"record"`
	Score  float64        `json:"score"`
}

// Manager runs hybrid search over records: the query text is embedded and
// matched against the similarity index, keyword matches come from the
// store, and the two rankings are fused with RRF.
type Manager struct {
	records  RecordSource
	idx      index.Index
	embedder vectorizer.Embedder
}

// NewManager creates a search manager.
func NewManager(records RecordSource, idx index.Index, embedder vectorizer.Embedder) *Manager {
	return &Manager{records: records, idx: idx, embedder: embedder}
}

// Search returns up to limit records matching the query. Either retrieval
// leg can fail without failing the search; the other leg still serves.
func (m *Manager) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = 10
	}

	var vectorList []ScoredID
	if vec, err := m.embedder.Embed(ctx, query); err != nil {
		log.Warn().Err(err).Msg("Query embedding failed, keyword-only search")
	} else if matches, err := m.idx.Search(ctx, vec, limit); err != nil {
		log.Warn().Err(err).Msg("Vector search failed, keyword-only search")
	} else {
		for _, match := range matches {
			vectorList = append(vectorList, ScoredID{ID: match.ID, Score: float64(match.Score)})
		}
	}

	var keywordList []ScoredID
	if records, err := m.records.SearchKeyword(ctx, query, limit); err != nil {
		log.Warn().Err(err).Msg("Keyword search failed, vector-only search")
	} else {
		for rank, rec := range records {
			keywordList = append(keywordList, ScoredID{ID: rec.ID, Score: 1.0 / float64(rank+1)})
		}
	}

	fused := RRF(vectorList, keywordList)
	if len(fused) > limit {
		fused = fused[:limit]
	}

	results := make([]Result, 0, len(fused))
	for _, item := range fused {
		rec, err := m.records.GetByID(ctx, item.ID)
		if err != nil {
			log.Warn().Err(err).Int64("record_id", item.ID).Msg("Search hit vanished")
			continue
		}
		results = append(results, Result{Record: rec, Score: item.Score})
	}
	return results, nil
}
