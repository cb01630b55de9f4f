package gorm

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/aduanhub/caselink/pkg/models"
)

// ErrNotFound is returned when a record or case does not exist.
var ErrNotFound = errors.New("not found")

// RecordStore provides record-related database operations.
type RecordStore struct {
	db *gorm.DB
}

// NewRecordStore creates a new record store.
func NewRecordStore(store *Store) *RecordStore {
	return &RecordStore{db: store.DB}
}

// Insert stores a new record and returns its id. The record reference is
// generated when empty.
func (s *RecordStore) Insert(ctx context.Context, rec *models.Record) (int64, error) {
	row := &Record{
		Reference:        rec.Reference,
		Title:            rec.Title,
		Text:             rec.Text,
		Category:         rec.Category,
		Classification:   rec.Classification,
		Urgency:          string(rec.Urgency),
		Status:           string(rec.Status),
		Vector:           rec.Vector,
		SubmittedAt:      rec.SubmittedAt,
		SubmittedAtEpoch: rec.SubmittedEpoch,
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return 0, err
	}
	rec.ID = row.ID
	rec.Reference = row.Reference
	return row.ID, nil
}

// GetByID retrieves a record by its id.
func (s *RecordStore) GetByID(ctx context.Context, id int64) (*models.Record, error) {
	var row Record
	err := s.db.WithContext(ctx).First(&row, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return toModelRecord(&row), nil
}

// GetByReference retrieves a record by its public reference.
func (s *RecordStore) GetByReference(ctx context.Context, ref string) (*models.Record, error) {
	var row Record
	err := s.db.WithContext(ctx).Where("reference = ?", ref).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return toModelRecord(&row), nil
}

// SetVector stores the embedding for a record and marks it processed.
// The vector is written once; re-processing overwrites with the same value
// since embedding is deterministic.
func (s *RecordStore) SetVector(ctx context.Context, id int64, vector []float32) error {
	now := time.Now().Format(time.RFC3339)
	res := s.db.WithContext(ctx).Model(&Record{}).Where("id = ?", id).Updates(map[string]interface{}{
		"vector":       models.JSONFloat32Array(vector),
		"status":       string(models.RecordStatusProcessed),
		"processed_at": sql.NullString{String: now, Valid: true},
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkFailed flags a record whose processing failed; it stays retriable.
func (s *RecordStore) MarkFailed(ctx context.Context, id int64) error {
	return s.db.WithContext(ctx).Model(&Record{}).Where("id = ?", id).
		Update("status", string(models.RecordStatusFailed)).Error
}

// FetchWithVectors returns every record carrying a vector, ordered by id.
// This is the row set the persisted similarity index scores per query.
func (s *RecordStore) FetchWithVectors(ctx context.Context) ([]*models.Record, error) {
	var rows []Record
	err := s.db.WithContext(ctx).
		Where("vector IS NOT NULL AND status = ?", string(models.RecordStatusProcessed)).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	records := make([]*models.Record, 0, len(rows))
	for i := range rows {
		records = append(records, toModelRecord(&rows[i]))
	}
	return records, nil
}

// SearchKeyword returns records whose title or text contains any of the
// query terms, ranked by the number of distinct terms hit, newest first
// within the same hit count. Terms shorter than two runes are ignored.
func (s *RecordStore) SearchKeyword(ctx context.Context, query string, limit int) ([]*models.Record, error) {
	if limit <= 0 {
		limit = 50
	}

	var terms []string
	for _, t := range strings.Fields(strings.ToLower(query)) {
		if len([]rune(t)) >= 2 {
			terms = append(terms, t)
		}
	}
	if len(terms) == 0 {
		return nil, nil
	}

	q := s.db.WithContext(ctx).Model(&Record{})
	or := s.db.Session(&gorm.Session{NewDB: true})
	cond := or
	for i, t := range terms {
		pattern := "%" + t + "%"
		if i == 0 {
			cond = or.Where("lower(title) LIKE ? OR lower(text) LIKE ?", pattern, pattern)
		} else {
			cond = cond.Or("lower(title) LIKE ? OR lower(text) LIKE ?", pattern, pattern)
		}
	}

	var rows []Record
	if err := q.Where(cond).Order("submitted_at_epoch DESC").Limit(limit * 4).Find(&rows).Error; err != nil {
		return nil, err
	}

	type ranked struct {
		rec  *models.Record
		hits int
	}
	results := make([]ranked, 0, len(rows))
	for i := range rows {
		haystack := strings.ToLower(rows[i].Title + " " + rows[i].Text)
		hits := 0
		for _, t := range terms {
			if strings.Contains(haystack, t) {
				hits++
			}
		}
		results = append(results, ranked{rec: toModelRecord(&rows[i]), hits: hits})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].hits > results[j].hits
	})

	if len(results) > limit {
		results = results[:limit]
	}
	records := make([]*models.Record, 0, len(results))
	for _, r := range results {
		records = append(records, r.rec)
	}
	return records, nil
}

// ListUnassigned returns records that have no case yet, newest first.
// Records that failed to group show up here instead of being dropped.
func (s *RecordStore) ListUnassigned(ctx context.Context, limit, offset int) ([]*models.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []Record
	err := s.db.WithContext(ctx).
		Where("case_id IS NULL").
		Order("submitted_at_epoch DESC").
		Limit(limit).Offset(offset).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	records := make([]*models.Record, 0, len(rows))
	for i := range rows {
		records = append(records, toModelRecord(&rows[i]))
	}
	return records, nil
}
