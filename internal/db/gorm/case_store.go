package gorm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/aduanhub/caselink/pkg/models"
	"github.com/aduanhub/caselink/pkg/similarity"
)

// DefaultCaseNumberPrefix is used when no prefix is configured.
const DefaultCaseNumberPrefix = "CASE"

// caseUpdateAllowList restricts UpdateCase to explicitly mutable fields.
var caseUpdateAllowList = map[string]bool{
	"title":          true,
	"description":    true,
	"status":         true,
	"priority":       true,
	"classification": true,
}

// CaseStore provides case and membership database operations.
type CaseStore struct {
	db     *gorm.DB
	prefix string
}

// NewCaseStore creates a new case store. prefix is the human-readable case
// number prefix (e.g. "CASE" -> CASE-2025-0001).
func NewCaseStore(store *Store, prefix string) *CaseStore {
	if prefix == "" {
		prefix = DefaultCaseNumberPrefix
	}
	return &CaseStore{db: store.DB, prefix: prefix}
}

// CreateCaseOptions carries optional inputs for CreateCase.
type CreateCaseOptions struct {
	Title         string
	AutoGrouped   bool
	AddedBy       string
	RelatedClosed models.JSONRelatedCases
	// Scores holds the similarity score per founding record id. Records
	// without an entry (the case-founding record) get a NULL score.
	Scores map[int64]float64
}

// CreateCase creates a case whose initial membership is the given records,
// in order; the first id is the primary record. Title, keywords,
// classification, and priority are derived from the members when not
// supplied.
//
// Case numbers use a read-count-then-insert sequence. Two concurrent
// creations in the same instant can race; the unique index on number makes
// the loser fail rather than produce a duplicate, and the caller retries
// by re-invoking the grouping.
func (s *CaseStore) CreateCase(ctx context.Context, founderIDs []int64, opts CreateCaseOptions) (*models.Case, error) {
	if len(founderIDs) == 0 {
		return nil, errors.New("create case: no founding records")
	}

	founders := make([]*Record, 0, len(founderIDs))
	for _, id := range founderIDs {
		var row Record
		err := s.db.WithContext(ctx).First(&row, id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load founding record %d: %w", id, err)
		}
		founders = append(founders, &row)
	}
	if len(founders) == 0 {
		return nil, ErrNotFound
	}

	number, err := s.nextCaseNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("generate case number: %w", err)
	}

	title := opts.Title
	if title == "" {
		titles := make([]string, len(founders))
		for i, f := range founders {
			titles[i] = f.Title
		}
		title = similarity.GenerateCaseTitle(titles)
	}

	texts := make([]string, 0, len(founders))
	for _, f := range founders {
		texts = append(texts, f.Text)
	}
	keywords := similarity.ExtractKeywords(strings.Join(texts, " "), 10)

	row := &Case{
		Number:         number,
		Title:          title,
		Status:         string(models.CaseStatusOpen),
		Priority:       string(derivePriority(founders)),
		Classification: deriveClassification(founders),
		Keywords:       models.JSONStringArray(keywords),
		AutoGrouped:    opts.AutoGrouped,
		RelatedCases:   opts.RelatedClosed,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(row).Error; err != nil {
			return err
		}
		for _, f := range founders {
			var score *float64
			if v, ok := opts.Scores[f.ID]; ok {
				score = &v
			}
			if err := addMembershipTx(tx, row.ID, f.ID, score, opts.AddedBy); err != nil {
				return err
			}
		}
		return recountMembers(tx, row.ID)
	})
	if err != nil {
		return nil, err
	}

	return s.GetCase(ctx, row.ID)
}

// AddMembership joins a record into a case. A duplicate (case, record)
// pair is a no-op, and the member count is recomputed from rows so
// re-running the same decision never drifts the counter.
func (s *CaseStore) AddMembership(ctx context.Context, caseID, recordID int64, score *float64, addedBy string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := addMembershipTx(tx, caseID, recordID, score, addedBy); err != nil {
			return err
		}
		return recountMembers(tx, caseID)
	})
}

// addMembershipTx inserts the membership row (insert-or-ignore) and sets
// the denormalized records.case_id, which is write-once: an existing
// different case id is never overwritten.
func addMembershipTx(tx *gorm.DB, caseID, recordID int64, score *float64, addedBy string) error {
	m := &Membership{
		CaseID:   caseID,
		RecordID: recordID,
		AddedBy:  addedBy,
	}
	if score != nil {
		m.SimilarityScore = sql.NullFloat64{Float64: *score, Valid: true}
	}

	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(m).Error; err != nil {
		return err
	}

	return tx.Model(&Record{}).
		Where("id = ? AND (case_id IS NULL OR case_id = ?)", recordID, caseID).
		Update("case_id", caseID).Error
}

// RemoveMembership removes a record from a case, recomputes the member
// count, and deletes the case when it becomes empty.
func (s *CaseStore) RemoveMembership(ctx context.Context, caseID, recordID int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("case_id = ? AND record_id = ?", caseID, recordID).
			Delete(&Membership{}).Error; err != nil {
			return err
		}
		if err := tx.Model(&Record{}).
			Where("id = ? AND case_id = ?", recordID, caseID).
			Update("case_id", nil).Error; err != nil {
			return err
		}
		if err := recountMembers(tx, caseID); err != nil {
			return err
		}

		var c Case
		if err := tx.First(&c, caseID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if c.MemberCount == 0 {
			return tx.Delete(&Case{}, caseID).Error
		}
		return nil
	})
}

// recountMembers recomputes member_count from membership rows. Counting
// instead of incrementing keeps the counter correct across partial
// failures and retries.
func recountMembers(tx *gorm.DB, caseID int64) error {
	return tx.Exec(
		`UPDATE cases SET member_count = (SELECT COUNT(*) FROM memberships WHERE case_id = ?), updated_at = ? WHERE id = ?`,
		caseID, time.Now().Format(time.RFC3339), caseID,
	).Error
}

// GetCase retrieves a case by id.
func (s *CaseStore) GetCase(ctx context.Context, id int64) (*models.Case, error) {
	var row Case
	err := s.db.WithContext(ctx).First(&row, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return toModelCase(&row), nil
}

// GetCaseForRecord returns the case a record belongs to, or ErrNotFound.
func (s *CaseStore) GetCaseForRecord(ctx context.Context, recordID int64) (*models.Case, error) {
	var row Case
	err := s.db.WithContext(ctx).
		Joins("JOIN memberships ON memberships.case_id = cases.id").
		Where("memberships.record_id = ?", recordID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return toModelCase(&row), nil
}

// GetMembers returns the memberships of a case in join order.
func (s *CaseStore) GetMembers(ctx context.Context, caseID int64) ([]*models.Membership, error) {
	var rows []Membership
	err := s.db.WithContext(ctx).
		Where("case_id = ?", caseID).
		Order("added_at_epoch ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	members := make([]*models.Membership, 0, len(rows))
	for i := range rows {
		members = append(members, toModelMembership(&rows[i]))
	}
	return members, nil
}

// ListCases lists cases, optionally filtered by status, most recently
// updated first.
func (s *CaseStore) ListCases(ctx context.Context, status models.CaseStatus, limit, offset int) ([]*models.Case, error) {
	if limit <= 0 {
		limit = 50
	}

	q := s.db.WithContext(ctx).Model(&Case{})
	if status != "" {
		q = q.Where("status = ?", string(status))
	}

	var rows []Case
	err := q.Order("updated_at DESC").Limit(limit).Offset(offset).Find(&rows).Error
	if err != nil {
		return nil, err
	}

	cases := make([]*models.Case, 0, len(rows))
	for i := range rows {
		cases = append(cases, toModelCase(&rows[i]))
	}
	return cases, nil
}

// UpdateCase applies the allow-listed subset of updates to a case.
// Transitioning status to closed stamps closed_at.
func (s *CaseStore) UpdateCase(ctx context.Context, id int64, updates map[string]interface{}) error {
	filtered := make(map[string]interface{}, len(updates))
	for k, v := range updates {
		if caseUpdateAllowList[k] {
			filtered[k] = v
		}
	}
	if len(filtered) == 0 {
		return errors.New("update case: no updatable fields")
	}

	now := time.Now().Format(time.RFC3339)
	filtered["updated_at"] = now
	if status, ok := filtered["status"].(string); ok && status == string(models.CaseStatusClosed) {
		filtered["closed_at"] = sql.NullString{String: now, Valid: true}
	}

	res := s.db.WithContext(ctx).Model(&Case{}).Where("id = ?", id).Updates(filtered)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteCase removes a case, its memberships, and the members' case
// assignment.
func (s *CaseStore) DeleteCase(ctx context.Context, id int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&Record{}).Where("case_id = ?", id).
			Update("case_id", nil).Error; err != nil {
			return err
		}
		if err := tx.Where("case_id = ?", id).Delete(&Membership{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&Case{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// nextCaseNumber builds "<prefix>-<year>-<seq>" from the count of cases
// created this year. Epoch bounds keep the query portable between SQLite
// and Postgres.
func (s *CaseStore) nextCaseNumber(ctx context.Context) (string, error) {
	now := time.Now()
	yearStart := time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, now.Location()).UnixMilli()
	yearEnd := time.Date(now.Year()+1, time.January, 1, 0, 0, 0, 0, now.Location()).UnixMilli()

	var count int64
	err := s.db.WithContext(ctx).Model(&Case{}).
		Where("created_at_epoch >= ? AND created_at_epoch < ?", yearStart, yearEnd).
		Count(&count).Error
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%s-%d-%04d", s.prefix, now.Year(), count+1), nil
}

// derivePriority takes the highest urgency among the founding records.
func derivePriority(founders []*Record) models.CasePriority {
	priority := models.PriorityLow
	for _, f := range founders {
		priority = models.MaxPriority(priority, models.PriorityForUrgency(models.UrgencyLevel(f.Urgency)))
	}
	return priority
}

// deriveClassification takes the most common classification among the
// founding records, ties broken alphabetically.
func deriveClassification(founders []*Record) sql.NullString {
	counts := make(map[string]int)
	for _, f := range founders {
		if f.Classification.Valid && f.Classification.String != "" {
			counts[f.Classification.String]++
		}
	}
	if len(counts) == 0 {
		return sql.NullString{}
	}

	var best string
	for c, n := range counts {
		if best == "" || n > counts[best] || (n == counts[best] && c < best) {
			best = c
		}
	}
	return sql.NullString{String: best, Valid: true}
}
