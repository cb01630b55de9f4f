// Package gorm provides GORM-based database operations for caselink.
package gorm

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/aduanhub/caselink/pkg/models"
)

// GORM models. JSON column types (JSONFloat32Array, JSONStringArray,
// JSONRelatedCases) come from pkg/models and implement sql.Scanner and
// driver.Valuer.

// Record is one ingested incident report.
type Record struct {
	ID               int64                   `gorm:"primaryKey;autoIncrement"`
	Reference        string                  `gorm:"uniqueIndex;not null"`
	Title            string                  `gorm:"type:text;not null"`
	Text             string                  `gorm:"type:text;not null"`
	Category         sql.NullString          `gorm:"type:text"`
	Classification   sql.NullString          `gorm:"type:text"`
	Urgency          string                  `gorm:"type:text;default:'Sederhana'"`
	Status           string                  `gorm:"type:text;check:status IN ('received', 'processed', 'failed');default:'received';index"`
	Vector           models.JSONFloat32Array `gorm:"type:text"`
	CaseID           sql.NullInt64           `gorm:"index:idx_records_case"`
	SubmittedAt      string                  `gorm:"not null"`
	SubmittedAtEpoch int64                   `gorm:"index:idx_records_submitted,sort:desc;not null"`
	ProcessedAt      sql.NullString
}

func (Record) TableName() string { return "records" }

// BeforeCreate hook to ensure reference and timestamps are set.
func (r *Record) BeforeCreate(tx *gorm.DB) error {
	if r.Reference == "" {
		r.Reference = uuid.NewString()
	}
	if r.SubmittedAtEpoch == 0 {
		r.SubmittedAtEpoch = time.Now().UnixMilli()
	}
	if r.SubmittedAt == "" {
		r.SubmittedAt = time.Now().Format(time.RFC3339)
	}
	if r.Status == "" {
		r.Status = string(models.RecordStatusReceived)
	}
	return nil
}

// Case groups records describing the same incident. MemberCount is
// recomputed from membership rows on every mutation.
type Case struct {
	ID             int64                   `gorm:"primaryKey;autoIncrement"`
	Number         string                  `gorm:"uniqueIndex;not null"`
	Title          string                  `gorm:"type:text;not null"`
	Description    sql.NullString          `gorm:"type:text"`
	Status         string                  `gorm:"type:text;check:status IN ('open', 'investigating', 'closed');default:'open';index"`
	Priority       string                  `gorm:"type:text;check:priority IN ('low', 'medium', 'high', 'critical');default:'medium'"`
	Classification sql.NullString          `gorm:"type:text"`
	Keywords       models.JSONStringArray  `gorm:"type:text"`
	MemberCount    int                     `gorm:"default:0"`
	AutoGrouped    bool                    `gorm:"default:false"`
	RelatedCases   models.JSONRelatedCases `gorm:"type:text"`
	CreatedAt      string                  `gorm:"not null"`
	CreatedAtEpoch int64                   `gorm:"index:idx_cases_created,sort:desc;not null"`
	UpdatedAt      string                  `gorm:"not null"`
	ClosedAt       sql.NullString
}

func (Case) TableName() string { return "cases" }

// BeforeCreate hook to ensure timestamps and defaults are set.
func (c *Case) BeforeCreate(tx *gorm.DB) error {
	now := time.Now()
	if c.CreatedAtEpoch == 0 {
		c.CreatedAtEpoch = now.UnixMilli()
	}
	if c.CreatedAt == "" {
		c.CreatedAt = now.Format(time.RFC3339)
	}
	if c.UpdatedAt == "" {
		c.UpdatedAt = now.Format(time.RFC3339)
	}
	if c.Status == "" {
		c.Status = string(models.CaseStatusOpen)
	}
	if c.Priority == "" {
		c.Priority = string(models.PriorityMedium)
	}
	return nil
}

// Membership links a record to its case. The pair is unique so re-running
// a grouping decision never duplicates a row, and record_id is unique on
// its own so a record belongs to exactly one case.
type Membership struct {
	ID              int64           `gorm:"primaryKey;autoIncrement"`
	CaseID          int64           `gorm:"uniqueIndex:idx_memberships_pair,priority:1;index:idx_memberships_case;not null"`
	RecordID        int64           `gorm:"uniqueIndex:idx_memberships_pair,priority:2;uniqueIndex:idx_memberships_record;not null"`
	SimilarityScore sql.NullFloat64 `gorm:"type:real"`
	AddedBy         string          `gorm:"type:text;not null;default:'system'"`
	AddedAt         string          `gorm:"not null"`
	AddedAtEpoch    int64           `gorm:"not null"`
}

func (Membership) TableName() string { return "memberships" }

// BeforeCreate hook to ensure timestamps are set.
func (m *Membership) BeforeCreate(tx *gorm.DB) error {
	if m.AddedAtEpoch == 0 {
		m.AddedAtEpoch = time.Now().UnixMilli()
	}
	if m.AddedAt == "" {
		m.AddedAt = time.Now().Format(time.RFC3339)
	}
	if m.AddedBy == "" {
		m.AddedBy = models.AddedBySystem
	}
	return nil
}

// Conversions to domain models.

func toModelRecord(r *Record) *models.Record {
	return &models.Record{
		ID:             r.ID,
		Reference:      r.Reference,
		Title:          r.Title,
		Text:           r.Text,
		Category:       r.Category,
		Classification: r.Classification,
		Urgency:        models.UrgencyLevel(r.Urgency),
		Status:         models.RecordStatus(r.Status),
		Vector:         r.Vector,
		CaseID:         r.CaseID,
		SubmittedAt:    r.SubmittedAt,
		SubmittedEpoch: r.SubmittedAtEpoch,
		ProcessedAt:    r.ProcessedAt,
	}
}

func toModelCase(c *Case) *models.Case {
	return &models.Case{
		ID:             c.ID,
		Number:         c.Number,
		Title:          c.Title,
		Description:    c.Description,
		Status:         models.CaseStatus(c.Status),
		Priority:       models.CasePriority(c.Priority),
		Classification: c.Classification,
		Keywords:       c.Keywords,
		MemberCount:    c.MemberCount,
		AutoGrouped:    c.AutoGrouped,
		RelatedClosed:  c.RelatedCases,
		CreatedAt:      c.CreatedAt,
		CreatedAtEpoch: c.CreatedAtEpoch,
		UpdatedAt:      c.UpdatedAt,
		ClosedAt:       c.ClosedAt,
	}
}

func toModelMembership(m *Membership) *models.Membership {
	return &models.Membership{
		ID:         m.ID,
		CaseID:     m.CaseID,
		RecordID:   m.RecordID,
		Score:      m.SimilarityScore,
		AddedBy:    m.AddedBy,
		AddedAt:    m.AddedAt,
		AddedEpoch: m.AddedAtEpoch,
	}
}
