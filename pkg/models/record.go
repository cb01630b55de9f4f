package models

import (
	"database/sql"
	"strings"
	"time"
)

// RecordStatus tracks a record through the ingestion pipeline.
type RecordStatus string

const (
	RecordStatusReceived  RecordStatus = "received"
	RecordStatusProcessed RecordStatus = "processed"
	RecordStatusFailed    RecordStatus = "failed"
)

// UrgencyLevel is the reporter-supplied urgency of an incident report.
// Values follow the intake form (Malay).
type UrgencyLevel string

const (
	UrgencyLow      UrgencyLevel = "Rendah"
	UrgencyMedium   UrgencyLevel = "Sederhana"
	UrgencyHigh     UrgencyLevel = "Tinggi"
	UrgencyCritical UrgencyLevel = "Kritikal"
)

// Record is one ingested incident report. The vector is nil until the
// embedder has run; CaseID is set at most once by the grouping policy.
type Record struct {
	ID             int64            `db:"id" json:"id"`
	Reference      string           `db:"reference" json:"reference"`
	Title          string           `db:"title" json:"title"`
	Text           string           `db:"text" json:"text"`
	Category       sql.NullString   `db:"category" json:"category,omitempty"`
	Classification sql.NullString   `db:"classification" json:"classification,omitempty"`
	Urgency        UrgencyLevel     `db:"urgency" json:"urgency"`
	Status         RecordStatus     `db:"status" json:"status"`
	Vector         JSONFloat32Array `db:"vector" json:"-"`
	CaseID         sql.NullInt64    `db:"case_id" json:"case_id,omitempty"`
	SubmittedAt    string           `db:"submitted_at" json:"submitted_at"`
	SubmittedEpoch int64            `db:"submitted_at_epoch" json:"submitted_at_epoch"`
	ProcessedAt    sql.NullString   `db:"processed_at" json:"processed_at,omitempty"`
}

// HasVector reports whether the record can participate in similarity search.
func (r *Record) HasVector() bool {
	return len(r.Vector) > 0
}

// EmbeddingText is the text the vectorizer sees: title and body joined,
// matching how reports were embedded at intake.
func (r *Record) EmbeddingText() string {
	parts := make([]string, 0, 2)
	if t := strings.TrimSpace(r.Title); t != "" {
		parts = append(parts, t)
	}
	if t := strings.TrimSpace(r.Text); t != "" {
		parts = append(parts, t)
	}
	return strings.Join(parts, " | ")
}

// NewRecord creates a record in the received state with timestamps set.
func NewRecord(title, text string, urgency UrgencyLevel) *Record {
	now := time.Now()
	if urgency == "" {
		urgency = UrgencyMedium
	}
	return &Record{
		Title:          title,
		Text:           text,
		Urgency:        urgency,
		Status:         RecordStatusReceived,
		SubmittedAt:    now.Format(time.RFC3339),
		SubmittedEpoch: now.UnixMilli(),
	}
}
