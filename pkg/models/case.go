package models

import (
	"database/sql"
	"time"
)

// CaseStatus is the lifecycle state of a case.
type CaseStatus string

const (
	CaseStatusOpen          CaseStatus = "open"
	CaseStatusInvestigating CaseStatus = "investigating"
	CaseStatusClosed        CaseStatus = "closed"
)

// CasePriority is derived from the urgency of member records.
type CasePriority string

const (
	PriorityLow      CasePriority = "low"
	PriorityMedium   CasePriority = "medium"
	PriorityHigh     CasePriority = "high"
	PriorityCritical CasePriority = "critical"
)

// PriorityForUrgency maps an intake urgency level to a case priority.
func PriorityForUrgency(u UrgencyLevel) CasePriority {
	switch u {
	case UrgencyLow:
		return PriorityLow
	case UrgencyHigh:
		return PriorityHigh
	case UrgencyCritical:
		return PriorityCritical
	default:
		return PriorityMedium
	}
}

// priorityRank orders priorities for "highest member urgency wins".
var priorityRank = map[CasePriority]int{
	PriorityLow:      0,
	PriorityMedium:   1,
	PriorityHigh:     2,
	PriorityCritical: 3,
}

// MaxPriority returns the higher of two priorities.
func MaxPriority(a, b CasePriority) CasePriority {
	if priorityRank[b] > priorityRank[a] {
		return b
	}
	return a
}

// RelatedClosedCase is an advisory cross-reference from a case to a
// similar closed case found at grouping time.
type RelatedClosedCase struct {
	CaseID     int64   `json:"case_id"`
	CaseNumber string  `json:"case_number"`
	Score      float32 `json:"similarity_score"`
	DetectedAt string  `json:"detected_at"`
}

// Case groups records believed to describe the same incident.
// MemberCount is always recomputed from membership rows, never incremented.
type Case struct {
	ID             int64            `db:"id" json:"id"`
	Number         string           `db:"number" json:"number"`
	Title          string           `db:"title" json:"title"`
	Description    sql.NullString   `db:"description" json:"description,omitempty"`
	Status         CaseStatus       `db:"status" json:"status"`
	Priority       CasePriority     `db:"priority" json:"priority"`
	Classification sql.NullString   `db:"classification" json:"classification,omitempty"`
	Keywords       JSONStringArray  `db:"keywords" json:"keywords,omitempty"`
	MemberCount    int              `db:"member_count" json:"member_count"`
	AutoGrouped    bool             `db:"auto_grouped" json:"auto_grouped"`
	RelatedClosed  JSONRelatedCases `db:"related_cases" json:"related_cases,omitempty"`
	CreatedAt      string           `db:"created_at" json:"created_at"`
	CreatedAtEpoch int64            `db:"created_at_epoch" json:"created_at_epoch"`
	UpdatedAt      string           `db:"updated_at" json:"updated_at"`
	ClosedAt       sql.NullString   `db:"closed_at" json:"closed_at,omitempty"`
}

// AddedBySystem is the actor recorded for memberships created by the
// grouping policy rather than an operator.
const AddedBySystem = "system"

// Membership links one record to its case. A record belongs to exactly
// one case at a time; the founding record carries no similarity score.
type Membership struct {
	ID         int64           `db:"id" json:"id"`
	CaseID     int64           `db:"case_id" json:"case_id"`
	RecordID   int64           `db:"record_id" json:"record_id"`
	Score      sql.NullFloat64 `db:"similarity_score" json:"similarity_score,omitempty"`
	AddedBy    string          `db:"added_by" json:"added_by"`
	AddedAt    string          `db:"added_at" json:"added_at"`
	AddedEpoch int64           `db:"added_at_epoch" json:"added_at_epoch"`
}

// NewRelatedClosedCase stamps an advisory reference with the current time.
func NewRelatedClosedCase(caseID int64, number string, score float32) RelatedClosedCase {
	return RelatedClosedCase{
		CaseID:     caseID,
		CaseNumber: number,
		Score:      score,
		DetectedAt: time.Now().Format(time.RFC3339),
	}
}
