package models

import (
	"time"

	"github.com/google/uuid"
)

// LockStatus represents the lifecycle state of an analysis attempt
type LockStatus string

const (
	LockStatusProcessing LockStatus = "processing"
	LockStatusCompleted  LockStatus = "completed"
	LockStatusFailed     LockStatus = "failed"
	LockStatusExpired    LockStatus = "expired"
)

// AnalysisKind identifies which analysis pipeline a lock guards
type AnalysisKind string

const (
	AnalysisKindComprehensive AnalysisKind = "comprehensive"
	AnalysisKindSentiment     AnalysisKind = "sentiment"
	AnalysisKindComparison    AnalysisKind = "comparison"
)

// AnalysisLock is one analysis attempt for a (product, kind). A partial
// unique index on (product_id, kind) WHERE status = 'processing' guarantees
// at most one in-flight attempt; rows are never reused across attempts.
type AnalysisLock struct {
	ID              uuid.UUID    `db:"id" json:"id"`
	TenantID        uuid.UUID    `db:"tenant_id" json:"tenant_id"`
	ProductID       uuid.UUID    `db:"product_id" json:"product_id"`
	Kind            AnalysisKind `db:"kind" json:"kind"`
	Status          LockStatus   `db:"status" json:"status"`
	TriggeredBy     string       `db:"triggered_by" json:"triggered_by"`
	CreatedAt       time.Time    `db:"created_at" json:"created_at"`
	CompletedAt     *time.Time   `db:"completed_at" json:"completed_at,omitempty"`
	ResultValidTill *time.Time   `db:"result_valid_until" json:"result_valid_until,omitempty"`
	LastReviewCount int          `db:"last_review_count" json:"last_review_count"`
	ResultRef       *string      `db:"result_ref" json:"result_ref,omitempty"`
	ExternalJobID   *string      `db:"external_job_id" json:"external_job_id,omitempty"`
}

// TableName returns the database table name
func (AnalysisLock) TableName() string {
	return "analysis_locks"
}

// ResultValid reports whether the lock's cached result is still inside its
// validity window at the given instant.
func (l *AnalysisLock) ResultValid(now time.Time) bool {
	return l.Status == LockStatusCompleted &&
		l.ResultValidTill != nil &&
		l.ResultValidTill.After(now)
}
