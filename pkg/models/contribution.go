package models

import (
	"time"

	"github.com/google/uuid"
)

// Contribution links a submitting user to a product and accumulates how many
// reviews they contributed. A row is upserted on every submission, including
// ones that inserted nothing, so repeat access is still recorded.
type Contribution struct {
	ID               uuid.UUID `db:"id" json:"id"`
	TenantID         uuid.UUID `db:"tenant_id" json:"tenant_id"`
	ProductID        uuid.UUID `db:"product_id" json:"product_id"`
	UserID           uuid.UUID `db:"user_id" json:"user_id"`
	ReviewCount      int       `db:"review_count" json:"review_count"`
	SubmissionCount  int       `db:"submission_count" json:"submission_count"`
	FirstSubmittedAt time.Time `db:"first_submitted_at" json:"first_submitted_at"`
	LastSubmittedAt  time.Time `db:"last_submitted_at" json:"last_submitted_at"`
}

// TableName returns the database table name
func (Contribution) TableName() string {
	return "review_contributions"
}
