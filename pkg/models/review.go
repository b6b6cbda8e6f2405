package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Review is one externally-sourced review attributed to a product. The
// payload is immutable once persisted; (product_id, external_id) is unique so
// a review is inserted exactly once no matter how often it is submitted.
type Review struct {
	ID         uuid.UUID       `db:"id" json:"id"`
	TenantID   uuid.UUID       `db:"tenant_id" json:"tenant_id"`
	ProductID  uuid.UUID       `db:"product_id" json:"product_id"`
	ExternalID string          `db:"external_id" json:"external_id"`
	Rating     *float64        `db:"rating" json:"rating,omitempty"`
	Title      string          `db:"title" json:"title"`
	Body       string          `db:"body" json:"body"`
	Author     string          `db:"author" json:"author"`
	ReviewDate *time.Time      `db:"review_date" json:"review_date,omitempty"`
	Source     string          `db:"source" json:"source"`
	Raw        json.RawMessage `db:"raw" json:"raw,omitempty"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
}

// TableName returns the database table name
func (Review) TableName() string {
	return "reviews"
}

// ReviewSubmission is one inbound item as submitted by a record source.
// ProductKey identifies the product; reviews without an ExternalID are
// counted invalid individually and dropped before dedup, never failing the
// submission around them. A submission may carry metadata alone.
type ReviewSubmission struct {
	ProductKey string           `json:"product_key" validate:"required"`
	Metadata   *ProductMetadata `json:"metadata,omitempty"`
	Reviews    []IncomingReview `json:"reviews"`
}

// IncomingReview is the wire shape of a single review inside a submission.
type IncomingReview struct {
	ExternalID string          `json:"external_id"`
	Rating     *float64        `json:"rating,omitempty"`
	Title      string          `json:"title"`
	Body       string          `json:"body"`
	Author     string          `json:"author"`
	ReviewDate *time.Time      `json:"review_date,omitempty"`
	Source     string          `json:"source"`
	Raw        json.RawMessage `json:"raw,omitempty"`
}

// ProductIngestResult reports what happened to one product group inside a
// batch. Groups fail independently; Err is set without affecting siblings.
type ProductIngestResult struct {
	ProductKey string    `json:"product_key"`
	ProductID  uuid.UUID `json:"product_id"`
	Inserted   int       `json:"inserted"`
	Skipped    int       `json:"skipped"`
	Invalid    int       `json:"invalid"`
	Err        error     `json:"-"`
}

// BatchResult is the per-resource breakdown for one ProcessBatch call.
type BatchResult struct {
	Products map[string]*ProductIngestResult `json:"products"`
}

// TotalInserted sums inserted counts across all product groups.
func (r *BatchResult) TotalInserted() int {
	total := 0
	for _, p := range r.Products {
		total += p.Inserted
	}
	return total
}

// TotalSkipped sums skipped counts across all product groups.
func (r *BatchResult) TotalSkipped() int {
	total := 0
	for _, p := range r.Products {
		total += p.Skipped
	}
	return total
}
