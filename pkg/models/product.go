package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Product is the shared entity reviews attach to. It is created on first
// ingest and its metadata is only ever mutated by the ingestion pipeline's
// merge policy.
type Product struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	TenantID    uuid.UUID       `db:"tenant_id" json:"tenant_id"`
	ExternalKey string          `db:"external_key" json:"external_key"`
	Name        string          `db:"name" json:"name"`
	Description string          `db:"description" json:"description"`
	Brand       string          `db:"brand" json:"brand"`
	Category    string          `db:"category" json:"category"`
	ImageURL    string          `db:"image_url" json:"image_url"`
	Metadata    json.RawMessage `db:"metadata" json:"metadata,omitempty"`
	ReviewCount int             `db:"review_count" json:"review_count"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

// TableName returns the database table name
func (Product) TableName() string {
	return "products"
}

// ProductMetadata is the merge-managed slice of a product row. Incoming
// submissions carry one of these; the pipeline decides field by field whether
// it improves on what is stored.
type ProductMetadata struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Brand       string          `json:"brand"`
	Category    string          `json:"category"`
	ImageURL    string          `json:"image_url"`
	Extra       json.RawMessage `json:"extra,omitempty"`
}
