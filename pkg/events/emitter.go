// Package events publishes lifecycle notifications for downstream consumers.
// Emission is strictly best effort: a dropped event never fails the operation
// that produced it.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	appctx "github.com/Ramsey-B/clover/pkg/context"
	"github.com/Ramsey-B/clover/pkg/kafka"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

const (
	// TypeIngestionCompleted is emitted once per product group that had
	// at least one review inserted.
	TypeIngestionCompleted = "review.ingestion.completed"
	// TypeAnalysisCompleted is emitted when an analysis lock completes
	// with a result.
	TypeAnalysisCompleted = "analysis.completed"
)

// Publisher is the producer surface the emitter needs
type Publisher interface {
	Publish(ctx context.Context, msg *kafka.EventMessage) error
}

// IngestionCompletedEvent is the payload for TypeIngestionCompleted
type IngestionCompletedEvent struct {
	ProductID  uuid.UUID `json:"product_id"`
	ProductKey string    `json:"product_key"`
	Inserted   int       `json:"inserted"`
	Skipped    int       `json:"skipped"`
	Source     string    `json:"source,omitempty"`
}

// AnalysisCompletedEvent is the payload for TypeAnalysisCompleted
type AnalysisCompletedEvent struct {
	LockID          uuid.UUID           `json:"lock_id"`
	ProductID       uuid.UUID           `json:"product_id"`
	Kind            models.AnalysisKind `json:"kind"`
	ResultRef       string              `json:"result_ref"`
	LastReviewCount int                 `json:"last_review_count"`
	ValidUntil      *time.Time          `json:"valid_until,omitempty"`
}

// Emitter publishes clover events to the event topic
type Emitter struct {
	publisher Publisher
	logger    ectologger.Logger
}

// NewEmitter creates a new event emitter
func NewEmitter(publisher Publisher, logger ectologger.Logger) *Emitter {
	return &Emitter{
		publisher: publisher,
		logger:    logger,
	}
}

// IngestionCompleted emits a review.ingestion.completed event for one product
func (e *Emitter) IngestionCompleted(ctx context.Context, result *models.ProductIngestResult) {
	payload := IngestionCompletedEvent{
		ProductID:  result.ProductID,
		ProductKey: result.ProductKey,
		Inserted:   result.Inserted,
		Skipped:    result.Skipped,
		Source:     appctx.GetSource(ctx),
	}
	e.emit(ctx, TypeIngestionCompleted, payload)
}

// AnalysisCompleted emits an analysis.completed event. Satisfies the
// coordinator's Events interface.
func (e *Emitter) AnalysisCompleted(ctx context.Context, lock *models.AnalysisLock) {
	payload := AnalysisCompletedEvent{
		LockID:          lock.ID,
		ProductID:       lock.ProductID,
		Kind:            lock.Kind,
		LastReviewCount: lock.LastReviewCount,
		ValidUntil:      lock.ResultValidTill,
	}
	if lock.ResultRef != nil {
		payload.ResultRef = *lock.ResultRef
	}
	e.emit(ctx, TypeAnalysisCompleted, payload)
}

func (e *Emitter) emit(ctx context.Context, eventType string, payload any) {
	ctx, span := tracing.StartSpan(ctx, "Emitter.emit")
	defer span.End()

	data, err := json.Marshal(payload)
	if err != nil {
		e.logger.WithContext(ctx).WithError(err).Errorf("Failed to serialize %s event", eventType)
		return
	}

	msg := &kafka.EventMessage{
		Type:      eventType,
		TenantID:  appctx.GetTenantID(ctx),
		Timestamp: time.Now().UTC(),
		Data:      data,
		TraceID:   tracing.GetTraceID(ctx),
	}

	if err := e.publisher.Publish(ctx, msg); err != nil {
		e.logger.WithContext(ctx).WithError(err).Errorf("Failed to publish %s event", eventType)
	}
}
