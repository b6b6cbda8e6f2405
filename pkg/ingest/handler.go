package ingest

import (
	"context"

	"github.com/Gobusters/ectologger"

	appctx "github.com/Ramsey-B/clover/pkg/context"
	"github.com/Ramsey-B/clover/pkg/kafka"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// Notifier receives per-product ingestion outcomes
type Notifier interface {
	IngestionCompleted(ctx context.Context, result *models.ProductIngestResult)
}

// BatchHandler adapts inbound Kafka batches to the pipeline. It owns the
// context plumbing: tenant, user, and source ride in from message headers so
// everything below logs and scopes consistently.
type BatchHandler struct {
	pipeline *Pipeline
	notifier Notifier
	logger   ectologger.Logger
}

// NewBatchHandler creates a new batch handler. notifier may be nil.
func NewBatchHandler(pipeline *Pipeline, notifier Notifier, logger ectologger.Logger) *BatchHandler {
	return &BatchHandler{
		pipeline: pipeline,
		notifier: notifier,
		logger:   logger,
	}
}

// Handle processes one review batch message
func (h *BatchHandler) Handle(ctx context.Context, msg *kafka.ReceivedMessage) error {
	ctx, span := tracing.StartSpan(ctx, "BatchHandler.Handle")
	defer span.End()

	batch := msg.Batch

	tenantID := msg.Headers.TenantID
	if tenantID == "" {
		tenantID = batch.TenantID
	}
	ctx = appctx.SetTenantID(ctx, tenantID)

	userID := msg.Headers.UserID
	if userID == "" {
		userID = batch.UserID
	}
	if userID != "" {
		ctx = appctx.SetUserID(ctx, userID)
	}

	source := msg.Headers.Source
	if source == "" {
		source = batch.Source
	}
	ctx = appctx.SetSource(ctx, source)

	result, err := h.pipeline.ProcessBatch(ctx, batch.Submissions)
	if err != nil {
		return err
	}

	if h.notifier != nil {
		for _, group := range result.Products {
			if group.Err == nil && group.Inserted > 0 {
				h.notifier.IngestionCompleted(ctx, group)
			}
		}
	}

	return nil
}
