// Package ingest turns submitted review batches into persisted rows. A batch
// may span several products; each product group succeeds or fails on its own
// so one bad group never poisons its siblings.
package ingest

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	appctx "github.com/Ramsey-B/clover/pkg/context"
	"github.com/Ramsey-B/clover/pkg/dedup"
	"github.com/Ramsey-B/clover/pkg/merge"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ProductStore is the product surface the pipeline needs
type ProductStore interface {
	ResolveOrCreate(ctx context.Context, tenantID uuid.UUID, externalKey string) (*models.Product, error)
	UpdateMetadata(ctx context.Context, product *models.Product) error
	IncrementReviewCount(ctx context.Context, productID uuid.UUID, delta int) (int, error)
}

// ReviewStore persists review rows
type ReviewStore interface {
	InsertIgnore(ctx context.Context, reviews []models.Review) (int, error)
}

// ContributionStore records who submitted what
type ContributionStore interface {
	RecordSubmission(ctx context.Context, tenantID, productID, userID uuid.UUID, reviewCount int) error
}

// Filter is the dedup pre-filter surface
type Filter interface {
	FilterNew(ctx context.Context, tenantID, productID uuid.UUID, externalIDs []string) ([]string, int, error)
	MarkSeen(ctx context.Context, tenantID, productID uuid.UUID, externalIDs []string)
}

// AggregateInvalidator drops cached aggregates when new reviews land
type AggregateInvalidator interface {
	Invalidate(ctx context.Context, tenantID, productID uuid.UUID) error
}

// Pipeline is the batch ingestion service
type Pipeline struct {
	products      ProductStore
	reviews       ReviewStore
	contributions ContributionStore
	filter        Filter
	aggregates    AggregateInvalidator
	merger        merge.Policy
	logger        ectologger.Logger
}

// NewPipeline creates a new ingestion pipeline
func NewPipeline(
	products ProductStore,
	reviews ReviewStore,
	contributions ContributionStore,
	filter Filter,
	aggregates AggregateInvalidator,
	merger merge.Policy,
	logger ectologger.Logger,
) *Pipeline {
	return &Pipeline{
		products:      products,
		reviews:       reviews,
		contributions: contributions,
		filter:        filter,
		aggregates:    aggregates,
		merger:        merger,
		logger:        logger,
	}
}

// ProcessBatch ingests a batch of submissions. Submissions are grouped by
// product key; each group is processed independently and its outcome recorded
// in the result. The returned error covers only batch-level failures such as
// a missing tenant; per-group failures live on the group's result entry.
func (p *Pipeline) ProcessBatch(ctx context.Context, submissions []models.ReviewSubmission) (*models.BatchResult, error) {
	ctx, span := tracing.StartSpan(ctx, "Pipeline.ProcessBatch")
	defer span.End()

	start := time.Now()

	tenantID, err := tenantFromContext(ctx)
	if err != nil {
		return nil, err
	}

	result := &models.BatchResult{Products: map[string]*models.ProductIngestResult{}}

	groups := groupByProduct(submissions)
	for _, group := range groups {
		gr := p.processGroup(ctx, tenantID, group)
		result.Products[group.productKey] = gr

		if gr.Err != nil {
			p.logger.WithContext(ctx).WithError(gr.Err).WithFields(map[string]any{
				"product_key": group.productKey,
			}).Error("product group failed during batch ingestion")
			metrics.ProductGroupFailures.WithLabelValues(tenantID.String()).Inc()
		}

		metrics.RecordIngestOutcome(tenantID.String(), "inserted", gr.Inserted)
		metrics.RecordIngestOutcome(tenantID.String(), "skipped", gr.Skipped)
		metrics.RecordIngestOutcome(tenantID.String(), "invalid", gr.Invalid)
	}

	metrics.RecordBatch(tenantID.String(), time.Since(start).Seconds())

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"products": len(result.Products),
		"inserted": result.TotalInserted(),
		"skipped":  result.TotalSkipped(),
	}).Info("processed review batch")

	return result, nil
}

// productGroup is all submissions in a batch that target one product key
type productGroup struct {
	productKey string
	metadata   []*models.ProductMetadata
	reviews    []models.IncomingReview
	invalid    int
}

// groupByProduct merges submissions by product key, preserving submission
// order inside each group. Submissions that fail validation contribute their
// review count as invalid rather than aborting the batch.
func groupByProduct(submissions []models.ReviewSubmission) []*productGroup {
	byKey := map[string]*productGroup{}
	order := []*productGroup{}

	for _, sub := range submissions {
		key := sub.ProductKey
		if key == "" {
			key = "(missing)"
		}

		group, ok := byKey[key]
		if !ok {
			group = &productGroup{productKey: key}
			byKey[key] = group
			order = append(order, group)
		}

		if err := validate.Struct(sub); err != nil {
			group.invalid += len(sub.Reviews)
			continue
		}

		if sub.Metadata != nil {
			group.metadata = append(group.metadata, sub.Metadata)
		}

		for _, rev := range sub.Reviews {
			if rev.ExternalID == "" {
				group.invalid++
				continue
			}
			group.reviews = append(group.reviews, rev)
		}
	}

	return order
}

func (p *Pipeline) processGroup(ctx context.Context, tenantID uuid.UUID, group *productGroup) *models.ProductIngestResult {
	ctx, span := tracing.StartSpan(ctx, "Pipeline.processGroup")
	defer span.End()

	result := &models.ProductIngestResult{
		ProductKey: group.productKey,
		Invalid:    group.invalid,
	}

	if group.productKey == "(missing)" {
		result.Err = httperror.NewHTTPError(http.StatusBadRequest, "submission is missing a product key")
		return result
	}
	if len(group.reviews) == 0 && len(group.metadata) == 0 {
		return result
	}

	collapsed, dupes := dedup.Collapse(group.reviews)
	result.Skipped += dupes

	product, err := p.products.ResolveOrCreate(ctx, tenantID, group.productKey)
	if err != nil {
		result.Err = err
		return result
	}
	result.ProductID = product.ID

	changed := false
	for _, meta := range group.metadata {
		if p.merger.Apply(product, meta).Changed {
			changed = true
		}
	}
	if changed {
		if err := p.products.UpdateMetadata(ctx, product); err != nil {
			result.Err = err
			return result
		}
	}

	externalIDs := make([]string, len(collapsed))
	byID := make(map[string]models.IncomingReview, len(collapsed))
	for i, rev := range collapsed {
		externalIDs[i] = rev.ExternalID
		byID[rev.ExternalID] = rev
	}

	fresh, cacheSkipped, err := p.filter.FilterNew(ctx, tenantID, product.ID, externalIDs)
	if err != nil {
		result.Err = err
		return result
	}
	result.Skipped += cacheSkipped

	inserted := 0
	if len(fresh) > 0 {
		rows := make([]models.Review, 0, len(fresh))
		now := time.Now().UTC()
		for _, id := range fresh {
			rev := byID[id]
			rows = append(rows, models.Review{
				ID:         uuid.New(),
				TenantID:   tenantID,
				ProductID:  product.ID,
				ExternalID: rev.ExternalID,
				Rating:     rev.Rating,
				Title:      rev.Title,
				Body:       rev.Body,
				Author:     rev.Author,
				ReviewDate: rev.ReviewDate,
				Source:     rev.Source,
				Raw:        rev.Raw,
				CreatedAt:  now,
			})
		}

		inserted, err = p.reviews.InsertIgnore(ctx, rows)
		if err != nil {
			result.Err = err
			return result
		}

		// The constraint caught what the cache missed.
		result.Skipped += len(fresh) - inserted
	}
	result.Inserted = inserted

	// Everything in the batch now has a row, whether we wrote it or not.
	p.filter.MarkSeen(ctx, tenantID, product.ID, externalIDs)

	if inserted > 0 {
		if _, err := p.products.IncrementReviewCount(ctx, product.ID, inserted); err != nil {
			result.Err = err
			return result
		}
		if err := p.aggregates.Invalidate(ctx, tenantID, product.ID); err != nil {
			p.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"product_id": product.ID,
			}).Warn("failed to invalidate review aggregates")
		}
	}

	if userID, err := uuid.Parse(appctx.GetUserID(ctx)); err == nil {
		if err := p.contributions.RecordSubmission(ctx, tenantID, product.ID, userID, inserted); err != nil {
			p.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"product_id": product.ID,
			}).Warn("failed to record contribution")
		}
	}

	return result
}

func tenantFromContext(ctx context.Context) (uuid.UUID, error) {
	raw := appctx.GetTenantID(ctx)
	if raw == "" {
		return uuid.Nil, httperror.NewHTTPError(http.StatusUnauthorized, "tenant ID is required")
	}

	tenantID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, httperror.NewHTTPError(http.StatusUnauthorized, "tenant ID is invalid")
	}

	return tenantID, nil
}
