// Package dedup is the advisory pre-filter in front of review inserts. It
// answers "probably new or definitely seen" from a Redis set; the database
// unique constraint remains the source of truth, so every failure path here
// degrades to "treat as new" rather than dropping data.
package dedup

import (
	"context"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// SeenCache is the cache surface the deduplicator needs
type SeenCache interface {
	Contains(ctx context.Context, tenantID, productID uuid.UUID, externalIDs []string) ([]bool, error)
	Add(ctx context.Context, tenantID, productID uuid.UUID, externalIDs []string) error
}

// ReviewStore lists what is actually persisted, for cache resynchronization
type ReviewStore interface {
	ListExternalIDs(ctx context.Context, productID uuid.UUID) ([]string, error)
}

// Deduplicator filters incoming reviews against the seen cache
type Deduplicator struct {
	cache  SeenCache
	store  ReviewStore
	logger ectologger.Logger
}

// NewDeduplicator creates a deduplicator over the given cache and store
func NewDeduplicator(cache SeenCache, store ReviewStore, logger ectologger.Logger) *Deduplicator {
	return &Deduplicator{
		cache:  cache,
		store:  store,
		logger: logger,
	}
}

// Collapse removes in-batch duplicates, keeping the first occurrence of each
// external ID in submission order. Returns the survivors and how many were
// collapsed away.
func Collapse(reviews []models.IncomingReview) ([]models.IncomingReview, int) {
	seen := make(map[string]struct{}, len(reviews))
	out := make([]models.IncomingReview, 0, len(reviews))

	for _, rev := range reviews {
		if _, ok := seen[rev.ExternalID]; ok {
			continue
		}
		seen[rev.ExternalID] = struct{}{}
		out = append(out, rev)
	}

	return out, len(reviews) - len(out)
}

// FilterNew returns the external IDs not present in the seen cache, preserving
// input order, along with how many were filtered as already seen. A cache
// failure passes everything through: the insert's ON CONFLICT handles the
// duplicates the cache would have caught.
func (d *Deduplicator) FilterNew(ctx context.Context, tenantID, productID uuid.UUID, externalIDs []string) ([]string, int, error) {
	ctx, span := tracing.StartSpan(ctx, "Deduplicator.FilterNew")
	defer span.End()

	if len(externalIDs) == 0 {
		return nil, 0, nil
	}

	seen, err := d.cache.Contains(ctx, tenantID, productID, externalIDs)
	if err != nil {
		d.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"product_id": productID,
		}).Warn("seen cache unavailable, passing batch through")
		metrics.SeenSetLookups.WithLabelValues("error").Add(float64(len(externalIDs)))
		return externalIDs, 0, nil
	}

	fresh := make([]string, 0, len(externalIDs))
	skipped := 0
	for i, id := range externalIDs {
		if i < len(seen) && seen[i] {
			skipped++
			continue
		}
		fresh = append(fresh, id)
	}

	metrics.SeenSetLookups.WithLabelValues("hit").Add(float64(skipped))
	metrics.SeenSetLookups.WithLabelValues("miss").Add(float64(len(fresh)))

	return fresh, skipped, nil
}

// MarkSeen records external IDs in the cache after a successful insert. Cache
// failures are logged and swallowed; the worst case is a redundant pre-filter
// miss next time.
func (d *Deduplicator) MarkSeen(ctx context.Context, tenantID, productID uuid.UUID, externalIDs []string) {
	ctx, span := tracing.StartSpan(ctx, "Deduplicator.MarkSeen")
	defer span.End()

	if len(externalIDs) == 0 {
		return
	}

	if err := d.cache.Add(ctx, tenantID, productID, externalIDs); err != nil {
		d.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"product_id": productID,
		}).Warn("failed to mark reviews as seen")
	}
}

// SyncFromStore rebuilds the product's seen set from the persisted reviews.
// The rebuild is additive: ids marked seen by live traffic while the store
// was being read stay in the set, so it is safe to run concurrently.
func (d *Deduplicator) SyncFromStore(ctx context.Context, tenantID, productID uuid.UUID) error {
	ctx, span := tracing.StartSpan(ctx, "Deduplicator.SyncFromStore")
	defer span.End()

	ids, err := d.store.ListExternalIDs(ctx, productID)
	if err != nil {
		return err
	}

	if err := d.cache.Add(ctx, tenantID, productID, ids); err != nil {
		d.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"product_id": productID,
		}).Warn("failed to resync seen cache")
		return err
	}

	d.logger.WithContext(ctx).WithFields(map[string]any{
		"product_id": productID,
		"count":      len(ids),
	}).Info("resynced seen cache from store")

	return nil
}
