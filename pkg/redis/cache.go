package redis

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
)

// AggregateCache invalidates cached per-product review aggregates when new
// reviews land. Aggregates are written by downstream consumers; this side only
// ever deletes.
type AggregateCache struct {
	client *Client
	logger ectologger.Logger
}

// NewAggregateCache creates an aggregate cache over the given client.
func NewAggregateCache(client *Client, logger ectologger.Logger) *AggregateCache {
	return &AggregateCache{
		client: client,
		logger: logger,
	}
}

// Invalidate removes every cached aggregate for the product.
func (c *AggregateCache) Invalidate(ctx context.Context, tenantID, productID uuid.UUID) error {
	pattern := fmt.Sprintf("reviews:agg:%s:%s:*", tenantID, productID)

	deleted, err := c.client.DelPattern(ctx, pattern)
	if err != nil {
		return err
	}

	if deleted > 0 {
		c.logger.WithContext(ctx).WithFields(map[string]any{
			"product_id": productID,
			"deleted":    deleted,
		}).Debug("invalidated review aggregates")
	}

	return nil
}
