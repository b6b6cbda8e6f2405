package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
)

// SeenSet tracks review external IDs already ingested per product, as a Redis
// set with a sliding TTL. It is a pre-filter only: the database unique
// constraint remains the arbiter of duplicates, so a lost or evicted set is
// never a correctness problem.
type SeenSet struct {
	client *Client
	logger ectologger.Logger
	ttl    time.Duration
}

// NewSeenSet creates a seen-set over the given client. ttl is refreshed on
// every write so active products never expire.
func NewSeenSet(client *Client, ttl time.Duration, logger ectologger.Logger) *SeenSet {
	return &SeenSet{
		client: client,
		logger: logger,
		ttl:    ttl,
	}
}

func (s *SeenSet) key(tenantID, productID uuid.UUID) string {
	return fmt.Sprintf("seen:%s:%s", tenantID, productID)
}

// Contains reports, for each external ID, whether it is already in the seen
// set. The result slice is ordered to match the input.
func (s *SeenSet) Contains(ctx context.Context, tenantID, productID uuid.UUID, externalIDs []string) ([]bool, error) {
	if len(externalIDs) == 0 {
		return nil, nil
	}

	key := s.key(tenantID, productID)

	members := make([]interface{}, len(externalIDs))
	for i, id := range externalIDs {
		members[i] = id
	}

	seen, err := s.client.SMIsMember(ctx, key, members...)
	if err == nil {
		return seen, nil
	}

	// Older servers reject SMISMEMBER; one SISMEMBER per ID answers the same
	// question. A failure here means the server itself is unreachable.
	s.logger.WithContext(ctx).WithError(err).Debug("batch membership check failed, falling back to per-member checks")

	seen = make([]bool, len(externalIDs))
	for i, id := range externalIDs {
		hit, err := s.client.SIsMember(ctx, key, id)
		if err != nil {
			return nil, err
		}
		seen[i] = hit
	}

	return seen, nil
}

// Add records external IDs as seen and refreshes the set's TTL.
func (s *SeenSet) Add(ctx context.Context, tenantID, productID uuid.UUID, externalIDs []string) error {
	if len(externalIDs) == 0 {
		return nil
	}

	key := s.key(tenantID, productID)
	members := make([]interface{}, len(externalIDs))
	for i, id := range externalIDs {
		members[i] = id
	}

	if err := s.client.SAdd(ctx, key, members...); err != nil {
		return err
	}
	return s.client.Expire(ctx, key, s.ttl)
}
