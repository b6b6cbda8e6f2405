package dedup_test

import (
	"context"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Ramsey-B/clover/pkg/dedup"
	"github.com/Ramsey-B/clover/pkg/models"
)

func getTestLogger() ectologger.Logger {
	zapLogger, _ := zap.NewDevelopment()
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

type fakeCache struct {
	seen    map[string]bool
	failing bool
}

func newFakeCache(seen ...string) *fakeCache {
	c := &fakeCache{seen: map[string]bool{}}
	for _, id := range seen {
		c.seen[id] = true
	}
	return c
}

func (c *fakeCache) Contains(ctx context.Context, tenantID, productID uuid.UUID, externalIDs []string) ([]bool, error) {
	if c.failing {
		return nil, errors.New("connection refused")
	}
	out := make([]bool, len(externalIDs))
	for i, id := range externalIDs {
		out[i] = c.seen[id]
	}
	return out, nil
}

func (c *fakeCache) Add(ctx context.Context, tenantID, productID uuid.UUID, externalIDs []string) error {
	if c.failing {
		return errors.New("connection refused")
	}
	for _, id := range externalIDs {
		c.seen[id] = true
	}
	return nil
}

type fakeStore struct {
	ids []string
}

func (s *fakeStore) ListExternalIDs(ctx context.Context, productID uuid.UUID) ([]string, error) {
	return s.ids, nil
}

func TestCollapse(t *testing.T) {
	reviews := []models.IncomingReview{
		{ExternalID: "r1", Title: "first"},
		{ExternalID: "r2"},
		{ExternalID: "r1", Title: "second copy"},
		{ExternalID: "r3"},
		{ExternalID: "r2"},
	}

	out, dupes := dedup.Collapse(reviews)

	require.Len(t, out, 3)
	assert.Equal(t, 2, dupes)
	assert.Equal(t, "r1", out[0].ExternalID)
	assert.Equal(t, "first", out[0].Title, "first occurrence wins")
	assert.Equal(t, "r2", out[1].ExternalID)
	assert.Equal(t, "r3", out[2].ExternalID)
}

func TestFilterNew(t *testing.T) {
	tenantID := uuid.New()
	productID := uuid.New()
	ctx := context.Background()

	t.Run("splits seen from new preserving order", func(t *testing.T) {
		cache := newFakeCache("r1", "r3")
		d := dedup.NewDeduplicator(cache, &fakeStore{}, getTestLogger())

		fresh, skipped, err := d.FilterNew(ctx, tenantID, productID, []string{"r1", "r2", "r3", "r4"})

		require.NoError(t, err)
		assert.Equal(t, []string{"r2", "r4"}, fresh)
		assert.Equal(t, 2, skipped)
	})

	t.Run("cache failure passes everything through", func(t *testing.T) {
		cache := newFakeCache("r1")
		cache.failing = true
		d := dedup.NewDeduplicator(cache, &fakeStore{}, getTestLogger())

		fresh, skipped, err := d.FilterNew(ctx, tenantID, productID, []string{"r1", "r2"})

		require.NoError(t, err)
		assert.Equal(t, []string{"r1", "r2"}, fresh)
		assert.Equal(t, 0, skipped)
	})

	t.Run("empty input is a no-op", func(t *testing.T) {
		d := dedup.NewDeduplicator(newFakeCache(), &fakeStore{}, getTestLogger())

		fresh, skipped, err := d.FilterNew(ctx, tenantID, productID, nil)

		require.NoError(t, err)
		assert.Nil(t, fresh)
		assert.Equal(t, 0, skipped)
	})
}

func TestMarkSeen(t *testing.T) {
	tenantID := uuid.New()
	productID := uuid.New()
	ctx := context.Background()

	t.Run("marked IDs are filtered next time", func(t *testing.T) {
		cache := newFakeCache()
		d := dedup.NewDeduplicator(cache, &fakeStore{}, getTestLogger())

		d.MarkSeen(ctx, tenantID, productID, []string{"r1", "r2"})

		fresh, skipped, err := d.FilterNew(ctx, tenantID, productID, []string{"r1", "r2", "r3"})
		require.NoError(t, err)
		assert.Equal(t, []string{"r3"}, fresh)
		assert.Equal(t, 2, skipped)
	})

	t.Run("cache failure does not propagate", func(t *testing.T) {
		cache := newFakeCache()
		cache.failing = true
		d := dedup.NewDeduplicator(cache, &fakeStore{}, getTestLogger())

		d.MarkSeen(ctx, tenantID, productID, []string{"r1"})
	})
}

func TestSyncFromStore(t *testing.T) {
	tenantID := uuid.New()
	productID := uuid.New()
	ctx := context.Background()

	// "live-1" was marked seen by traffic racing the store read; the rebuild
	// must not evict it.
	cache := newFakeCache("live-1")
	store := &fakeStore{ids: []string{"r1", "r2"}}
	d := dedup.NewDeduplicator(cache, store, getTestLogger())

	err := d.SyncFromStore(ctx, tenantID, productID)
	require.NoError(t, err)

	fresh, skipped, err := d.FilterNew(ctx, tenantID, productID, []string{"live-1", "r1", "r2", "r9"})
	require.NoError(t, err)
	assert.Equal(t, []string{"r9"}, fresh, "rebuild adds store ids without evicting live entries")
	assert.Equal(t, 3, skipped)
}
