package review_test

import (
	"context"
	"os"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Ramsey-B/clover/internal/repositories/contribution"
	"github.com/Ramsey-B/clover/internal/repositories/product"
	"github.com/Ramsey-B/clover/internal/repositories/review"
	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
)

func getTestLogger() ectologger.Logger {
	zapLogger, _ := zap.NewDevelopment()
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

func getTestDB(t *testing.T) database.DB {
	t.Helper()

	dsn := os.Getenv("CLOVER_TEST_DB")
	if dsn == "" {
		t.Skip("CLOVER_TEST_DB not set, skipping database test")
	}

	db, err := sqlx.Connect("postgres", dsn)
	require.NoError(t, err, "Failed to connect to test database")

	return database.NewDatabaseInstance(db, getTestLogger())
}

func testReview(tenantID, productID uuid.UUID, externalID string) models.Review {
	return models.Review{
		ID:         uuid.New(),
		TenantID:   tenantID,
		ProductID:  productID,
		ExternalID: externalID,
		Title:      "Great",
		Body:       "Works as described",
		Source:     "test",
	}
}

func TestInsertIgnore_Idempotent(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	logger := getTestLogger()
	products := product.NewRepository(db, logger)
	reviews := review.NewRepository(db, logger)
	tenantID := uuid.New()
	ctx := context.Background()

	p, err := products.ResolveOrCreate(ctx, tenantID, "REV-"+uuid.NewString())
	require.NoError(t, err)

	batch := []models.Review{
		testReview(tenantID, p.ID, "r1"),
		testReview(tenantID, p.ID, "r2"),
		testReview(tenantID, p.ID, "r3"),
	}

	inserted, err := reviews.InsertIgnore(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 3, inserted)

	// Same external IDs with new row IDs: nothing is written.
	again := []models.Review{
		testReview(tenantID, p.ID, "r1"),
		testReview(tenantID, p.ID, "r2"),
		testReview(tenantID, p.ID, "r4"),
	}
	inserted, err = reviews.InsertIgnore(ctx, again)
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)

	count, err := reviews.CountByProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	existing, err := reviews.ListExistingExternalIDs(ctx, p.ID, []string{"r1", "r4", "r9"})
	require.NoError(t, err)
	assert.Contains(t, existing, "r1")
	assert.Contains(t, existing, "r4")
	assert.NotContains(t, existing, "r9")

	ids, err := reviews.ListExternalIDs(ctx, p.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"r1", "r2", "r3", "r4"}, ids)
}

func TestResolveOrCreate_SharedAcrossSubmitters(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	products := product.NewRepository(db, getTestLogger())
	tenantID := uuid.New()
	ctx := context.Background()
	key := "SHARED-" + uuid.NewString()

	first, err := products.ResolveOrCreate(ctx, tenantID, key)
	require.NoError(t, err)

	second, err := products.ResolveOrCreate(ctx, tenantID, key)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "same key resolves to the same product")

	// A different tenant gets its own product for the same key.
	other, err := products.ResolveOrCreate(ctx, uuid.New(), key)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)
}

func TestRecordSubmission_AccumulatesAcrossSubmissions(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	logger := getTestLogger()
	products := product.NewRepository(db, logger)
	contributions := contribution.NewRepository(db, logger)
	tenantID := uuid.New()
	userID := uuid.New()
	ctx := context.Background()

	p, err := products.ResolveOrCreate(ctx, tenantID, "CONTRIB-"+uuid.NewString())
	require.NoError(t, err)

	require.NoError(t, contributions.RecordSubmission(ctx, tenantID, p.ID, userID, 5))
	// All-duplicate submission still counts as a submission.
	require.NoError(t, contributions.RecordSubmission(ctx, tenantID, p.ID, userID, 0))
	require.NoError(t, contributions.RecordSubmission(ctx, tenantID, p.ID, userID, 2))

	c, err := contributions.GetByUser(ctx, tenantID, p.ID, userID)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, 7, c.ReviewCount)
	assert.Equal(t, 3, c.SubmissionCount)
	assert.True(t, c.LastSubmittedAt.After(c.FirstSubmittedAt) || c.LastSubmittedAt.Equal(c.FirstSubmittedAt))
}
