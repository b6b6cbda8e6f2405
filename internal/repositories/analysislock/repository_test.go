package analysislock_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Ramsey-B/clover/internal/repositories/analysislock"
	"github.com/Ramsey-B/clover/internal/repositories/product"
	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
)

func getTestLogger() ectologger.Logger {
	zapLogger, _ := zap.NewDevelopment()
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

// getTestDB connects to the database named by CLOVER_TEST_DB, skipping the
// test when it is not set.
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

func createTestProduct(t *testing.T, db database.DB, tenantID uuid.UUID) uuid.UUID {
	t.Helper()

	repo := product.NewRepository(db, getTestLogger())
	p, err := repo.ResolveOrCreate(context.Background(), tenantID, "LOCK-"+uuid.NewString())
	require.NoError(t, err)
	return p.ID
}

func TestAcquireProcessing_SingleWinner(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	repo := analysislock.NewRepository(db, getTestLogger())
	tenantID := uuid.New()
	productID := createTestProduct(t, db, tenantID)
	ctx := context.Background()

	// Race a handful of concurrent acquisitions; the partial unique index
	// must let exactly one through.
	const attempts = 8
	var wg sync.WaitGroup
	results := make([]*analysislock.AcquireResult, attempts)
	errs := make([]error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = repo.AcquireProcessing(ctx, &models.AnalysisLock{
				TenantID:    tenantID,
				ProductID:   productID,
				Kind:        models.AnalysisKindComprehensive,
				TriggeredBy: "test",
			})
		}(i)
	}
	wg.Wait()

	winners := 0
	var winnerID uuid.UUID
	for i := 0; i < attempts; i++ {
		require.NoError(t, errs[i])
		require.NotNil(t, results[i])
		if results[i].Acquired {
			winners++
			winnerID = results[i].Lock.ID
		} else {
			assert.Equal(t, models.LockStatusProcessing, results[i].Lock.Status)
		}
	}
	assert.Equal(t, 1, winners, "exactly one acquisition may win")

	// Every loser saw the winner's row.
	for i := 0; i < attempts; i++ {
		if !results[i].Acquired {
			assert.Equal(t, winnerID, results[i].Lock.ID)
		}
	}
}

func TestLockLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	repo := analysislock.NewRepository(db, getTestLogger())
	tenantID := uuid.New()
	productID := createTestProduct(t, db, tenantID)
	ctx := context.Background()

	acquired, err := repo.AcquireProcessing(ctx, &models.AnalysisLock{
		TenantID:  tenantID,
		ProductID: productID,
		Kind:      models.AnalysisKindComprehensive,
	})
	require.NoError(t, err)
	require.True(t, acquired.Acquired)

	// Completing frees the slot and records the result.
	validUntil := time.Now().UTC().Add(time.Hour)
	require.NoError(t, repo.Complete(ctx, acquired.Lock.ID, "s3://results/run-1", validUntil, 42))

	latest, err := repo.LatestCompleted(ctx, productID, models.AnalysisKindComprehensive)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, acquired.Lock.ID, latest.ID)
	assert.Equal(t, 42, latest.LastReviewCount)
	require.NotNil(t, latest.ResultRef)
	assert.Equal(t, "s3://results/run-1", *latest.ResultRef)

	// Completing twice is rejected.
	assert.Error(t, repo.Complete(ctx, acquired.Lock.ID, "s3://results/run-2", validUntil, 42))

	// A new acquisition succeeds now that nothing is processing.
	next, err := repo.AcquireProcessing(ctx, &models.AnalysisLock{
		TenantID:  tenantID,
		ProductID: productID,
		Kind:      models.AnalysisKindComprehensive,
	})
	require.NoError(t, err)
	assert.True(t, next.Acquired)
	assert.NotEqual(t, acquired.Lock.ID, next.Lock.ID)

	require.NoError(t, repo.Release(ctx, next.Lock.ID, models.LockStatusFailed))
}

func TestReclaimExpired_OnlyTakesStaleLocks(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	repo := analysislock.NewRepository(db, getTestLogger())
	tenantID := uuid.New()
	staleProduct := createTestProduct(t, db, tenantID)
	freshProduct := createTestProduct(t, db, tenantID)
	ctx := context.Background()

	stale, err := repo.AcquireProcessing(ctx, &models.AnalysisLock{
		TenantID:  tenantID,
		ProductID: staleProduct,
		Kind:      models.AnalysisKindComprehensive,
		CreatedAt: time.Now().UTC().Add(-time.Hour),
	})
	require.NoError(t, err)
	require.True(t, stale.Acquired)

	fresh, err := repo.AcquireProcessing(ctx, &models.AnalysisLock{
		TenantID:  tenantID,
		ProductID: freshProduct,
		Kind:      models.AnalysisKindComprehensive,
	})
	require.NoError(t, err)
	require.True(t, fresh.Acquired)

	reclaimed, err := repo.ReclaimExpired(ctx, time.Now().UTC().Add(-30*time.Minute))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, reclaimed, int64(1))

	staleLock, err := repo.GetByID(ctx, stale.Lock.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LockStatusExpired, staleLock.Status)

	freshLock, err := repo.GetByID(ctx, fresh.Lock.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LockStatusProcessing, freshLock.Status)

	require.NoError(t, repo.Release(ctx, fresh.Lock.ID, models.LockStatusFailed))
}
