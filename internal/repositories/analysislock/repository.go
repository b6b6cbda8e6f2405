package analysislock

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// ErrLockInvariantViolation is returned when an insert loses the processing
// conflict but no processing row can be found. That should not happen under
// the partial unique index; it is surfaced as a bug signal, never swallowed
// or retried.
var ErrLockInvariantViolation = errors.New("analysis lock lost conflict but no processing row exists")

// AcquireResult reports how an acquisition attempt ended
type AcquireResult struct {
	// Acquired is true when our insert won and Lock is the new processing row.
	// When false, Lock is the competing processing row that beat us.
	Acquired bool
	Lock     *models.AnalysisLock
}

// AnalysisLockRepository defines the interface for analysis lock operations
type AnalysisLockRepository interface {
	AcquireProcessing(ctx context.Context, lock *models.AnalysisLock) (*AcquireResult, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.AnalysisLock, error)
	GetProcessing(ctx context.Context, productID uuid.UUID, kind models.AnalysisKind) (*models.AnalysisLock, error)
	LatestCompleted(ctx context.Context, productID uuid.UUID, kind models.AnalysisKind) (*models.AnalysisLock, error)
	Complete(ctx context.Context, id uuid.UUID, resultRef string, validUntil time.Time, lastReviewCount int) error
	Release(ctx context.Context, id uuid.UUID, status models.LockStatus) error
	ReclaimExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// Repository implements AnalysisLockRepository
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new analysis lock repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

const tableName = "analysis_locks"

var lockStruct = database.NewStruct(new(models.AnalysisLock))

// AcquireProcessing attempts to create the single processing row for
// (product_id, kind). The partial unique index is the only arbiter: the
// insert either returns the new row's ID or, on conflict, returns nothing and
// the competing row is read back.
func (r *Repository) AcquireProcessing(ctx context.Context, lock *models.AnalysisLock) (*AcquireResult, error) {
	ctx, span := tracing.StartSpan(ctx, "AnalysisLockRepository.AcquireProcessing")
	defer span.End()

	if lock.ID == uuid.Nil {
		lock.ID = uuid.New()
	}
	if lock.CreatedAt.IsZero() {
		lock.CreatedAt = time.Now().UTC()
	}
	lock.Status = models.LockStatusProcessing

	ib := database.NewInsertBuilder()
	ib.InsertInto(tableName)
	ib.Cols("id", "tenant_id", "product_id", "kind", "status", "triggered_by", "created_at", "last_review_count", "external_job_id")
	ib.Values(lock.ID, lock.TenantID, lock.ProductID, lock.Kind, lock.Status, lock.TriggeredBy, lock.CreatedAt, lock.LastReviewCount, lock.ExternalJobID)
	ib.OnConflictWhereDoNothing("status = 'processing'", "product_id", "kind")
	ib.Returning("id")

	query, args := ib.Build()

	var insertedID uuid.UUID
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&insertedID)
	if err == nil {
		r.logger.WithContext(ctx).WithFields(map[string]any{
			"lock_id":    insertedID,
			"product_id": lock.ProductID,
			"kind":       lock.Kind,
		}).Info("acquired analysis lock")
		return &AcquireResult{Acquired: true, Lock: lock}, nil
	}

	if err != sql.ErrNoRows {
		r.logger.WithContext(ctx).WithError(err).Error("failed to acquire analysis lock")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to acquire analysis lock")
	}

	// Lost the conflict: some other attempt holds the processing slot.
	holder, err := r.GetProcessing(ctx, lock.ProductID, lock.Kind)
	if err != nil {
		return nil, err
	}
	if holder == nil {
		return nil, ErrLockInvariantViolation
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"holder_id":  holder.ID,
		"product_id": lock.ProductID,
		"kind":       lock.Kind,
	}).Debug("analysis lock contended")

	return &AcquireResult{Acquired: false, Lock: holder}, nil
}

// GetByID gets a lock by ID
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.AnalysisLock, error) {
	ctx, span := tracing.StartSpan(ctx, "AnalysisLockRepository.GetByID")
	defer span.End()

	sb := lockStruct.SelectFrom(tableName)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()

	var lock models.AnalysisLock
	err := r.db.GetContext(ctx, &lock, query, args...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("failed to get analysis lock")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get analysis lock")
	}

	return &lock, nil
}

// GetProcessing returns the current processing lock for (product, kind), if any
func (r *Repository) GetProcessing(ctx context.Context, productID uuid.UUID, kind models.AnalysisKind) (*models.AnalysisLock, error) {
	ctx, span := tracing.StartSpan(ctx, "AnalysisLockRepository.GetProcessing")
	defer span.End()

	sb := lockStruct.SelectFrom(tableName)
	sb.Where(
		sb.Equal("product_id", productID),
		sb.Equal("kind", kind),
		sb.Equal("status", models.LockStatusProcessing),
	)

	query, args := sb.Build()

	var lock models.AnalysisLock
	err := r.db.GetContext(ctx, &lock, query, args...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("failed to get processing lock")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get processing lock")
	}

	return &lock, nil
}

// LatestCompleted returns the most recently completed lock for (product, kind)
func (r *Repository) LatestCompleted(ctx context.Context, productID uuid.UUID, kind models.AnalysisKind) (*models.AnalysisLock, error) {
	ctx, span := tracing.StartSpan(ctx, "AnalysisLockRepository.LatestCompleted")
	defer span.End()

	sb := lockStruct.SelectFrom(tableName)
	sb.Where(
		sb.Equal("product_id", productID),
		sb.Equal("kind", kind),
		sb.Equal("status", models.LockStatusCompleted),
	)
	sb.OrderBy("completed_at DESC")
	sb.Limit(1)

	query, args := sb.Build()

	var lock models.AnalysisLock
	err := r.db.GetContext(ctx, &lock, query, args...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("failed to get latest completed lock")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get latest completed lock")
	}

	return &lock, nil
}

// Complete transitions a processing lock to completed, recording the result
// reference, its validity window, and the review count it covered. Only the
// row that is still processing can be completed.
func (r *Repository) Complete(ctx context.Context, id uuid.UUID, resultRef string, validUntil time.Time, lastReviewCount int) error {
	ctx, span := tracing.StartSpan(ctx, "AnalysisLockRepository.Complete")
	defer span.End()

	now := time.Now().UTC()

	ub := database.NewUpdateBuilder()
	ub.Update(tableName)
	ub.Set(
		ub.Assign("status", models.LockStatusCompleted),
		ub.Assign("completed_at", now),
		ub.Assign("result_ref", resultRef),
		ub.Assign("result_valid_until", validUntil),
		ub.Assign("last_review_count", lastReviewCount),
	)
	ub.Where(
		ub.Equal("id", id),
		ub.Equal("status", models.LockStatusProcessing),
	)

	query, args := ub.Build()

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to complete analysis lock")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to complete analysis lock")
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return httperror.NewHTTPError(http.StatusConflict, "analysis lock is no longer processing")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"lock_id":           id,
		"last_review_count": lastReviewCount,
	}).Info("completed analysis lock")

	return nil
}

// Release transitions a processing lock to a terminal non-completed status
// (failed or expired), freeing the processing slot.
func (r *Repository) Release(ctx context.Context, id uuid.UUID, status models.LockStatus) error {
	ctx, span := tracing.StartSpan(ctx, "AnalysisLockRepository.Release")
	defer span.End()

	if status != models.LockStatusFailed && status != models.LockStatusExpired {
		return httperror.NewHTTPError(http.StatusBadRequest, "release status must be failed or expired")
	}

	ub := database.NewUpdateBuilder()
	ub.Update(tableName)
	ub.Set(
		ub.Assign("status", status),
		ub.Assign("completed_at", time.Now().UTC()),
	)
	ub.Where(
		ub.Equal("id", id),
		ub.Equal("status", models.LockStatusProcessing),
	)

	query, args := ub.Build()

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to release analysis lock")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to release analysis lock")
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return httperror.NewHTTPError(http.StatusConflict, "analysis lock is no longer processing")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"lock_id": id,
		"status":  status,
	}).Info("released analysis lock")

	return nil
}

// ReclaimExpired expires every processing lock created before the cutoff and
// returns how many were reclaimed.
func (r *Repository) ReclaimExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "AnalysisLockRepository.ReclaimExpired")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(tableName)
	ub.Set(
		ub.Assign("status", models.LockStatusExpired),
		ub.Assign("completed_at", time.Now().UTC()),
	)
	ub.Where(
		ub.Equal("status", models.LockStatusProcessing),
		ub.LessThan("created_at", cutoff),
	)

	query, args := ub.Build()

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to reclaim expired locks")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to reclaim expired locks")
	}

	reclaimed, _ := result.RowsAffected()
	if reclaimed > 0 {
		r.logger.WithContext(ctx).WithFields(map[string]any{
			"reclaimed": reclaimed,
			"cutoff":    cutoff,
		}).Info("reclaimed expired analysis locks")
	}

	return reclaimed, nil
}
