// Package analysis coordinates expensive per-product analysis runs. At most
// one run per (product, kind) is in flight at a time; a still-valid prior
// result is served instead of starting a new run. The database's partial
// unique index on processing locks is the only arbiter, so coordination holds
// across replicas without any in-memory state.
package analysis

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/clover/internal/repositories/analysislock"
	appctx "github.com/Ramsey-B/clover/pkg/context"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// CheckState is the outcome of a CheckAndLock call
type CheckState string

const (
	// StateCached means a valid prior result covers the current reviews.
	StateCached CheckState = "cached"
	// StateProcessing means another attempt holds the lock; wait for it.
	StateProcessing CheckState = "processing"
	// StateLocked means the caller acquired the lock and should run analysis.
	StateLocked CheckState = "locked"
)

// AnalysisMode is how much work an acquired run needs to do
type AnalysisMode string

const (
	ModeFull        AnalysisMode = "full"
	ModeIncremental AnalysisMode = "incremental"
)

// incrementalFraction caps incremental runs: once the new reviews exceed this
// share of the previously analyzed set, the drift is large enough to warrant
// a full rerun.
const incrementalFraction = 0.2

// CheckRequest asks for an analysis slot on a product
type CheckRequest struct {
	ProductID     uuid.UUID           `json:"product_id" validate:"required"`
	Kind          models.AnalysisKind `json:"kind" validate:"required"`
	TriggeredBy   string              `json:"triggered_by"`
	ExternalJobID *string             `json:"external_job_id,omitempty"`

	// Force skips the cached-result check and always attempts a new run.
	Force bool `json:"force"`
}

// CheckResult is the answer: serve a cached result, wait on the current
// holder, or run with the newly acquired lock.
type CheckResult struct {
	State CheckState           `json:"state"`
	Lock  *models.AnalysisLock `json:"lock"`

	// Set when State is locked.
	Mode        AnalysisMode `json:"mode,omitempty"`
	ReviewCount int          `json:"review_count,omitempty"`
	Delta       int          `json:"delta,omitempty"`
}

// LockStore is the persistence surface for locks
type LockStore interface {
	AcquireProcessing(ctx context.Context, lock *models.AnalysisLock) (*analysislock.AcquireResult, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.AnalysisLock, error)
	LatestCompleted(ctx context.Context, productID uuid.UUID, kind models.AnalysisKind) (*models.AnalysisLock, error)
	Complete(ctx context.Context, id uuid.UUID, resultRef string, validUntil time.Time, lastReviewCount int) error
	Release(ctx context.Context, id uuid.UUID, status models.LockStatus) error
	ReclaimExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// ReviewCounter reports how many reviews a product has
type ReviewCounter interface {
	CountByProduct(ctx context.Context, productID uuid.UUID) (int, error)
}

// Events receives lifecycle notifications; implementations must be cheap
type Events interface {
	AnalysisCompleted(ctx context.Context, lock *models.AnalysisLock)
}

// Config holds the coordinator's tunables
type Config struct {
	// CacheValidity is how long a completed result stays servable.
	CacheValidity time.Duration
	// IncrementalThreshold is the largest review delta an incremental run
	// may cover.
	IncrementalThreshold int
	// ReclaimTimeout is how long a processing lock may live before the
	// reclaimer expires it.
	ReclaimTimeout time.Duration
}

// Coordinator implements check-then-lock analysis admission
type Coordinator struct {
	locks   LockStore
	reviews ReviewCounter
	events  Events
	cfg     Config
	logger  ectologger.Logger
	now     func() time.Time
}

// NewCoordinator creates a new analysis coordinator. events may be nil.
func NewCoordinator(locks LockStore, reviews ReviewCounter, events Events, cfg Config, logger ectologger.Logger) *Coordinator {
	return &Coordinator{
		locks:   locks,
		reviews: reviews,
		events:  events,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// CheckAndLock decides whether an analysis run is needed and, if so, acquires
// the processing lock for it. Exactly one concurrent caller gets StateLocked;
// everyone else sees the cached result or the holder's lock.
func (c *Coordinator) CheckAndLock(ctx context.Context, req CheckRequest) (*CheckResult, error) {
	ctx, span := tracing.StartSpan(ctx, "Coordinator.CheckAndLock")
	defer span.End()

	tenantID, err := tenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if req.ProductID == uuid.Nil {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "product ID is required")
	}
	if req.Kind == "" {
		req.Kind = models.AnalysisKindComprehensive
	}

	currentCount, err := c.reviews.CountByProduct(ctx, req.ProductID)
	if err != nil {
		return nil, err
	}

	prior, err := c.locks.LatestCompleted(ctx, req.ProductID, req.Kind)
	if err != nil {
		return nil, err
	}

	// A valid prior result keeps serving until the review set has grown past
	// the incremental threshold. Small growth is absorbed by the cache; the
	// next run after expiry picks it up incrementally.
	now := c.now()
	if !req.Force && prior != nil && prior.ResultValid(now) && currentCount-prior.LastReviewCount <= c.cfg.IncrementalThreshold {
		metrics.RecordLockAcquisition(string(req.Kind), "cached")
		c.logger.WithContext(ctx).WithFields(map[string]any{
			"product_id": req.ProductID,
			"kind":       req.Kind,
			"result_ref": prior.ResultRef,
		}).Debug("serving cached analysis result")
		return &CheckResult{State: StateCached, Lock: prior, ReviewCount: currentCount}, nil
	}

	attempt := &models.AnalysisLock{
		TenantID:        tenantID,
		ProductID:       req.ProductID,
		Kind:            req.Kind,
		TriggeredBy:     req.TriggeredBy,
		LastReviewCount: currentCount,
		ExternalJobID:   req.ExternalJobID,
	}

	result, err := c.locks.AcquireProcessing(ctx, attempt)
	if err != nil {
		if err == analysislock.ErrLockInvariantViolation {
			// Lost the conflict but no processing row is visible. That is a
			// bug signal, not contention; surface it instead of retrying.
			c.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"product_id": req.ProductID,
				"kind":       req.Kind,
			}).Error("analysis lock invariant violated")
		}
		metrics.RecordLockAcquisition(string(req.Kind), "error")
		return nil, err
	}

	if !result.Acquired {
		metrics.RecordLockAcquisition(string(req.Kind), "contended")
		return &CheckResult{State: StateProcessing, Lock: result.Lock, ReviewCount: currentCount}, nil
	}

	metrics.RecordLockAcquisition(string(req.Kind), "acquired")

	mode, delta := c.decideMode(prior, currentCount)
	c.logger.WithContext(ctx).WithFields(map[string]any{
		"lock_id":      result.Lock.ID,
		"product_id":   req.ProductID,
		"kind":         req.Kind,
		"mode":         mode,
		"review_count": currentCount,
		"delta":        delta,
	}).Info("analysis lock granted")

	return &CheckResult{
		State:       StateLocked,
		Lock:        result.Lock,
		Mode:        mode,
		ReviewCount: currentCount,
		Delta:       delta,
	}, nil
}

// decideMode picks incremental only when a completed prior run exists and the
// new reviews are a small, strictly positive addition to what it covered.
func (c *Coordinator) decideMode(prior *models.AnalysisLock, currentCount int) (AnalysisMode, int) {
	if prior == nil {
		return ModeFull, currentCount
	}

	delta := currentCount - prior.LastReviewCount
	if delta <= 0 {
		// Zero means a forced rerun; negative means reviews were removed
		// under us. Both invalidate the incremental assumption.
		return ModeFull, delta
	}
	if delta > c.cfg.IncrementalThreshold {
		return ModeFull, delta
	}
	if float64(delta) >= incrementalFraction*float64(prior.LastReviewCount) {
		return ModeFull, delta
	}

	return ModeIncremental, delta
}

// CompleteLock marks a held lock completed, stamping the result reference,
// the validity window, and the review count as of completion.
func (c *Coordinator) CompleteLock(ctx context.Context, lockID uuid.UUID, resultRef string) error {
	ctx, span := tracing.StartSpan(ctx, "Coordinator.CompleteLock")
	defer span.End()

	lock, err := c.locks.GetByID(ctx, lockID)
	if err != nil {
		return err
	}
	if lock == nil {
		return httperror.NewHTTPError(http.StatusNotFound, "analysis lock not found")
	}

	// Reviews that arrived during the run count against the next staleness
	// check, not this result.
	count, err := c.reviews.CountByProduct(ctx, lock.ProductID)
	if err != nil {
		return err
	}

	now := c.now()
	validUntil := now.Add(c.cfg.CacheValidity)

	if err := c.locks.Complete(ctx, lockID, resultRef, validUntil, count); err != nil {
		return err
	}

	if c.events != nil {
		completed := *lock
		completed.Status = models.LockStatusCompleted
		completed.CompletedAt = &now
		completed.ResultRef = &resultRef
		completed.ResultValidTill = &validUntil
		completed.LastReviewCount = count
		c.events.AnalysisCompleted(ctx, &completed)
	}

	return nil
}

// ReleaseLock frees a held lock without a result, marking the attempt failed
func (c *Coordinator) ReleaseLock(ctx context.Context, lockID uuid.UUID) error {
	ctx, span := tracing.StartSpan(ctx, "Coordinator.ReleaseLock")
	defer span.End()

	return c.locks.Release(ctx, lockID, models.LockStatusFailed)
}

// ReclaimExpired expires processing locks older than the reclaim timeout and
// returns how many were freed.
func (c *Coordinator) ReclaimExpired(ctx context.Context) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "Coordinator.ReclaimExpired")
	defer span.End()

	cutoff := c.now().Add(-c.cfg.ReclaimTimeout)

	reclaimed, err := c.locks.ReclaimExpired(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if reclaimed > 0 {
		metrics.LocksReclaimed.Add(float64(reclaimed))
	}

	return reclaimed, nil
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
