package contribution

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// ContributionRepository defines the interface for contribution operations
type ContributionRepository interface {
	RecordSubmission(ctx context.Context, tenantID, productID, userID uuid.UUID, reviewCount int) error
	GetByUser(ctx context.Context, tenantID, productID, userID uuid.UUID) (*models.Contribution, error)
	ListByProduct(ctx context.Context, tenantID, productID uuid.UUID) ([]models.Contribution, error)
}

// Repository implements ContributionRepository
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new contribution repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

const tableName = "review_contributions"

var contributionStruct = database.NewStruct(new(models.Contribution))

// RecordSubmission upserts the user's contribution row for the product. The
// submission counter always advances, even when every review in the batch was
// a duplicate and reviewCount is zero.
func (r *Repository) RecordSubmission(ctx context.Context, tenantID, productID, userID uuid.UUID, reviewCount int) error {
	ctx, span := tracing.StartSpan(ctx, "ContributionRepository.RecordSubmission")
	defer span.End()

	now := time.Now().UTC()

	ib := database.NewInsertBuilder()
	ib.InsertInto(tableName)
	ib.Cols("id", "tenant_id", "product_id", "user_id", "review_count", "submission_count", "first_submitted_at", "last_submitted_at")
	ib.Values(uuid.New(), tenantID, productID, userID, reviewCount, 1, now, now)

	ub := ib.OnConflict("tenant_id", "product_id", "user_id")
	ub.Set(
		ub.Assign("review_count", sqlbuilder.Raw("review_contributions.review_count + EXCLUDED.review_count")),
		ub.Assign("submission_count", sqlbuilder.Raw("review_contributions.submission_count + 1")),
		ub.Assign("last_submitted_at", database.Excluded("last_submitted_at")),
	)

	query, args := ib.Build()

	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to record contribution")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to record contribution")
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"product_id":   productID,
		"user_id":      userID,
		"review_count": reviewCount,
	}).Debug("recorded contribution")

	return nil
}

// GetByUser gets the contribution row for one user and product
func (r *Repository) GetByUser(ctx context.Context, tenantID, productID, userID uuid.UUID) (*models.Contribution, error) {
	ctx, span := tracing.StartSpan(ctx, "ContributionRepository.GetByUser")
	defer span.End()

	sb := contributionStruct.SelectFrom(tableName)
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.Equal("product_id", productID),
		sb.Equal("user_id", userID),
	)

	query, args := sb.Build()

	var c models.Contribution
	err := r.db.GetContext(ctx, &c, query, args...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("failed to get contribution")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get contribution")
	}

	return &c, nil
}

// ListByProduct lists all contributions for a product, largest first
func (r *Repository) ListByProduct(ctx context.Context, tenantID, productID uuid.UUID) ([]models.Contribution, error) {
	ctx, span := tracing.StartSpan(ctx, "ContributionRepository.ListByProduct")
	defer span.End()

	sb := contributionStruct.SelectFrom(tableName)
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.Equal("product_id", productID),
	)
	sb.OrderBy("review_count DESC")

	query, args := sb.Build()

	var items []models.Contribution
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list contributions")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list contributions")
	}

	return items, nil
}
