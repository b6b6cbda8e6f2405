package review

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// ReviewRepository defines the interface for review operations
type ReviewRepository interface {
	ListExistingExternalIDs(ctx context.Context, productID uuid.UUID, externalIDs []string) (map[string]struct{}, error)
	ListExternalIDs(ctx context.Context, productID uuid.UUID) ([]string, error)
	InsertIgnore(ctx context.Context, reviews []models.Review) (int, error)
	CountByProduct(ctx context.Context, productID uuid.UUID) (int, error)
	ListByProduct(ctx context.Context, tenantID, productID uuid.UUID, page, pageSize int) ([]models.Review, int, error)
}

// Repository implements ReviewRepository
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new review repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

const tableName = "reviews"

var reviewStruct = database.NewStruct(new(models.Review))

// ListExistingExternalIDs returns which of the given external IDs already have
// a review row for the product. Used to resynchronize the dedup cache.
func (r *Repository) ListExistingExternalIDs(ctx context.Context, productID uuid.UUID, externalIDs []string) (map[string]struct{}, error) {
	ctx, span := tracing.StartSpan(ctx, "ReviewRepository.ListExistingExternalIDs")
	defer span.End()

	if len(externalIDs) == 0 {
		return map[string]struct{}{}, nil
	}

	ids := make([]interface{}, len(externalIDs))
	for i, id := range externalIDs {
		ids[i] = id
	}

	sb := database.NewSelectBuilder()
	sb.Select("external_id")
	sb.From(tableName)
	sb.Where(
		sb.Equal("product_id", productID),
		sb.In("external_id", ids...),
	)

	query, args := sb.Build()

	var found []string
	if err := r.db.SelectContext(ctx, &found, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list existing external IDs")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list existing reviews")
	}

	existing := make(map[string]struct{}, len(found))
	for _, id := range found {
		existing[id] = struct{}{}
	}

	return existing, nil
}

// ListExternalIDs returns every external ID stored for the product
func (r *Repository) ListExternalIDs(ctx context.Context, productID uuid.UUID) ([]string, error) {
	ctx, span := tracing.StartSpan(ctx, "ReviewRepository.ListExternalIDs")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select("external_id")
	sb.From(tableName)
	sb.Where(sb.Equal("product_id", productID))

	query, args := sb.Build()

	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list external IDs")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list reviews")
	}

	return ids, nil
}

// InsertIgnore inserts the reviews in one statement, silently skipping any
// whose (product_id, external_id) already exists. Returns how many rows were
// actually written; the unique constraint, not the caller's pre-filter, is
// what decides.
func (r *Repository) InsertIgnore(ctx context.Context, reviews []models.Review) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "ReviewRepository.InsertIgnore")
	defer span.End()

	if len(reviews) == 0 {
		return 0, nil
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(tableName)
	ib.Cols("id", "tenant_id", "product_id", "external_id", "rating", "title", "body", "author", "review_date", "source", "raw", "created_at")
	for _, rev := range reviews {
		ib.Values(rev.ID, rev.TenantID, rev.ProductID, rev.ExternalID, rev.Rating, rev.Title, rev.Body, rev.Author, rev.ReviewDate, rev.Source, rev.Raw, rev.CreatedAt)
	}
	ib.OnConflictDoNothing()

	query, args := ib.Build()

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to insert reviews")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to insert reviews")
	}

	inserted, _ := result.RowsAffected()

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"product_id": reviews[0].ProductID,
		"attempted":  len(reviews),
		"inserted":   inserted,
	}).Info("inserted reviews")

	return int(inserted), nil
}

// CountByProduct returns the number of reviews stored for the product
func (r *Repository) CountByProduct(ctx context.Context, productID uuid.UUID) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "ReviewRepository.CountByProduct")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select("COUNT(*)")
	sb.From(tableName)
	sb.Where(sb.Equal("product_id", productID))

	query, args := sb.Build()

	var count int
	if err := r.db.GetContext(ctx, &count, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to count reviews")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count reviews")
	}

	return count, nil
}

// ListByProduct lists reviews for a product with pagination, newest first
func (r *Repository) ListByProduct(ctx context.Context, tenantID, productID uuid.UUID, page, pageSize int) ([]models.Review, int, error) {
	ctx, span := tracing.StartSpan(ctx, "ReviewRepository.ListByProduct")
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	total, err := r.CountByProduct(ctx, productID)
	if err != nil {
		return nil, 0, err
	}

	sb := reviewStruct.SelectFrom(tableName)
	sb.Where(
		sb.Equal("product_id", productID),
		sb.Equal("tenant_id", tenantID),
	)
	sb.OrderBy("created_at DESC")
	sb.Limit(pageSize)
	sb.Offset(offset)

	query, args := sb.Build()

	var items []models.Review
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list reviews")
		return nil, 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list reviews")
	}

	return items, total, nil
}
