package product

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// ProductRepository defines the interface for product operations
type ProductRepository interface {
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.Product, error)
	GetByExternalKey(ctx context.Context, tenantID uuid.UUID, externalKey string) (*models.Product, error)
	ResolveOrCreate(ctx context.Context, tenantID uuid.UUID, externalKey string) (*models.Product, error)
	UpdateMetadata(ctx context.Context, product *models.Product) error
	IncrementReviewCount(ctx context.Context, productID uuid.UUID, delta int) (int, error)
}

// Repository implements ProductRepository
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new product repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

const tableName = "products"

var productStruct = database.NewStruct(new(models.Product))

// GetByID gets a product by ID
func (r *Repository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.Product, error) {
	ctx, span := tracing.StartSpan(ctx, "ProductRepository.GetByID")
	defer span.End()

	sb := productStruct.SelectFrom(tableName)
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("tenant_id", tenantID),
	)

	query, args := sb.Build()

	var p models.Product
	err := r.db.GetContext(ctx, &p, query, args...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("failed to get product by ID")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get product")
	}

	return &p, nil
}

// GetByExternalKey gets a product by its external key
func (r *Repository) GetByExternalKey(ctx context.Context, tenantID uuid.UUID, externalKey string) (*models.Product, error) {
	ctx, span := tracing.StartSpan(ctx, "ProductRepository.GetByExternalKey")
	defer span.End()

	sb := productStruct.SelectFrom(tableName)
	sb.Where(
		sb.Equal("external_key", externalKey),
		sb.Equal("tenant_id", tenantID),
	)

	query, args := sb.Build()

	var p models.Product
	err := r.db.GetContext(ctx, &p, query, args...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("failed to get product by external key")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get product")
	}

	return &p, nil
}

// ResolveOrCreate returns the product for the external key, creating it if it
// does not exist. Concurrent creates race on the (tenant_id, external_key)
// unique constraint; the loser re-reads the winner's row.
func (r *Repository) ResolveOrCreate(ctx context.Context, tenantID uuid.UUID, externalKey string) (*models.Product, error) {
	ctx, span := tracing.StartSpan(ctx, "ProductRepository.ResolveOrCreate")
	defer span.End()

	existing, err := r.GetByExternalKey(ctx, tenantID, externalKey)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	now := time.Now().UTC()
	id := uuid.New()

	ib := database.NewInsertBuilder()
	ib.InsertInto(tableName)
	ib.Cols("id", "tenant_id", "external_key", "created_at", "updated_at")
	ib.Values(id, tenantID, externalKey, now, now)
	ib.OnConflictDoNothing()

	query, args := ib.Build()

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to create product")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create product")
	}

	created, err := r.GetByExternalKey(ctx, tenantID, externalKey)
	if err != nil {
		return nil, err
	}
	if created == nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "product missing after create")
	}

	if created.ID == id {
		r.logger.WithContext(ctx).WithFields(map[string]any{
			"id":           id,
			"tenant_id":    tenantID,
			"external_key": externalKey,
		}).Info("created product")
	}

	return created, nil
}

// UpdateMetadata persists the product's merge-managed fields
func (r *Repository) UpdateMetadata(ctx context.Context, product *models.Product) error {
	ctx, span := tracing.StartSpan(ctx, "ProductRepository.UpdateMetadata")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(tableName)
	ub.Set(
		ub.Assign("name", product.Name),
		ub.Assign("description", product.Description),
		ub.Assign("brand", product.Brand),
		ub.Assign("category", product.Category),
		ub.Assign("image_url", product.ImageURL),
		ub.Assign("metadata", product.Metadata),
		ub.Assign("updated_at", time.Now().UTC()),
	)
	ub.Where(
		ub.Equal("id", product.ID),
		ub.Equal("tenant_id", product.TenantID),
	)

	query, args := ub.Build()

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to update product metadata")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update product metadata")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"id": product.ID,
	}).Debug("updated product metadata")

	return nil
}

// IncrementReviewCount adds delta to the product's denormalized review count
// and returns the new value.
func (r *Repository) IncrementReviewCount(ctx context.Context, productID uuid.UUID, delta int) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "ProductRepository.IncrementReviewCount")
	defer span.End()

	query := `UPDATE products SET review_count = review_count + $1, updated_at = $2 WHERE id = $3 RETURNING review_count`

	var count int
	err := r.db.QueryRowContext(ctx, query, delta, time.Now().UTC(), productID).Scan(&count)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to increment review count")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to increment review count")
	}

	return count, nil
}
