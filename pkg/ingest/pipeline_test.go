package ingest_test

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

	appctx "github.com/Ramsey-B/clover/pkg/context"
	"github.com/Ramsey-B/clover/pkg/ingest"
	"github.com/Ramsey-B/clover/pkg/merge"
	"github.com/Ramsey-B/clover/pkg/models"
)

func getTestLogger() ectologger.Logger {
	zapLogger, _ := zap.NewDevelopment()
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

type fakeProductStore struct {
	products    map[string]*models.Product
	failOnKey   string
	metadataLog []models.Product
	counts      map[uuid.UUID]int
}

func newFakeProductStore() *fakeProductStore {
	return &fakeProductStore{
		products: map[string]*models.Product{},
		counts:   map[uuid.UUID]int{},
	}
}

func (s *fakeProductStore) ResolveOrCreate(ctx context.Context, tenantID uuid.UUID, externalKey string) (*models.Product, error) {
	if externalKey == s.failOnKey {
		return nil, errors.New("database unavailable")
	}
	if p, ok := s.products[externalKey]; ok {
		return p, nil
	}
	p := &models.Product{ID: uuid.New(), TenantID: tenantID, ExternalKey: externalKey}
	s.products[externalKey] = p
	return p, nil
}

func (s *fakeProductStore) UpdateMetadata(ctx context.Context, product *models.Product) error {
	s.metadataLog = append(s.metadataLog, *product)
	return nil
}

func (s *fakeProductStore) IncrementReviewCount(ctx context.Context, productID uuid.UUID, delta int) (int, error) {
	s.counts[productID] += delta
	return s.counts[productID], nil
}

type fakeReviewStore struct {
	existing map[string]struct{}
	inserted []models.Review
}

func newFakeReviewStore(existing ...string) *fakeReviewStore {
	s := &fakeReviewStore{existing: map[string]struct{}{}}
	for _, id := range existing {
		s.existing[id] = struct{}{}
	}
	return s
}

func (s *fakeReviewStore) InsertIgnore(ctx context.Context, reviews []models.Review) (int, error) {
	count := 0
	for _, r := range reviews {
		if _, ok := s.existing[r.ExternalID]; ok {
			continue
		}
		s.existing[r.ExternalID] = struct{}{}
		s.inserted = append(s.inserted, r)
		count++
	}
	return count, nil
}

type fakeContributionStore struct {
	records []int
}

func (s *fakeContributionStore) RecordSubmission(ctx context.Context, tenantID, productID, userID uuid.UUID, reviewCount int) error {
	s.records = append(s.records, reviewCount)
	return nil
}

type fakeFilter struct {
	seen   map[string]struct{}
	marked []string
}

func newFakeFilter(seen ...string) *fakeFilter {
	f := &fakeFilter{seen: map[string]struct{}{}}
	for _, id := range seen {
		f.seen[id] = struct{}{}
	}
	return f
}

func (f *fakeFilter) FilterNew(ctx context.Context, tenantID, productID uuid.UUID, externalIDs []string) ([]string, int, error) {
	fresh := []string{}
	skipped := 0
	for _, id := range externalIDs {
		if _, ok := f.seen[id]; ok {
			skipped++
			continue
		}
		fresh = append(fresh, id)
	}
	return fresh, skipped, nil
}

func (f *fakeFilter) MarkSeen(ctx context.Context, tenantID, productID uuid.UUID, externalIDs []string) {
	f.marked = append(f.marked, externalIDs...)
}

type fakeInvalidator struct {
	calls int
}

func (f *fakeInvalidator) Invalidate(ctx context.Context, tenantID, productID uuid.UUID) error {
	f.calls++
	return nil
}

type pipelineFixture struct {
	products      *fakeProductStore
	reviews       *fakeReviewStore
	contributions *fakeContributionStore
	filter        *fakeFilter
	aggregates    *fakeInvalidator
	pipeline      *ingest.Pipeline
}

func newPipelineFixture() *pipelineFixture {
	f := &pipelineFixture{
		products:      newFakeProductStore(),
		reviews:       newFakeReviewStore(),
		contributions: &fakeContributionStore{},
		filter:        newFakeFilter(),
		aggregates:    &fakeInvalidator{},
	}
	f.pipeline = ingest.NewPipeline(f.products, f.reviews, f.contributions, f.filter, f.aggregates, merge.DefaultPolicy(), getTestLogger())
	return f
}

func testContext(tenantID uuid.UUID) context.Context {
	return appctx.SetTenantID(context.Background(), tenantID.String())
}

func review(id string) models.IncomingReview {
	return models.IncomingReview{ExternalID: id, Body: "decent product, would buy again"}
}

func TestProcessBatch_RequiresTenant(t *testing.T) {
	f := newPipelineFixture()

	_, err := f.pipeline.ProcessBatch(context.Background(), []models.ReviewSubmission{
		{ProductKey: "B01ABC", Reviews: []models.IncomingReview{review("r1")}},
	})

	require.Error(t, err)
}

func TestProcessBatch_InsertsNewReviews(t *testing.T) {
	f := newPipelineFixture()
	tenantID := uuid.New()

	result, err := f.pipeline.ProcessBatch(testContext(tenantID), []models.ReviewSubmission{
		{ProductKey: "B01ABC", Reviews: []models.IncomingReview{review("r1"), review("r2")}},
	})

	require.NoError(t, err)
	group := result.Products["B01ABC"]
	require.NotNil(t, group)
	require.NoError(t, group.Err)
	assert.Equal(t, 2, group.Inserted)
	assert.Equal(t, 0, group.Skipped)
	assert.Len(t, f.reviews.inserted, 2)
	assert.Equal(t, tenantID, f.reviews.inserted[0].TenantID)
	assert.Equal(t, 2, f.products.counts[group.ProductID])
	assert.Equal(t, 1, f.aggregates.calls)
	assert.ElementsMatch(t, []string{"r1", "r2"}, f.filter.marked)
}

func TestProcessBatch_ResubmissionIsNoOp(t *testing.T) {
	f := newPipelineFixture()
	tenantID := uuid.New()
	ctx := testContext(tenantID)
	batch := []models.ReviewSubmission{
		{ProductKey: "B01ABC", Reviews: []models.IncomingReview{review("r1"), review("r2")}},
	}

	first, err := f.pipeline.ProcessBatch(ctx, batch)
	require.NoError(t, err)
	require.Equal(t, 2, first.TotalInserted())

	second, err := f.pipeline.ProcessBatch(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 0, second.TotalInserted())
	assert.Equal(t, 2, second.TotalSkipped())
	assert.Len(t, f.reviews.inserted, 2, "no new rows on resubmission")
	assert.Equal(t, 1, f.aggregates.calls, "no invalidation when nothing was inserted")
}

func TestProcessBatch_ConstraintBackstopsCache(t *testing.T) {
	// The cache missed r1 but the store already has it: the insert skips it
	// and the result reports it as skipped, not inserted.
	f := newPipelineFixture()
	f.reviews = newFakeReviewStore("r1")
	f.pipeline = ingest.NewPipeline(f.products, f.reviews, f.contributions, f.filter, f.aggregates, merge.DefaultPolicy(), getTestLogger())

	result, err := f.pipeline.ProcessBatch(testContext(uuid.New()), []models.ReviewSubmission{
		{ProductKey: "B01ABC", Reviews: []models.IncomingReview{review("r1"), review("r2")}},
	})

	require.NoError(t, err)
	group := result.Products["B01ABC"]
	assert.Equal(t, 1, group.Inserted)
	assert.Equal(t, 1, group.Skipped)
}

func TestProcessBatch_CollapsesInBatchDuplicates(t *testing.T) {
	f := newPipelineFixture()

	r1 := review("r1")
	r1.Title = "first"
	r1Again := review("r1")
	r1Again.Title = "second"

	result, err := f.pipeline.ProcessBatch(testContext(uuid.New()), []models.ReviewSubmission{
		{ProductKey: "B01ABC", Reviews: []models.IncomingReview{r1, r1Again, review("r2")}},
	})

	require.NoError(t, err)
	group := result.Products["B01ABC"]
	assert.Equal(t, 2, group.Inserted)
	assert.Equal(t, 1, group.Skipped)
	require.Len(t, f.reviews.inserted, 2)
	assert.Equal(t, "first", f.reviews.inserted[0].Title, "first occurrence wins")
}

func TestProcessBatch_CountsInvalidReviews(t *testing.T) {
	f := newPipelineFixture()

	result, err := f.pipeline.ProcessBatch(testContext(uuid.New()), []models.ReviewSubmission{
		{ProductKey: "B01ABC", Reviews: []models.IncomingReview{review("r1"), {Body: "no external id"}}},
	})

	require.NoError(t, err)
	group := result.Products["B01ABC"]
	assert.Equal(t, 1, group.Inserted)
	assert.Equal(t, 1, group.Invalid)
}

func TestProcessBatch_InvalidReviewDoesNotPoisonSiblings(t *testing.T) {
	// One review without an external ID is dropped and counted; the valid
	// reviews around it still persist.
	f := newPipelineFixture()

	result, err := f.pipeline.ProcessBatch(testContext(uuid.New()), []models.ReviewSubmission{
		{ProductKey: "B01ABC", Reviews: []models.IncomingReview{
			review("r1"),
			{Body: "no external id"},
			review("r2"),
		}},
	})

	require.NoError(t, err)
	group := result.Products["B01ABC"]
	require.NoError(t, group.Err)
	assert.Equal(t, 2, group.Inserted)
	assert.Equal(t, 1, group.Invalid)
	assert.Len(t, f.reviews.inserted, 2)
}

func TestProcessBatch_MetadataOnlySubmissionMerges(t *testing.T) {
	f := newPipelineFixture()

	result, err := f.pipeline.ProcessBatch(testContext(uuid.New()), []models.ReviewSubmission{
		{
			ProductKey: "B01ABC",
			Metadata:   &models.ProductMetadata{Name: "Wireless Earbuds Pro"},
		},
	})

	require.NoError(t, err)
	group := result.Products["B01ABC"]
	require.NotNil(t, group)
	require.NoError(t, group.Err)
	assert.Equal(t, 0, group.Inserted)
	assert.Equal(t, 0, group.Invalid)
	require.Len(t, f.products.metadataLog, 1)
	assert.Equal(t, "Wireless Earbuds Pro", f.products.metadataLog[0].Name)
}

func TestProcessBatch_GroupsFailIndependently(t *testing.T) {
	f := newPipelineFixture()
	f.products.failOnKey = "B02BAD"

	result, err := f.pipeline.ProcessBatch(testContext(uuid.New()), []models.ReviewSubmission{
		{ProductKey: "B01ABC", Reviews: []models.IncomingReview{review("r1")}},
		{ProductKey: "B02BAD", Reviews: []models.IncomingReview{review("r2")}},
	})

	require.NoError(t, err)
	require.Len(t, result.Products, 2)
	assert.NoError(t, result.Products["B01ABC"].Err)
	assert.Equal(t, 1, result.Products["B01ABC"].Inserted)
	assert.Error(t, result.Products["B02BAD"].Err)
	assert.Equal(t, 0, result.Products["B02BAD"].Inserted)
}

func TestProcessBatch_MergesSubmissionsForSameProduct(t *testing.T) {
	f := newPipelineFixture()

	result, err := f.pipeline.ProcessBatch(testContext(uuid.New()), []models.ReviewSubmission{
		{ProductKey: "B01ABC", Reviews: []models.IncomingReview{review("r1")}},
		{ProductKey: "B01ABC", Reviews: []models.IncomingReview{review("r2"), review("r1")}},
	})

	require.NoError(t, err)
	require.Len(t, result.Products, 1)
	group := result.Products["B01ABC"]
	assert.Equal(t, 2, group.Inserted)
	assert.Equal(t, 1, group.Skipped)
}

func TestProcessBatch_AppliesMetadataMerge(t *testing.T) {
	f := newPipelineFixture()

	_, err := f.pipeline.ProcessBatch(testContext(uuid.New()), []models.ReviewSubmission{
		{
			ProductKey: "B01ABC",
			Metadata:   &models.ProductMetadata{Name: "Wireless Earbuds Pro", Brand: "SoundCore"},
			Reviews:    []models.IncomingReview{review("r1")},
		},
	})

	require.NoError(t, err)
	require.Len(t, f.products.metadataLog, 1)
	assert.Equal(t, "Wireless Earbuds Pro", f.products.metadataLog[0].Name)
	assert.Equal(t, "SoundCore", f.products.metadataLog[0].Brand)

	// Same metadata again changes nothing, so no second update.
	_, err = f.pipeline.ProcessBatch(testContext(uuid.New()), []models.ReviewSubmission{
		{
			ProductKey: "B01ABC",
			Metadata:   &models.ProductMetadata{Name: "Wireless Earbuds Pro", Brand: "SoundCore"},
			Reviews:    []models.IncomingReview{review("r9")},
		},
	})
	require.NoError(t, err)
	assert.Len(t, f.products.metadataLog, 1)
}

func TestProcessBatch_RecordsContribution(t *testing.T) {
	f := newPipelineFixture()
	tenantID := uuid.New()
	userID := uuid.New()
	ctx := appctx.SetUserID(testContext(tenantID), userID.String())

	batch := []models.ReviewSubmission{
		{ProductKey: "B01ABC", Reviews: []models.IncomingReview{review("r1")}},
	}

	_, err := f.pipeline.ProcessBatch(ctx, batch)
	require.NoError(t, err)

	// All duplicates the second time, but the submission is still recorded.
	_, err = f.pipeline.ProcessBatch(ctx, batch)
	require.NoError(t, err)

	require.Len(t, f.contributions.records, 2)
	assert.Equal(t, 1, f.contributions.records[0])
	assert.Equal(t, 0, f.contributions.records[1])
}
