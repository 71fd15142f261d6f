package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/treelistings/publication-service/adapter/memory"
	"github.com/treelistings/publication-service/domain/entity"
	"github.com/treelistings/publication-service/repository"
)

type MockAssetStorage struct{ mock.Mock }

func (m *MockAssetStorage) Upload(ctx context.Context, ownerID, fileName string, data []byte) (string, error) {
	args := m.Called(ctx, ownerID, fileName, data)
	return args.String(0), args.Error(1)
}

type MockEventPublisher struct{ mock.Mock }

func (m *MockEventPublisher) PublishListingPublished(ctx context.Context, listing *entity.Listing) error {
	args := m.Called(ctx, listing)
	return args.Error(0)
}

type MockSellerNotifier struct{ mock.Mock }

func (m *MockSellerNotifier) SendListingPublished(toEmail, listingTitle string) error {
	args := m.Called(toEmail, listingTitle)
	return args.Error(0)
}

func newPublishUC(store repository.DocumentStore, p PublishUsecaseParams) *PublishUsecase {
	p.Store = store
	p.Logger = zap.NewNop()
	return NewPublishUsecase(p)
}

func bikeInput() PublishInput {
	return PublishInput{
		SellerID:    "seller-1",
		Title:       "Bike",
		Description: "Hardly used",
		Price:       150,
		Categories:  []string{"BIKE"},
	}
}

func TestPublish_CreatesListingAndNewCategory(t *testing.T) {
	store := memory.NewStore()
	uc := newPublishUC(store, PublishUsecaseParams{})

	id, err := uc.Publish(context.Background(), bikeInput())
	require.NoError(t, err)
	require.NotEmpty(t, id)

	doc, err := store.Get(context.Background(), "listings", id)
	require.NoError(t, err)
	assert.Equal(t, "seller-1", doc["seller_id"])
	assert.Equal(t, "Bike", doc["title"])
	assert.Equal(t, float64(150), doc["price"])
	assert.Equal(t, []string{"BIKE"}, doc["categories"])
	assert.Equal(t, string(entity.StatusActive), doc["status"])

	stats, err := store.Get(context.Background(), "category_stats", "BIKE")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats["active_count"])
}

func TestPublish_IncrementsExistingAndCreatesMissingCategories(t *testing.T) {
	store := memory.NewStore()
	uc := newPublishUC(store, PublishUsecaseParams{})

	_, err := uc.Publish(context.Background(), bikeInput())
	require.NoError(t, err)

	second := bikeInput()
	second.Title = "Bike and charger"
	second.Categories = []string{"BIKE", "ELEC"}
	id, err := uc.Publish(context.Background(), second)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	bike, err := store.Get(context.Background(), "category_stats", "BIKE")
	require.NoError(t, err)
	assert.Equal(t, int64(2), bike["active_count"])

	elec, err := store.Get(context.Background(), "category_stats", "ELEC")
	require.NoError(t, err)
	assert.Equal(t, int64(1), elec["active_count"])
}

func TestPublish_ValidationRejectedBeforeAnyWrite(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*PublishInput)
	}{
		{"empty title", func(in *PublishInput) { in.Title = "" }},
		{"zero price", func(in *PublishInput) { in.Price = 0 }},
		{"negative price", func(in *PublishInput) { in.Price = -5 }},
		{"no categories", func(in *PublishInput) { in.Categories = nil }},
		{"empty seller", func(in *PublishInput) { in.SellerID = "" }},
		{"blank category code", func(in *PublishInput) { in.Categories = []string{"BIKE", ""} }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := memory.NewStore()
			uc := newPublishUC(store, PublishUsecaseParams{})

			input := bikeInput()
			tc.mutate(&input)

			id, err := uc.Publish(context.Background(), input)
			require.Error(t, err)
			assert.True(t, errors.Is(err, entity.ErrInvalidListing))
			assert.Empty(t, id)

			listings, err := store.Query(context.Background(), "listings", repository.Filter{})
			require.NoError(t, err)
			assert.Empty(t, listings)
		})
	}
}

func TestPublish_AssetUploadFailureAbortsBeforeTransaction(t *testing.T) {
	store := memory.NewStore()
	assets := new(MockAssetStorage)
	assets.On("Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("", errors.New("bucket unreachable"))

	uc := newPublishUC(store, PublishUsecaseParams{Assets: assets})

	input := bikeInput()
	input.Photo = &PhotoUpload{FileName: "bike.jpg", Data: []byte("jpeg-bytes")}

	id, err := uc.Publish(context.Background(), input)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAssetUpload))
	assert.Empty(t, id)

	listings, err := store.Query(context.Background(), "listings", repository.Filter{})
	require.NoError(t, err)
	assert.Empty(t, listings)

	stats, err := store.Query(context.Background(), "category_stats", repository.Filter{})
	require.NoError(t, err)
	assert.Empty(t, stats)
}

func TestPublish_PhotoKeyedByAllocatedListingID(t *testing.T) {
	store := memory.NewStore()
	assets := new(MockAssetStorage)
	assets.On("Upload", mock.Anything, mock.Anything, "bike.jpg", mock.Anything).
		Return("http://assets/bike.jpg", nil)

	uc := newPublishUC(store, PublishUsecaseParams{Assets: assets})

	input := bikeInput()
	input.Photo = &PhotoUpload{FileName: "bike.jpg", Data: []byte("jpeg-bytes")}

	id, err := uc.Publish(context.Background(), input)
	require.NoError(t, err)

	require.Len(t, assets.Calls, 1)
	assert.Equal(t, id, assets.Calls[0].Arguments.String(1))

	doc, err := store.Get(context.Background(), "listings", id)
	require.NoError(t, err)
	assert.Equal(t, "http://assets/bike.jpg", doc["photo_url"])
}

func TestPublish_ConflictRetryDoesNotDoubleCount(t *testing.T) {
	store := memory.NewStore()
	store.FailCommits(2)

	uc := newPublishUC(store, PublishUsecaseParams{})

	id, err := uc.Publish(context.Background(), bikeInput())
	require.NoError(t, err)

	listings, err := store.Query(context.Background(), "listings", repository.Filter{})
	require.NoError(t, err)
	require.Len(t, listings, 1)
	assert.Contains(t, listings, id)

	stats, err := store.Get(context.Background(), "category_stats", "BIKE")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats["active_count"])
}

func TestPublish_UploadsAssetOnceAcrossRetries(t *testing.T) {
	store := memory.NewStore()
	store.FailCommits(1)

	assets := new(MockAssetStorage)
	assets.On("Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("http://assets/photo.jpg", nil)

	uc := newPublishUC(store, PublishUsecaseParams{Assets: assets})

	input := bikeInput()
	input.Photo = &PhotoUpload{FileName: "photo.jpg", Data: []byte("jpeg-bytes")}

	_, err := uc.Publish(context.Background(), input)
	require.NoError(t, err)
	assets.AssertNumberOfCalls(t, "Upload", 1)
}

func TestPublish_SurfacesTerminalFailureAfterExhaustedRetries(t *testing.T) {
	store := memory.NewStore()
	store.FailCommits(100)

	uc := newPublishUC(store, PublishUsecaseParams{MaxTxAttempts: 3})

	id, err := uc.Publish(context.Background(), bikeInput())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTooManyConflicts))
	assert.Empty(t, id)

	listings, err := store.Query(context.Background(), "listings", repository.Filter{})
	require.NoError(t, err)
	assert.Empty(t, listings)
}

func TestPublish_ConcurrentSameNewCategory(t *testing.T) {
	store := memory.NewStore()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			uc := newPublishUC(store, PublishUsecaseParams{})
			input := bikeInput()
			input.SellerID = "seller-" + string(rune('a'+i))
			_, errs[i] = uc.Publish(context.Background(), input)
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	stats, err := store.Get(context.Background(), "category_stats", "BIKE")
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats["active_count"])
}

func TestPublish_DuplicateCategoryCodesCountOnce(t *testing.T) {
	store := memory.NewStore()
	uc := newPublishUC(store, PublishUsecaseParams{})

	input := bikeInput()
	input.Categories = []string{"BIKE", "BIKE"}
	_, err := uc.Publish(context.Background(), input)
	require.NoError(t, err)

	stats, err := store.Get(context.Background(), "category_stats", "BIKE")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats["active_count"])
}

func TestPublish_BestEffortSideEffects(t *testing.T) {
	store := memory.NewStore()
	require.NoError(t, store.Set(context.Background(), "users", "seller-1", repository.Document{
		"username": "sam",
		"email":    "sam@example.edu",
	}, false))

	events := new(MockEventPublisher)
	events.On("PublishListingPublished", mock.Anything, mock.Anything).Return(errors.New("nats down"))

	notifier := new(MockSellerNotifier)
	notifier.On("SendListingPublished", "sam@example.edu", "Bike").Return(nil)

	uc := newPublishUC(store, PublishUsecaseParams{Events: events, Notifier: notifier})

	// A failing event publisher must not fail the publication itself.
	id, err := uc.Publish(context.Background(), bikeInput())
	require.NoError(t, err)
	require.NotEmpty(t, id)

	events.AssertNumberOfCalls(t, "PublishListingPublished", 1)
	notifier.AssertExpectations(t)
}
