package usecase

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/treelistings/publication-service/domain/entity"
	"github.com/treelistings/publication-service/repository"
)

// FeedUsecase is the read side: point lookups, the owner-excluding market
// feed, and live snapshot subscriptions. Absence is not a failure here; a
// missing document comes back as a nil entity with a nil error.
type FeedUsecase struct {
	store repository.DocumentStore
	cache repository.ListingCache
	log   *zap.Logger
}

func NewFeedUsecase(store repository.DocumentStore, cache repository.ListingCache, log *zap.Logger) *FeedUsecase {
	return &FeedUsecase{
		store: store,
		cache: cache,
		log:   log,
	}
}

func (uc *FeedUsecase) GetListing(ctx context.Context, id string) (*entity.Listing, error) {
	if id == "" {
		return nil, fmt.Errorf("FeedUsecase.GetListing: listing id is required")
	}

	if uc.cache != nil {
		cached, err := uc.cache.GetListing(ctx, id)
		if err != nil {
			uc.log.Warn("Listing cache read failed", zap.String("listing_id", id), zap.Error(err))
		} else if cached != nil {
			return cached, nil
		}
	}

	doc, err := uc.store.Get(ctx, listingsCollection, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("FeedUsecase.GetListing: %w", err)
	}

	listing := listingFromDocument(id, doc)
	if uc.cache != nil {
		if err := uc.cache.SetListing(ctx, listing); err != nil {
			uc.log.Warn("Listing cache fill failed", zap.String("listing_id", id), zap.Error(err))
		}
	}
	return listing, nil
}

// MarketFeed returns every listing whose seller differs from viewerID,
// keyed by listing ID. Ordering is up to the presentation layer.
func (uc *FeedUsecase) MarketFeed(ctx context.Context, viewerID string) (map[string]*entity.Listing, error) {
	snapshot, err := uc.store.Query(ctx, listingsCollection, excludeSeller(viewerID))
	if err != nil {
		return nil, fmt.Errorf("FeedUsecase.MarketFeed: %w", err)
	}
	return listingsFromSnapshot(snapshot), nil
}

// Subscribe delivers the full filtered feed to onChange: once immediately,
// then after every commit that touches the listings collection. The
// returned cancel stops delivery synchronously.
func (uc *FeedUsecase) Subscribe(ctx context.Context, viewerID string, onChange func(map[string]*entity.Listing)) (repository.CancelFunc, error) {
	cancel, err := uc.store.Watch(ctx, listingsCollection, excludeSeller(viewerID), func(snapshot repository.Snapshot) {
		onChange(listingsFromSnapshot(snapshot))
	})
	if err != nil {
		return nil, fmt.Errorf("FeedUsecase.Subscribe: %w", err)
	}
	return cancel, nil
}

func (uc *FeedUsecase) GetUser(ctx context.Context, id string) (*entity.User, error) {
	if id == "" {
		return nil, fmt.Errorf("FeedUsecase.GetUser: user id is required")
	}
	doc, err := uc.store.Get(ctx, usersCollection, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("FeedUsecase.GetUser: %w", err)
	}
	return userFromDocument(id, doc), nil
}

func (uc *FeedUsecase) GetOffer(ctx context.Context, id string) (*entity.Offer, error) {
	if id == "" {
		return nil, fmt.Errorf("FeedUsecase.GetOffer: offer id is required")
	}
	doc, err := uc.store.Get(ctx, offersCollection, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("FeedUsecase.GetOffer: %w", err)
	}
	return offerFromDocument(id, doc), nil
}

// CategoryStats is a point read of one category aggregate; absent means no
// listing has referenced the code yet.
func (uc *FeedUsecase) CategoryStats(ctx context.Context, code string) (*entity.CategoryStats, error) {
	if code == "" {
		return nil, fmt.Errorf("FeedUsecase.CategoryStats: category code is required")
	}
	doc, err := uc.store.Get(ctx, categoryStatsCollection, code)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("FeedUsecase.CategoryStats: %w", err)
	}
	return categoryStatsFromDocument(code, doc), nil
}

func excludeSeller(viewerID string) repository.Filter {
	if viewerID == "" {
		return repository.Filter{}
	}
	return repository.Filter{
		NotEquals: map[string]any{fieldSellerID: viewerID},
	}
}
