package repository

import (
	"context"

	"github.com/treelistings/publication-service/domain/entity"
)

// ListingCache is the read cache in front of listing point lookups. A miss
// is (nil, nil); errors mean the cache itself failed and are always safe to
// ignore in favor of the store.
type ListingCache interface {
	GetListing(ctx context.Context, id string) (*entity.Listing, error)
	SetListing(ctx context.Context, listing *entity.Listing) error
	DeleteListing(ctx context.Context, id string) error
}
