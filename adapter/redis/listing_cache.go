package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/treelistings/publication-service/domain/entity"
	"github.com/treelistings/publication-service/repository"
)

var _ repository.ListingCache = (*ListingCache)(nil)

// ListingCache keeps JSON-encoded listings under "listing:<id>" with a TTL.
type ListingCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewListingCache(client *redis.Client, ttl time.Duration) *ListingCache {
	return &ListingCache{
		client: client,
		ttl:    ttl,
	}
}

func (c *ListingCache) GetListing(ctx context.Context, id string) (*entity.Listing, error) {
	data, err := c.client.Get(ctx, cacheKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache get listing %s: %w", id, err)
	}

	var listing entity.Listing
	if err := json.Unmarshal(data, &listing); err != nil {
		return nil, fmt.Errorf("cache decode listing %s: %w", id, err)
	}
	return &listing, nil
}

func (c *ListingCache) SetListing(ctx context.Context, listing *entity.Listing) error {
	data, err := json.Marshal(listing)
	if err != nil {
		return fmt.Errorf("cache encode listing %s: %w", listing.ID, err)
	}
	return c.client.Set(ctx, cacheKey(listing.ID), data, c.ttl).Err()
}

func (c *ListingCache) DeleteListing(ctx context.Context, id string) error {
	return c.client.Del(ctx, cacheKey(id)).Err()
}

func cacheKey(id string) string {
	return "listing:" + id
}
