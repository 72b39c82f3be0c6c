package services

import (
	"context"
	"time"

	"commerce-auctions/internal/domain"
	"commerce-auctions/pkg/logger"

	"github.com/dgraph-io/ristretto"
)

type ListingCacheConfig struct {
	NumCounters int64
	MaxCost     int64
	TTL         time.Duration
}

func DefaultListingCacheConfig() ListingCacheConfig {
	return ListingCacheConfig{
		NumCounters: 100000,
		MaxCost:     10000,
		TTL:         30 * time.Second,
	}
}

// ListingCache is a read-through cache of listings keyed by id. Every entry
// costs 1, so MaxCost bounds the number of cached listings. Entries are
// dropped on any auction event for the listing and expire after TTL, which
// bounds how long a racing read-through can serve a stale view.
type ListingCache struct {
	cache *ristretto.Cache
	store domain.ListingStore
	ttl   time.Duration
	log   logger.Logger
}

func NewListingCache(store domain.ListingStore, cfg ListingCacheConfig, log logger.Logger) (*ListingCache, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}

	return &ListingCache{
		cache: cache,
		store: store,
		ttl:   cfg.TTL,
		log:   log,
	}, nil
}

// GetListing serves from cache when possible and loads from the store
// otherwise. Callers get a copy they may modify.
func (c *ListingCache) GetListing(ctx context.Context, listingID string) (*domain.Listing, error) {
	if v, found := c.cache.Get(listingID); found {
		if l, ok := v.(domain.Listing); ok {
			return &l, nil
		}
	}

	l, err := c.store.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	c.cache.SetWithTTL(listingID, *l, 1, c.ttl)
	return l, nil
}

func (c *ListingCache) Invalidate(listingID string) {
	c.cache.Del(listingID)
}

// PublishAuctionEvent lets the cache sit behind a FanoutPublisher so local
// writes invalidate without waiting for the broker round trip.
func (c *ListingCache) PublishAuctionEvent(_ context.Context, event *domain.AuctionEvent) error {
	c.Invalidate(event.ListingID)
	return nil
}

// Wait blocks until buffered writes are applied.
func (c *ListingCache) Wait() {
	c.cache.Wait()
}

func (c *ListingCache) Close() {
	c.cache.Close()
}
