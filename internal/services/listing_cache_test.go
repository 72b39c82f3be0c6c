package services

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"commerce-auctions/internal/domain"
	"commerce-auctions/internal/infrastructure/memory"
	"commerce-auctions/pkg/logger"

	"github.com/stretchr/testify/require"
)

// countingStore counts listing reads that reach the backend.
type countingStore struct {
	*memory.Store
	reads atomic.Int32
}

func (s *countingStore) GetListing(ctx context.Context, listingID string) (*domain.Listing, error) {
	s.reads.Add(1)
	return s.Store.GetListing(ctx, listingID)
}

func newTestCache(t *testing.T) (*ListingCache, *countingStore) {
	t.Helper()

	store := &countingStore{Store: memory.NewStore()}
	cache, err := NewListingCache(store, ListingCacheConfig{
		NumCounters: 1000,
		MaxCost:     100,
		TTL:         time.Minute,
	}, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(cache.Close)
	return cache, store
}

func TestListingCache_ReadThrough(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cache, store := newTestCache(t)
	l := newListingIn(t, store.Store, "alice", "10")

	got, err := cache.GetListing(ctx, l.ID)
	require.NoError(t, err)
	require.Equal(t, l.ID, got.ID)
	cache.Wait()

	// Mutating a returned copy leaves the cached entry alone.
	got.Title = "changed"

	again, err := cache.GetListing(ctx, l.ID)
	require.NoError(t, err)
	require.Equal(t, "Camera", again.Title)
	require.EqualValues(t, 1, store.reads.Load())
}

func TestListingCache_Invalidation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cache, store := newTestCache(t)
	l := newListingIn(t, store.Store, "alice", "10")

	_, err := cache.GetListing(ctx, l.ID)
	require.NoError(t, err)
	cache.Wait()

	require.NoError(t, store.UpdatePriceAndBidder(ctx, l.ID, d("12"), "bob", d("10")))
	require.NoError(t, cache.PublishAuctionEvent(ctx, &domain.AuctionEvent{
		Type:      domain.EventBidAccepted,
		ListingID: l.ID,
	}))

	got, err := cache.GetListing(ctx, l.ID)
	require.NoError(t, err)
	require.Equal(t, "bob", got.HighBidder)
	require.Equal(t, "12.00", domain.FormatAmount(got.CurrentPrice))
	require.EqualValues(t, 2, store.reads.Load())
}

func TestListingCache_NotFoundIsNotCached(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cache, store := newTestCache(t)

	_, err := cache.GetListing(ctx, "listing_missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
	cache.Wait()

	_, err = cache.GetListing(ctx, "listing_missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.EqualValues(t, 2, store.reads.Load())
}
