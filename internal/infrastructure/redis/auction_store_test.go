package redis

import (
	"context"
	"strconv"
	"testing"
	"time"

	"commerce-auctions/internal/domain"
	"commerce-auctions/internal/infrastructure/storetest"
	"commerce-auctions/pkg/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestAuctionStore(t *testing.T) {
	t.Parallel()
	storetest.Run(t, func(t *testing.T) domain.AuctionStore {
		client, _ := newTestClient(t)
		return NewAuctionStore(client)
	})
}

func TestCommunityStore(t *testing.T) {
	t.Parallel()
	storetest.RunCommunity(t, func(t *testing.T) storetest.CommunityBackend {
		client, _ := newTestClient(t)
		community := NewCommunityStore(client)
		return storetest.CommunityBackend{
			Listings:  NewAuctionStore(client),
			Comments:  community,
			Watchlist: community,
		}
	})
}

func TestAuctionStoreKeys(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client, mr := newTestClient(t)
	store := NewAuctionStore(client)

	l, err := store.CreateListing(ctx, domain.NewListing{
		Title:         "Clock",
		Owner:         "alice",
		StartingPrice: decimal.RequireFromString("12.5"),
	})
	require.NoError(t, err)

	require.Equal(t, "12.50", mr.HGet(listingKey(l.ID), "current_price"))
	require.Equal(t, "open", mr.HGet(listingKey(l.ID), "state"))
	members, err := mr.ZMembers(listingsIndexKey)
	require.NoError(t, err)
	require.Equal(t, []string{l.ID}, members)

	bid := &domain.Bid{
		ID:        "bid_1",
		ListingID: l.ID,
		Bidder:    "bob",
		Amount:    decimal.RequireFromString("13"),
		PlacedAt:  time.Now().UTC(),
	}
	require.NoError(t, store.CommitBid(ctx, bid, l.CurrentPrice))
	require.Equal(t, int64(1), bid.Seq)
	require.Equal(t, strconv.FormatInt(bid.PlacedAt.UnixMicro(), 10), mr.HGet(listingKey(l.ID), "last_bid_at"))

	entries, err := mr.List(bidsKey(l.ID))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Contains(t, entries[0], `"bidder":"bob"`)
}

func TestAuctionStorePaging(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client, _ := newTestClient(t)
	store := NewAuctionStore(client)
	store.pageSize = 2

	var want []string
	for i := 0; i < 5; i++ {
		l, err := store.CreateListing(ctx, domain.NewListing{
			Title:         "item",
			Owner:         "alice",
			StartingPrice: decimal.RequireFromString("1"),
		})
		require.NoError(t, err)
		want = append(want, l.ID)
	}

	var got []string
	for l, err := range store.ListListings(ctx, domain.ListingFilter{}) {
		require.NoError(t, err)
		got = append(got, l.ID)
	}
	require.Equal(t, want, got)
}

func TestEventRoundTrip(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t)
	publisher := NewEventPublisher(client)
	subscriber := NewRedisEventSubscriber(client, logger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan *domain.AuctionEvent, 1)
	done := make(chan error, 1)
	go func() {
		done <- subscriber.SubscribeToAuctionEvents(ctx, func(event *domain.AuctionEvent) error {
			received <- event
			return nil
		})
	}()

	sent := &domain.AuctionEvent{
		Type:      domain.EventBidAccepted,
		ListingID: "listing_1",
		Bidder:    "bob",
		Amount:    decimal.RequireFromString("20.00"),
		Timestamp: time.Now().UTC().Truncate(time.Millisecond),
	}

	// The subscription is live once a publish reaches at least one receiver.
	require.Eventually(t, func() bool {
		n, err := client.Publish(ctx, AuctionEventsChannel, "not json").Result()
		return err == nil && n > 0
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, publisher.PublishAuctionEvent(ctx, sent))

	select {
	case got := <-received:
		require.Equal(t, sent.Type, got.Type)
		require.Equal(t, sent.ListingID, got.ListingID)
		require.Equal(t, sent.Bidder, got.Bidder)
		require.True(t, sent.Amount.Equal(got.Amount))
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber did not stop")
	}
}

func TestParseEvent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{name: "valid", payload: `{"type":"auction_closed","listing_id":"listing_1"}`},
		{name: "not json", payload: `nope`, wantErr: true},
		{name: "missing type", payload: `{"listing_id":"listing_1"}`, wantErr: true},
		{name: "missing listing", payload: `{"type":"auction_closed"}`, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			event, err := parseEvent(tc.payload)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, domain.EventAuctionClosed, event.Type)
		})
	}
}
