package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"commerce-auctions/internal/domain"
	"commerce-auctions/pkg/logger"

	"github.com/stretchr/testify/require"
)

type recordingCloser struct {
	mu     sync.Mutex
	closed []string
}

func (r *recordingCloser) CloseListing(listingID, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = append(r.closed, listingID)
}

type stubSubscriber struct {
	events []*domain.AuctionEvent
}

func (s *stubSubscriber) SubscribeToAuctionEvents(ctx context.Context, handler domain.EventHandler) error {
	for _, event := range s.events {
		if err := handler(event); err != nil {
			return err
		}
	}
	return nil
}

func TestEventListener_HandleEvent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		eventType  domain.AuctionEventType
		wantClosed bool
		wantErr    bool
	}{
		{name: "listing created", eventType: domain.EventListingCreated},
		{name: "bid accepted", eventType: domain.EventBidAccepted},
		{name: "listing repaired", eventType: domain.EventListingRepaired},
		{name: "auction closed", eventType: domain.EventAuctionClosed, wantClosed: true},
		{name: "unknown", eventType: "price_dropped", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			cache, store := newTestCache(t)
			l := newListingIn(t, store.Store, "alice", "10")
			_, err := cache.GetListing(ctx, l.ID)
			require.NoError(t, err)
			cache.Wait()

			sessions := &recordingCloser{}
			listener := NewEventListener(cache, sessions, logger.NewNop())

			err = listener.HandleEvent(&domain.AuctionEvent{Type: tc.eventType, ListingID: l.ID})
			if tc.wantErr {
				require.Error(t, err)
				require.Empty(t, sessions.closed)
				return
			}
			require.NoError(t, err)

			_, err = cache.GetListing(ctx, l.ID)
			require.NoError(t, err)
			require.EqualValues(t, 2, store.reads.Load())

			if tc.wantClosed {
				require.Equal(t, []string{l.ID}, sessions.closed)
			} else {
				require.Empty(t, sessions.closed)
			}
		})
	}
}

func TestEventListener_NilDependencies(t *testing.T) {
	t.Parallel()

	listener := NewEventListener(nil, nil, logger.NewNop())
	require.NoError(t, listener.HandleEvent(&domain.AuctionEvent{Type: domain.EventAuctionClosed, ListingID: "listing_1"}))
}

func TestEventListener_Start(t *testing.T) {
	t.Parallel()

	sessions := &recordingCloser{}
	listener := NewEventListener(nil, sessions, logger.NewNop())

	sub := &stubSubscriber{events: []*domain.AuctionEvent{
		{Type: domain.EventAuctionClosed, ListingID: "listing_1"},
		{Type: domain.EventAuctionClosed, ListingID: "listing_2"},
	}}
	require.NoError(t, listener.Start(context.Background(), sub))
	require.Equal(t, []string{"listing_1", "listing_2"}, sessions.closed)

	sub.events = []*domain.AuctionEvent{{Type: "bogus", ListingID: "listing_3"}}
	err := listener.Start(context.Background(), sub)
	require.Error(t, err)
	require.False(t, errors.Is(err, context.Canceled))
}
