package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"commerce-auctions/internal/domain"
	"commerce-auctions/internal/domain/mocks"
	"commerce-auctions/internal/infrastructure/memory"
	"commerce-auctions/pkg/logger"

	"github.com/golang/mock/gomock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newMemoryEngine(t *testing.T, opts ...EngineOption) (*AuctionEngine, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	return NewAuctionEngine(store, nil, logger.NewNop(), opts...), store
}

func createListing(t *testing.T, e *AuctionEngine, owner, price string) *domain.Listing {
	t.Helper()
	l, err := e.CreateListing(context.Background(), domain.NewListing{
		Title:         "Bicycle",
		Category:      "sports",
		Owner:         owner,
		StartingPrice: d(price),
	})
	require.NoError(t, err)
	return l
}

func TestAuctionEngine_Lifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e, _ := newMemoryEngine(t)
	l := createListing(t, e, "alice", "100")

	first, err := e.PlaceBid(ctx, l.ID, "bob", d("100"))
	require.NoError(t, err)
	require.Equal(t, "bob", first.Bidder)

	_, err = e.PlaceBid(ctx, l.ID, "carol", d("100"))
	require.ErrorIs(t, err, domain.ErrBidTooLow)

	_, err = e.PlaceBid(ctx, l.ID, "carol", d("150"))
	require.NoError(t, err)

	_, err = e.PlaceBid(ctx, l.ID, "alice", d("200"))
	require.ErrorIs(t, err, domain.ErrSelfBid)

	_, _, err = e.GetWinner(ctx, l.ID)
	require.ErrorIs(t, err, domain.ErrNotClosed)

	require.ErrorIs(t, e.CloseAuction(ctx, l.ID, "bob"), domain.ErrNotOwner)
	require.NoError(t, e.CloseAuction(ctx, l.ID, "alice"))
	require.ErrorIs(t, e.CloseAuction(ctx, l.ID, "alice"), domain.ErrAlreadyClosed)

	winner, ok, err := e.GetWinner(ctx, l.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "carol", winner)

	_, err = e.PlaceBid(ctx, l.ID, "dave", d("500"))
	require.ErrorIs(t, err, domain.ErrAuctionClosed)

	got, err := e.GetListing(ctx, l.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ListingClosed, got.State)
	require.Equal(t, "150.00", domain.FormatAmount(got.CurrentPrice))

	history, err := e.BidHistory(ctx, l.ID)
	require.NoError(t, err)
	var bidders []string
	for b, err := range history {
		require.NoError(t, err)
		bidders = append(bidders, b.Bidder)
	}
	require.Equal(t, []string{"bob", "carol"}, bidders)
}

func TestAuctionEngine_CloseByNonOwner(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e, _ := newMemoryEngine(t)

	open := createListing(t, e, "alice", "100")
	require.ErrorIs(t, e.CloseAuction(ctx, open.ID, "bob"), domain.ErrNotOwner)

	closed := createListing(t, e, "alice", "100")
	require.NoError(t, e.CloseAuction(ctx, closed.ID, "alice"))
	err := e.CloseAuction(ctx, closed.ID, "bob")
	require.ErrorIs(t, err, domain.ErrNotOwner)
	require.NotErrorIs(t, err, domain.ErrAlreadyClosed)
}

func TestAuctionEngine_SkewedClocksShareLedger(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewStore()
	now := time.Now()
	ahead := NewAuctionEngine(store, nil, logger.NewNop(), WithClock(func() time.Time { return now }))
	behind := NewAuctionEngine(store, nil, logger.NewNop(),
		WithClock(func() time.Time { return now.Add(-2 * time.Second) }))
	l := createListing(t, ahead, "alice", "100")

	_, err := ahead.PlaceBid(ctx, l.ID, "bob", d("100"))
	require.NoError(t, err)
	_, err = behind.PlaceBid(ctx, l.ID, "carol", d("150"))
	require.NoError(t, err)

	got, err := store.GetListing(ctx, l.ID)
	require.NoError(t, err)
	require.Equal(t, "carol", got.HighBidder)

	latest, err := store.LatestBid(ctx, l.ID)
	require.NoError(t, err)
	require.Equal(t, "carol", latest.Bidder)
	require.Equal(t, "150.00", domain.FormatAmount(latest.Amount))

	history, err := ahead.BidHistory(ctx, l.ID)
	require.NoError(t, err)
	var bidders []string
	for b, err := range history {
		require.NoError(t, err)
		bidders = append(bidders, b.Bidder)
	}
	require.Equal(t, []string{"bob", "carol"}, bidders)
}

func TestAuctionEngine_CloseWithoutBids(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e, _ := newMemoryEngine(t)
	l := createListing(t, e, "alice", "20")

	require.NoError(t, e.CloseAuction(ctx, l.ID, "alice"))

	winner, ok, err := e.GetWinner(ctx, l.ID)
	require.NoError(t, err)
	require.False(t, ok)
	require.Empty(t, winner)
}

func TestAuctionEngine_PlaceBidValidation(t *testing.T) {
	t.Parallel()

	e, _ := newMemoryEngine(t)
	l := createListing(t, e, "alice", "10")

	tests := []struct {
		name      string
		listingID string
		bidder    string
		amount    string
		wantErr   error
	}{
		{name: "missing bidder", listingID: l.ID, bidder: " ", amount: "20", wantErr: domain.ErrInvalidInput},
		{name: "sub-cent amount", listingID: l.ID, bidder: "bob", amount: "20.001", wantErr: domain.ErrInvalidInput},
		{name: "over max amount", listingID: l.ID, bidder: "bob", amount: "10000000000", wantErr: domain.ErrInvalidInput},
		{name: "below start", listingID: l.ID, bidder: "bob", amount: "9.99", wantErr: domain.ErrBidTooLow},
		{name: "owner at valid amount", listingID: l.ID, bidder: "alice", amount: "15", wantErr: domain.ErrSelfBid},
		{name: "unknown listing", listingID: "listing_missing", bidder: "bob", amount: "20", wantErr: domain.ErrNotFound},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := e.PlaceBid(context.Background(), tc.listingID, tc.bidder, d(tc.amount))
			require.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestAuctionEngine_BidTooLowNamesMinimum(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e, _ := newMemoryEngine(t)
	l := createListing(t, e, "alice", "10")

	_, err := e.PlaceBid(ctx, l.ID, "bob", d("12.5"))
	require.NoError(t, err)

	_, err = e.PlaceBid(ctx, l.ID, "carol", d("12.50"))
	require.ErrorIs(t, err, domain.ErrBidTooLow)
	require.Contains(t, err.Error(), "12.51")
}

func TestAuctionEngine_UnknownListing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e, _ := newMemoryEngine(t)

	_, err := e.BidHistory(ctx, "listing_missing")
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, _, err = e.GetWinner(ctx, "listing_missing")
	require.ErrorIs(t, err, domain.ErrNotFound)

	require.ErrorIs(t, e.CloseAuction(ctx, "listing_missing", "alice"), domain.ErrNotFound)
}

func TestAuctionEngine_ConcurrentBids(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e, _ := newMemoryEngine(t, WithMaxAttempts(50))
	l := createListing(t, e, "alice", "100")

	const bidders = 10
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		errs   []error
		placed []*domain.Bid
	)
	for i := 1; i <= bidders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			bid, err := e.PlaceBid(ctx, l.ID, fmt.Sprintf("bidder-%d", i), decimal.NewFromInt(int64(100+i*10)))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			placed = append(placed, bid)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.ErrorIs(t, err, domain.ErrBidTooLow)
	}
	require.NotEmpty(t, placed)

	got, err := e.GetListing(ctx, l.ID)
	require.NoError(t, err)
	require.Equal(t, "200.00", domain.FormatAmount(got.CurrentPrice))
	require.Equal(t, fmt.Sprintf("bidder-%d", bidders), got.HighBidder)

	history, err := e.BidHistory(ctx, l.ID)
	require.NoError(t, err)
	var prev *domain.Bid
	count := 0
	for b, err := range history {
		require.NoError(t, err)
		if prev != nil {
			require.True(t, b.Amount.GreaterThan(prev.Amount), "ledger amounts must increase")
		}
		prev = b
		count++
	}
	require.Equal(t, len(placed), count)
}

func TestAuctionEngine_Retries(t *testing.T) {
	t.Parallel()

	open := func(price, bidder string) *domain.Listing {
		return &domain.Listing{
			ID:            "listing_1",
			Owner:         "alice",
			StartingPrice: d("100"),
			CurrentPrice:  d(price),
			HighBidder:    bidder,
			State:         domain.ListingOpen,
		}
	}

	tests := []struct {
		name      string
		amount    string
		mockSetup func(store *mocks.MockAuctionStore)
		wantErr   error
	}{
		{
			name:   "retries exhausted",
			amount: "150",
			mockSetup: func(store *mocks.MockAuctionStore) {
				store.EXPECT().GetListing(gomock.Any(), "listing_1").Return(open("120", "bob"), nil).Times(3)
				store.EXPECT().CommitBid(gomock.Any(), gomock.Any(), d("120")).Return(domain.ErrConflict).Times(3)
			},
			wantErr: domain.ErrConflict,
		},
		{
			name:   "overtaken while retrying",
			amount: "150",
			mockSetup: func(store *mocks.MockAuctionStore) {
				gomock.InOrder(
					store.EXPECT().GetListing(gomock.Any(), "listing_1").Return(open("120", "bob"), nil),
					store.EXPECT().CommitBid(gomock.Any(), gomock.Any(), d("120")).Return(domain.ErrConflict),
					store.EXPECT().GetListing(gomock.Any(), "listing_1").Return(open("160", "carol"), nil),
				)
			},
			wantErr: domain.ErrBidTooLow,
		},
		{
			name:   "closed while retrying",
			amount: "150",
			mockSetup: func(store *mocks.MockAuctionStore) {
				closed := open("120", "bob")
				closed.State = domain.ListingClosed
				gomock.InOrder(
					store.EXPECT().GetListing(gomock.Any(), "listing_1").Return(open("120", "bob"), nil),
					store.EXPECT().CommitBid(gomock.Any(), gomock.Any(), d("120")).Return(domain.ErrConflict),
					store.EXPECT().GetListing(gomock.Any(), "listing_1").Return(closed, nil),
				)
			},
			wantErr: domain.ErrAuctionClosed,
		},
		{
			name:   "succeeds on second attempt",
			amount: "150",
			mockSetup: func(store *mocks.MockAuctionStore) {
				gomock.InOrder(
					store.EXPECT().GetListing(gomock.Any(), "listing_1").Return(open("120", "bob"), nil),
					store.EXPECT().CommitBid(gomock.Any(), gomock.Any(), d("120")).Return(domain.ErrConflict),
					store.EXPECT().GetListing(gomock.Any(), "listing_1").Return(open("130", "carol"), nil),
					store.EXPECT().CommitBid(gomock.Any(), gomock.Any(), d("130")).Return(nil),
				)
			},
		},
		{
			name:   "first bid consults ledger",
			amount: "100",
			mockSetup: func(store *mocks.MockAuctionStore) {
				store.EXPECT().GetListing(gomock.Any(), "listing_1").Return(open("100", ""), nil)
				store.EXPECT().LatestBid(gomock.Any(), "listing_1").Return(nil, domain.ErrNoBids)
				store.EXPECT().CommitBid(gomock.Any(), gomock.Any(), d("100")).Return(nil)
			},
		},
		{
			name:   "ledger tail without projection counts as prior bid",
			amount: "100",
			mockSetup: func(store *mocks.MockAuctionStore) {
				store.EXPECT().GetListing(gomock.Any(), "listing_1").Return(open("100", ""), nil)
				store.EXPECT().LatestBid(gomock.Any(), "listing_1").Return(&domain.Bid{Amount: d("100")}, nil)
			},
			wantErr: domain.ErrBidTooLow,
		},
		{
			name:   "store failure is not retried",
			amount: "150",
			mockSetup: func(store *mocks.MockAuctionStore) {
				store.EXPECT().GetListing(gomock.Any(), "listing_1").Return(open("120", "bob"), nil)
				store.EXPECT().CommitBid(gomock.Any(), gomock.Any(), d("120")).Return(errors.New("connection reset"))
			},
			wantErr: errors.New("connection reset"),
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ctrl := gomock.NewController(t)
			store := mocks.NewMockAuctionStore(ctrl)
			tc.mockSetup(store)

			e := NewAuctionEngine(store, nil, logger.NewNop(), WithMaxAttempts(3))
			bid, err := e.PlaceBid(context.Background(), "listing_1", "dave", d(tc.amount))
			if tc.wantErr == nil {
				require.NoError(t, err)
				require.Equal(t, "dave", bid.Bidder)
				return
			}
			if errors.Is(tc.wantErr, domain.ErrConflict) || errors.Is(tc.wantErr, domain.ErrBidTooLow) ||
				errors.Is(tc.wantErr, domain.ErrAuctionClosed) {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.EqualError(t, err, tc.wantErr.Error())
		})
	}
}

func TestAuctionEngine_CloseRetriesOnConflict(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	store := mocks.NewMockAuctionStore(ctrl)
	pub := mocks.NewMockEventPublisher(ctrl)

	listing := func(price string) *domain.Listing {
		return &domain.Listing{ID: "listing_1", Owner: "alice", CurrentPrice: d(price), HighBidder: "bob", State: domain.ListingOpen}
	}
	closed := listing("130")
	closed.State = domain.ListingClosed

	gomock.InOrder(
		store.EXPECT().GetListing(gomock.Any(), "listing_1").Return(listing("120"), nil),
		store.EXPECT().CloseListing(gomock.Any(), "listing_1", d("120")).Return(nil, domain.ErrConflict),
		store.EXPECT().GetListing(gomock.Any(), "listing_1").Return(listing("130"), nil),
		store.EXPECT().CloseListing(gomock.Any(), "listing_1", d("130")).Return(closed, nil),
	)
	pub.EXPECT().PublishAuctionEvent(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, event *domain.AuctionEvent) error {
			require.Equal(t, domain.EventAuctionClosed, event.Type)
			require.Equal(t, "bob", event.Bidder)
			require.True(t, d("130").Equal(event.Amount))
			return nil
		})

	e := NewAuctionEngine(store, pub, logger.NewNop())
	require.NoError(t, e.CloseAuction(context.Background(), "listing_1", "alice"))
}

func TestAuctionEngine_PublishFailureIgnored(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	pub := mocks.NewMockEventPublisher(ctrl)
	pub.EXPECT().PublishAuctionEvent(gomock.Any(), gomock.Any()).Return(errors.New("redis down")).AnyTimes()

	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e := NewAuctionEngine(memory.NewStore(), pub, logger.NewNop(), WithClock(func() time.Time { return fixed }))
	l := createListing(t, e, "alice", "5")

	bid, err := e.PlaceBid(context.Background(), l.ID, "bob", d("6"))
	require.NoError(t, err)
	require.Equal(t, fixed, bid.PlacedAt)
	require.NoError(t, e.CloseAuction(context.Background(), l.ID, "alice"))
}

func TestAuctionEngine_PublishesEvents(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	pub := mocks.NewMockEventPublisher(ctrl)

	var types []domain.AuctionEventType
	pub.EXPECT().PublishAuctionEvent(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, event *domain.AuctionEvent) error {
			types = append(types, event.Type)
			return nil
		}).Times(3)

	ctx := context.Background()
	e := NewAuctionEngine(memory.NewStore(), pub, logger.NewNop())
	l := createListing(t, e, "alice", "5")
	_, err := e.PlaceBid(ctx, l.ID, "bob", d("5"))
	require.NoError(t, err)
	require.NoError(t, e.CloseAuction(ctx, l.ID, "alice"))

	require.Equal(t, []domain.AuctionEventType{
		domain.EventListingCreated,
		domain.EventBidAccepted,
		domain.EventAuctionClosed,
	}, types)
}
