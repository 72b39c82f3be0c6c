// Package storetest holds the behavioural contract every domain.AuctionStore
// backend is tested against.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"testing"
	"time"

	"commerce-auctions/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty store. It is called once per subtest.
type Factory func(t *testing.T) domain.AuctionStore

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newListing(owner, category, price string) domain.NewListing {
	return domain.NewListing{
		Title:         "Item by " + owner,
		Description:   "a thing",
		Category:      category,
		Owner:         owner,
		StartingPrice: d(price),
	}
}

func collect[T any](t *testing.T, seq iter.Seq2[T, error]) []T {
	t.Helper()
	var out []T
	for v, err := range seq {
		require.NoError(t, err)
		out = append(out, v)
	}
	return out
}

func listingIDs(listings []*domain.Listing) []string {
	ids := make([]string, 0, len(listings))
	for _, l := range listings {
		ids = append(ids, l.ID)
	}
	return ids
}

func bidIDs(bids []*domain.Bid) []string {
	ids := make([]string, 0, len(bids))
	for _, b := range bids {
		ids = append(ids, b.ID)
	}
	return ids
}

// Run exercises the full AuctionStore contract against stores from newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, newStore(t)) })
	t.Run("ListListings", func(t *testing.T) { testListListings(t, newStore(t)) })
	t.Run("UpdatePriceAndBidder", func(t *testing.T) { testUpdatePrice(t, newStore(t)) })
	t.Run("CloseListing", func(t *testing.T) { testCloseListing(t, newStore(t)) })
	t.Run("Ledger", func(t *testing.T) { testLedger(t, newStore(t)) })
	t.Run("CommitBid", func(t *testing.T) { testCommitBid(t, newStore(t)) })
	t.Run("CommitOrderIgnoresClock", func(t *testing.T) { testCommitOrderIgnoresClock(t, newStore(t)) })
	t.Run("ConcurrentCommit", func(t *testing.T) { testConcurrentCommit(t, newStore(t)) })
}

func testCreateAndGet(t *testing.T, store domain.AuctionStore) {
	ctx := context.Background()

	created, err := store.CreateListing(ctx, domain.NewListing{
		Title:         "Lamp",
		Description:   "brass",
		Category:      "home",
		Owner:         "alice",
		StartingPrice: d("100.50"),
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	got, err := store.GetListing(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, created.ID, got.ID)
	require.Equal(t, "Lamp", got.Title)
	require.Equal(t, "brass", got.Description)
	require.Equal(t, "home", got.Category)
	require.Equal(t, "alice", got.Owner)
	require.Equal(t, domain.DefaultImageURL, got.ImageURL)
	require.Equal(t, "100.50", domain.FormatAmount(got.StartingPrice))
	require.Equal(t, "100.50", domain.FormatAmount(got.CurrentPrice))
	require.Empty(t, got.HighBidder)
	require.Equal(t, domain.ListingOpen, got.State)
	require.WithinDuration(t, created.CreatedAt, got.CreatedAt, time.Millisecond)

	_, err = store.GetListing(ctx, "listing_missing")
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = store.CreateListing(ctx, domain.NewListing{Title: "", Owner: "alice", StartingPrice: d("1")})
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}

func testListListings(t *testing.T, store domain.AuctionStore) {
	ctx := context.Background()

	a, err := store.CreateListing(ctx, newListing("alice", "books", "10"))
	require.NoError(t, err)
	b, err := store.CreateListing(ctx, newListing("bob", "books", "20"))
	require.NoError(t, err)
	c, err := store.CreateListing(ctx, newListing("alice", "toys", "30"))
	require.NoError(t, err)

	_, err = store.CloseListing(ctx, b.ID, b.CurrentPrice)
	require.NoError(t, err)

	all := store.ListListings(ctx, domain.ListingFilter{})
	require.Equal(t, []string{a.ID, b.ID, c.ID}, listingIDs(collect(t, all)))

	tests := []struct {
		name   string
		filter domain.ListingFilter
		want   []string
	}{
		{name: "open", filter: domain.StateFilter(domain.ListingOpen), want: []string{a.ID, c.ID}},
		{name: "closed", filter: domain.StateFilter(domain.ListingClosed), want: []string{b.ID}},
		{name: "category", filter: domain.ListingFilter{Category: "books"}, want: []string{a.ID, b.ID}},
		{name: "owner", filter: domain.ListingFilter{Owner: "alice"}, want: []string{a.ID, c.ID}},
		{name: "combined", filter: domain.ListingFilter{Owner: "alice", Category: "toys"}, want: []string{c.ID}},
		{name: "none", filter: domain.ListingFilter{Owner: "carol"}, want: nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := listingIDs(collect(t, store.ListListings(ctx, tc.filter)))
			if tc.want == nil {
				require.Empty(t, got)
				return
			}
			require.Equal(t, tc.want, got)
		})
	}

	// Ranging again re-reads current state.
	e, err := store.CreateListing(ctx, newListing("erin", "books", "40"))
	require.NoError(t, err)
	require.Equal(t, []string{a.ID, b.ID, c.ID, e.ID}, listingIDs(collect(t, all)))

	// Early break stops the sequence.
	n := 0
	for _, err := range all {
		require.NoError(t, err)
		n++
		if n == 2 {
			break
		}
	}
	require.Equal(t, 2, n)
}

func testUpdatePrice(t *testing.T, store domain.AuctionStore) {
	ctx := context.Background()

	l, err := store.CreateListing(ctx, newListing("alice", "", "100"))
	require.NoError(t, err)

	// Seeding at the starting price is allowed once.
	require.NoError(t, store.UpdatePriceAndBidder(ctx, l.ID, d("100"), "bob", d("100")))
	err = store.UpdatePriceAndBidder(ctx, l.ID, d("100"), "carol", d("100"))
	require.ErrorIs(t, err, domain.ErrConflict)

	got, err := store.GetListing(ctx, l.ID)
	require.NoError(t, err)
	require.Equal(t, "bob", got.HighBidder)

	// Stale expected price.
	require.NoError(t, store.UpdatePriceAndBidder(ctx, l.ID, d("150"), "carol", d("100")))
	err = store.UpdatePriceAndBidder(ctx, l.ID, d("160"), "dave", d("100"))
	require.ErrorIs(t, err, domain.ErrConflict)

	// Lowering is never allowed.
	err = store.UpdatePriceAndBidder(ctx, l.ID, d("140"), "dave", d("150"))
	require.ErrorIs(t, err, domain.ErrConflict)

	got, err = store.GetListing(ctx, l.ID)
	require.NoError(t, err)
	require.Equal(t, "150.00", domain.FormatAmount(got.CurrentPrice))
	require.Equal(t, "carol", got.HighBidder)

	err = store.UpdatePriceAndBidder(ctx, "listing_missing", d("1"), "x", d("1"))
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = store.CloseListing(ctx, l.ID, d("150"))
	require.NoError(t, err)
	err = store.UpdatePriceAndBidder(ctx, l.ID, d("200"), "dave", d("150"))
	require.ErrorIs(t, err, domain.ErrAuctionClosed)
}

func testCloseListing(t *testing.T, store domain.AuctionStore) {
	ctx := context.Background()

	l, err := store.CreateListing(ctx, newListing("alice", "", "100"))
	require.NoError(t, err)
	require.NoError(t, store.UpdatePriceAndBidder(ctx, l.ID, d("120"), "bob", d("100")))

	_, err = store.CloseListing(ctx, l.ID, d("100"))
	require.ErrorIs(t, err, domain.ErrConflict)

	closed, err := store.CloseListing(ctx, l.ID, d("120"))
	require.NoError(t, err)
	require.Equal(t, domain.ListingClosed, closed.State)
	require.Equal(t, "bob", closed.HighBidder)
	require.Equal(t, "120.00", domain.FormatAmount(closed.CurrentPrice))

	_, err = store.CloseListing(ctx, l.ID, d("120"))
	require.ErrorIs(t, err, domain.ErrAlreadyClosed)

	_, err = store.CloseListing(ctx, "listing_missing", d("1"))
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func testLedger(t *testing.T, store domain.AuctionStore) {
	ctx := context.Background()

	l, err := store.CreateListing(ctx, newListing("alice", "", "100"))
	require.NoError(t, err)

	_, err = store.LatestBid(ctx, l.ID)
	require.ErrorIs(t, err, domain.ErrNoBids)
	require.Empty(t, collect(t, store.BidHistory(ctx, l.ID)))

	var appended []*domain.Bid
	for i, amount := range []string{"100", "110", "125.50"} {
		b, err := store.AppendBid(ctx, l.ID, fmt.Sprintf("bidder-%d", i), d(amount))
		require.NoError(t, err)
		require.NotEmpty(t, b.ID)
		require.Equal(t, l.ID, b.ListingID)
		appended = append(appended, b)
	}

	history := collect(t, store.BidHistory(ctx, l.ID))
	require.Equal(t, bidIDs(appended), bidIDs(history))
	require.Equal(t, "125.50", domain.FormatAmount(history[2].Amount))
	require.Equal(t, "bidder-2", history[2].Bidder)

	latest, err := store.LatestBid(ctx, l.ID)
	require.NoError(t, err)
	require.Equal(t, appended[2].ID, latest.ID)

	// Appending alone does not move the projection.
	got, err := store.GetListing(ctx, l.ID)
	require.NoError(t, err)
	require.Equal(t, "100.00", domain.FormatAmount(got.CurrentPrice))
	require.Empty(t, got.HighBidder)

	_, err = store.AppendBid(ctx, "listing_missing", "bob", d("1"))
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = store.CloseListing(ctx, l.ID, d("100"))
	require.NoError(t, err)
	_, err = store.AppendBid(ctx, l.ID, "bob", d("500"))
	require.ErrorIs(t, err, domain.ErrAuctionClosed)
	require.Len(t, collect(t, store.BidHistory(ctx, l.ID)), 3)
}

func testCommitBid(t *testing.T, store domain.AuctionStore) {
	ctx := context.Background()

	l, err := store.CreateListing(ctx, newListing("alice", "", "100"))
	require.NoError(t, err)

	first := &domain.Bid{ListingID: l.ID, Bidder: "bob", Amount: d("100"), PlacedAt: time.Now()}
	require.NoError(t, store.CommitBid(ctx, first, d("100")))
	require.NotEmpty(t, first.ID)
	require.Positive(t, first.Seq)

	second := &domain.Bid{ListingID: l.ID, Bidder: "carol", Amount: d("150"), PlacedAt: time.Now()}
	require.NoError(t, store.CommitBid(ctx, second, d("100")))

	got, err := store.GetListing(ctx, l.ID)
	require.NoError(t, err)
	require.Equal(t, "150.00", domain.FormatAmount(got.CurrentPrice))
	require.Equal(t, "carol", got.HighBidder)

	latest, err := store.LatestBid(ctx, l.ID)
	require.NoError(t, err)
	require.Equal(t, second.ID, latest.ID)
	require.Equal(t, "carol", latest.Bidder)

	// A rejected commit leaves no ledger entry behind.
	stale := &domain.Bid{ListingID: l.ID, Bidder: "dave", Amount: d("200"), PlacedAt: time.Now()}
	require.ErrorIs(t, store.CommitBid(ctx, stale, d("100")), domain.ErrConflict)
	tie := &domain.Bid{ListingID: l.ID, Bidder: "dave", Amount: d("150"), PlacedAt: time.Now()}
	require.ErrorIs(t, store.CommitBid(ctx, tie, d("150")), domain.ErrConflict)

	history := collect(t, store.BidHistory(ctx, l.ID))
	require.Equal(t, []string{first.ID, second.ID}, bidIDs(history))

	_, err = store.CloseListing(ctx, l.ID, d("150"))
	require.NoError(t, err)
	late := &domain.Bid{ListingID: l.ID, Bidder: "dave", Amount: d("300"), PlacedAt: time.Now()}
	require.ErrorIs(t, store.CommitBid(ctx, late, d("150")), domain.ErrAuctionClosed)
}

// Instances sharing a store may disagree on the time. The ledger follows
// commit order so its tail always matches the listing projection.
func testCommitOrderIgnoresClock(t *testing.T, store domain.AuctionStore) {
	ctx := context.Background()

	l, err := store.CreateListing(ctx, newListing("alice", "", "100"))
	require.NoError(t, err)

	at := time.Now()
	first := &domain.Bid{ListingID: l.ID, Bidder: "bob", Amount: d("100"), PlacedAt: at}
	require.NoError(t, store.CommitBid(ctx, first, d("100")))
	second := &domain.Bid{ListingID: l.ID, Bidder: "carol", Amount: d("150"), PlacedAt: at.Add(-2 * time.Second)}
	require.NoError(t, store.CommitBid(ctx, second, d("100")))

	got, err := store.GetListing(ctx, l.ID)
	require.NoError(t, err)
	require.Equal(t, "carol", got.HighBidder)

	latest, err := store.LatestBid(ctx, l.ID)
	require.NoError(t, err)
	require.Equal(t, got.HighBidder, latest.Bidder)
	require.Equal(t, domain.FormatAmount(got.CurrentPrice), domain.FormatAmount(latest.Amount))

	history := collect(t, store.BidHistory(ctx, l.ID))
	require.Equal(t, []string{first.ID, second.ID}, bidIDs(history))

	// The slower clock's bid is stamped no earlier than the tail it follows.
	require.True(t, second.PlacedAt.Equal(first.PlacedAt), "got %v after %v", second.PlacedAt, first.PlacedAt)
	require.False(t, history[1].PlacedAt.Before(history[0].PlacedAt))

	appended, err := store.AppendBid(ctx, l.ID, "dave", d("150"))
	require.NoError(t, err)
	require.False(t, appended.PlacedAt.Before(second.PlacedAt))
}

func testConcurrentCommit(t *testing.T, store domain.AuctionStore) {
	ctx := context.Background()

	l, err := store.CreateListing(ctx, newListing("alice", "", "100"))
	require.NoError(t, err)

	const n = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted []*domain.Bid
		failures []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			bid := &domain.Bid{
				ListingID: l.ID,
				Bidder:    fmt.Sprintf("bidder-%d", i),
				Amount:    d(fmt.Sprintf("%d", 101+i)),
				PlacedAt:  time.Now(),
			}
			err := store.CommitBid(ctx, bid, d("100"))

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted = append(accepted, bid)
			case !errors.Is(err, domain.ErrConflict):
				failures = append(failures, err)
			}
		}(i)
	}
	wg.Wait()

	require.Empty(t, failures)
	require.Len(t, accepted, 1)
	history := collect(t, store.BidHistory(ctx, l.ID))
	require.Equal(t, []string{accepted[0].ID}, bidIDs(history))

	got, err := store.GetListing(ctx, l.ID)
	require.NoError(t, err)
	require.Equal(t, accepted[0].Bidder, got.HighBidder)
	require.True(t, got.CurrentPrice.Equal(accepted[0].Amount))
}
