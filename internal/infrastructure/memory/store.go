package memory

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"time"

	"commerce-auctions/internal/domain"
	"commerce-auctions/pkg/utils"

	"github.com/shopspring/decimal"
)

// Store is a concurrency-safe in-memory implementation of domain.AuctionStore.
// The mutex plays the role of a database row lock: every conditional write
// checks and applies under it.
type Store struct {
	mu       sync.RWMutex
	listings map[string]*domain.Listing // key: listingID
	order    []string                   // listing IDs in creation order
	bids     map[string][]*domain.Bid   // key: listingID -> ledger in insertion order
	seq      int64
	now      func() time.Time
}

func NewStore() *Store {
	return &Store{
		listings: make(map[string]*domain.Listing),
		bids:     make(map[string][]*domain.Bid),
		now:      time.Now,
	}
}

func (s *Store) GetListing(ctx context.Context, listingID string) (*domain.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.listings[listingID]
	if !ok {
		return nil, fmt.Errorf("get listing %s: %w", listingID, domain.ErrNotFound)
	}
	return cloneListing(l), nil
}

func (s *Store) CreateListing(ctx context.Context, req domain.NewListing) (*domain.Listing, error) {
	l, err := domain.BuildListing(req, utils.GenerateID("listing"), s.now())
	if err != nil {
		return nil, fmt.Errorf("create listing: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.listings[l.ID] = l
	s.order = append(s.order, l.ID)
	return cloneListing(l), nil
}

func (s *Store) ListListings(ctx context.Context, filter domain.ListingFilter) iter.Seq2[*domain.Listing, error] {
	return func(yield func(*domain.Listing, error) bool) {
		s.mu.RLock()
		matched := make([]*domain.Listing, 0, len(s.order))
		for _, id := range s.order {
			if l := s.listings[id]; filter.Matches(l) {
				matched = append(matched, cloneListing(l))
			}
		}
		s.mu.RUnlock()

		for _, l := range matched {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			if !yield(l, nil) {
				return
			}
		}
	}
}

func (s *Store) UpdatePriceAndBidder(ctx context.Context, listingID string, newPrice decimal.Decimal, newBidder string, expectedPrior decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.listings[listingID]
	if !ok {
		return fmt.Errorf("update listing %s: %w", listingID, domain.ErrNotFound)
	}
	if err := domain.CheckPriceUpdate(l, newPrice, expectedPrior); err != nil {
		return err
	}

	s.applyPrice(l, newPrice, newBidder)
	return nil
}

func (s *Store) CloseListing(ctx context.Context, listingID string, expectedPrior decimal.Decimal) (*domain.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.listings[listingID]
	if !ok {
		return nil, fmt.Errorf("close listing %s: %w", listingID, domain.ErrNotFound)
	}
	if err := domain.CheckClose(l, expectedPrior); err != nil {
		return nil, err
	}

	l.State = domain.ListingClosed
	l.UpdatedAt = s.now().UTC()
	return cloneListing(l), nil
}

func (s *Store) AppendBid(ctx context.Context, listingID, bidder string, amount decimal.Decimal) (*domain.Bid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.listings[listingID]
	if !ok {
		return nil, fmt.Errorf("append bid to %s: %w", listingID, domain.ErrNotFound)
	}
	if !l.IsOpen() {
		return nil, fmt.Errorf("append bid to %s: %w", listingID, domain.ErrAuctionClosed)
	}

	bid := &domain.Bid{
		ID:        utils.GenerateID("bid"),
		ListingID: listingID,
		Bidder:    bidder,
		Amount:    amount,
		PlacedAt:  s.stampLocked(listingID, s.now().UTC()),
	}
	s.appendLocked(bid)
	return cloneBid(bid), nil
}

func (s *Store) LatestBid(ctx context.Context, listingID string) (*domain.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bids := s.bids[listingID]
	if len(bids) == 0 {
		return nil, fmt.Errorf("latest bid for %s: %w", listingID, domain.ErrNoBids)
	}

	return cloneBid(bids[len(bids)-1]), nil
}

func (s *Store) BidHistory(ctx context.Context, listingID string) iter.Seq2[*domain.Bid, error] {
	return func(yield func(*domain.Bid, error) bool) {
		s.mu.RLock()
		history := make([]*domain.Bid, 0, len(s.bids[listingID]))
		for _, b := range s.bids[listingID] {
			history = append(history, cloneBid(b))
		}
		s.mu.RUnlock()

		for _, b := range history {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			if !yield(b, nil) {
				return
			}
		}
	}
}

func (s *Store) CommitBid(ctx context.Context, bid *domain.Bid, expectedPrior decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.listings[bid.ListingID]
	if !ok {
		return fmt.Errorf("commit bid to %s: %w", bid.ListingID, domain.ErrNotFound)
	}
	if err := domain.CheckPriceUpdate(l, bid.Amount, expectedPrior); err != nil {
		return err
	}

	if bid.ID == "" {
		bid.ID = utils.GenerateID("bid")
	}
	if bid.PlacedAt.IsZero() {
		bid.PlacedAt = s.now().UTC()
	}
	bid.PlacedAt = s.stampLocked(bid.ListingID, bid.PlacedAt)
	s.appendLocked(cloneBid(bid))
	bid.Seq = s.seq
	s.applyPrice(l, bid.Amount, bid.Bidder)
	return nil
}

// stampLocked keeps placed_at non-decreasing along the ledger when the
// committing clock is behind the one that stamped the tail.
func (s *Store) stampLocked(listingID string, at time.Time) time.Time {
	ledger := s.bids[listingID]
	if n := len(ledger); n > 0 && at.Before(ledger[n-1].PlacedAt) {
		return ledger[n-1].PlacedAt
	}
	return at
}

func (s *Store) appendLocked(bid *domain.Bid) {
	s.seq++
	bid.Seq = s.seq
	s.bids[bid.ListingID] = append(s.bids[bid.ListingID], bid)
}

func (s *Store) applyPrice(l *domain.Listing, price decimal.Decimal, bidder string) {
	l.CurrentPrice = price
	l.HighBidder = bidder
	l.UpdatedAt = s.now().UTC()
}

func cloneListing(l *domain.Listing) *domain.Listing {
	c := *l
	return &c
}

func cloneBid(b *domain.Bid) *domain.Bid {
	c := *b
	return &c
}
