package services

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"commerce-auctions/internal/domain"
	"commerce-auctions/pkg/logger"
	"commerce-auctions/pkg/utils"

	"github.com/shopspring/decimal"
)

const DefaultMaxBidAttempts = 5

// AuctionEngine validates bids and close requests and applies them through the
// store's conditional writes. It holds no per-listing lock; concurrent callers
// race on the store's expected-price guard and retry on ErrConflict.
type AuctionEngine struct {
	store       domain.AuctionStore
	eventPub    domain.EventPublisher
	maxAttempts int
	now         func() time.Time
	log         logger.Logger
}

type EngineOption func(*AuctionEngine)

func WithMaxAttempts(n int) EngineOption {
	return func(e *AuctionEngine) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

func WithClock(now func() time.Time) EngineOption {
	return func(e *AuctionEngine) {
		e.now = now
	}
}

// NewAuctionEngine builds an engine over store. eventPub may be nil.
func NewAuctionEngine(store domain.AuctionStore, eventPub domain.EventPublisher, log logger.Logger, opts ...EngineOption) *AuctionEngine {
	e := &AuctionEngine{
		store:       store,
		eventPub:    eventPub,
		maxAttempts: DefaultMaxBidAttempts,
		now:         time.Now,
		log:         log,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *AuctionEngine) CreateListing(ctx context.Context, req domain.NewListing) (*domain.Listing, error) {
	l, err := e.store.CreateListing(ctx, req)
	if err != nil {
		return nil, err
	}

	e.log.Info("Listing created", "listing_id", l.ID, "owner", l.Owner, "starting_price", domain.FormatAmount(l.StartingPrice))
	e.publish(ctx, &domain.AuctionEvent{
		Type:      domain.EventListingCreated,
		ListingID: l.ID,
		Amount:    l.StartingPrice,
		Timestamp: l.CreatedAt,
	})
	return l, nil
}

func (e *AuctionEngine) GetListing(ctx context.Context, listingID string) (*domain.Listing, error) {
	return e.store.GetListing(ctx, listingID)
}

func (e *AuctionEngine) ListListings(ctx context.Context, filter domain.ListingFilter) iter.Seq2[*domain.Listing, error] {
	return e.store.ListListings(ctx, filter)
}

// BidHistory fails with ErrNotFound for an unknown listing instead of
// yielding an empty sequence.
func (e *AuctionEngine) BidHistory(ctx context.Context, listingID string) (iter.Seq2[*domain.Bid, error], error) {
	if _, err := e.store.GetListing(ctx, listingID); err != nil {
		return nil, err
	}
	return e.store.BidHistory(ctx, listingID), nil
}

// PlaceBid validates amount against the listing's floor and commits it. A lost
// race on the expected price restarts validation from a fresh read, so a bid
// overtaken by a higher one fails with ErrBidTooLow rather than ErrConflict.
func (e *AuctionEngine) PlaceBid(ctx context.Context, listingID, bidder string, amount decimal.Decimal) (*domain.Bid, error) {
	if strings.TrimSpace(bidder) == "" {
		return nil, fmt.Errorf("%w: bidder is required", domain.ErrInvalidInput)
	}
	if err := domain.CheckAmount(amount); err != nil {
		return nil, err
	}

	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		bid, err := e.tryPlaceBid(ctx, listingID, bidder, amount)
		if err == nil {
			e.log.Info("Bid accepted", "listing_id", listingID, "bidder", bidder,
				"amount", domain.FormatAmount(amount), "attempt", attempt)
			e.publish(ctx, &domain.AuctionEvent{
				Type:      domain.EventBidAccepted,
				ListingID: listingID,
				Bidder:    bidder,
				Amount:    bid.Amount,
				Timestamp: bid.PlacedAt,
			})
			return bid, nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		e.log.Debug("Bid lost price race, retrying", "listing_id", listingID, "bidder", bidder, "attempt", attempt)
	}

	e.log.Warn("Bid retries exhausted", "listing_id", listingID, "bidder", bidder, "attempts", e.maxAttempts)
	return nil, fmt.Errorf("place bid on %s after %d attempts: %w", listingID, e.maxAttempts, domain.ErrConflict)
}

func (e *AuctionEngine) tryPlaceBid(ctx context.Context, listingID, bidder string, amount decimal.Decimal) (*domain.Bid, error) {
	l, err := e.store.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if !l.IsOpen() {
		return nil, fmt.Errorf("bid on %s: %w", listingID, domain.ErrAuctionClosed)
	}

	hasPriorBid, err := e.hasPriorBid(ctx, l)
	if err != nil {
		return nil, err
	}
	if !domain.MeetsFloor(l, amount, hasPriorBid) {
		return nil, fmt.Errorf("bid on %s: %w: minimum is %s", listingID, domain.ErrBidTooLow,
			domain.FormatAmount(domain.MinimumBid(l, hasPriorBid)))
	}
	if bidder == l.Owner {
		return nil, fmt.Errorf("bid on %s: %w", listingID, domain.ErrSelfBid)
	}

	bid := &domain.Bid{
		ID:        utils.GenerateID("bid"),
		ListingID: listingID,
		Bidder:    bidder,
		Amount:    amount,
		PlacedAt:  e.now().UTC(),
	}
	if err := e.store.CommitBid(ctx, bid, l.CurrentPrice); err != nil {
		return nil, err
	}
	return bid, nil
}

// hasPriorBid consults the ledger tail. A listing whose projection already
// names a high bidder counts as bid on even if the ledger read lags.
func (e *AuctionEngine) hasPriorBid(ctx context.Context, l *domain.Listing) (bool, error) {
	if l.HasBids() {
		return true, nil
	}
	_, err := e.store.LatestBid(ctx, l.ID)
	if errors.Is(err, domain.ErrNoBids) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// CloseAuction closes listingID on behalf of its owner. The close is guarded
// by the price observed at read time and retried when a bid lands in between.
func (e *AuctionEngine) CloseAuction(ctx context.Context, listingID, requester string) error {
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		l, err := e.store.GetListing(ctx, listingID)
		if err != nil {
			return err
		}
		if requester != l.Owner {
			return fmt.Errorf("close %s: %w", listingID, domain.ErrNotOwner)
		}
		if !l.IsOpen() {
			return fmt.Errorf("close %s: %w", listingID, domain.ErrAlreadyClosed)
		}

		closed, err := e.store.CloseListing(ctx, listingID, l.CurrentPrice)
		if err == nil {
			e.log.Info("Auction closed", "listing_id", listingID, "winner", closed.HighBidder,
				"final_price", domain.FormatAmount(closed.CurrentPrice))
			e.publish(ctx, &domain.AuctionEvent{
				Type:      domain.EventAuctionClosed,
				ListingID: listingID,
				Bidder:    closed.HighBidder,
				Amount:    closed.CurrentPrice,
				Timestamp: closed.UpdatedAt,
			})
			return nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		e.log.Debug("Close lost price race, retrying", "listing_id", listingID, "attempt", attempt)
	}

	return fmt.Errorf("close %s after %d attempts: %w", listingID, e.maxAttempts, domain.ErrConflict)
}

// GetWinner returns the high bidder frozen at close. ok is false when the
// auction closed without bids.
func (e *AuctionEngine) GetWinner(ctx context.Context, listingID string) (winner string, ok bool, err error) {
	l, err := e.store.GetListing(ctx, listingID)
	if err != nil {
		return "", false, err
	}
	if l.IsOpen() {
		return "", false, fmt.Errorf("winner of %s: %w", listingID, domain.ErrNotClosed)
	}
	return l.HighBidder, l.HasBids(), nil
}

func (e *AuctionEngine) publish(ctx context.Context, event *domain.AuctionEvent) {
	if e.eventPub == nil {
		return
	}
	if err := e.eventPub.PublishAuctionEvent(ctx, event); err != nil {
		e.log.Warn("Failed to publish event", "type", event.Type, "listing_id", event.ListingID, "error", err)
	}
}
