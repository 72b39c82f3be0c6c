package domain

import (
	"context"
	"iter"

	"github.com/shopspring/decimal"
)

//go:generate mockgen -destination=mocks/mock_interfaces.go -package=mocks commerce-auctions/internal/domain AuctionStore,EventPublisher,LeaderElection

// ListingStore is durable access to listings. ListListings is lazy and
// restartable: every range over the returned sequence queries the backend again.
type ListingStore interface {
	GetListing(ctx context.Context, listingID string) (*Listing, error)
	CreateListing(ctx context.Context, req NewListing) (*Listing, error)
	ListListings(ctx context.Context, filter ListingFilter) iter.Seq2[*Listing, error]
	UpdatePriceAndBidder(ctx context.Context, listingID string, newPrice decimal.Decimal, newBidder string, expectedPrior decimal.Decimal) error
	CloseListing(ctx context.Context, listingID string, expectedPrior decimal.Decimal) (*Listing, error)
}

// BidLedger is the append-only bid history. LatestBid returns ErrNoBids when
// the listing has none.
type BidLedger interface {
	AppendBid(ctx context.Context, listingID, bidder string, amount decimal.Decimal) (*Bid, error)
	LatestBid(ctx context.Context, listingID string) (*Bid, error)
	BidHistory(ctx context.Context, listingID string) iter.Seq2[*Bid, error]
}

// AuctionStore is one backend holding both listings and their ledger.
// CommitBid records bid and moves the listing projection to it in a single
// atomic step, guarded the same way as UpdatePriceAndBidder. It fills in
// bid.Seq. A set bid.PlacedAt is kept unless it precedes the ledger tail, in
// which case it is raised to the tail's time.
type AuctionStore interface {
	ListingStore
	BidLedger
	CommitBid(ctx context.Context, bid *Bid, expectedPrior decimal.Decimal) error
}

type CommentRepository interface {
	AddComment(ctx context.Context, comment *Comment) error
	Comments(ctx context.Context, listingID string) ([]*Comment, error)
	LikeComment(ctx context.Context, commentID string) (*Comment, error)
}

type WatchlistRepository interface {
	Watch(ctx context.Context, userID, listingID string) error
	Unwatch(ctx context.Context, userID, listingID string) error
	WatchedListingIDs(ctx context.Context, userID string) ([]string, error)
	IsWatching(ctx context.Context, userID, listingID string) (bool, error)
}

// Event interfaces
type EventPublisher interface {
	PublishAuctionEvent(ctx context.Context, event *AuctionEvent) error
}

type EventSubscriber interface {
	SubscribeToAuctionEvents(ctx context.Context, handler EventHandler) error
}

type EventHandler func(event *AuctionEvent) error

// Leader election interface
type LeaderElection interface {
	BecomeLeader(ctx context.Context, instanceID string) (bool, error)
	IsLeader(ctx context.Context, instanceID string) (bool, error)
	ReleaseLeadership(ctx context.Context, instanceID string) error
}
