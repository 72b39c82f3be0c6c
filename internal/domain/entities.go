package domain

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

const (
	MaxTitleLength       = 64
	MaxDescriptionLength = 200
	MaxCommentLength     = 200

	DefaultImageURL = "https://images.vexels.com/media/users/3/145641/isolated/preview/30bc99162bca69bdbd27451ceeef8848-earth-stone-illustration.png"
)

type ListingState int

const (
	ListingOpen ListingState = iota
	ListingClosed
)

func (s ListingState) String() string {
	switch s {
	case ListingOpen:
		return "open"
	case ListingClosed:
		return "closed"
	default:
		return "unknown"
	}
}

func ParseListingState(s string) (ListingState, error) {
	switch strings.ToLower(s) {
	case "open":
		return ListingOpen, nil
	case "closed":
		return ListingClosed, nil
	default:
		return ListingOpen, fmt.Errorf("%w: unknown listing state %q", ErrInvalidInput, s)
	}
}

// Listing is an item posted for auction. CurrentPrice and HighBidder are a
// projection of the latest accepted bid in the ledger; HighBidder is empty
// until the first bid is accepted.
type Listing struct {
	ID            string
	Title         string
	Description   string
	Category      string
	Owner         string
	ImageURL      string
	StartingPrice decimal.Decimal
	CurrentPrice  decimal.Decimal
	HighBidder    string
	State         ListingState
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (l *Listing) IsOpen() bool {
	return l.State == ListingOpen
}

func (l *Listing) HasBids() bool {
	return l.HighBidder != ""
}

// NewListing is a creation request.
type NewListing struct {
	Title         string
	Description   string
	Category      string
	Owner         string
	ImageURL      string
	StartingPrice decimal.Decimal
}

func (n NewListing) Validate() error {
	if strings.TrimSpace(n.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if utf8.RuneCountInString(n.Title) > MaxTitleLength {
		return fmt.Errorf("%w: title exceeds %d characters", ErrInvalidInput, MaxTitleLength)
	}
	if utf8.RuneCountInString(n.Description) > MaxDescriptionLength {
		return fmt.Errorf("%w: description exceeds %d characters", ErrInvalidInput, MaxDescriptionLength)
	}
	if strings.TrimSpace(n.Owner) == "" {
		return fmt.Errorf("%w: owner is required", ErrInvalidInput)
	}
	if !n.StartingPrice.IsPositive() {
		return fmt.Errorf("%w: starting price must be positive", ErrInvalidInput)
	}
	if err := CheckAmount(n.StartingPrice); err != nil {
		return fmt.Errorf("starting price: %w", err)
	}
	return nil
}

// BuildListing validates n and returns the Open listing a store should persist.
func BuildListing(n NewListing, id string, now time.Time) (*Listing, error) {
	if err := n.Validate(); err != nil {
		return nil, err
	}

	imageURL := strings.TrimSpace(n.ImageURL)
	if imageURL == "" {
		imageURL = DefaultImageURL
	}

	now = now.UTC()
	return &Listing{
		ID:            id,
		Title:         strings.TrimSpace(n.Title),
		Description:   n.Description,
		Category:      strings.TrimSpace(n.Category),
		Owner:         n.Owner,
		ImageURL:      imageURL,
		StartingPrice: n.StartingPrice,
		CurrentPrice:  n.StartingPrice,
		State:         ListingOpen,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// ListingFilter narrows ListListings. Zero values match everything.
type ListingFilter struct {
	State    *ListingState
	Category string
	Owner    string
}

func (f ListingFilter) Matches(l *Listing) bool {
	if f.State != nil && l.State != *f.State {
		return false
	}
	if f.Category != "" && l.Category != f.Category {
		return false
	}
	if f.Owner != "" && l.Owner != f.Owner {
		return false
	}
	return true
}

func StateFilter(s ListingState) ListingFilter {
	return ListingFilter{State: &s}
}

// Bid is immutable once recorded. Seq is the ledger's commit sequence and
// defines its order. Stores stamp PlacedAt no earlier than the previous bid,
// so PlacedAt is non-decreasing along Seq.
type Bid struct {
	ID        string          `json:"id"`
	ListingID string          `json:"listing_id"`
	Bidder    string          `json:"bidder"`
	Amount    decimal.Decimal `json:"amount"`
	PlacedAt  time.Time       `json:"placed_at"`
	Seq       int64           `json:"seq"`
}

type Comment struct {
	ID        string    `json:"id"`
	ListingID string    `json:"listing_id"`
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	Likes     int       `json:"likes"`
	CreatedAt time.Time `json:"created_at"`
}

func ValidateCommentText(text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: comment text is required", ErrInvalidInput)
	}
	if utf8.RuneCountInString(text) > MaxCommentLength {
		return fmt.Errorf("%w: comment exceeds %d characters", ErrInvalidInput, MaxCommentLength)
	}
	return nil
}

type AuctionEvent struct {
	Type      AuctionEventType `json:"type"`
	ListingID string           `json:"listing_id"`
	Bidder    string           `json:"bidder,omitempty"`
	Amount    decimal.Decimal  `json:"amount"`
	Timestamp time.Time        `json:"timestamp"`
}

type AuctionEventType string

const (
	EventListingCreated  AuctionEventType = "listing_created"
	EventBidAccepted     AuctionEventType = "bid_accepted"
	EventAuctionClosed   AuctionEventType = "auction_closed"
	EventListingRepaired AuctionEventType = "listing_repaired"
)
