package handlers

import (
	"time"

	"commerce-auctions/internal/domain"
)

type ListingResponse struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	Category      string    `json:"category,omitempty"`
	Owner         string    `json:"owner"`
	ImageURL      string    `json:"image_url"`
	StartingPrice string    `json:"starting_price"`
	CurrentPrice  string    `json:"current_price"`
	HighBidder    string    `json:"high_bidder,omitempty"`
	State         string    `json:"state"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func NewListingResponse(l *domain.Listing) ListingResponse {
	return ListingResponse{
		ID:            l.ID,
		Title:         l.Title,
		Description:   l.Description,
		Category:      l.Category,
		Owner:         l.Owner,
		ImageURL:      l.ImageURL,
		StartingPrice: domain.FormatAmount(l.StartingPrice),
		CurrentPrice:  domain.FormatAmount(l.CurrentPrice),
		HighBidder:    l.HighBidder,
		State:         l.State.String(),
		CreatedAt:     l.CreatedAt,
		UpdatedAt:     l.UpdatedAt,
	}
}

type BidResponse struct {
	ID        string    `json:"id"`
	ListingID string    `json:"listing_id"`
	Bidder    string    `json:"bidder"`
	Amount    string    `json:"amount"`
	PlacedAt  time.Time `json:"placed_at"`
}

func NewBidResponse(b *domain.Bid) BidResponse {
	return BidResponse{
		ID:        b.ID,
		ListingID: b.ListingID,
		Bidder:    b.Bidder,
		Amount:    domain.FormatAmount(b.Amount),
		PlacedAt:  b.PlacedAt,
	}
}

type WinnerResponse struct {
	ListingID string `json:"listing_id"`
	HasWinner bool   `json:"has_winner"`
	Winner    string `json:"winner,omitempty"`
}

type WatchStatusResponse struct {
	ListingID string `json:"listing_id"`
	Watching  bool   `json:"watching"`
}
