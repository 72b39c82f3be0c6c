package services

import (
	"context"
	"errors"

	"commerce-auctions/internal/domain"
)

// FanoutPublisher delivers each event to every publisher in order. All
// publishers are tried; their errors are joined.
type FanoutPublisher []domain.EventPublisher

func (f FanoutPublisher) PublishAuctionEvent(ctx context.Context, event *domain.AuctionEvent) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.PublishAuctionEvent(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
