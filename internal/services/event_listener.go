package services

import (
	"context"
	"fmt"

	"commerce-auctions/internal/domain"
	"commerce-auctions/pkg/logger"
)

// SessionCloser ends live bid sessions for a listing.
type SessionCloser interface {
	CloseListing(listingID, reason string)
}

// EventListener applies auction events published by other instances to local
// state: the listing cache and any open bid sessions. Either may be nil.
type EventListener struct {
	cache    *ListingCache
	sessions SessionCloser
	log      logger.Logger
}

func NewEventListener(cache *ListingCache, sessions SessionCloser, log logger.Logger) *EventListener {
	return &EventListener{
		cache:    cache,
		sessions: sessions,
		log:      log,
	}
}

func (el *EventListener) Start(ctx context.Context, subscriber domain.EventSubscriber) error {
	el.log.Info("Starting event listener")
	return subscriber.SubscribeToAuctionEvents(ctx, el.HandleEvent)
}

func (el *EventListener) HandleEvent(event *domain.AuctionEvent) error {
	el.log.Debug("Handling auction event", "type", event.Type, "listing_id", event.ListingID)

	switch event.Type {
	case domain.EventListingCreated, domain.EventBidAccepted, domain.EventListingRepaired:
		el.invalidate(event)
		return nil
	case domain.EventAuctionClosed:
		el.invalidate(event)
		if el.sessions != nil {
			el.sessions.CloseListing(event.ListingID, "auction closed")
		}
		return nil
	}

	return fmt.Errorf("unknown event type %q for listing %s", event.Type, event.ListingID)
}

func (el *EventListener) invalidate(event *domain.AuctionEvent) {
	if el.cache != nil {
		el.cache.Invalidate(event.ListingID)
	}
}
