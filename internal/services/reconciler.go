package services

import (
	"context"
	"errors"
	"fmt"

	"commerce-auctions/internal/domain"
	"commerce-auctions/pkg/logger"

	"github.com/robfig/cron/v3"
)

const DefaultReconcileSchedule = "@every 1m"

// ProjectionReconciler periodically compares each open listing's price
// projection with its ledger tail. Only the elected instance runs a pass.
type ProjectionReconciler struct {
	cron           *cron.Cron
	schedule       string
	store          domain.AuctionStore
	eventPub       domain.EventPublisher
	leaderElection domain.LeaderElection
	instanceID     string
	log            logger.Logger
}

func NewProjectionReconciler(
	store domain.AuctionStore,
	eventPub domain.EventPublisher,
	leaderElection domain.LeaderElection,
	instanceID string,
	schedule string,
	log logger.Logger,
) *ProjectionReconciler {
	if schedule == "" {
		schedule = DefaultReconcileSchedule
	}
	return &ProjectionReconciler{
		cron:           cron.New(),
		schedule:       schedule,
		store:          store,
		eventPub:       eventPub,
		leaderElection: leaderElection,
		instanceID:     instanceID,
		log:            log,
	}
}

func (r *ProjectionReconciler) Start(ctx context.Context) error {
	r.log.Info("Starting projection reconciler", "schedule", r.schedule, "instance_id", r.instanceID)

	_, err := r.cron.AddFunc(r.schedule, func() {
		if _, err := r.RunIfLeader(ctx); err != nil {
			r.log.Error("Reconcile pass failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule reconciler %q: %w", r.schedule, err)
	}

	r.cron.Start()
	return nil
}

// Stop waits for a running pass to finish and gives up leadership.
func (r *ProjectionReconciler) Stop(ctx context.Context) error {
	r.log.Info("Stopping projection reconciler")
	<-r.cron.Stop().Done()

	if r.leaderElection == nil {
		return nil
	}
	return r.leaderElection.ReleaseLeadership(ctx, r.instanceID)
}

// RunIfLeader runs a pass when this instance holds, or can take, leadership.
// Without a leader election every instance reconciles.
func (r *ProjectionReconciler) RunIfLeader(ctx context.Context) (int, error) {
	if r.leaderElection != nil {
		leader, err := r.ensureLeader(ctx)
		if err != nil {
			return 0, err
		}
		if !leader {
			r.log.Debug("Skipping reconcile pass, not leader", "instance_id", r.instanceID)
			return 0, nil
		}
	}
	return r.RunOnce(ctx)
}

func (r *ProjectionReconciler) ensureLeader(ctx context.Context) (bool, error) {
	isLeader, err := r.leaderElection.IsLeader(ctx, r.instanceID)
	if err != nil {
		return false, fmt.Errorf("leader check: %w", err)
	}
	if isLeader {
		return true, nil
	}

	acquired, err := r.leaderElection.BecomeLeader(ctx, r.instanceID)
	if err != nil {
		return false, fmt.Errorf("leader election: %w", err)
	}
	return acquired, nil
}

// RunOnce reconciles every open listing and returns how many were repaired.
// A projection behind its ledger tail is moved forward with the conditional
// update; any other disagreement is logged and left alone.
func (r *ProjectionReconciler) RunOnce(ctx context.Context) (int, error) {
	repaired := 0
	for l, err := range r.store.ListListings(ctx, domain.StateFilter(domain.ListingOpen)) {
		if err != nil {
			return repaired, err
		}

		fixed, err := r.reconcile(ctx, l)
		if err != nil {
			r.log.Error("Failed to reconcile listing", "listing_id", l.ID, "error", err)
			continue
		}
		if fixed {
			repaired++
		}
	}

	if repaired > 0 {
		r.log.Info("Reconcile pass repaired listings", "repaired", repaired)
	}
	return repaired, nil
}

func (r *ProjectionReconciler) reconcile(ctx context.Context, l *domain.Listing) (bool, error) {
	tail, err := r.store.LatestBid(ctx, l.ID)
	if errors.Is(err, domain.ErrNoBids) {
		if l.HasBids() {
			r.log.Warn("Projection names a high bidder but ledger is empty",
				"listing_id", l.ID, "high_bidder", l.HighBidder)
		}
		return false, nil
	}
	if err != nil {
		return false, err
	}

	switch {
	case tail.Amount.GreaterThan(l.CurrentPrice) || (!l.HasBids() && tail.Amount.Equal(l.CurrentPrice)):
		err := r.store.UpdatePriceAndBidder(ctx, l.ID, tail.Amount, tail.Bidder, l.CurrentPrice)
		if errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrAuctionClosed) {
			// A live bid or close got there first; the next pass re-checks.
			return false, nil
		}
		if err != nil {
			return false, err
		}

		r.log.Warn("Repaired stale projection", "listing_id", l.ID,
			"from", domain.FormatAmount(l.CurrentPrice), "to", domain.FormatAmount(tail.Amount), "bidder", tail.Bidder)
		if r.eventPub != nil {
			if err := r.eventPub.PublishAuctionEvent(ctx, &domain.AuctionEvent{
				Type:      domain.EventListingRepaired,
				ListingID: l.ID,
				Bidder:    tail.Bidder,
				Amount:    tail.Amount,
				Timestamp: tail.PlacedAt,
			}); err != nil {
				r.log.Warn("Failed to publish event", "type", domain.EventListingRepaired, "listing_id", l.ID, "error", err)
			}
		}
		return true, nil

	case !tail.Amount.Equal(l.CurrentPrice) || tail.Bidder != l.HighBidder:
		r.log.Warn("Projection disagrees with ledger tail", "listing_id", l.ID,
			"current_price", domain.FormatAmount(l.CurrentPrice), "high_bidder", l.HighBidder,
			"tail_amount", domain.FormatAmount(tail.Amount), "tail_bidder", tail.Bidder)
	}
	return false, nil
}
