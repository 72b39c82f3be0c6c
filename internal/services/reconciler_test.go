package services

import (
	"context"
	"errors"
	"testing"

	"commerce-auctions/internal/domain"
	"commerce-auctions/internal/domain/mocks"
	"commerce-auctions/internal/infrastructure/memory"
	"commerce-auctions/pkg/logger"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/require"
)

func newListingIn(t *testing.T, store domain.AuctionStore, owner, price string) *domain.Listing {
	t.Helper()
	l, err := store.CreateListing(context.Background(), domain.NewListing{
		Title:         "Camera",
		Owner:         owner,
		StartingPrice: d(price),
	})
	require.NoError(t, err)
	return l
}

func TestProjectionReconciler_RunOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewStore()

	// Ledger holds a seeding bid the projection never saw.
	seeded := newListingIn(t, store, "alice", "100")
	_, err := store.AppendBid(ctx, seeded.ID, "bob", d("100"))
	require.NoError(t, err)

	// Projection is one bid behind the ledger tail.
	behind := newListingIn(t, store, "alice", "100")
	require.NoError(t, store.UpdatePriceAndBidder(ctx, behind.ID, d("110"), "bob", d("100")))
	_, err = store.AppendBid(ctx, behind.ID, "bob", d("110"))
	require.NoError(t, err)
	_, err = store.AppendBid(ctx, behind.ID, "carol", d("150"))
	require.NoError(t, err)

	// Projection ahead of an empty ledger is only reported.
	ahead := newListingIn(t, store, "alice", "100")
	require.NoError(t, store.UpdatePriceAndBidder(ctx, ahead.ID, d("200"), "dave", d("100")))

	// In sync.
	synced := newListingIn(t, store, "alice", "100")
	bid := &domain.Bid{ID: "bid_synced", ListingID: synced.ID, Bidder: "erin", Amount: d("120")}
	require.NoError(t, store.CommitBid(ctx, bid, d("100")))

	ctrl := gomock.NewController(t)
	pub := mocks.NewMockEventPublisher(ctrl)
	var repairedIDs []string
	pub.EXPECT().PublishAuctionEvent(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, event *domain.AuctionEvent) error {
			require.Equal(t, domain.EventListingRepaired, event.Type)
			repairedIDs = append(repairedIDs, event.ListingID)
			return nil
		}).Times(2)

	r := NewProjectionReconciler(store, pub, nil, "node-a", "", logger.NewNop())
	repaired, err := r.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, repaired)
	require.ElementsMatch(t, []string{seeded.ID, behind.ID}, repairedIDs)

	got, err := store.GetListing(ctx, seeded.ID)
	require.NoError(t, err)
	require.Equal(t, "bob", got.HighBidder)
	require.Equal(t, "100.00", domain.FormatAmount(got.CurrentPrice))

	got, err = store.GetListing(ctx, behind.ID)
	require.NoError(t, err)
	require.Equal(t, "carol", got.HighBidder)
	require.Equal(t, "150.00", domain.FormatAmount(got.CurrentPrice))

	got, err = store.GetListing(ctx, ahead.ID)
	require.NoError(t, err)
	require.Equal(t, "dave", got.HighBidder)
	require.Equal(t, "200.00", domain.FormatAmount(got.CurrentPrice))

	// A second pass finds nothing left to repair.
	repaired, err = r.RunOnce(ctx)
	require.NoError(t, err)
	require.Zero(t, repaired)
}

func TestProjectionReconciler_SkipsClosedListings(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewStore()

	l := newListingIn(t, store, "alice", "10")
	_, err := store.AppendBid(ctx, l.ID, "bob", d("15"))
	require.NoError(t, err)
	_, err = store.CloseListing(ctx, l.ID, d("10"))
	require.NoError(t, err)

	r := NewProjectionReconciler(store, nil, nil, "node-a", "", logger.NewNop())
	repaired, err := r.RunOnce(ctx)
	require.NoError(t, err)
	require.Zero(t, repaired)

	got, err := store.GetListing(ctx, l.ID)
	require.NoError(t, err)
	require.Empty(t, got.HighBidder)
}

func TestProjectionReconciler_RunIfLeader(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		mockSetup func(le *mocks.MockLeaderElection)
		wantRun   bool
		wantErr   bool
	}{
		{
			name: "already leader",
			mockSetup: func(le *mocks.MockLeaderElection) {
				le.EXPECT().IsLeader(gomock.Any(), "node-a").Return(true, nil)
			},
			wantRun: true,
		},
		{
			name: "acquires leadership",
			mockSetup: func(le *mocks.MockLeaderElection) {
				le.EXPECT().IsLeader(gomock.Any(), "node-a").Return(false, nil)
				le.EXPECT().BecomeLeader(gomock.Any(), "node-a").Return(true, nil)
			},
			wantRun: true,
		},
		{
			name: "another instance leads",
			mockSetup: func(le *mocks.MockLeaderElection) {
				le.EXPECT().IsLeader(gomock.Any(), "node-a").Return(false, nil)
				le.EXPECT().BecomeLeader(gomock.Any(), "node-a").Return(false, nil)
			},
		},
		{
			name: "leader check fails",
			mockSetup: func(le *mocks.MockLeaderElection) {
				le.EXPECT().IsLeader(gomock.Any(), "node-a").Return(false, errors.New("timeout"))
			},
			wantErr: true,
		},
		{
			name: "election fails",
			mockSetup: func(le *mocks.MockLeaderElection) {
				le.EXPECT().IsLeader(gomock.Any(), "node-a").Return(false, nil)
				le.EXPECT().BecomeLeader(gomock.Any(), "node-a").Return(false, errors.New("timeout"))
			},
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			store := memory.NewStore()
			l := newListingIn(t, store, "alice", "10")
			_, err := store.AppendBid(ctx, l.ID, "bob", d("12"))
			require.NoError(t, err)

			ctrl := gomock.NewController(t)
			le := mocks.NewMockLeaderElection(ctrl)
			tc.mockSetup(le)

			r := NewProjectionReconciler(store, nil, le, "node-a", "", logger.NewNop())
			repaired, err := r.RunIfLeader(ctx)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tc.wantRun {
				require.Equal(t, 1, repaired)
			} else {
				require.Zero(t, repaired)
			}
		})
	}
}

func TestProjectionReconciler_WithoutLeaderElection(t *testing.T) {
	t.Parallel()

	r := NewProjectionReconciler(memory.NewStore(), nil, nil, "node-a", "", logger.NewNop())
	repaired, err := r.RunIfLeader(context.Background())
	require.NoError(t, err)
	require.Zero(t, repaired)
}

func TestProjectionReconciler_StartStop(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	le := mocks.NewMockLeaderElection(ctrl)
	le.EXPECT().ReleaseLeadership(gomock.Any(), "node-a").Return(nil)

	r := NewProjectionReconciler(memory.NewStore(), nil, le, "node-a", "@every 1h", logger.NewNop())
	require.NoError(t, r.Start(context.Background()))
	require.NoError(t, r.Stop(context.Background()))
}

func TestProjectionReconciler_InvalidSchedule(t *testing.T) {
	t.Parallel()

	r := NewProjectionReconciler(memory.NewStore(), nil, nil, "node-a", "every so often", logger.NewNop())
	require.Error(t, r.Start(context.Background()))
}
