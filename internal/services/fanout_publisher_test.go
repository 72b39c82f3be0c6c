package services

import (
	"context"
	"errors"
	"testing"

	"commerce-auctions/internal/domain"
	"commerce-auctions/internal/domain/mocks"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/require"
)

func TestFanoutPublisher(t *testing.T) {
	t.Parallel()

	event := &domain.AuctionEvent{Type: domain.EventBidAccepted, ListingID: "listing_1"}
	failure := errors.New("broker unavailable")

	tests := []struct {
		name      string
		mockSetup func(first, second *mocks.MockEventPublisher)
		wantErr   error
	}{
		{
			name: "all succeed",
			mockSetup: func(first, second *mocks.MockEventPublisher) {
				gomock.InOrder(
					first.EXPECT().PublishAuctionEvent(gomock.Any(), event).Return(nil),
					second.EXPECT().PublishAuctionEvent(gomock.Any(), event).Return(nil),
				)
			},
		},
		{
			name: "failure does not stop delivery",
			mockSetup: func(first, second *mocks.MockEventPublisher) {
				first.EXPECT().PublishAuctionEvent(gomock.Any(), event).Return(failure)
				second.EXPECT().PublishAuctionEvent(gomock.Any(), event).Return(nil)
			},
			wantErr: failure,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ctrl := gomock.NewController(t)
			first := mocks.NewMockEventPublisher(ctrl)
			second := mocks.NewMockEventPublisher(ctrl)
			tc.mockSetup(first, second)

			fanout := FanoutPublisher{first, nil, second}
			err := fanout.PublishAuctionEvent(context.Background(), event)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
		})
	}
}
