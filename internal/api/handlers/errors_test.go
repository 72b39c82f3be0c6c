package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"commerce-auctions/internal/domain"

	"github.com/stretchr/testify/require"
)

func TestStatusForError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want int
	}{
		{err: domain.ErrNotFound, want: http.StatusNotFound},
		{err: domain.ErrCommentNotFound, want: http.StatusNotFound},
		{err: domain.ErrInvalidInput, want: http.StatusBadRequest},
		{err: domain.ErrSelfBid, want: http.StatusForbidden},
		{err: domain.ErrNotOwner, want: http.StatusForbidden},
		{err: domain.ErrAuctionClosed, want: http.StatusConflict},
		{err: domain.ErrBidTooLow, want: http.StatusConflict},
		{err: domain.ErrAlreadyClosed, want: http.StatusConflict},
		{err: domain.ErrNotClosed, want: http.StatusConflict},
		{err: domain.ErrConflict, want: http.StatusConflict},
		{err: fmt.Errorf("bid on listing_1: %w", domain.ErrBidTooLow), want: http.StatusConflict},
		{err: errors.New("disk full"), want: http.StatusInternalServerError},
	}

	for _, tc := range tests {
		require.Equal(t, tc.want, StatusForError(tc.err), tc.err.Error())
	}
}

func TestErrorBodyHidesInternalErrors(t *testing.T) {
	t.Parallel()

	status, body := errorBody(errors.New("dial tcp 10.0.0.3:3306: connection refused"))
	require.Equal(t, http.StatusInternalServerError, status)
	require.Equal(t, "internal", body.Code)
	require.Equal(t, "internal server error", body.Error)

	status, body = errorBody(fmt.Errorf("bid on listing_1: %w: minimum is 10.01", domain.ErrBidTooLow))
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, "bid_too_low", body.Code)
	require.Contains(t, body.Error, "minimum is 10.01")
}
