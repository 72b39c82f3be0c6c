package domain

import "errors"

// Store-level errors
var (
	ErrNotFound = errors.New("listing not found")
	ErrNoBids   = errors.New("no bids found for listing")
	ErrConflict = errors.New("concurrent modification, retry")
)

// Auction rule errors
var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrAuctionClosed = errors.New("auction is closed")
	ErrBidTooLow     = errors.New("bid amount too low")
	ErrSelfBid       = errors.New("owner cannot bid on own listing")
	ErrNotOwner      = errors.New("only the owner can close the auction")
	ErrAlreadyClosed = errors.New("auction already closed")
	ErrNotClosed     = errors.New("auction is still open")
)

// Collaborator errors
var (
	ErrCommentNotFound = errors.New("comment not found")
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrNotFound, "not_found"},
	{ErrCommentNotFound, "comment_not_found"},
	{ErrInvalidInput, "invalid_input"},
	{ErrAuctionClosed, "auction_closed"},
	{ErrBidTooLow, "bid_too_low"},
	{ErrSelfBid, "self_bid"},
	{ErrNotOwner, "not_owner"},
	{ErrAlreadyClosed, "already_closed"},
	{ErrNotClosed, "not_closed"},
	{ErrConflict, "conflict"},
}

// ErrorCode is the stable machine-readable kind of err, or "internal" when
// err wraps none of the errors above.
func ErrorCode(err error) string {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return "internal"
}
