package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// MonetaryPrecision is the number of decimal places prices are kept at.
const MonetaryPrecision int32 = 2

// MaxAmount is the largest price the ledger columns can hold.
var MaxAmount = decimal.RequireFromString("9999999999.99")

// IsMonetary reports whether d carries no more than MonetaryPrecision places.
func IsMonetary(d decimal.Decimal) bool {
	return d.Equal(d.Round(MonetaryPrecision))
}

// ParseAmount parses a user supplied amount such as "150" or "150.25".
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: invalid amount %q", ErrInvalidInput, s)
	}
	if err := CheckAmount(d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

// CheckAmount rejects amounts that are not representable as a stored price.
func CheckAmount(d decimal.Decimal) error {
	if !IsMonetary(d) {
		return fmt.Errorf("%w: amount has more than %d decimal places", ErrInvalidInput, MonetaryPrecision)
	}
	if d.GreaterThan(MaxAmount) {
		return fmt.Errorf("%w: amount exceeds %s", ErrInvalidInput, FormatAmount(MaxAmount))
	}
	return nil
}

// FormatAmount renders d with exactly MonetaryPrecision places. Stores use it
// as the canonical text form so string equality matches numeric equality.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(MonetaryPrecision)
}

// MeetsFloor applies the bidding floor. The very first bid may equal the
// starting price; every later bid must strictly exceed the current price.
func MeetsFloor(l *Listing, amount decimal.Decimal, hasPriorBid bool) bool {
	if !hasPriorBid {
		return amount.GreaterThanOrEqual(l.StartingPrice)
	}
	return amount.GreaterThan(l.CurrentPrice)
}

// MinimumBid is the smallest amount MeetsFloor would accept, at monetary precision.
func MinimumBid(l *Listing, hasPriorBid bool) decimal.Decimal {
	if !hasPriorBid {
		return l.StartingPrice
	}
	return l.CurrentPrice.Add(decimal.New(1, -MonetaryPrecision))
}

// CheckPriceUpdate is the guard behind a conditional projection write: the
// listing must be open, still priced at expectedPrior, and the write must
// raise the price unless it seeds a listing that has no high bidder yet.
func CheckPriceUpdate(l *Listing, newPrice, expectedPrior decimal.Decimal) error {
	if !l.IsOpen() {
		return fmt.Errorf("listing %s: %w", l.ID, ErrAuctionClosed)
	}
	if !l.CurrentPrice.Equal(expectedPrior) {
		return fmt.Errorf("listing %s priced %s, expected %s: %w",
			l.ID, FormatAmount(l.CurrentPrice), FormatAmount(expectedPrior), ErrConflict)
	}
	if newPrice.LessThan(l.CurrentPrice) || (l.HasBids() && !newPrice.GreaterThan(l.CurrentPrice)) {
		return fmt.Errorf("listing %s: price %s does not advance %s: %w",
			l.ID, FormatAmount(newPrice), FormatAmount(l.CurrentPrice), ErrConflict)
	}
	return nil
}

// CheckClose is the guard behind a conditional close.
func CheckClose(l *Listing, expectedPrior decimal.Decimal) error {
	if !l.IsOpen() {
		return fmt.Errorf("listing %s: %w", l.ID, ErrAlreadyClosed)
	}
	if !l.CurrentPrice.Equal(expectedPrior) {
		return fmt.Errorf("listing %s priced %s, expected %s: %w",
			l.ID, FormatAmount(l.CurrentPrice), FormatAmount(expectedPrior), ErrConflict)
	}
	return nil
}
