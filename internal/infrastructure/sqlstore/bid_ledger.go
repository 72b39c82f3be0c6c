package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"time"

	"commerce-auctions/internal/domain"
	"commerce-auctions/pkg/utils"

	"github.com/shopspring/decimal"
)

const bidColumns = `seq, id, listing_id, bidder, amount, placed_at`

func scanBid(row rowScanner) (*domain.Bid, error) {
	var b domain.Bid
	if err := row.Scan(&b.Seq, &b.ID, &b.ListingID, &b.Bidder, &b.Amount, &b.PlacedAt); err != nil {
		return nil, err
	}
	b.PlacedAt = b.PlacedAt.UTC()
	return &b, nil
}

// AppendBid records a bid without touching the listing projection. The
// listing row is locked so the bid cannot slip in after a concurrent close.
func (s *Store) AppendBid(ctx context.Context, listingID, bidder string, amount decimal.Decimal) (*domain.Bid, error) {
	bid := &domain.Bid{
		ID:        utils.GenerateID("bid"),
		ListingID: listingID,
		Bidder:    bidder,
		Amount:    amount,
		PlacedAt:  s.timestamp(),
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		l, err := s.getListing(ctx, tx, listingID, true)
		if err != nil {
			return err
		}
		if !l.IsOpen() {
			return fmt.Errorf("append bid to %s: %w", listingID, domain.ErrAuctionClosed)
		}
		if err := s.stampAfterTail(ctx, tx, bid); err != nil {
			return err
		}

		seq, err := s.insertBid(ctx, tx, bid)
		if err != nil {
			return err
		}
		bid.Seq = seq
		return nil
	})
	if err != nil {
		return nil, err
	}
	return bid, nil
}

// stampAfterTail moves bid.PlacedAt up to the ledger tail's timestamp when the
// local clock is behind it. The caller must hold the listing row lock.
func (s *Store) stampAfterTail(ctx context.Context, q querier, bid *domain.Bid) error {
	query := `
        SELECT placed_at FROM bids WHERE listing_id = ?
        ORDER BY seq DESC
        LIMIT 1
    `
	var tail time.Time
	err := q.QueryRowContext(ctx, query, bid.ListingID).Scan(&tail)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("ledger tail for %s: %w", bid.ListingID, err)
	}
	if tail = tail.UTC(); bid.PlacedAt.Before(tail) {
		bid.PlacedAt = tail
	}
	return nil
}

func (s *Store) insertBid(ctx context.Context, q querier, bid *domain.Bid) (int64, error) {
	query := `
        INSERT INTO bids (id, listing_id, bidder, amount, placed_at)
        VALUES (?, ?, ?, ?, ?)
    `
	res, err := q.ExecContext(ctx, query,
		bid.ID, bid.ListingID, bid.Bidder, domain.FormatAmount(bid.Amount), bid.PlacedAt)
	if err != nil {
		return 0, fmt.Errorf("insert bid for %s: %w", bid.ListingID, err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert bid for %s: %w", bid.ListingID, err)
	}
	return seq, nil
}

func (s *Store) LatestBid(ctx context.Context, listingID string) (*domain.Bid, error) {
	query := `
        SELECT ` + bidColumns + `
        FROM bids WHERE listing_id = ?
        ORDER BY seq DESC
        LIMIT 1
    `
	b, err := scanBid(s.db.QueryRowContext(ctx, query, listingID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("latest bid for %s: %w", listingID, domain.ErrNoBids)
	}
	if err != nil {
		return nil, fmt.Errorf("latest bid for %s: %w", listingID, err)
	}
	return b, nil
}

// BidHistory pages through the ledger in ascending order. The ledger is
// append-only, so offsets stay valid between pages.
func (s *Store) BidHistory(ctx context.Context, listingID string) iter.Seq2[*domain.Bid, error] {
	return func(yield func(*domain.Bid, error) bool) {
		offset := 0
		for {
			page, err := s.bidPage(ctx, listingID, offset)
			if err != nil {
				yield(nil, err)
				return
			}
			for _, b := range page {
				if !yield(b, nil) {
					return
				}
			}
			if len(page) < s.pageSize {
				return
			}
			offset += len(page)
		}
	}
}

func (s *Store) bidPage(ctx context.Context, listingID string, offset int) ([]*domain.Bid, error) {
	query := `
        SELECT ` + bidColumns + `
        FROM bids WHERE listing_id = ?
        ORDER BY seq ASC
        LIMIT ? OFFSET ?
    `
	rows, err := s.db.QueryContext(ctx, query, listingID, s.pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("bid history for %s: %w", listingID, err)
	}
	defer rows.Close()

	var bids []*domain.Bid
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, fmt.Errorf("bid history for %s: %w", listingID, err)
		}
		bids = append(bids, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("bid history for %s: %w", listingID, err)
	}
	return bids, nil
}
