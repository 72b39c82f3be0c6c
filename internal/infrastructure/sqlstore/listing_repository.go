package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"strings"

	"commerce-auctions/internal/domain"
	"commerce-auctions/pkg/utils"

	"github.com/shopspring/decimal"
)

const listingColumns = `seq, id, title, description, category, owner, image_url,
        starting_price, current_price, high_bidder, state, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanListing(row rowScanner) (*domain.Listing, int64, error) {
	var (
		l     domain.Listing
		seq   int64
		state int
	)
	err := row.Scan(&seq, &l.ID, &l.Title, &l.Description, &l.Category, &l.Owner, &l.ImageURL,
		&l.StartingPrice, &l.CurrentPrice, &l.HighBidder, &state, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, 0, err
	}

	l.State = domain.ListingState(state)
	l.CreatedAt = l.CreatedAt.UTC()
	l.UpdatedAt = l.UpdatedAt.UTC()
	return &l, seq, nil
}

func (s *Store) GetListing(ctx context.Context, listingID string) (*domain.Listing, error) {
	return s.getListing(ctx, s.db, listingID, false)
}

func (s *Store) getListing(ctx context.Context, q querier, listingID string, lock bool) (*domain.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings WHERE id = ?`
	if lock {
		query += s.dialect.forUpdate()
	}

	l, _, err := scanListing(q.QueryRowContext(ctx, query, listingID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get listing %s: %w", listingID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get listing %s: %w", listingID, err)
	}
	return l, nil
}

func (s *Store) CreateListing(ctx context.Context, req domain.NewListing) (*domain.Listing, error) {
	l, err := domain.BuildListing(req, utils.GenerateID("listing"), s.timestamp())
	if err != nil {
		return nil, fmt.Errorf("create listing: %w", err)
	}

	query := `
        INSERT INTO listings (id, title, description, category, owner, image_url,
            starting_price, current_price, high_bidder, state, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `
	_, err = s.db.ExecContext(ctx, query,
		l.ID, l.Title, l.Description, l.Category, l.Owner, l.ImageURL,
		domain.FormatAmount(l.StartingPrice), domain.FormatAmount(l.CurrentPrice),
		l.HighBidder, int(l.State), l.CreatedAt, l.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create listing: %w", err)
	}
	return l, nil
}

// ListListings pages through listings in creation order using the seq column
// as a keyset, so no connection is held while the caller consumes a page.
func (s *Store) ListListings(ctx context.Context, filter domain.ListingFilter) iter.Seq2[*domain.Listing, error] {
	return func(yield func(*domain.Listing, error) bool) {
		var after int64
		for {
			page, lastSeq, err := s.listingPage(ctx, filter, after)
			if err != nil {
				yield(nil, err)
				return
			}
			for _, l := range page {
				if !yield(l, nil) {
					return
				}
			}
			if len(page) < s.pageSize {
				return
			}
			after = lastSeq
		}
	}
}

func (s *Store) listingPage(ctx context.Context, filter domain.ListingFilter, after int64) ([]*domain.Listing, int64, error) {
	conds := []string{"seq > ?"}
	args := []any{after}
	if filter.State != nil {
		conds = append(conds, "state = ?")
		args = append(args, int(*filter.State))
	}
	if filter.Category != "" {
		conds = append(conds, "category = ?")
		args = append(args, filter.Category)
	}
	if filter.Owner != "" {
		conds = append(conds, "owner = ?")
		args = append(args, filter.Owner)
	}
	args = append(args, s.pageSize)

	query := `SELECT ` + listingColumns + ` FROM listings WHERE ` +
		strings.Join(conds, " AND ") + ` ORDER BY seq ASC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list listings: %w", err)
	}
	defer rows.Close()

	var (
		listings []*domain.Listing
		lastSeq  int64
	)
	for rows.Next() {
		l, seq, err := scanListing(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("list listings: %w", err)
		}
		listings = append(listings, l)
		lastSeq = seq
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list listings: %w", err)
	}
	return listings, lastSeq, nil
}

func (s *Store) UpdatePriceAndBidder(ctx context.Context, listingID string, newPrice decimal.Decimal, newBidder string, expectedPrior decimal.Decimal) error {
	return s.updatePrice(ctx, s.db, listingID, newPrice, newBidder, expectedPrior)
}

// updatePrice is the conditional projection write. The WHERE clause encodes
// domain.CheckPriceUpdate; when no row matches, the listing is re-read to
// report which part of the guard failed.
func (s *Store) updatePrice(ctx context.Context, q querier, listingID string, newPrice decimal.Decimal, newBidder string, expectedPrior decimal.Decimal) error {
	query := `
        UPDATE listings SET current_price = ?, high_bidder = ?, updated_at = ?
        WHERE id = ? AND state = ?
          AND current_price = CAST(? AS DECIMAL(12,2))
          AND CAST(? AS DECIMAL(12,2)) >= current_price
          AND (high_bidder = '' OR CAST(? AS DECIMAL(12,2)) > current_price)
    `
	price := domain.FormatAmount(newPrice)
	res, err := q.ExecContext(ctx, query,
		price, newBidder, s.timestamp(),
		listingID, int(domain.ListingOpen),
		domain.FormatAmount(expectedPrior), price, price)
	if err != nil {
		return fmt.Errorf("update listing %s: %w", listingID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update listing %s: %w", listingID, err)
	}
	if n == 1 {
		return nil
	}

	l, err := s.getListing(ctx, q, listingID, false)
	if err != nil {
		return err
	}
	if err := domain.CheckPriceUpdate(l, newPrice, expectedPrior); err != nil {
		return err
	}
	return fmt.Errorf("update listing %s: %w", listingID, domain.ErrConflict)
}

func (s *Store) CloseListing(ctx context.Context, listingID string, expectedPrior decimal.Decimal) (*domain.Listing, error) {
	query := `
        UPDATE listings SET state = ?, updated_at = ?
        WHERE id = ? AND state = ? AND current_price = CAST(? AS DECIMAL(12,2))
    `
	res, err := s.db.ExecContext(ctx, query,
		int(domain.ListingClosed), s.timestamp(),
		listingID, int(domain.ListingOpen), domain.FormatAmount(expectedPrior))
	if err != nil {
		return nil, fmt.Errorf("close listing %s: %w", listingID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("close listing %s: %w", listingID, err)
	}

	l, err := s.getListing(ctx, s.db, listingID, false)
	if err != nil {
		return nil, err
	}
	if n == 1 {
		return l, nil
	}
	if err := domain.CheckClose(l, expectedPrior); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("close listing %s: %w", listingID, domain.ErrConflict)
}
