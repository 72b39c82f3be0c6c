package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"commerce-auctions/internal/domain"
	"commerce-auctions/pkg/utils"

	"github.com/shopspring/decimal"
)

const defaultPageSize = 100

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements domain.AuctionStore on a relational database.
type Store struct {
	db       *sql.DB
	dialect  Dialect
	pageSize int
	now      func() time.Time
}

func NewStore(db *sql.DB, dialect Dialect) *Store {
	return &Store{
		db:       db,
		dialect:  dialect,
		pageSize: defaultPageSize,
		now:      time.Now,
	}
}

// CommitBid moves the listing projection and inserts the bid in one
// transaction. The conditional UPDATE takes the row lock first so concurrent
// commits on the same listing serialize on it.
func (s *Store) CommitBid(ctx context.Context, bid *domain.Bid, expectedPrior decimal.Decimal) error {
	if bid.ID == "" {
		bid.ID = utils.GenerateID("bid")
	}
	if bid.PlacedAt.IsZero() {
		bid.PlacedAt = s.timestamp()
	}
	bid.PlacedAt = bid.PlacedAt.UTC().Truncate(time.Microsecond)

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.updatePrice(ctx, tx, bid.ListingID, bid.Amount, bid.Bidder, expectedPrior); err != nil {
			return err
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
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *Store) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}
