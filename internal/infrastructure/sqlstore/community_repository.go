package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"commerce-auctions/internal/domain"
)

func (s *Store) AddComment(ctx context.Context, comment *domain.Comment) error {
	query := `
        INSERT INTO comments (id, listing_id, author, text, likes, created_at)
        VALUES (?, ?, ?, ?, ?, ?)
    `
	_, err := s.db.ExecContext(ctx, query,
		comment.ID, comment.ListingID, comment.Author, comment.Text, comment.Likes,
		comment.CreatedAt.UTC().Truncate(time.Microsecond))
	if err != nil {
		return fmt.Errorf("add comment to %s: %w", comment.ListingID, err)
	}
	return nil
}

func (s *Store) Comments(ctx context.Context, listingID string) ([]*domain.Comment, error) {
	query := `
        SELECT id, listing_id, author, text, likes, created_at
        FROM comments WHERE listing_id = ?
        ORDER BY seq ASC
    `
	rows, err := s.db.QueryContext(ctx, query, listingID)
	if err != nil {
		return nil, fmt.Errorf("comments for %s: %w", listingID, err)
	}
	defer rows.Close()

	comments := make([]*domain.Comment, 0)
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("comments for %s: %w", listingID, err)
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

func (s *Store) LikeComment(ctx context.Context, commentID string) (*domain.Comment, error) {
	var liked *domain.Comment
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE comments SET likes = likes + 1 WHERE id = ?`, commentID)
		if err != nil {
			return fmt.Errorf("like comment %s: %w", commentID, err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("like comment %s: %w", commentID, err)
		} else if n == 0 {
			return fmt.Errorf("like comment %s: %w", commentID, domain.ErrCommentNotFound)
		}

		row := tx.QueryRowContext(ctx, `
            SELECT id, listing_id, author, text, likes, created_at
            FROM comments WHERE id = ?
        `, commentID)
		liked, err = scanComment(row)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("like comment %s: %w", commentID, domain.ErrCommentNotFound)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return liked, nil
}

func scanComment(row rowScanner) (*domain.Comment, error) {
	var c domain.Comment
	if err := row.Scan(&c.ID, &c.ListingID, &c.Author, &c.Text, &c.Likes, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

func (s *Store) Watch(ctx context.Context, userID, listingID string) error {
	query := s.dialect.insertIgnore() + ` INTO watchlist (user_id, listing_id, created_at) VALUES (?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query, userID, listingID, s.timestamp()); err != nil {
		return fmt.Errorf("watch %s for %s: %w", listingID, userID, err)
	}
	return nil
}

func (s *Store) Unwatch(ctx context.Context, userID, listingID string) error {
	query := `DELETE FROM watchlist WHERE user_id = ? AND listing_id = ?`
	if _, err := s.db.ExecContext(ctx, query, userID, listingID); err != nil {
		return fmt.Errorf("unwatch %s for %s: %w", listingID, userID, err)
	}
	return nil
}

func (s *Store) WatchedListingIDs(ctx context.Context, userID string) ([]string, error) {
	query := `
        SELECT listing_id FROM watchlist
        WHERE user_id = ?
        ORDER BY created_at ASC, listing_id ASC
    `
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("watchlist for %s: %w", userID, err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("watchlist for %s: %w", userID, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) IsWatching(ctx context.Context, userID, listingID string) (bool, error) {
	var n int
	query := `SELECT COUNT(*) FROM watchlist WHERE user_id = ? AND listing_id = ?`
	if err := s.db.QueryRowContext(ctx, query, userID, listingID).Scan(&n); err != nil {
		return false, fmt.Errorf("watchlist lookup for %s: %w", userID, err)
	}
	return n > 0, nil
}
