package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"commerce-auctions/internal/domain"
	"commerce-auctions/pkg/logger"
	"commerce-auctions/pkg/utils"
)

// CommunityService covers the listing side features that never touch price
// or state: comments, likes, watchlists and the category index.
type CommunityService struct {
	listings  domain.ListingStore
	comments  domain.CommentRepository
	watchlist domain.WatchlistRepository
	now       func() time.Time
	log       logger.Logger
}

func NewCommunityService(
	listings domain.ListingStore,
	comments domain.CommentRepository,
	watchlist domain.WatchlistRepository,
	log logger.Logger,
) *CommunityService {
	return &CommunityService{
		listings:  listings,
		comments:  comments,
		watchlist: watchlist,
		now:       time.Now,
		log:       log,
	}
}

func (s *CommunityService) AddComment(ctx context.Context, listingID, author, text string) (*domain.Comment, error) {
	if strings.TrimSpace(author) == "" {
		return nil, fmt.Errorf("%w: author is required", domain.ErrInvalidInput)
	}
	if err := domain.ValidateCommentText(text); err != nil {
		return nil, err
	}
	if _, err := s.listings.GetListing(ctx, listingID); err != nil {
		return nil, err
	}

	comment := &domain.Comment{
		ID:        utils.GenerateID("comment"),
		ListingID: listingID,
		Author:    author,
		Text:      strings.TrimSpace(text),
		CreatedAt: s.now().UTC(),
	}
	if err := s.comments.AddComment(ctx, comment); err != nil {
		return nil, err
	}

	s.log.Info("Comment added", "listing_id", listingID, "comment_id", comment.ID, "author", author)
	return comment, nil
}

func (s *CommunityService) Comments(ctx context.Context, listingID string) ([]*domain.Comment, error) {
	if _, err := s.listings.GetListing(ctx, listingID); err != nil {
		return nil, err
	}
	return s.comments.Comments(ctx, listingID)
}

func (s *CommunityService) LikeComment(ctx context.Context, commentID string) (*domain.Comment, error) {
	return s.comments.LikeComment(ctx, commentID)
}

// Watch adds listingID to the user's watchlist. Watching twice is a no-op.
func (s *CommunityService) Watch(ctx context.Context, userID, listingID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: user is required", domain.ErrInvalidInput)
	}
	if _, err := s.listings.GetListing(ctx, listingID); err != nil {
		return err
	}
	return s.watchlist.Watch(ctx, userID, listingID)
}

func (s *CommunityService) Unwatch(ctx context.Context, userID, listingID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: user is required", domain.ErrInvalidInput)
	}
	return s.watchlist.Unwatch(ctx, userID, listingID)
}

func (s *CommunityService) IsWatching(ctx context.Context, userID, listingID string) (bool, error) {
	return s.watchlist.IsWatching(ctx, userID, listingID)
}

// Watchlist resolves the user's watched listings in watch order. Entries whose
// listing no longer resolves are skipped.
func (s *CommunityService) Watchlist(ctx context.Context, userID string) ([]*domain.Listing, error) {
	ids, err := s.watchlist.WatchedListingIDs(ctx, userID)
	if err != nil {
		return nil, err
	}

	listings := make([]*domain.Listing, 0, len(ids))
	for _, id := range ids {
		l, err := s.listings.GetListing(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			s.log.Warn("Watched listing missing", "user_id", userID, "listing_id", id)
			continue
		}
		if err != nil {
			return nil, err
		}
		listings = append(listings, l)
	}
	return listings, nil
}

// Categories lists the distinct non-empty categories of open listings, sorted.
func (s *CommunityService) Categories(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	for l, err := range s.listings.ListListings(ctx, domain.StateFilter(domain.ListingOpen)) {
		if err != nil {
			return nil, err
		}
		if l.Category != "" {
			seen[l.Category] = struct{}{}
		}
	}

	categories := make([]string, 0, len(seen))
	for c := range seen {
		categories = append(categories, c)
	}
	sort.Strings(categories)
	return categories, nil
}
