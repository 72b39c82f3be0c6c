package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"commerce-auctions/internal/domain"
)

// CommunityStore keeps comments and watchlists in memory.
type CommunityStore struct {
	mu        sync.RWMutex
	comments  map[string]*domain.Comment      // key: commentID
	byListing map[string][]string             // key: listingID -> commentIDs in insertion order
	watches   map[string]map[string]time.Time // key: userID -> listingID -> watched at
}

func NewCommunityStore() *CommunityStore {
	return &CommunityStore{
		comments:  make(map[string]*domain.Comment),
		byListing: make(map[string][]string),
		watches:   make(map[string]map[string]time.Time),
	}
}

func (s *CommunityStore) AddComment(ctx context.Context, comment *domain.Comment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *comment
	s.comments[c.ID] = &c
	s.byListing[c.ListingID] = append(s.byListing[c.ListingID], c.ID)
	return nil
}

func (s *CommunityStore) Comments(ctx context.Context, listingID string) ([]*domain.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byListing[listingID]
	comments := make([]*domain.Comment, 0, len(ids))
	for _, id := range ids {
		c := *s.comments[id]
		comments = append(comments, &c)
	}
	return comments, nil
}

func (s *CommunityStore) LikeComment(ctx context.Context, commentID string) (*domain.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.comments[commentID]
	if !ok {
		return nil, fmt.Errorf("like comment %s: %w", commentID, domain.ErrCommentNotFound)
	}
	c.Likes++
	liked := *c
	return &liked, nil
}

func (s *CommunityStore) Watch(ctx context.Context, userID, listingID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.watches[userID] == nil {
		s.watches[userID] = make(map[string]time.Time)
	}
	if _, exists := s.watches[userID][listingID]; !exists {
		s.watches[userID][listingID] = time.Now()
	}
	return nil
}

func (s *CommunityStore) Unwatch(ctx context.Context, userID, listingID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.watches[userID], listingID)
	return nil
}

func (s *CommunityStore) WatchedListingIDs(ctx context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	watched := s.watches[userID]
	ids := make([]string, 0, len(watched))
	for id := range watched {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		ti, tj := watched[ids[i]], watched[ids[j]]
		if ti.Equal(tj) {
			return ids[i] < ids[j]
		}
		return ti.Before(tj)
	})
	return ids, nil
}

func (s *CommunityStore) IsWatching(ctx context.Context, userID, listingID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.watches[userID][listingID]
	return ok, nil
}
