package storetest

import (
	"context"
	"testing"
	"time"

	"commerce-auctions/internal/domain"

	"github.com/stretchr/testify/require"
)

// CommunityBackend bundles the repositories the community contract needs.
// Listings is used to create the listings comments and watches point at.
type CommunityBackend struct {
	Listings  domain.ListingStore
	Comments  domain.CommentRepository
	Watchlist domain.WatchlistRepository
}

type CommunityFactory func(t *testing.T) CommunityBackend

// RunCommunity exercises the comment and watchlist repository contracts.
func RunCommunity(t *testing.T, newBackend CommunityFactory) {
	t.Run("Comments", func(t *testing.T) { testComments(t, newBackend(t)) })
	t.Run("Watchlist", func(t *testing.T) { testWatchlist(t, newBackend(t)) })
}

func testComments(t *testing.T, b CommunityBackend) {
	ctx := context.Background()

	l, err := b.Listings.CreateListing(ctx, newListing("alice", "", "10"))
	require.NoError(t, err)

	empty, err := b.Comments.Comments(ctx, l.ID)
	require.NoError(t, err)
	require.Empty(t, empty)

	base := time.Now().UTC().Truncate(time.Millisecond)
	first := &domain.Comment{ID: "comment_1", ListingID: l.ID, Author: "bob", Text: "nice", CreatedAt: base}
	second := &domain.Comment{ID: "comment_2", ListingID: l.ID, Author: "carol", Text: "meh", CreatedAt: base.Add(time.Second)}
	require.NoError(t, b.Comments.AddComment(ctx, first))
	require.NoError(t, b.Comments.AddComment(ctx, second))

	comments, err := b.Comments.Comments(ctx, l.ID)
	require.NoError(t, err)
	require.Len(t, comments, 2)
	require.Equal(t, "comment_1", comments[0].ID)
	require.Equal(t, "bob", comments[0].Author)
	require.Equal(t, "nice", comments[0].Text)
	require.Equal(t, 0, comments[0].Likes)
	require.True(t, base.Equal(comments[0].CreatedAt))
	require.Equal(t, "comment_2", comments[1].ID)

	liked, err := b.Comments.LikeComment(ctx, "comment_2")
	require.NoError(t, err)
	require.Equal(t, 1, liked.Likes)
	liked, err = b.Comments.LikeComment(ctx, "comment_2")
	require.NoError(t, err)
	require.Equal(t, 2, liked.Likes)
	require.Equal(t, "meh", liked.Text)

	_, err = b.Comments.LikeComment(ctx, "comment_missing")
	require.ErrorIs(t, err, domain.ErrCommentNotFound)
}

func testWatchlist(t *testing.T, b CommunityBackend) {
	ctx := context.Background()

	first, err := b.Listings.CreateListing(ctx, newListing("alice", "", "10"))
	require.NoError(t, err)
	second, err := b.Listings.CreateListing(ctx, newListing("alice", "", "20"))
	require.NoError(t, err)

	ids, err := b.Watchlist.WatchedListingIDs(ctx, "bob")
	require.NoError(t, err)
	require.Empty(t, ids)

	require.NoError(t, b.Watchlist.Watch(ctx, "bob", first.ID))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, b.Watchlist.Watch(ctx, "bob", second.ID))
	// Watching again is a no-op and keeps the original position.
	require.NoError(t, b.Watchlist.Watch(ctx, "bob", first.ID))

	ids, err = b.Watchlist.WatchedListingIDs(ctx, "bob")
	require.NoError(t, err)
	require.Equal(t, []string{first.ID, second.ID}, ids)

	watching, err := b.Watchlist.IsWatching(ctx, "bob", second.ID)
	require.NoError(t, err)
	require.True(t, watching)

	watching, err = b.Watchlist.IsWatching(ctx, "carol", second.ID)
	require.NoError(t, err)
	require.False(t, watching)

	require.NoError(t, b.Watchlist.Unwatch(ctx, "bob", first.ID))
	require.NoError(t, b.Watchlist.Unwatch(ctx, "bob", first.ID))

	ids, err = b.Watchlist.WatchedListingIDs(ctx, "bob")
	require.NoError(t, err)
	require.Equal(t, []string{second.ID}, ids)
}
