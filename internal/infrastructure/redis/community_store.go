package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"commerce-auctions/internal/domain"

	"github.com/go-redis/redis/v8"
)

func commentKey(commentID string) string {
	return fmt.Sprintf("comment:%s", commentID)
}

func listingCommentsKey(listingID string) string {
	return fmt.Sprintf("listing:%s:comments", listingID)
}

func watchlistKey(userID string) string {
	return fmt.Sprintf("user:%s:watchlist", userID)
}

var likeCommentScript = redis.NewScript(`
        if redis.call('EXISTS', KEYS[1]) == 0 then
            return -1
        end
        return redis.call('HINCRBY', KEYS[1], 'likes', 1)
`)

// CommunityStore keeps comments as hashes indexed by a per-listing list, and
// each user's watchlist as a sorted set scored by watch time.
type CommunityStore struct {
	client *redis.Client
	now    func() time.Time
}

func NewCommunityStore(client *redis.Client) *CommunityStore {
	return &CommunityStore{client: client, now: time.Now}
}

func (r *CommunityStore) AddComment(ctx context.Context, comment *domain.Comment) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, commentKey(comment.ID),
			"id", comment.ID,
			"listing_id", comment.ListingID,
			"author", comment.Author,
			"text", comment.Text,
			"likes", comment.Likes,
			"created_at", comment.CreatedAt.UTC().Format(time.RFC3339Nano),
		)
		pipe.RPush(ctx, listingCommentsKey(comment.ListingID), comment.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("add comment to %s: %w", comment.ListingID, err)
	}
	return nil
}

func (r *CommunityStore) Comments(ctx context.Context, listingID string) ([]*domain.Comment, error) {
	ids, err := r.client.LRange(ctx, listingCommentsKey(listingID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("comments for %s: %w", listingID, err)
	}

	comments := make([]*domain.Comment, 0, len(ids))
	if len(ids) == 0 {
		return comments, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.StringStringMapCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, commentKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("comments for %s: %w", listingID, err)
	}

	for _, cmd := range cmds {
		if len(cmd.Val()) == 0 {
			continue
		}
		c, err := decodeComment(cmd.Val())
		if err != nil {
			return nil, err
		}
		comments = append(comments, c)
	}
	return comments, nil
}

func (r *CommunityStore) LikeComment(ctx context.Context, commentID string) (*domain.Comment, error) {
	likes, err := likeCommentScript.Run(ctx, r.client, []string{commentKey(commentID)}).Int64()
	if err != nil {
		return nil, fmt.Errorf("like comment %s: %w", commentID, err)
	}
	if likes < 0 {
		return nil, fmt.Errorf("like comment %s: %w", commentID, domain.ErrCommentNotFound)
	}

	fields, err := r.client.HGetAll(ctx, commentKey(commentID)).Result()
	if err != nil {
		return nil, fmt.Errorf("like comment %s: %w", commentID, err)
	}
	c, err := decodeComment(fields)
	if err != nil {
		return nil, err
	}
	c.Likes = int(likes)
	return c, nil
}

func decodeComment(fields map[string]string) (*domain.Comment, error) {
	c := &domain.Comment{
		ID:        fields["id"],
		ListingID: fields["listing_id"],
		Author:    fields["author"],
		Text:      fields["text"],
	}

	likes, err := strconv.Atoi(fields["likes"])
	if err != nil {
		return nil, fmt.Errorf("decode comment %s: likes: %w", c.ID, err)
	}
	c.Likes = likes

	if c.CreatedAt, err = time.Parse(time.RFC3339Nano, fields["created_at"]); err != nil {
		return nil, fmt.Errorf("decode comment %s: created_at: %w", c.ID, err)
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return c, nil
}

func (r *CommunityStore) Watch(ctx context.Context, userID, listingID string) error {
	score := float64(r.now().UnixMilli())
	if err := r.client.ZAddNX(ctx, watchlistKey(userID), &redis.Z{Score: score, Member: listingID}).Err(); err != nil {
		return fmt.Errorf("watch %s for %s: %w", listingID, userID, err)
	}
	return nil
}

func (r *CommunityStore) Unwatch(ctx context.Context, userID, listingID string) error {
	if err := r.client.ZRem(ctx, watchlistKey(userID), listingID).Err(); err != nil {
		return fmt.Errorf("unwatch %s for %s: %w", listingID, userID, err)
	}
	return nil
}

// WatchedListingIDs returns ids oldest watch first. Equal scores fall back to
// member order, which is the listing id.
func (r *CommunityStore) WatchedListingIDs(ctx context.Context, userID string) ([]string, error) {
	ids, err := r.client.ZRange(ctx, watchlistKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("watchlist for %s: %w", userID, err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

func (r *CommunityStore) IsWatching(ctx context.Context, userID, listingID string) (bool, error) {
	err := r.client.ZScore(ctx, watchlistKey(userID), listingID).Err()
	if isNil(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("watchlist lookup for %s: %w", userID, err)
	}
	return true, nil
}
