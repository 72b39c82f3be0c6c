package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strconv"
	"strings"
	"time"

	"commerce-auctions/internal/domain"
	"commerce-auctions/pkg/utils"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
)

const (
	listingsIndexKey = "listings"
	listingsSeqKey   = "listings:seq"
	defaultPageSize  = 100
)

func listingKey(listingID string) string {
	return fmt.Sprintf("listing:%s", listingID)
}

func bidsKey(listingID string) string {
	return fmt.Sprintf("listing:%s:bids", listingID)
}

// Guard shared by the price scripts. Prices are stored in canonical two-place
// form, so string equality is the expected-prior check.
const priceGuard = `
        if redis.call('EXISTS', KEYS[1]) == 0 then
            return 'not_found'
        end
        if redis.call('HGET', KEYS[1], 'state') ~= 'open' then
            return 'closed'
        end
        local current = redis.call('HGET', KEYS[1], 'current_price')
        if current ~= ARGV[1] then
            return 'conflict'
        end
        local bidder = redis.call('HGET', KEYS[1], 'high_bidder')
        local cur = tonumber(current)
        local new_price = tonumber(ARGV[2])
        if new_price < cur then
            return 'conflict'
        end
        if bidder and bidder ~= '' and new_price <= cur then
            return 'conflict'
        end
`

var updatePriceScript = redis.NewScript(priceGuard + `
        redis.call('HSET', KEYS[1], 'current_price', ARGV[2], 'high_bidder', ARGV[3], 'updated_at', ARGV[4])
        return 'ok'
`)

// tailGuard keeps ledger timestamps non-decreasing. A bid stamped before the
// tail is refused with the tail's unix-micro time so the caller can restamp it.
const tailGuard = `
        local tail = redis.call('HGET', KEYS[1], 'last_bid_at')
        if tail and tonumber(tail) > tonumber(ARGV[#ARGV]) then
            return 'behind:' .. tail
        end
`

// commitBidScript returns the new ledger length, which is the bid's Seq.
var commitBidScript = redis.NewScript(priceGuard + tailGuard + `
        redis.call('HSET', KEYS[1], 'current_price', ARGV[2], 'high_bidder', ARGV[3], 'updated_at', ARGV[4],
            'last_bid_at', ARGV[6])
        return redis.call('RPUSH', KEYS[2], ARGV[5])
`)

var appendBidScript = redis.NewScript(`
        if redis.call('EXISTS', KEYS[1]) == 0 then
            return 'not_found'
        end
        if redis.call('HGET', KEYS[1], 'state') ~= 'open' then
            return 'closed'
        end
` + tailGuard + `
        redis.call('HSET', KEYS[1], 'last_bid_at', ARGV[2])
        return redis.call('RPUSH', KEYS[2], ARGV[1])
`)

var closeListingScript = redis.NewScript(`
        if redis.call('EXISTS', KEYS[1]) == 0 then
            return 'not_found'
        end
        if redis.call('HGET', KEYS[1], 'state') ~= 'open' then
            return 'already_closed'
        end
        if redis.call('HGET', KEYS[1], 'current_price') ~= ARGV[1] then
            return 'conflict'
        end
        redis.call('HSET', KEYS[1], 'state', 'closed', 'updated_at', ARGV[2])
        return 'ok'
`)

// AuctionStore keeps each listing in a hash, a creation-ordered index in a
// sorted set, and the bid ledger as a list of JSON documents per listing.
// Bid Seq is the 1-based position in that list.
type AuctionStore struct {
	client   *redis.Client
	pageSize int64
	now      func() time.Time
}

func NewAuctionStore(client *redis.Client) *AuctionStore {
	return &AuctionStore{
		client:   client,
		pageSize: defaultPageSize,
		now:      time.Now,
	}
}

func (r *AuctionStore) GetListing(ctx context.Context, listingID string) (*domain.Listing, error) {
	fields, err := r.client.HGetAll(ctx, listingKey(listingID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get listing %s: %w", listingID, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("get listing %s: %w", listingID, domain.ErrNotFound)
	}
	return decodeListing(fields)
}

func (r *AuctionStore) CreateListing(ctx context.Context, req domain.NewListing) (*domain.Listing, error) {
	l, err := domain.BuildListing(req, utils.GenerateID("listing"), r.now())
	if err != nil {
		return nil, fmt.Errorf("create listing: %w", err)
	}

	seq, err := r.client.Incr(ctx, listingsSeqKey).Result()
	if err != nil {
		return nil, fmt.Errorf("create listing: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, listingKey(l.ID), encodeListing(l))
		pipe.ZAdd(ctx, listingsIndexKey, &redis.Z{Score: float64(seq), Member: l.ID})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create listing: %w", err)
	}
	return l, nil
}

// ListListings walks the creation index a page at a time and loads each page
// of hashes with one pipeline.
func (r *AuctionStore) ListListings(ctx context.Context, filter domain.ListingFilter) iter.Seq2[*domain.Listing, error] {
	return func(yield func(*domain.Listing, error) bool) {
		var start int64
		for {
			ids, err := r.client.ZRange(ctx, listingsIndexKey, start, start+r.pageSize-1).Result()
			if err != nil {
				yield(nil, fmt.Errorf("list listings: %w", err))
				return
			}

			page, err := r.loadListings(ctx, ids)
			if err != nil {
				yield(nil, err)
				return
			}
			for _, l := range page {
				if !filter.Matches(l) {
					continue
				}
				if !yield(l, nil) {
					return
				}
			}

			if int64(len(ids)) < r.pageSize {
				return
			}
			start += int64(len(ids))
		}
	}
}

func (r *AuctionStore) loadListings(ctx context.Context, ids []string) ([]*domain.Listing, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.StringStringMapCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, listingKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("list listings: %w", err)
	}

	listings := make([]*domain.Listing, 0, len(ids))
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		l, err := decodeListing(fields)
		if err != nil {
			return nil, err
		}
		listings = append(listings, l)
	}
	return listings, nil
}

func (r *AuctionStore) UpdatePriceAndBidder(ctx context.Context, listingID string, newPrice decimal.Decimal, newBidder string, expectedPrior decimal.Decimal) error {
	res, err := updatePriceScript.Run(ctx, r.client, []string{listingKey(listingID)},
		domain.FormatAmount(expectedPrior),
		domain.FormatAmount(newPrice),
		newBidder,
		r.timestamp(),
	).Result()
	if err != nil {
		return fmt.Errorf("update listing %s: %w", listingID, err)
	}
	return scriptStatus(res, "update listing "+listingID)
}

func (r *AuctionStore) CommitBid(ctx context.Context, bid *domain.Bid, expectedPrior decimal.Decimal) error {
	if bid.ID == "" {
		bid.ID = utils.GenerateID("bid")
	}
	if bid.PlacedAt.IsZero() {
		bid.PlacedAt = r.now()
	}
	bid.PlacedAt = bid.PlacedAt.UTC().Truncate(time.Microsecond)

	seq, err := r.pushBid(ctx, bid, "commit bid for "+bid.ListingID, func(doc string) (interface{}, error) {
		return commitBidScript.Run(ctx, r.client,
			[]string{listingKey(bid.ListingID), bidsKey(bid.ListingID)},
			domain.FormatAmount(expectedPrior),
			domain.FormatAmount(bid.Amount),
			bid.Bidder,
			r.timestamp(),
			doc,
			bid.PlacedAt.UnixMicro(),
		).Result()
	})
	if err != nil {
		return err
	}
	bid.Seq = seq
	return nil
}

// pushBid encodes bid and runs push, restamping the bid when the script
// reports the ledger tail is ahead of it. Once restamped the bid equals the
// tail's time, so a second refusal means another bid landed in between.
func (r *AuctionStore) pushBid(ctx context.Context, bid *domain.Bid, op string, push func(doc string) (interface{}, error)) (int64, error) {
	for attempt := 0; attempt < 2; attempt++ {
		doc, err := json.Marshal(bid)
		if err != nil {
			return 0, fmt.Errorf("encode bid for %s: %w", bid.ListingID, err)
		}

		res, err := push(string(doc))
		if err != nil {
			return 0, fmt.Errorf("%s: %w", op, err)
		}
		if seq, ok := res.(int64); ok {
			return seq, nil
		}

		status, _ := res.(string)
		tail, found := strings.CutPrefix(status, "behind:")
		if !found {
			return 0, scriptStatus(res, op)
		}
		micros, err := strconv.ParseInt(tail, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%s: bad ledger tail %q: %w", op, tail, err)
		}
		bid.PlacedAt = time.UnixMicro(micros).UTC()
	}
	return 0, fmt.Errorf("%s: %w", op, domain.ErrConflict)
}

func (r *AuctionStore) CloseListing(ctx context.Context, listingID string, expectedPrior decimal.Decimal) (*domain.Listing, error) {
	res, err := closeListingScript.Run(ctx, r.client, []string{listingKey(listingID)},
		domain.FormatAmount(expectedPrior),
		r.timestamp(),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("close listing %s: %w", listingID, err)
	}
	if err := scriptStatus(res, "close listing "+listingID); err != nil {
		return nil, err
	}

	// Closed listings never change again, so this read sees the closing write.
	return r.GetListing(ctx, listingID)
}

func (r *AuctionStore) AppendBid(ctx context.Context, listingID, bidder string, amount decimal.Decimal) (*domain.Bid, error) {
	bid := &domain.Bid{
		ID:        utils.GenerateID("bid"),
		ListingID: listingID,
		Bidder:    bidder,
		Amount:    amount,
		PlacedAt:  r.now().UTC().Truncate(time.Microsecond),
	}

	seq, err := r.pushBid(ctx, bid, "append bid to "+listingID, func(doc string) (interface{}, error) {
		return appendBidScript.Run(ctx, r.client,
			[]string{listingKey(listingID), bidsKey(listingID)}, doc, bid.PlacedAt.UnixMicro()).Result()
	})
	if err != nil {
		return nil, err
	}
	bid.Seq = seq
	return bid, nil
}

func (r *AuctionStore) LatestBid(ctx context.Context, listingID string) (*domain.Bid, error) {
	n, err := r.client.LLen(ctx, bidsKey(listingID)).Result()
	if err != nil {
		return nil, fmt.Errorf("latest bid for %s: %w", listingID, err)
	}
	if n == 0 {
		return nil, fmt.Errorf("latest bid for %s: %w", listingID, domain.ErrNoBids)
	}

	doc, err := r.client.LIndex(ctx, bidsKey(listingID), n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("latest bid for %s: %w", listingID, err)
	}
	return decodeBid(doc, n)
}

// BidHistory pages through the ledger list. Commits are serialized by the
// listing guard, so list order is ledger order.
func (r *AuctionStore) BidHistory(ctx context.Context, listingID string) iter.Seq2[*domain.Bid, error] {
	return func(yield func(*domain.Bid, error) bool) {
		var start int64
		for {
			docs, err := r.client.LRange(ctx, bidsKey(listingID), start, start+r.pageSize-1).Result()
			if err != nil {
				yield(nil, fmt.Errorf("bid history for %s: %w", listingID, err))
				return
			}
			for i, doc := range docs {
				b, err := decodeBid(doc, start+int64(i)+1)
				if err != nil {
					yield(nil, err)
					return
				}
				if !yield(b, nil) {
					return
				}
			}
			if int64(len(docs)) < r.pageSize {
				return
			}
			start += int64(len(docs))
		}
	}
}

func (r *AuctionStore) timestamp() string {
	return r.now().UTC().Format(time.RFC3339Nano)
}

// scriptStatus maps a Lua status reply to the domain error it stands for.
func scriptStatus(res interface{}, op string) error {
	status, _ := res.(string)
	switch status {
	case "ok":
		return nil
	case "not_found":
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	case "closed":
		return fmt.Errorf("%s: %w", op, domain.ErrAuctionClosed)
	case "already_closed":
		return fmt.Errorf("%s: %w", op, domain.ErrAlreadyClosed)
	case "conflict":
		return fmt.Errorf("%s: %w", op, domain.ErrConflict)
	default:
		return fmt.Errorf("%s: unexpected script reply %v", op, res)
	}
}

func encodeListing(l *domain.Listing) map[string]interface{} {
	return map[string]interface{}{
		"id":             l.ID,
		"title":          l.Title,
		"description":    l.Description,
		"category":       l.Category,
		"owner":          l.Owner,
		"image_url":      l.ImageURL,
		"starting_price": domain.FormatAmount(l.StartingPrice),
		"current_price":  domain.FormatAmount(l.CurrentPrice),
		"high_bidder":    l.HighBidder,
		"state":          l.State.String(),
		"created_at":     l.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":     l.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func decodeListing(fields map[string]string) (*domain.Listing, error) {
	l := &domain.Listing{
		ID:          fields["id"],
		Title:       fields["title"],
		Description: fields["description"],
		Category:    fields["category"],
		Owner:       fields["owner"],
		ImageURL:    fields["image_url"],
		HighBidder:  fields["high_bidder"],
	}

	var err error
	if l.StartingPrice, err = decimal.NewFromString(fields["starting_price"]); err != nil {
		return nil, fmt.Errorf("decode listing %s: starting_price: %w", l.ID, err)
	}
	if l.CurrentPrice, err = decimal.NewFromString(fields["current_price"]); err != nil {
		return nil, fmt.Errorf("decode listing %s: current_price: %w", l.ID, err)
	}
	if l.State, err = domain.ParseListingState(fields["state"]); err != nil {
		return nil, fmt.Errorf("decode listing %s: %w", l.ID, err)
	}
	if l.CreatedAt, err = time.Parse(time.RFC3339Nano, fields["created_at"]); err != nil {
		return nil, fmt.Errorf("decode listing %s: created_at: %w", l.ID, err)
	}
	if l.UpdatedAt, err = time.Parse(time.RFC3339Nano, fields["updated_at"]); err != nil {
		return nil, fmt.Errorf("decode listing %s: updated_at: %w", l.ID, err)
	}
	l.CreatedAt = l.CreatedAt.UTC()
	l.UpdatedAt = l.UpdatedAt.UTC()
	return l, nil
}

func decodeBid(doc string, seq int64) (*domain.Bid, error) {
	var b domain.Bid
	if err := json.Unmarshal([]byte(doc), &b); err != nil {
		return nil, fmt.Errorf("decode bid: %w", err)
	}
	b.Seq = seq
	b.PlacedAt = b.PlacedAt.UTC()
	return &b, nil
}

// isNil reports whether err is the redis "no such key" reply.
func isNil(err error) bool {
	return errors.Is(err, redis.Nil)
}
