package leader

import (
	"context"
	"errors"
	"sync"
	"time"

	"commerce-auctions/pkg/logger"

	"github.com/go-redis/redis/v8"
)

const DefaultKey = "auction_reconciler_leader"

var releaseScript = redis.NewScript(`
        if redis.call("GET", KEYS[1]) == ARGV[1] then
            return redis.call("DEL", KEYS[1])
        else
            return 0
        end
`)

var extendScript = redis.NewScript(`
        if redis.call("GET", KEYS[1]) == ARGV[1] then
            return redis.call("PEXPIRE", KEYS[1], ARGV[2])
        else
            return 0
        end
`)

// RedisLeaderElection is a SETNX lock with a TTL. The holder refreshes it from
// a heartbeat goroutine until it is released or lost.
type RedisLeaderElection struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	log    logger.Logger

	mu   sync.Mutex
	stop map[string]*heartbeat
}

type heartbeat struct {
	cancel context.CancelFunc
}

func NewRedisLeaderElection(client *redis.Client, key string, ttl time.Duration, log logger.Logger) *RedisLeaderElection {
	if key == "" {
		key = DefaultKey
	}
	return &RedisLeaderElection{
		client: client,
		key:    key,
		ttl:    ttl,
		log:    log,
		stop:   make(map[string]*heartbeat),
	}
}

func (r *RedisLeaderElection) BecomeLeader(ctx context.Context, instanceID string) (bool, error) {
	acquired, err := r.client.SetNX(ctx, r.key, instanceID, r.ttl).Result()
	if err != nil {
		return false, err
	}
	if !acquired {
		return false, nil
	}

	r.mu.Lock()
	if _, running := r.stop[instanceID]; !running {
		hbCtx, cancel := context.WithCancel(context.Background())
		hb := &heartbeat{cancel: cancel}
		r.stop[instanceID] = hb
		go r.maintainLeadership(hbCtx, instanceID, hb)
	}
	r.mu.Unlock()

	r.log.Info("Acquired leadership", "key", r.key, "instance_id", instanceID)
	return true, nil
}

func (r *RedisLeaderElection) IsLeader(ctx context.Context, instanceID string) (bool, error) {
	currentLeader, err := r.client.Get(ctx, r.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	return currentLeader == instanceID, nil
}

func (r *RedisLeaderElection) ReleaseLeadership(ctx context.Context, instanceID string) error {
	r.stopHeartbeat(instanceID)
	return releaseScript.Run(ctx, r.client, []string{r.key}, instanceID).Err()
}

func (r *RedisLeaderElection) stopHeartbeat(instanceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if hb, ok := r.stop[instanceID]; ok {
		hb.cancel()
		delete(r.stop, instanceID)
	}
}

// endHeartbeat unregisters hb unless a newer heartbeat has replaced it.
func (r *RedisLeaderElection) endHeartbeat(instanceID string, hb *heartbeat) {
	r.mu.Lock()
	defer r.mu.Unlock()
	hb.cancel()
	if r.stop[instanceID] == hb {
		delete(r.stop, instanceID)
	}
}

func (r *RedisLeaderElection) maintainLeadership(ctx context.Context, instanceID string, hb *heartbeat) {
	ticker := time.NewTicker(r.ttl / 3)
	defer ticker.Stop()
	defer r.endHeartbeat(instanceID, hb)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		callCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		extended, err := extendScript.Run(callCtx, r.client, []string{r.key},
			instanceID, r.ttl.Milliseconds()).Int64()
		cancel()

		if err != nil || extended == 0 {
			r.log.Warn("Lost leadership", "key", r.key, "instance_id", instanceID, "error", err)
			return
		}
	}
}
