package api

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const (
	idempotencyHeader = "Idempotency-Key"
	requestIDField    = "request_id"
	maxIdempotencyKey = 128
)

// Deduper remembers create requests that were already processed.
type Deduper interface {
	Add(ctx context.Context, owner, key string) (bool, error)
	Remove(ctx context.Context, owner, key string) error
}

// RedisDeduper stores processed idempotency keys in Redis so all instances
// can avoid creating the same task twice.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper creates a deduper using the provided Redis client and TTL.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (r *RedisDeduper) key(owner, key string) string {
	return fmt.Sprintf("journal:idem:%s:%s", owner, key)
}

// Add records the key if it does not already exist. It returns true when the
// key was newly added.
func (r *RedisDeduper) Add(ctx context.Context, owner, key string) (bool, error) {
	return r.client.SetNX(ctx, r.key(owner, key), 1, r.ttl).Result()
}

// Remove deletes a previously recorded key so a failed create may be retried.
func (r *RedisDeduper) Remove(ctx context.Context, owner, key string) error {
	return r.client.Del(ctx, r.key(owner, key)).Err()
}

// claimOnce reports whether the request identified by key should run. An
// empty key, a missing deduper or an unreachable store all let it through.
// The returned release undoes the claim after a failed create.
func claimOnce(ctx context.Context, d Deduper, logger *log.Logger, owner, key string) (bool, func()) {
	noop := func() {}
	if d == nil || key == "" || len(key) > maxIdempotencyKey {
		return true, noop
	}
	added, err := d.Add(ctx, owner, key)
	if err != nil {
		logger.WithError(err).WithField("owner", owner).Warn("idempotency check failed")
		return true, noop
	}
	if !added {
		return false, noop
	}
	return true, func() {
		if err := d.Remove(context.WithoutCancel(ctx), owner, key); err != nil {
			logger.WithError(err).WithField("owner", owner).Warn("idempotency release failed")
		}
	}
}
