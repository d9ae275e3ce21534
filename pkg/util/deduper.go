package util

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Deduper provides event-level idempotency for at-least-once consumers.
// Keys are typically the event_id of the inbound event.
type Deduper struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewDeduper(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *Deduper {
	return &Deduper{
		rdb:    rdb,
		ttl:    ttl,
		logger: logger,
	}
}

// AcquireOnce tries to acquire a dedup lock for a given handler + key.
// Returns true if this is the FIRST time processing, false on a duplicate.
// Fails open: when redis is unreachable, processing is allowed rather than
// blocked, and downstream check-before-act guards take over.
func (d *Deduper) AcquireOnce(ctx context.Context, handler, key string) bool {
	redisKey := fmt.Sprintf("dedup:%s:%s", handler, key)

	ok, err := d.rdb.SetNX(ctx, redisKey, 1, d.ttl).Result()
	if err != nil {
		if d.logger != nil {
			d.logger.Warn("Redis dedup check failed, allowing processing",
				zap.String("handler", handler),
				zap.String("key", key),
				zap.Error(err),
			)
		}
		return true
	}

	if !ok && d.logger != nil {
		d.logger.Info("Skipped duplicated event",
			zap.String("handler", handler),
			zap.String("key", key),
			zap.String("dedup_key", redisKey),
		)
	}

	return ok
}

// Release deletes the dedup key so a redelivery of the same event is
// processed again. Handlers call this before handing a retryable failure
// back to the broker; without it the redelivered message would be skipped
// as a duplicate and the event lost.
func (d *Deduper) Release(ctx context.Context, handler, key string) {
	redisKey := fmt.Sprintf("dedup:%s:%s", handler, key)

	if err := d.rdb.Del(ctx, redisKey).Err(); err != nil && d.logger != nil {
		d.logger.Warn("Failed to release dedup key, redelivery may be skipped",
			zap.String("handler", handler),
			zap.String("key", key),
			zap.Error(err),
		)
	}
}
