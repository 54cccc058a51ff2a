package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SnapshotSink receives the window counts during the worker's periodic rate sync.
// Snapshots are for dashboards; no limiter ever reads them back.
type SnapshotSink interface {
	PublishRateSnapshot(ctx context.Context, instance string, s Stats) error
}

// RedisSnapshotSink writes each worker instance's counts into a Redis hash.
type RedisSnapshotSink struct {
	client    redis.Cmdable
	keyPrefix string
	ttl       time.Duration
}

func NewRedisSnapshotSink(client redis.Cmdable, keyPrefix string, ttl time.Duration) *RedisSnapshotSink {
	if keyPrefix == "" {
		keyPrefix = "outreach:ratelimit:"
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisSnapshotSink{client: client, keyPrefix: keyPrefix, ttl: ttl}
}

func (s *RedisSnapshotSink) PublishRateSnapshot(ctx context.Context, instance string, st Stats) error {
	key := s.keyPrefix + instance
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, map[string]any{
			"global_in_window":   st.GlobalInWindow,
			"global_limit":       st.GlobalLimit,
			"tracked_recipients": st.TrackedRecipients,
			"updated_at":         st.At.UTC().Format(time.RFC3339),
		})
		pipe.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to publish rate snapshot: %w", err)
	}
	return nil
}
