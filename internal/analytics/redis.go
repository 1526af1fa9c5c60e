package analytics

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/autoloop-io/autoloop/internal/domain"
)

// RedisSink keeps rolling per-automation run counters in Redis, bucketed
// by minute. Counters feed trend views; they are disposable and expire
// on their own.
type RedisSink struct {
	client    *redis.Client
	retention time.Duration
}

const defaultRetention = 30 * 24 * time.Hour

func NewRedisSink(client *redis.Client, retention time.Duration) *RedisSink {
	if retention <= 0 {
		retention = defaultRetention
	}
	return &RedisSink{client: client, retention: retention}
}

// Record counts one closed run. Failures are logged, never propagated:
// counters are advisory.
func (s *RedisSink) Record(ctx context.Context, event domain.RunClosed) {
	if err := s.Write(ctx, event); err != nil {
		log.Printf("analytics: %v", err)
	}
}

func (s *RedisSink) Write(ctx context.Context, event domain.RunClosed) error {
	rec := event.Record
	key := buildKey(rec.AutomationID.String(), string(rec.Status), event.ClosedAt)

	pipe := s.client.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, s.retention)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}
	return nil
}

// CountRange sums an automation's counters for one status across the
// given minute range, inclusive of from and exclusive of to.
func (s *RedisSink) CountRange(ctx context.Context, automationID, status string, from, to time.Time) (int64, error) {
	var total int64
	for t := from.UTC().Truncate(time.Minute); t.Before(to); t = t.Add(time.Minute) {
		n, err := s.client.Get(ctx, buildKey(automationID, status, t)).Int64()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("redis get: %w", err)
		}
		total += n
	}
	return total, nil
}

func buildKey(automationID, status string, t time.Time) string {
	return fmt.Sprintf("a:%s:%s:%s", automationID, status, t.UTC().Format("200601021504"))
}
