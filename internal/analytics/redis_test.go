package analytics

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/autoloop-io/autoloop/internal/domain"
)

func newTestSink(t *testing.T, retention time.Duration) (*RedisSink, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisSink(client, retention), mr
}

func closedAt(automationID uuid.UUID, status domain.ExecutionStatus, at time.Time) domain.RunClosed {
	return domain.RunClosed{
		Record: domain.ExecutionRecord{
			ID:           uuid.New(),
			AutomationID: automationID,
			Status:       status,
		},
		ClosedAt: at,
	}
}

func TestRedisSink_WriteIncrementsMinuteBucket(t *testing.T) {
	sink, mr := newTestSink(t, time.Hour)
	ctx := context.Background()

	automationID := uuid.New()
	at := time.Date(2026, 8, 30, 14, 25, 42, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if err := sink.Write(ctx, closedAt(automationID, domain.ExecutionStatusSuccess, at)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	key := fmt.Sprintf("a:%s:success:202608301425", automationID)
	got, err := mr.Get(key)
	if err != nil {
		t.Fatalf("bucket %s missing: %v", key, err)
	}
	if got != "3" {
		t.Errorf("bucket = %s, want 3", got)
	}

	if ttl := mr.TTL(key); ttl <= 0 || ttl > time.Hour {
		t.Errorf("bucket TTL = %s, want within retention", ttl)
	}
}

func TestRedisSink_BucketsSplitByStatusAndMinute(t *testing.T) {
	sink, _ := newTestSink(t, time.Hour)
	ctx := context.Background()

	automationID := uuid.New()
	base := time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC)

	if err := sink.Write(ctx, closedAt(automationID, domain.ExecutionStatusSuccess, base)); err != nil {
		t.Fatal(err)
	}
	if err := sink.Write(ctx, closedAt(automationID, domain.ExecutionStatusFailed, base)); err != nil {
		t.Fatal(err)
	}
	if err := sink.Write(ctx, closedAt(automationID, domain.ExecutionStatusSuccess, base.Add(time.Minute))); err != nil {
		t.Fatal(err)
	}

	n, err := sink.CountRange(ctx, automationID.String(), "success", base, base.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("success count in first minute = %d, want 1", n)
	}
}

func TestRedisSink_CountRange(t *testing.T) {
	sink, _ := newTestSink(t, time.Hour)
	ctx := context.Background()

	automationID := uuid.New()
	base := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)

	// Two in range, one on the exclusive upper bound, one before.
	for _, at := range []time.Time{base, base.Add(5 * time.Minute), base.Add(10 * time.Minute), base.Add(-time.Minute)} {
		if err := sink.Write(ctx, closedAt(automationID, domain.ExecutionStatusFailed, at)); err != nil {
			t.Fatal(err)
		}
	}

	n, err := sink.CountRange(ctx, automationID.String(), "failed", base, base.Add(10*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("CountRange = %d, want 2", n)
	}
}

func TestRedisSink_CountRangeOtherAutomation(t *testing.T) {
	sink, _ := newTestSink(t, time.Hour)
	ctx := context.Background()

	base := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)
	if err := sink.Write(ctx, closedAt(uuid.New(), domain.ExecutionStatusSuccess, base)); err != nil {
		t.Fatal(err)
	}

	n, err := sink.CountRange(ctx, uuid.New().String(), "success", base, base.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("other automation count = %d, want 0", n)
	}
}

func TestRedisSink_RecordSwallowsErrors(t *testing.T) {
	sink, mr := newTestSink(t, time.Hour)
	mr.Close()

	// Advisory counters: a dead Redis must not panic or block the caller.
	sink.Record(context.Background(), closedAt(uuid.New(), domain.ExecutionStatusSuccess, time.Now()))
}
