package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/autoloop-io/autoloop/internal/domain"
)

const (
	defaultWatchInterval = time.Second
	minWatchInterval     = 250 * time.Millisecond
)

// Watch polls an execution record and streams it to the returned channel
// whenever its status changes, closing the channel once the record turns
// terminal or the context ends. The first observation is always sent.
func (e *Engine) Watch(ctx context.Context, executionID uuid.UUID, interval time.Duration) (<-chan domain.ExecutionRecord, error) {
	if interval <= 0 {
		interval = defaultWatchInterval
	}
	if interval < minWatchInterval {
		interval = minWatchInterval
	}

	first, err := e.ledger.Get(ctx, executionID)
	if err != nil {
		return nil, err
	}

	out := make(chan domain.ExecutionRecord, 1)
	out <- first
	if first.Status.Terminal() {
		close(out)
		return out, nil
	}

	go func() {
		defer close(out)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		last := first.Status
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			rec, err := e.ledger.Get(ctx, executionID)
			if err != nil {
				continue
			}
			if rec.Status == last {
				continue
			}
			last = rec.Status

			select {
			case out <- rec:
			case <-ctx.Done():
				return
			}
			if rec.Status.Terminal() {
				return
			}
		}
	}()

	return out, nil
}
