package importer

import (
	"context"
	"fmt"
	"time"
)

// RetryPolicy retries an operation with doubling delays. Meant for the
// initial pull against a flaky aggregator, not for user-visible latency
// paths.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond}
}

// Do runs op until it succeeds, attempts run out, or ctx is cancelled.
func (p RetryPolicy) Do(ctx context.Context, op func() error) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	delay := p.BaseDelay
	var last error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if last = op(); last == nil {
			return nil
		}
		if attempt == p.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return fmt.Errorf("importer: gave up after %d attempts: %w", p.MaxAttempts, last)
}
