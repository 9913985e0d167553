package indexer

import (
	"context"
	"time"
)

// maxRetryDelay caps the doubling backoff. Once reached, every further
// retry waits exactly maxRetryDelay.
const maxRetryDelay = 30 * time.Second

// withRetry calls fn until it succeeds or maxRetries retries were spent,
// doubling the delay between attempts up to maxRetryDelay. A cancelled
// context ends the loop at once with ctx.Err().
func withRetry(ctx context.Context, maxRetries int, baseDelay time.Duration, fn func(context.Context) error) error {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}

	delay := baseDelay
	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt >= maxRetries {
			return err
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay = nextDelay(delay)
	}
}

func nextDelay(delay time.Duration) time.Duration {
	delay *= 2
	if delay > maxRetryDelay {
		return maxRetryDelay
	}
	return delay
}
