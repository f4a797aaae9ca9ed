package db

import (
	"context"

	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

// DefaultAttempts is used when callers pass a non-positive attempt count.
const DefaultAttempts = 3

// Retry reruns fn from scratch while it fails with a consistency error. onRetry, when set, is
// invoked before every new attempt.
func Retry(ctx context.Context, attempts int, fn func(context.Context) error, onRetry func(attempt int, err error)) error {
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = fn(ctx)
		if err == nil || !shared.IsRetryable(err) {
			return err
		}
		if attempt < attempts && onRetry != nil {
			onRetry(attempt, err)
		}
	}
	return err
}
