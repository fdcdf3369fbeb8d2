package store

import (
	"context"
	"errors"
	"time"

	"crm-platform/internal/obs"
	"crm-platform/pkg/logger"

	"github.com/avast/retry-go/v5"
)

// RetryOnConflict runs fn until it succeeds, fails with an error other than
// ErrConflict, or attempts are exhausted. The error of the last attempt is
// returned, so callers still see ErrConflict after the final try.
func RetryOnConflict(ctx context.Context, attempts uint, fn func(ctx context.Context) error) error {
	if attempts == 0 {
		attempts = 1
	}

	var lastErr error
	try := 0
	err := retry.New(
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(5*time.Millisecond),
		retry.RetryIf(func(err error) bool { return errors.Is(err, ErrConflict) }),
	).Do(func() error {
		try++
		lastErr = fn(ctx)
		if errors.Is(lastErr, ErrConflict) {
			obs.ConflictRetries.Inc()
			logger.From(ctx).Warn("write conflict", "attempt", try, "max_attempts", attempts)
		}
		return lastErr
	})
	if err == nil {
		return nil
	}
	if lastErr != nil {
		return lastErr
	}
	return err
}
