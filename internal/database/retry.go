package database

import (
	"context"
	"errors"
	"strings"
	"time"

	"wabridge/internal/constants"
	"wabridge/internal/retry"
)

var dbBackoff = retry.BackoffConfig{
	InitialDelay: 50 * time.Millisecond,
	MaxDelay:     time.Duration(constants.DefaultMaxBackoffMs) * time.Millisecond,
	Multiplier:   2,
	MaxAttempts:  constants.DefaultStoreRetries,
	Jitter:       true,
}

// withRetry runs operation, retrying transient sqlite errors.
func withRetry(ctx context.Context, operation func() error) error {
	return retry.NewBackoff(dbBackoff).RetryWithPredicate(ctx, operation, isRetryableDBError)
}

// isRetryableDBError determines if a database error is worth retrying
func isRetryableDBError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	errStr := err.Error()
	switch {
	case strings.Contains(errStr, "database is locked"),
		strings.Contains(errStr, "database table is locked"),
		strings.Contains(errStr, "SQLITE_BUSY"),
		strings.Contains(errStr, "disk I/O error"):
		return true
	default:
		return false
	}
}
