package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

const retryBaseDelay = 5 * time.Millisecond

var errRetriesExhausted = errors.New("write conflict retries exhausted")

// withRetry runs attempt until it succeeds, fails with a non-transient error,
// or maxAttempts transient failures occur.
func withRetry(ctx context.Context, maxAttempts int, attempt func() error, onRetry func(int, error)) error {
	var lastErr error
	for i := 1; i <= maxAttempts; i++ {
		err := attempt()
		if err == nil {
			return nil
		}
		if !isRetryableWriteConflict(err) {
			return err
		}
		lastErr = err
		if i == maxAttempts {
			break
		}
		if onRetry != nil {
			onRetry(i, err)
		}
		timer := time.NewTimer(time.Duration(i) * retryBaseDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return fmt.Errorf("%w: %v", errRetriesExhausted, lastErr)
}

// isRetryableWriteConflict recognizes serialization failures and lock
// contention from either supported database driver.
func isRetryableWriteConflict(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01", "55P03":
			return true
		}
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "database is locked") ||
		strings.Contains(message, "sqlite_busy") ||
		strings.Contains(message, "database table is locked")
}
