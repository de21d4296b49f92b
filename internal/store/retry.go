package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/procurekit/procurekit/internal/entity"
)

// withRetry runs fn, retrying transient sqlite failures up to the configured
// bound with fixed backoff. Logical failures (conflict, not-found,
// validation) are returned immediately - the caller owns that retry
// decision, not the store.
func (s *Store) withRetry(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < s.retryAttempts; attempt++ {
		if attempt > 0 {
			s.logger.Debug("retrying transient store failure",
				"op", op, "attempt", attempt, "error", lastErr)
			select {
			case <-time.After(s.retryBackoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isTransient(lastErr) {
			return lastErr
		}
	}
	return entity.NewStoreUnavailableError(op, fmt.Errorf("after %d attempts: %w", s.retryAttempts, lastErr))
}

// isTransient reports whether the error is a sqlite busy/locked condition
// worth retrying. Anything logical is final.
func isTransient(err error) bool {
	var sqErr sqlite3.Error
	if errors.As(err, &sqErr) {
		return sqErr.Code == sqlite3.ErrBusy || sqErr.Code == sqlite3.ErrLocked
	}
	// The driver sometimes surfaces lock contention as plain errors.
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked")
}

func isNotFoundErr(err error) bool { return entity.IsNotFound(err) }
func isConflictErr(err error) bool { return entity.IsConflict(err) }
