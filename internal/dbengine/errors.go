package dbengine

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotInitialized is returned by query/execute when the engine has no
// connection and graceful degradation is disabled.
var ErrNotInitialized = errors.New("dbengine: not initialized")

// ErrQueueCleared is returned to every item pending in the write queue when
// close() or the queue's own clear() runs while they are still waiting.
var ErrQueueCleared = errors.New("dbengine: queue cleared")

// ErrClosed names the closed-engine condition. No Engine method returns it:
// operations issued after Close fail with ErrNotInitialized, or take the
// graceful-degradation path when that is enabled.
var ErrClosed = errors.New("dbengine: closed")

// TimeoutError reports that with_timeout lost its race against the deadline.
// It is never retried by with_retry (see IsRetryable).
type TimeoutError struct {
	Operation string
	Elapsed   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: timed out after %s", e.Operation, e.Elapsed)
}

// MigrationFailedError reports which migration halted a migrate() run and
// preserves the underlying driver error.
type MigrationFailedError struct {
	Version int
	Name    string
	Cause   error
}

func (e *MigrationFailedError) Error() string {
	return fmt.Sprintf("migration %d (%s) failed: %v", e.Version, e.Name, e.Cause)
}

func (e *MigrationFailedError) Unwrap() error { return e.Cause }

// retryableSubstrings classifies an error message as a transient BUSY/LOCKED
// condition. Matching is case-insensitive and substring-based, following the
// driver convention of prefixing SQLite error text with the result code.
var retryableSubstrings = []string{
	"sqlite_busy",
	"database is locked",
	"database is busy",
}

// IsRetryable reports whether err belongs to the BUSY/LOCKED class that
// with_retry will retry by default. A Timeout is never retryable, regardless
// of the message it carries.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, substr := range retryableSubstrings {
		if strings.Contains(msg, substr) {
			return true
		}
	}
	return false
}
