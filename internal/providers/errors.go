package providers

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// QuotaError indicates the collaborator's quota or rate limit is
// exhausted. Distinct from transient failures: the scheduler backs off
// far longer, retries far more, and surfaces a sticky advisory instead of
// a per-page error.
type QuotaError struct {
	Message    string
	RetryAfter time.Duration
	StatusCode int
}

func (e *QuotaError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s (retry after %s)", e.Message, e.RetryAfter)
	}
	return e.Message
}

// AsQuotaError reports whether err is (or wraps) a QuotaError.
func AsQuotaError(err error) (*QuotaError, bool) {
	var qe *QuotaError
	if errors.As(err, &qe) {
		return qe, true
	}
	return nil, false
}

// IsTransient reports whether err looks like a short-lived collaborator
// or network failure worth a quick bounded retry. Quota errors are not
// transient; they follow the long-backoff path.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if _, ok := AsQuotaError(err); ok {
		return false
	}

	errStr := err.Error()
	if strings.Contains(errStr, "status 500") ||
		strings.Contains(errStr, "status 502") ||
		strings.Contains(errStr, "status 503") ||
		strings.Contains(errStr, "status 504") {
		return true
	}
	if strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") {
		return true
	}
	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "EOF") {
		return true
	}
	return false
}

// parseRetryAfter parses an HTTP Retry-After header value (seconds form).
func parseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
