package pg

import (
	"context"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// retryMaxElapsed bounds how long withRetry keeps retrying a transient
// error before giving up and surfacing it.
const retryMaxElapsed = 30 * time.Second

func newRetryBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = retryMaxElapsed
	return bo
}

// isRetryableError reports whether err is a transient connection failure
// worth retrying rather than a real application error. Matches by
// substring the way upstream driver errors are conventionally checked,
// covering both pgx's own wording and the Postgres wire error classes
// for admin shutdown (57P01) and connection failure (08006).
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "conn closed"),
		strings.Contains(errStr, "closed pool"),
		strings.Contains(errStr, "broken pipe"),
		strings.Contains(errStr, "connection reset"),
		strings.Contains(errStr, "connection refused"),
		strings.Contains(errStr, "eof"),
		strings.Contains(errStr, "i/o timeout"),
		strings.Contains(errStr, "terminating connection due to administrator command"),
		strings.Contains(errStr, "57p01"),
		strings.Contains(errStr, "08006"),
		strings.Contains(errStr, "the database system is starting up"),
		strings.Contains(errStr, "too many connections"):
		return true
	}
	return false
}

// withRetry runs op, retrying transient errors with exponential backoff
// up to retryMaxElapsed. A single attempt is charged even for the
// non-retrying case, so callers needn't special-case it.
func withRetry(ctx context.Context, m *metrics, op func() error) error {
	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		err := op()
		if err == nil {
			return nil
		}
		if isRetryableError(err) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(newRetryBackoff(), ctx))
	if attempts > 1 && m != nil {
		m.retryCount.Add(ctx, int64(attempts-1))
	}
	return err
}
