package storage

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// RetryPolicy bounds WithRetry. Delays double per attempt up to MaxDelay,
// with up to one extra delay of jitter.
type RetryPolicy struct {
	Retries   int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// logWritePolicy covers event log COPY and DELETE. The buffer flush loop
// retries failed batches on its own, so this stays short.
var logWritePolicy = RetryPolicy{Retries: 3, BaseDelay: 20 * time.Millisecond, MaxDelay: 500 * time.Millisecond}

// retryable reports whether err is a transient Postgres failure: a
// serialization conflict, a deadlock, a lock timeout, a connection-class
// error, or anything pgconn marks as safe to resend.
func retryable(err error) bool {
	if pgconn.SafeToRetry(err) {
		return true
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001", "40P01", "55P03":
		return true
	}
	return strings.HasPrefix(pgErr.Code, "08")
}

// WithRetry runs fn, retrying transient failures per p. The last error is
// returned when retries run out; ctx cancellation ends the wait early.
func WithRetry(ctx context.Context, p RetryPolicy, fn func(context.Context) error) error {
	delay := p.BaseDelay
	var err error
	for attempt := 0; ; attempt++ {
		if err = fn(ctx); err == nil || !retryable(err) || attempt == p.Retries {
			return err
		}
		wait := delay
		if delay > 0 {
			wait += time.Duration(rand.Int64N(int64(delay))) //nolint:gosec // jitter
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		if delay *= 2; p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
}
