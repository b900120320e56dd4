package storage

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// serializationConflict reports whether err is a conflict a fresh
// transaction attempt can resolve: a serialization failure (40001) or a
// detected deadlock (40P01).
func serializationConflict(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

// WithRetry runs fn and re-runs it after serialization conflicts, up to
// maxRetries re-runs. The delay between attempts doubles from delay, with
// random jitter added so competing transactions do not collide again on
// the same schedule. Non-conflict errors return immediately.
func WithRetry(ctx context.Context, maxRetries int, delay time.Duration, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil || !serializationConflict(err) || attempt == maxRetries {
			return err
		}
		jitter := time.Duration(rand.Int64N(int64(delay)))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay + jitter):
		}
		delay *= 2
	}
}
