package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	maxTxAttempts  = 4
	retryBackoff   = 25 * time.Millisecond
	retryJitterCap = 25 * time.Millisecond
)

// withRetry re-runs fn on transient storage failures only. Serialization
// conflicts and dropped connections are transient; everything else,
// including every engine domain error, surfaces on the first attempt.
func withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		if attempt > 0 {
			backoff := retryBackoff*time.Duration(1<<(attempt-1)) + time.Duration(rand.Int63n(int64(retryJitterCap)))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		err = fn()
		if err == nil || !isTransient(err) {
			return err
		}
	}
	return err
}

func isTransient(err error) bool {
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.SQLState() {
		case "40001", "40P01": // serialization failure, deadlock detected
			return true
		}
		// Class 08: connection exceptions.
		if len(pgErr.SQLState()) >= 2 && pgErr.SQLState()[:2] == "08" {
			return true
		}
	}
	return false
}
