package database

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"time"
)

type TxOptions struct {
	IsolationLevel sql.IsolationLevel
	ReadOnly       bool
	MaxRetries     int
	BaseBackoff    time.Duration
}

func DefaultTxOptions() TxOptions {
	return TxOptions{
		IsolationLevel: sql.LevelReadCommitted,
		ReadOnly:       false,
		MaxRetries:     3,
		BaseBackoff:    50 * time.Millisecond,
	}
}

// RetryPolicy bounds Retry. OnRetry, when set, is called before each backoff
// sleep with the attempt that just failed.
type RetryPolicy struct {
	MaxRetries  int
	BaseBackoff time.Duration
	OnRetry     func(attempt int, err error, wait time.Duration)
}

func WithTransaction(ctx context.Context, db *sql.DB, opts TxOptions, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, &sql.TxOptions{
		Isolation: opts.IsolationLevel,
		ReadOnly:  opts.ReadOnly,
	})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

func WithRetry(ctx context.Context, db *sql.DB, opts TxOptions, fn func(*sql.Tx) error) error {
	policy := RetryPolicy{MaxRetries: opts.MaxRetries, BaseBackoff: opts.BaseBackoff}
	return Retry(ctx, policy, func(ctx context.Context, _ int) error {
		return WithTransaction(ctx, db, opts, fn)
	})
}

// Retry runs fn until it succeeds, fails permanently, or the retry budget is
// spent. Backoff doubles per attempt with up to 25% jitter.
func Retry(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context, attempt int) error) error {
	backoff := policy.BaseBackoff
	if backoff <= 0 {
		backoff = 50 * time.Millisecond
	}

	for attempt := 0; ; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}

		if !IsRetryable(err) {
			return err
		}

		if attempt >= policy.MaxRetries {
			return fmt.Errorf("max retries (%d) exceeded: %w", policy.MaxRetries, err)
		}

		jitter := time.Duration(rand.Int63n(int64(backoff/4) + 1))
		sleepDuration := backoff + jitter

		if policy.OnRetry != nil {
			policy.OnRetry(attempt, err, sleepDuration)
		}

		timer := time.NewTimer(sleepDuration)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}

		backoff *= 2
	}
}
