// Package retry implements the composable retry primitives named in §9:
// retry(n, delay, op) for adapter calls, and a distinct Serializable
// wrapper that only retries on Postgres serialization-conflict codes.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/apployd/engine/internal/apperr"
)

// Budget is the bounded-retry policy a pipeline stage uses (§4.K): at most
// Retries additional attempts after the first, spaced Delay apart.
type Budget struct {
	Retries int
	Delay   time.Duration
}

// Do runs op, retrying up to budget.Retries additional times with a fixed
// delay between attempts. It stops immediately, without retrying, when op
// returns apperr.ErrDeploymentCanceled (§4.K's cancellation guard).
func Do(ctx context.Context, budget Budget, op func(ctx context.Context) error) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		opErr := op(ctx)
		if opErr == nil {
			return struct{}{}, nil
		}
		if errors.Is(opErr, apperr.ErrDeploymentCanceled) {
			return struct{}{}, backoff.Permanent(opErr)
		}
		return struct{}{}, opErr
	},
		backoff.WithBackOff(&backoff.ConstantBackOff{Interval: budget.Delay}),
		backoff.WithMaxTries(uint(budget.Retries)+1),
	)
	return err
}

// SerializationConflict reports whether err represents a Postgres
// serialization failure (SQLSTATE 40001/40P01) that is safe to retry.
type SerializationConflict interface {
	IsSerializationConflict() bool
}

// Serializable runs txFn, retrying on serialization conflicts up to
// maxAttempts times with exponential backoff, distinct from Do because it
// only retries one specific class of error (§4.I).
func Serializable(ctx context.Context, maxAttempts int, txFn func(ctx context.Context) error) error {
	attempts := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		txErr := txFn(ctx)
		if txErr == nil {
			return struct{}{}, nil
		}
		var sc SerializationConflict
		if errors.As(txErr, &sc) && sc.IsSerializationConflict() {
			if attempts >= maxAttempts {
				return struct{}{}, backoff.Permanent(apperr.ErrRetryableSerializationFailure)
			}
			return struct{}{}, txErr
		}
		return struct{}{}, backoff.Permanent(txErr)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(uint(maxAttempts)),
	)
	return err
}
