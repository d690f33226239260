// Package retry wraps remote calls with a bounded, constant-delay retry.
//
// Every error is retried identically, including ones that are arguably
// not retryable (auth failures, permanent 4xx responses). This mirrors
// the behavior the audit is compatibility-tested against; classifying
// errors is a known possible improvement but must keep the attempt-count
// and delay contract intact.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrExhausted marks a call that failed on every attempt. The last
// underlying error is wrapped alongside it.
var ErrExhausted = errors.New("retries exhausted")

// Defaults per the audited API's observed tolerance.
const (
	DefaultMaxAttempts = 3
	DefaultDelay       = 5 * time.Second
)

// Options bound the retry loop.
type Options struct {
	MaxAttempts int
	Delay       time.Duration
}

// DefaultOptions returns the standard retry budget.
func DefaultOptions() Options {
	return Options{MaxAttempts: DefaultMaxAttempts, Delay: DefaultDelay}
}

// Do runs op until it succeeds or the attempt budget is spent. It blocks
// the caller for up to (MaxAttempts-1) x Delay between failures; context
// cancellation cuts the wait short.
func Do[T any](ctx context.Context, opts Options, op func(ctx context.Context) (T, error)) (T, error) {
	attempts := opts.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(opts.Delay), uint64(attempts-1)),
		ctx,
	)

	result, err := backoff.RetryWithData(func() (T, error) {
		return op(ctx)
	}, policy)
	if err != nil {
		var zero T
		// A cut-short wait is cancellation, not a spent budget.
		if ctx.Err() != nil {
			return zero, fmt.Errorf("retry canceled: %w", err)
		}
		return zero, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempts, err)
	}
	return result, nil
}
