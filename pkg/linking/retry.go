package linking

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/japaniel/lexlink/pkg/span"
)

// call runs a storage operation with the manager's per-attempt timeout and
// retries transient failures with exponential backoff. NotFound errors pass
// through unchanged; anything else that does not succeed ends up wrapped in a
// *span.PersistenceError.
func call[T any](ctx context.Context, m *Manager, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := max(m.MaxAttempts, 1)
	backoff := m.Backoff

	var lastErr error
	for n := 1; n <= attempts; n++ {
		v, timedOut, err := attempt(ctx, m.Timeout, fn)
		if err == nil {
			return v, nil
		}
		if errors.Is(err, span.ErrNotFound) {
			return zero, err
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		lastErr = err

		if !(timedOut || span.IsTransient(err)) || n == attempts {
			m.Metrics.PersistenceFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
			return zero, &span.PersistenceError{Op: op, Attempts: n, Err: err}
		}

		m.logger().Warn("retrying storage call",
			"op", op,
			"attempt", n,
			"backoff", backoff,
			"err", err,
		)
		m.Metrics.PersistenceRetries.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))

		if backoff > 0 {
			t := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				t.Stop()
				return zero, ctx.Err()
			case <-t.C:
			}
			backoff *= 2
		}
	}
	return zero, &span.PersistenceError{Op: op, Attempts: attempts, Err: lastErr}
}

// attempt runs fn once. timedOut reports whether the per-attempt deadline,
// not the caller's context, ended the call.
func attempt[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (v T, timedOut bool, err error) {
	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	v, err = fn(callCtx)
	if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		timedOut = true
	}
	return v, timedOut, err
}
