package connectivity

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ardhilink/plotsync/internal/source"
)

// linearBackOff waits attempt*step between tries: 2s, 4s, 6s with the
// default 2s step. cenkalti/backoff ships constant and exponential policies
// only, so the refresh policy implements the BackOff interface itself.
type linearBackOff struct {
	step    time.Duration
	attempt int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.attempt++
	return time.Duration(b.attempt) * b.step
}

func (b *linearBackOff) Reset() {
	b.attempt = 0
}

// Retry runs op up to attempts times with linearly increasing backoff.
// Business-rule and not-found errors are terminal immediately; only
// transport failures are retried. After exhausting attempts the last error
// is returned, never swallowed.
func Retry(ctx context.Context, attempts int, step time.Duration, op func() error) error {
	if attempts < 1 {
		attempts = 1
	}

	wrapped := func() error {
		err := op()
		if err == nil {
			return nil
		}
		if errors.Is(err, source.ErrRejected) || errors.Is(err, source.ErrNotFound) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(&linearBackOff{step: step}, uint64(attempts-1)),
		ctx,
	)
	return backoff.Retry(wrapped, policy)
}
