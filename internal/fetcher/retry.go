package fetcher

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// RetryPolicy bounds how an HTTP operation is retried.
type RetryPolicy struct {
	// MaxAttempts caps total attempts; zero leaves only MaxElapsed as the budget.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxElapsed  time.Duration
	// Jitter is the randomization factor applied to each delay, in [0, 1].
	Jitter float64
	// Retryable defaults to IsTransient.
	Retryable func(error) bool
}

func (p RetryPolicy) retryable(err error) bool {
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return IsTransient(err)
}

func (p RetryPolicy) newBackOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.Multiplier = 2
	exp.RandomizationFactor = p.Jitter
	if p.BaseDelay > 0 {
		exp.InitialInterval = p.BaseDelay
	}
	if p.MaxDelay > 0 {
		exp.MaxInterval = p.MaxDelay
	}
	exp.MaxElapsedTime = p.MaxElapsed
	if p.MaxElapsed <= 0 && p.MaxAttempts <= 0 {
		exp.MaxElapsedTime = 2 * time.Minute
	}

	var b backoff.BackOff = exp
	if p.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1))
	}
	return backoff.WithContext(b, ctx)
}

// Do runs op until it succeeds, returns a non-retryable error, or the budget runs out.
// The last error is returned unchanged.
func (p RetryPolicy) Do(ctx context.Context, logger zerolog.Logger, op func(ctx context.Context) error) error {
	attempt := 0
	operation := func() error {
		attempt++
		err := op(ctx)
		if err != nil && !p.retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn().Err(err).Int("attempt", attempt).Dur("wait", wait).Msg("request failed, retrying")
	}
	return backoff.RetryNotify(operation, p.newBackOff(ctx), notify)
}
