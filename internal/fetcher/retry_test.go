package fetcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicyStopsOnPermanentError(t *testing.T) {
	attempts := 0
	permanent := errors.New("bad request")

	err := fastRetry.Do(context.Background(), noopLogger(), func(context.Context) error {
		attempts++
		return permanent
	})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, attempts)
}

func TestRetryPolicyCustomPredicate(t *testing.T) {
	attempts := 0
	flaky := errors.New("flaky")
	policy := fastRetry
	policy.Retryable = func(err error) bool { return errors.Is(err, flaky) }

	err := policy.Do(context.Background(), noopLogger(), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return flaky
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryPolicyElapsedBudget(t *testing.T) {
	policy := RetryPolicy{BaseDelay: 5 * time.Millisecond, MaxDelay: 5 * time.Millisecond, MaxElapsed: 30 * time.Millisecond}
	start := time.Now()

	err := policy.Do(context.Background(), noopLogger(), func(context.Context) error {
		return &TransientNetworkError{URL: "http://feed", Err: errors.New("timeout")}
	})
	assert.True(t, IsTransient(err))
	assert.Less(t, time.Since(start), time.Second)
}

func TestRetryPolicyHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	policy := RetryPolicy{BaseDelay: time.Millisecond, MaxElapsed: time.Minute}

	err := policy.Do(ctx, noopLogger(), func(context.Context) error {
		attempts++
		if attempts == 2 {
			cancel()
		}
		return &TransientNetworkError{URL: "http://feed", Err: errors.New("reset")}
	})
	assert.Error(t, err)
	assert.LessOrEqual(t, attempts, 3)
}

func TestRetryPolicySingleAttempt(t *testing.T) {
	attempts := 0
	_ = RetryPolicy{MaxAttempts: 1}.Do(context.Background(), noopLogger(), func(context.Context) error {
		attempts++
		return &TransientNetworkError{URL: "http://feed", Err: errors.New("reset")}
	})
	assert.Equal(t, 1, attempts)
}
