package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func fastPolicy() Policy {
	return Policy{
		MaxRetries:   3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestPolicyValidate(t *testing.T) {
	assert.NoError(t, DefaultPolicy().Validate())

	cases := []struct {
		name   string
		mutate func(*Policy)
	}{
		{name: "negative retries", mutate: func(p *Policy) { p.MaxRetries = -1 }},
		{name: "zero initial delay", mutate: func(p *Policy) { p.InitialDelay = 0 }},
		{name: "max below initial", mutate: func(p *Policy) { p.MaxDelay = p.InitialDelay - 1 }},
		{name: "multiplier below one", mutate: func(p *Policy) { p.Multiplier = 0.5 }},
		{name: "jitter above one", mutate: func(p *Policy) { p.Jitter = 1.5 }},
		{name: "negative jitter", mutate: func(p *Policy) { p.Jitter = -0.1 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := DefaultPolicy()
			tc.mutate(&p)
			assert.Error(t, p.Validate())
		})
	}
}

func TestBackoffGrowsExponentiallyAndCaps(t *testing.T) {
	b := NewBackoff(Policy{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
	})

	assert.Equal(t, 100*time.Millisecond, b.Calculate(1))
	assert.Equal(t, 200*time.Millisecond, b.Calculate(2))
	assert.Equal(t, 400*time.Millisecond, b.Calculate(3))
	assert.Equal(t, 800*time.Millisecond, b.Calculate(4))
	assert.Equal(t, time.Second, b.Calculate(5))
	assert.Equal(t, time.Second, b.Calculate(10))

	// Attempts below 1 are clamped.
	assert.Equal(t, 100*time.Millisecond, b.Calculate(0))
	assert.Equal(t, 100*time.Millisecond, b.Calculate(-3))
}

func TestBackoffJitterStaysWithinBounds(t *testing.T) {
	b := NewBackoff(Policy{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
		Jitter:       0.5,
	})

	for i := 0; i < 100; i++ {
		d := b.Calculate(1)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 150*time.Millisecond)
	}
}

func TestRetrierSucceedsAfterTransientFailures(t *testing.T) {
	policy := fastPolicy()
	policy.RetryableFunc = func(error) bool { return true }

	attempts := 0
	err := Do(context.Background(), policy, zap.NewNop(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("still flaky")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetrierStopsOnNonRetryableError(t *testing.T) {
	boom := errors.New("schema violation")
	attempts := 0

	// Without a classifier or a self-classifying error nothing is retried.
	err := Do(context.Background(), fastPolicy(), zap.NewNop(), func() error {
		attempts++
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrMaxRetriesExceeded)
	assert.Equal(t, 1, attempts)
}

type classifiedError struct {
	retryable bool
}

func (e *classifiedError) Error() string     { return "classified" }
func (e *classifiedError) IsRetryable() bool { return e.retryable }

func TestRetrierHonorsErrorSelfClassification(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastPolicy(), zap.NewNop(), func() error {
		attempts++
		return &classifiedError{retryable: false}
	})
	assert.Error(t, err)
	assert.Equal(t, 1, attempts)

	attempts = 0
	err = Do(context.Background(), fastPolicy(), zap.NewNop(), func() error {
		attempts++
		return &classifiedError{retryable: true}
	})
	assert.ErrorIs(t, err, ErrMaxRetriesExceeded)
	assert.Equal(t, 4, attempts)
}

func TestRetrierExhaustsRetries(t *testing.T) {
	policy := fastPolicy()
	policy.MaxRetries = 2
	policy.RetryableFunc = func(error) bool { return true }

	attempts := 0
	err := Do(context.Background(), policy, zap.NewNop(), func() error {
		attempts++
		return errors.New("never recovers")
	})

	assert.ErrorIs(t, err, ErrMaxRetriesExceeded)
	assert.Equal(t, 3, attempts)
}

func TestRetrierStopsOnContextCancel(t *testing.T) {
	policy := fastPolicy()
	policy.InitialDelay = 100 * time.Millisecond
	policy.MaxDelay = time.Second
	policy.RetryableFunc = func(error) bool { return true }

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := Do(ctx, policy, zap.NewNop(), func() error {
		attempts++
		return errors.New("unavailable")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestDoWithResultReturnsValue(t *testing.T) {
	policy := fastPolicy()
	policy.RetryableFunc = func(error) bool { return true }

	attempts := 0
	result, err := DoWithResult(context.Background(), policy, zap.NewNop(), func() (interface{}, error) {
		attempts++
		if attempts < 2 {
			return nil, errors.New("warming up")
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, result)
}

func TestNewRetrierPanicsOnInvalidPolicy(t *testing.T) {
	assert.Panics(t, func() {
		NewRetrier(Policy{MaxRetries: -1, InitialDelay: time.Second, MaxDelay: time.Minute, Multiplier: 2}, zap.NewNop())
	})
}
