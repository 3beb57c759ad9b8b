package retry

import (
	"errors"
	"time"
)

// ErrMaxRetriesExceeded wraps the last error once a policy is exhausted
var ErrMaxRetriesExceeded = errors.New("max retries exceeded")

// Policy defines how an operation is retried. MaxRetries counts retries
// after the first attempt, so MaxRetries=3 allows four executions.
type Policy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	Multiplier    float64
	Jitter        float64
	RetryableFunc func(error) bool
}

// DefaultPolicy is a conservative policy for transient infrastructure errors
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:   3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.2,
	}
}

// Validate checks the policy parameters
func (p Policy) Validate() error {
	if p.MaxRetries < 0 {
		return errors.New("max retries cannot be negative")
	}
	if p.InitialDelay <= 0 {
		return errors.New("initial delay must be positive")
	}
	if p.MaxDelay < p.InitialDelay {
		return errors.New("max delay must be at least the initial delay")
	}
	if p.Multiplier < 1.0 {
		return errors.New("multiplier must be at least 1.0")
	}
	if p.Jitter < 0 || p.Jitter > 1.0 {
		return errors.New("jitter must be between 0 and 1")
	}
	return nil
}
