package retry

import (
	"math"
	"math/rand"
	"time"
)

// Backoff calculates exponential delays with jitter for a policy
type Backoff struct {
	initialDelay time.Duration
	maxDelay     time.Duration
	multiplier   float64
	jitter       float64
}

// NewBackoff creates a backoff calculator from a policy
func NewBackoff(policy Policy) *Backoff {
	return &Backoff{
		initialDelay: policy.InitialDelay,
		maxDelay:     policy.MaxDelay,
		multiplier:   policy.Multiplier,
		jitter:       policy.Jitter,
	}
}

// Calculate returns the delay before the given attempt. Attempts are
// 1-based: attempt 1 waits the initial delay, each subsequent attempt
// multiplies it, capped at the policy maximum.
func (b *Backoff) Calculate(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := float64(b.initialDelay) * math.Pow(b.multiplier, float64(attempt-1))
	if delay > float64(b.maxDelay) {
		delay = float64(b.maxDelay)
	}

	if b.jitter > 0 {
		// Spread delays across (1±jitter) to avoid thundering herds
		span := delay * b.jitter
		delay = delay - span + rand.Float64()*2*span
	}

	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}
