// Package health aggregates component health checks for the probe endpoints.
// Critical checks (database, cache) mark the service unhealthy when they
// fail; non-critical checks (individual chain monitors) only degrade it, so
// one chain's outage is never reported as total failure.
package health

import (
	"context"
	"sync"
	"time"
)

// Status is the aggregate or per-check health state
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Check is the result of a single component check
type Check struct {
	Status   Status                 `json:"status"`
	Message  string                 `json:"message,omitempty"`
	Duration time.Duration          `json:"duration_ns,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// WithMetadata returns a copy of the check with the key set
func (c Check) WithMetadata(key string, value interface{}) Check {
	meta := make(map[string]interface{}, len(c.Metadata)+1)
	for k, v := range c.Metadata {
		meta[k] = v
	}
	meta[key] = value
	c.Metadata = meta
	return c
}

// Healthy builds a passing check
func Healthy(message string) Check {
	return Check{Status: StatusHealthy, Message: message}
}

// Degraded builds a degraded check
func Degraded(message string) Check {
	return Check{Status: StatusDegraded, Message: message}
}

// Unhealthy builds a failing check
func Unhealthy(message string) Check {
	return Check{Status: StatusUnhealthy, Message: message}
}

// CheckFunc probes one component
type CheckFunc func(ctx context.Context) Check

type registeredCheck struct {
	name     string
	critical bool
	fn       CheckFunc
}

// HealthChecker runs a set of registered component checks
type HealthChecker struct {
	mu      sync.RWMutex
	checks  []registeredCheck
	timeout time.Duration
}

// NewHealthChecker creates a checker with a per-run timeout
func NewHealthChecker(timeout time.Duration) *HealthChecker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HealthChecker{timeout: timeout}
}

// Register adds a critical check; its failure marks the service unhealthy
func (h *HealthChecker) Register(name string, fn CheckFunc) {
	h.register(name, true, fn)
}

// RegisterNonCritical adds a check whose failure only degrades the service
func (h *HealthChecker) RegisterNonCritical(name string, fn CheckFunc) {
	h.register(name, false, fn)
}

func (h *HealthChecker) register(name string, critical bool, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, registeredCheck{name: name, critical: critical, fn: fn})
}

// Check runs all registered checks and aggregates their status
func (h *HealthChecker) Check(ctx context.Context) (Status, map[string]Check) {
	h.mu.RLock()
	checks := make([]registeredCheck, len(h.checks))
	copy(checks, h.checks)
	h.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	results := make(map[string]Check, len(checks))
	aggregate := StatusHealthy

	for _, rc := range checks {
		start := time.Now()
		result := rc.fn(ctx)
		result.Duration = time.Since(start)
		results[rc.name] = result

		switch result.Status {
		case StatusUnhealthy:
			if rc.critical {
				aggregate = StatusUnhealthy
			} else if aggregate != StatusUnhealthy {
				aggregate = StatusDegraded
			}
		case StatusDegraded:
			if aggregate == StatusHealthy {
				aggregate = StatusDegraded
			}
		}
	}

	return aggregate, results
}

// HealthResponse is the JSON body returned by the probe endpoints
type HealthResponse struct {
	Status    Status           `json:"status"`
	Timestamp time.Time        `json:"timestamp"`
	Version   string           `json:"version"`
	Checks    map[string]Check `json:"checks"`
}
