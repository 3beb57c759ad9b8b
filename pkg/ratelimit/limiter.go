// Package ratelimit implements a Redis-backed sliding window limiter shared
// by every relayer replica. The in-process per-IP limiter in the API
// middleware bounds anonymous traffic; this one bounds authenticated traffic
// per token subject, so one retry-looping attester cannot starve the rest no
// matter which replica its requests land on.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Config defines the limiter tiers. A zero limit disables its tier.
type Config struct {
	// SubjectLimit caps requests per subject per window.
	SubjectLimit  int64
	SubjectWindow time.Duration

	// EndpointLimits override the subject limit for specific route
	// templates, keyed by the gin route path.
	EndpointLimits map[string]EndpointLimit
}

// EndpointLimit is a per-route override
type EndpointLimit struct {
	Limit  int64
	Window time.Duration
}

// Result reports the outcome of one check
type Result struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
	LimitedBy  string
}

// Limiter is a sliding-window rate limiter over Redis sorted sets
type Limiter struct {
	redis  *redis.Client
	config Config
	logger *zap.Logger
}

// NewLimiter creates a limiter over an existing Redis client
func NewLimiter(redisClient *redis.Client, config Config, logger *zap.Logger) *Limiter {
	if config.SubjectWindow <= 0 {
		config.SubjectWindow = time.Minute
	}
	return &Limiter{
		redis:  redisClient,
		config: config,
		logger: logger,
	}
}

// Check records one request for the subject and reports whether it stays
// inside the window. The endpoint is the route template, not the raw path.
func (l *Limiter) Check(ctx context.Context, subject, endpoint string) (*Result, error) {
	if l.config.SubjectLimit > 0 && subject != "" {
		allowed, remaining, err := l.checkWindow(ctx, "subject:"+subject, l.config.SubjectLimit, l.config.SubjectWindow)
		if err != nil {
			return nil, err
		}
		if !allowed {
			return &Result{
				Allowed:    false,
				Remaining:  remaining,
				RetryAfter: l.config.SubjectWindow,
				LimitedBy:  "subject",
			}, nil
		}
	}

	if el, ok := l.config.EndpointLimits[endpoint]; ok && el.Limit > 0 {
		allowed, remaining, err := l.checkWindow(ctx, "endpoint:"+endpoint+":"+subject, el.Limit, el.Window)
		if err != nil {
			return nil, err
		}
		if !allowed {
			return &Result{
				Allowed:    false,
				Remaining:  remaining,
				RetryAfter: el.Window,
				LimitedBy:  "endpoint",
			}, nil
		}
	}

	return &Result{Allowed: true, Remaining: -1}, nil
}

// checkWindow trims expired entries, counts the live window, and records the
// current request in one pipeline round trip.
func (l *Limiter) checkWindow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error) {
	redisKey := "ratelimit:" + key
	now := time.Now()
	windowStart := strconv.FormatInt(now.Add(-window).UnixNano(), 10)

	pipe := l.redis.Pipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", windowStart)
	countCmd := pipe.ZCount(ctx, redisKey, windowStart, "+inf")
	pipe.ZAdd(ctx, redisKey, redis.Z{Score: float64(now.UnixNano()), Member: now.UnixNano()})
	pipe.Expire(ctx, redisKey, window*2)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, fmt.Errorf("rate limit check failed: %w", err)
	}

	count := countCmd.Val()
	remaining := limit - count - 1
	if remaining < 0 {
		remaining = 0
	}

	return count < limit, remaining, nil
}
