package integration

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// TokenBucketRateLimiter implements rate limiting using token bucket algorithm
type TokenBucketRateLimiter struct {
	limiters map[string]*serviceLimiter
	mu       sync.RWMutex
}

type serviceLimiter struct {
	limiter   *rate.Limiter
	limit     int
	remaining int
	resetTime time.Time
	mu        sync.Mutex
}

// NewTokenBucketRateLimiter creates a new rate limiter
func NewTokenBucketRateLimiter() *TokenBucketRateLimiter {
	return &TokenBucketRateLimiter{
		limiters: make(map[string]*serviceLimiter),
	}
}

// RegisterService registers a service with specific rate limits.
// A non-positive limit leaves the service unlimited.
func (r *TokenBucketRateLimiter) RegisterService(service string, requestsPerHour int) {
	if requestsPerHour <= 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rps := float64(requestsPerHour) / 3600.0
	burst := max(10, requestsPerHour/360) // ~10s worth

	r.limiters[service] = &serviceLimiter{
		limiter:   rate.NewLimiter(rate.Limit(rps), burst),
		limit:     requestsPerHour,
		remaining: requestsPerHour,
		resetTime: time.Now().Add(time.Hour),
	}
}

// Wait blocks until a request is allowed
func (r *TokenBucketRateLimiter) Wait(ctx context.Context, service string) error {
	limiter := r.getLimiter(service)
	if limiter == nil {
		return nil
	}

	if err := limiter.limiter.Wait(ctx); err != nil {
		return err
	}
	limiter.consume()
	return nil
}

// GetStatus returns current rate limit status
func (r *TokenBucketRateLimiter) GetStatus(service string) *RateLimitStatus {
	limiter := r.getLimiter(service)
	if limiter == nil {
		return &RateLimitStatus{
			Limit:     -1,
			Remaining: -1,
			Reset:     time.Now().Add(time.Hour),
		}
	}

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	limiter.rollover()

	return &RateLimitStatus{
		Limit:     limiter.limit,
		Remaining: limiter.remaining,
		Reset:     limiter.resetTime,
	}
}

func (r *TokenBucketRateLimiter) getLimiter(service string) *serviceLimiter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.limiters[service]
}

func (s *serviceLimiter) consume() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rollover()
	if s.remaining > 0 {
		s.remaining--
	}
}

// rollover resets the hourly counter; callers hold s.mu
func (s *serviceLimiter) rollover() {
	if time.Now().After(s.resetTime) {
		s.remaining = s.limit
		s.resetTime = time.Now().Add(time.Hour)
	}
}
