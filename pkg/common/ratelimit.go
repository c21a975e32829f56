// Package common holds small helpers shared across the service.
package common

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter provides thread-safe rate limiting with dynamically adjustable limits.
// It helps prevent overwhelming downstream services by controlling request rates
// while allowing runtime adjustments based on service conditions.
type RateLimiter struct {
	limiter *rate.Limiter
	mu      sync.RWMutex // Protects concurrent access to the limiter
}

// NewRateLimiter creates a RateLimiter with the specified requests per second (rps)
// and burst size. A non-positive rps disables limiting.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	limit, burst := normalizeLimits(rps, burst)
	return &RateLimiter{limiter: rate.NewLimiter(limit, burst)}
}

func normalizeLimits(rps float64, burst int) (rate.Limit, int) {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return limit, burst
}

// Wait blocks until the rate limiter allows an event or the context is canceled.
// It returns an error if the context is canceled while waiting.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return rl.limiter.Wait(ctx)
}

// UpdateLimits dynamically adjusts the rate limiter's requests per second and burst size.
// This allows adapting to changing conditions like server load or API quotas at runtime.
func (rl *RateLimiter) UpdateLimits(rps float64, burst int) {
	limit, burst := normalizeLimits(rps, burst)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.limiter.SetLimit(limit)
	rl.limiter.SetBurst(burst)
}

// matches reports whether the limiter already runs at rps and burst.
func (rl *RateLimiter) matches(rps float64, burst int) bool {
	limit, burst := normalizeLimits(rps, burst)
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return rl.limiter.Limit() == limit && rl.limiter.Burst() == burst
}

// KeyedRateLimiter keeps one RateLimiter per key, created on first use.
type KeyedRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*RateLimiter
}

// NewKeyedRateLimiter creates an empty KeyedRateLimiter.
func NewKeyedRateLimiter() *KeyedRateLimiter {
	return &KeyedRateLimiter{limiters: make(map[string]*RateLimiter)}
}

// Wait blocks until the limiter for key allows an event. A limiter created
// earlier with different rps or burst is adjusted in place, keeping the
// tokens it has already spent.
func (k *KeyedRateLimiter) Wait(ctx context.Context, key string, rps float64, burst int) error {
	k.mu.Lock()
	rl, ok := k.limiters[key]
	if !ok {
		rl = NewRateLimiter(rps, burst)
		k.limiters[key] = rl
	} else if !rl.matches(rps, burst) {
		rl.UpdateLimits(rps, burst)
	}
	k.mu.Unlock()

	return rl.Wait(ctx)
}
