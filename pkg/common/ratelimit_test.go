package common

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_UnlimitedWhenRPSZero(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	for range 100 {
		assert.NoError(t, rl.Wait(ctx))
	}
}

func TestRateLimiter_WaitHonoursContext(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.NoError(t, rl.Wait(ctx))
	assert.Error(t, rl.Wait(ctx))
}

func TestKeyedRateLimiter_IndependentKeys(t *testing.T) {
	k := NewKeyedRateLimiter()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.NoError(t, k.Wait(ctx, "a", 0.001, 1))
	// b has its own budget even though a is exhausted.
	assert.NoError(t, k.Wait(ctx, "b", 0.001, 1))
	assert.Error(t, k.Wait(ctx, "a", 0.001, 1))
}

func TestRateLimiter_UpdateLimits(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.NoError(t, rl.Wait(ctx))
	rl.UpdateLimits(0, 0)
	assert.NoError(t, rl.Wait(ctx), "non-positive rps lifts the limit")
	assert.True(t, rl.matches(0, 0))
}

func TestKeyedRateLimiter_AppliesChangedLimits(t *testing.T) {
	k := NewKeyedRateLimiter()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.NoError(t, k.Wait(ctx, "a", 0.001, 1))
	// Raising the limit for a unblocks it without recreating the limiter.
	assert.NoError(t, k.Wait(ctx, "a", 1000, 10))
	assert.True(t, k.limiters["a"].matches(1000, 10))
}
