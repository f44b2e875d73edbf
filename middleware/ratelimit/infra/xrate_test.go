package infra

import (
	"context"
	"testing"
	"time"

	"throttle-gateway/middleware/ratelimit/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestXRateLimiter_BurstThenSteadyRate(t *testing.T) {
	clock := newFakeClock()
	lim, err := NewXRateLimiter(10, 1, clock.now)
	require.NoError(t, err)
	defer lim.Close()

	assert.Equal(t, "XRateLimiter[rate=10.0qps burst=10]", lim.String())

	waited, err := lim.Acquire(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, waited, "bucket starts full")

	waited, err = lim.Acquire(canceledContext(), 1)
	assert.Equal(t, 100*time.Millisecond, waited)
	assert.ErrorIs(t, err, domain.ErrInterrupted)
}

func TestXRateLimiter_RequestAboveBurstIsInvalid(t *testing.T) {
	lim, err := NewXRateLimiter(10, 1, newFakeClock().now)
	require.NoError(t, err)

	_, err = lim.Acquire(context.Background(), 11)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestXRateLimiter_ArgumentsAndClose(t *testing.T) {
	_, err := NewXRateLimiter(0, 1, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	lim, err := NewXRateLimiter(10, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, float64(1), lim.MaxPermits(), "burst is at least one permit")

	_, err = lim.Acquire(context.Background(), -1)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	require.NoError(t, lim.Close())
	_, err = lim.Acquire(context.Background(), 1)
	assert.ErrorIs(t, err, domain.ErrClosed)
}

func TestXRateLimiter_PendingWhileInDebt(t *testing.T) {
	clock := newFakeClock()
	lim, err := NewXRateLimiter(10, 1, clock.now)
	require.NoError(t, err)
	defer lim.Close()

	_, err = lim.Acquire(context.Background(), 10)
	require.NoError(t, err)
	assert.False(t, lim.Pending(), "bucket empty but not in debt")

	_, err = lim.Acquire(canceledContext(), 1)
	require.ErrorIs(t, err, domain.ErrInterrupted)
	assert.True(t, lim.Pending())

	clock.advance(100 * time.Millisecond)
	assert.False(t, lim.Pending())
}
