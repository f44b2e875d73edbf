package application

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"throttle-gateway/middleware/ratelimit/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakeLimiter struct {
	wait time.Duration
	err  error

	permits int
}

func (f *fakeLimiter) Acquire(_ context.Context, permits int) (time.Duration, error) {
	f.permits += permits
	return f.wait, f.err
}

func (f *fakeLimiter) Close() error { return nil }

type fakeStore struct {
	lim domain.RateLimiter
	err error
}

func (s fakeStore) Get(domain.Key) (domain.RateLimiter, error) { return s.lim, s.err }

func TestService_Throttle_AllowsWhenNoStore(t *testing.T) {
	svc := Service{}
	dec := svc.Throttle(context.Background(), "k", 1)
	assert.True(t, dec.Allowed)
	assert.Zero(t, dec.Waited)
	assert.Zero(t, dec.RetryAfter)
}

func TestService_Throttle_ReportsWaited(t *testing.T) {
	lim := &fakeLimiter{wait: 200 * time.Millisecond}
	svc := Service{Store: fakeStore{lim: lim}}

	dec := svc.Throttle(context.Background(), "k", 3)
	require.True(t, dec.Allowed)
	assert.Equal(t, 200*time.Millisecond, dec.Waited)
	assert.Equal(t, 3, lim.permits)
	assert.NoError(t, dec.Err)
}

func TestService_Throttle_InterruptedWaitIsNotAllowed(t *testing.T) {
	cause := fmt.Errorf("%w: %w", domain.ErrInterrupted, domain.ErrClosed)
	lim := &fakeLimiter{wait: 2 * time.Second, err: cause}

	core, logs := observer.New(zap.WarnLevel)
	svc := Service{Store: fakeStore{lim: lim}, Logger: zap.New(core)}

	dec := svc.Throttle(context.Background(), "k", 1)
	require.False(t, dec.Allowed)
	assert.Equal(t, 2*time.Second, dec.Waited)
	assert.Equal(t, 1*time.Second, dec.RetryAfter, "default RetryAfter")
	assert.ErrorIs(t, dec.Err, domain.ErrInterrupted)
	assert.ErrorIs(t, dec.Err, domain.ErrClosed)
	assert.Equal(t, 1, logs.FilterMessage("throttle wait abandoned").Len())
}

func TestService_Throttle_ConfiguredRetryAfter(t *testing.T) {
	svc := Service{
		Store:      fakeStore{lim: &fakeLimiter{err: domain.ErrClosed}},
		RetryAfter: 2500 * time.Millisecond,
	}

	dec := svc.Throttle(context.Background(), "k", 1)
	require.False(t, dec.Allowed)
	assert.Equal(t, 2500*time.Millisecond, dec.RetryAfter)
	assert.ErrorIs(t, dec.Err, domain.ErrClosed)
}

func TestService_Throttle_StoreErrorRejects(t *testing.T) {
	storeErr := errors.New("boom")
	svc := Service{Store: fakeStore{err: storeErr}}

	dec := svc.Throttle(context.Background(), "k", 1)
	assert.False(t, dec.Allowed)
	assert.ErrorIs(t, dec.Err, storeErr)
}

func TestService_Throttle_NilLimiterAllows(t *testing.T) {
	svc := Service{Store: fakeStore{}}
	dec := svc.Throttle(context.Background(), "k", 1)
	assert.True(t, dec.Allowed)
}

func TestService_Throttle_ForwardsSlotOnlyWhenAllowed(t *testing.T) {
	allowed := &countingSlot{}
	svc := Service{Store: fakeStore{lim: &fakeLimiter{wait: time.Millisecond}}}
	dec := svc.Throttle(WithSlot(context.Background(), allowed), "k", 1)
	require.True(t, dec.Allowed)
	assert.Equal(t, 1, allowed.forwarded)

	rejected := &countingSlot{}
	svc = Service{Store: fakeStore{lim: &fakeLimiter{err: domain.ErrClosed}}}
	dec = svc.Throttle(WithSlot(context.Background(), rejected), "k", 1)
	require.False(t, dec.Allowed)
	assert.Zero(t, rejected.forwarded, "a rejected request never reaches the upstream")

	noStore := &countingSlot{}
	dec = Service{}.Throttle(WithSlot(context.Background(), noStore), "k", 1)
	require.True(t, dec.Allowed)
	assert.Equal(t, 1, noStore.forwarded)
	assert.Zero(t, noStore.released, "release belongs to whoever acquired the slot")
}
