package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"throttle-gateway/middleware/ratelimit/domain"
)

type blockingPool struct {
}

func (p *blockingPool) Acquire(ctx context.Context) (domain.Slot, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(5 * time.Second):
		// não deve chegar aqui nos testes
		return nil, errors.New("unexpected")
	}
}

func (p *blockingPool) Occupancy() domain.Occupancy { return domain.Occupancy{Queued: 1} }

func (p *blockingPool) Close() error { return nil }

type countingSlot struct {
	forwarded, released int
}

func (s *countingSlot) Forward() { s.forwarded++ }
func (s *countingSlot) Release() { s.released++ }

type immediatePool struct {
	acquired int
	slot     countingSlot
}

func (p *immediatePool) Acquire(ctx context.Context) (domain.Slot, error) {
	p.acquired++
	return &p.slot, nil
}

func (p *immediatePool) Occupancy() domain.Occupancy {
	return domain.Occupancy{Throttled: p.acquired - p.slot.forwarded, Upstream: p.slot.forwarded}
}

func (p *immediatePool) Close() error { return nil }

func TestConcurrencyService_Acquire_AllowsWhenNoPool(t *testing.T) {
	svc := ConcurrencyService{}
	slot, err := svc.Acquire(context.Background())
	if err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	slot.Forward()
	slot.Release()
}

func TestConcurrencyService_Acquire_UsesTimeout(t *testing.T) {
	pool := &blockingPool{}
	svc := ConcurrencyService{Pool: pool, AcquireTimeout: 10 * time.Millisecond}

	_, err := svc.Acquire(context.Background())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestConcurrencyService_Acquire_NoTimeoutDelegatesToPool(t *testing.T) {
	pool := &immediatePool{}
	svc := ConcurrencyService{Pool: pool, AcquireTimeout: 0}

	if _, err := svc.Acquire(context.Background()); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if pool.acquired != 1 {
		t.Fatalf("expected pool Acquire to be called once, got %d", pool.acquired)
	}
}

func TestConcurrencyService_Occupancy(t *testing.T) {
	if got := (ConcurrencyService{}).Occupancy(); got != (domain.Occupancy{}) {
		t.Fatalf("expected empty occupancy without pool, got %+v", got)
	}

	pool := &immediatePool{}
	svc := ConcurrencyService{Pool: pool}
	_, _ = svc.Acquire(context.Background())
	if got := svc.Occupancy().InFlight(); got != 1 {
		t.Fatalf("expected 1 in flight, got %d", got)
	}
}
