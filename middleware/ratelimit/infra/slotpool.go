package infra

import (
	"context"
	"sync"
	"sync/atomic"

	"throttle-gateway/middleware/ratelimit/domain"
)

// SlotPool é um semáforo de channel que sabe em que fase está cada vaga:
// esperando o limiter ou já liberada para o upstream.
//
// Close acorda quem está na fila; vagas já adquiridas continuam válidas até
// o Release, e quem espera o limiter é acordado pelo Close do Store.
type SlotPool struct {
	sem    chan struct{}
	closed *latch

	queued    atomic.Int64
	throttled atomic.Int64
	upstream  atomic.Int64
}

var _ domain.SlotPool = (*SlotPool)(nil)

func NewSlotPool(max int) *SlotPool {
	return &SlotPool{sem: make(chan struct{}, max), closed: newLatch()}
}

func (p *SlotPool) Acquire(ctx context.Context) (domain.Slot, error) {
	if p.closed.released() {
		return nil, domain.ErrClosed
	}

	p.queued.Add(1)
	defer p.queued.Add(-1)

	select {
	case p.sem <- struct{}{}:
		// o select não tem prioridade: Close pode ter ganhado a corrida
		if p.closed.released() {
			<-p.sem
			return nil, interrupted(domain.ErrClosed)
		}
		p.throttled.Add(1)
		return &slot{pool: p}, nil
	case <-p.closed.done:
		return nil, interrupted(domain.ErrClosed)
	case <-ctx.Done():
		return nil, interrupted(ctx.Err())
	}
}

func (p *SlotPool) Occupancy() domain.Occupancy {
	return domain.Occupancy{
		Queued:    int(p.queued.Load()),
		Throttled: int(p.throttled.Load()),
		Upstream:  int(p.upstream.Load()),
	}
}

// Close é definitivo e idempotente.
func (p *SlotPool) Close() error {
	p.closed.release()
	return nil
}

type slot struct {
	pool *SlotPool

	mu        sync.Mutex
	forwarded bool
	released  bool
}

func (s *slot) Forward() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.forwarded || s.released {
		return
	}
	s.forwarded = true
	s.pool.throttled.Add(-1)
	s.pool.upstream.Add(1)
}

func (s *slot) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return
	}
	s.released = true
	if s.forwarded {
		s.pool.upstream.Add(-1)
	} else {
		s.pool.throttled.Add(-1)
	}
	<-s.pool.sem
}
