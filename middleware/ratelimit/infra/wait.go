package infra

import (
	"context"
	"fmt"
	"sync"
	"time"

	"throttle-gateway/middleware/ratelimit/domain"
)

// latch é um sinal de fechamento de mão única, compartilhado pelos limiters.
// Uma vez liberado, acorda todos os sleeps em andamento e os futuros.
type latch struct {
	once sync.Once
	done chan struct{}
}

func newLatch() *latch {
	return &latch{done: make(chan struct{})}
}

func (l *latch) release() {
	l.once.Do(func() { close(l.done) })
}

func (l *latch) released() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

// sleep bloqueia por d, até o latch abrir ou até o ctx encerrar.
// Retorna nil somente se a espera terminou normalmente.
func (l *latch) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-l.done:
		return interrupted(domain.ErrClosed)
	case <-ctx.Done():
		return interrupted(ctx.Err())
	}
}

func interrupted(cause error) error {
	return fmt.Errorf("%w: %w", domain.ErrInterrupted, cause)
}

func checkPermits(permits int) error {
	if permits <= 0 {
		return fmt.Errorf("%w: requested permits (%d) must be positive", domain.ErrInvalidArgument, permits)
	}
	return nil
}
