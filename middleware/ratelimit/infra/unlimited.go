package infra

import (
	"context"
	"time"

	"throttle-gateway/middleware/ratelimit/domain"
)

// UnlimitedLimiter nunca espera. Útil para desligar o throttle sem mudar o wiring.
type UnlimitedLimiter struct {
	closed *latch
}

func NewUnlimitedLimiter() *UnlimitedLimiter {
	return &UnlimitedLimiter{closed: newLatch()}
}

func (l *UnlimitedLimiter) Acquire(_ context.Context, permits int) (time.Duration, error) {
	if l.closed.released() {
		return 0, domain.ErrClosed
	}
	return 0, checkPermits(permits)
}

func (l *UnlimitedLimiter) Close() error {
	l.closed.release()
	return nil
}

func (l *UnlimitedLimiter) String() string { return "UnlimitedLimiter" }

// PausedLimiter bloqueia todo Acquire até Close ou até o ctx encerrar.
// Como a espera nunca termina normalmente, Acquire sempre retorna
// domain.ErrInterrupted junto do tempo efetivamente parado.
type PausedLimiter struct {
	clock  domain.Clock
	closed *latch
}

func NewPausedLimiter(clock domain.Clock) *PausedLimiter {
	if clock == nil {
		clock = MonotonicClock()
	}
	return &PausedLimiter{clock: clock, closed: newLatch()}
}

func (l *PausedLimiter) Acquire(ctx context.Context, permits int) (time.Duration, error) {
	if l.closed.released() {
		return 0, domain.ErrClosed
	}
	if err := checkPermits(permits); err != nil {
		return 0, err
	}

	start := l.clock()
	select {
	case <-l.closed.done:
		return l.elapsed(start), interrupted(domain.ErrClosed)
	case <-ctx.Done():
		return l.elapsed(start), interrupted(ctx.Err())
	}
}

func (l *PausedLimiter) elapsed(start int64) time.Duration {
	return time.Duration(l.clock() - start).Truncate(time.Microsecond)
}

func (l *PausedLimiter) Close() error {
	l.closed.release()
	return nil
}

func (l *PausedLimiter) String() string { return "PausedLimiter" }
