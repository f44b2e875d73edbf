package infra

import (
	"context"
	"fmt"
	"math"
	"time"

	"throttle-gateway/middleware/ratelimit/domain"

	"golang.org/x/time/rate"
)

// XRateLimiter implementa domain.RateLimiter sobre golang.org/x/time/rate.
//
// Diferenças em relação ao AveragingLimiter:
//   - o bucket começa cheio (burst disponível de imediato);
//   - um pedido maior que o burst nunca pode ser atendido e falha com
//     domain.ErrInvalidArgument.
type XRateLimiter struct {
	lim    *rate.Limiter
	now    func() time.Time
	closed *latch
}

var _ domain.RateLimiter = (*XRateLimiter)(nil)

func NewXRateLimiter(permitsPerSecond, maxBurstSeconds float64, clock domain.Clock) (*XRateLimiter, error) {
	if !(permitsPerSecond > 0) || math.IsInf(permitsPerSecond, 0) {
		return nil, fmt.Errorf("%w: rate must be positive, got %v", domain.ErrInvalidArgument, permitsPerSecond)
	}
	if maxBurstSeconds < 0 || math.IsNaN(maxBurstSeconds) || math.IsInf(maxBurstSeconds, 0) {
		return nil, fmt.Errorf("%w: max burst seconds must be a finite value >= 0, got %v", domain.ErrInvalidArgument, maxBurstSeconds)
	}

	return &XRateLimiter{
		lim:    rate.NewLimiter(rate.Limit(permitsPerSecond), burstFor(permitsPerSecond, maxBurstSeconds)),
		now:    wallClock(clock),
		closed: newLatch(),
	}, nil
}

func (l *XRateLimiter) Acquire(ctx context.Context, permits int) (time.Duration, error) {
	if l.closed.released() {
		return 0, domain.ErrClosed
	}
	if err := checkPermits(permits); err != nil {
		return 0, err
	}

	if err := l.CheckPermits(permits); err != nil {
		return 0, err
	}

	now := l.now()
	r := l.lim.ReserveN(now, permits)
	if !r.OK() {
		return 0, fmt.Errorf("%w: %d permits exceed burst %d", domain.ErrInvalidArgument, permits, l.lim.Burst())
	}

	wait := r.DelayFrom(now).Round(time.Microsecond)
	if err := l.closed.sleep(ctx, wait); err != nil {
		return wait, err
	}
	return wait, nil
}

// CheckPermits recusa pedidos maiores que o burst: ReserveN nunca os atenderia.
func (l *XRateLimiter) CheckPermits(permits int) error {
	if permits > l.lim.Burst() {
		return fmt.Errorf("%w: %d permits exceed burst %d", domain.ErrInvalidArgument, permits, l.lim.Burst())
	}
	return nil
}

// Pending informa se o bucket está em débito por reservas ainda não vencidas.
func (l *XRateLimiter) Pending() bool {
	return l.lim.TokensAt(l.now()) < 0
}

func (l *XRateLimiter) Close() error {
	l.closed.release()
	return nil
}

func (l *XRateLimiter) Rate() float64 { return float64(l.lim.Limit()) }

func (l *XRateLimiter) MaxPermits() float64 { return float64(l.lim.Burst()) }

func (l *XRateLimiter) String() string {
	return fmt.Sprintf("XRateLimiter[rate=%3.1fqps burst=%d]", l.Rate(), l.lim.Burst())
}

// burstFor converte segundos de burst em permits; nunca menos que 1,
// senão o bucket recusaria qualquer pedido.
func burstFor(permitsPerSecond, maxBurstSeconds float64) int {
	b := math.Ceil(permitsPerSecond * maxBurstSeconds)
	if b < 1 {
		return 1
	}
	if b > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(b)
}

// wallClock ancora o domain.Clock (monotônico, sem época) em um time.Time,
// que é o que as libs de token bucket esperam.
func wallClock(clock domain.Clock) func() time.Time {
	if clock == nil {
		return time.Now
	}
	base := time.Now()
	start := clock()
	return func() time.Time { return base.Add(time.Duration(clock() - start)) }
}
