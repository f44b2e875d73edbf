package infra

import (
	"context"
	"fmt"
	"math"
	"time"

	"throttle-gateway/middleware/ratelimit/domain"

	"github.com/juju/ratelimit"
)

// BucketLimiter implementa domain.RateLimiter sobre github.com/juju/ratelimit.
//
// Bucket.Take já tem a semântica de reserva (devolve a espera e deixa o
// bucket em débito), então aqui só falta a espera interrompível.
// O bucket começa cheio.
type BucketLimiter struct {
	bucket *ratelimit.Bucket
	closed *latch
}

var _ domain.RateLimiter = (*BucketLimiter)(nil)

func NewBucketLimiter(permitsPerSecond, maxBurstSeconds float64, clock domain.Clock) (*BucketLimiter, error) {
	if !(permitsPerSecond > 0) || math.IsInf(permitsPerSecond, 0) {
		return nil, fmt.Errorf("%w: rate must be positive, got %v", domain.ErrInvalidArgument, permitsPerSecond)
	}
	if maxBurstSeconds < 0 || math.IsNaN(maxBurstSeconds) || math.IsInf(maxBurstSeconds, 0) {
		return nil, fmt.Errorf("%w: max burst seconds must be a finite value >= 0, got %v", domain.ErrInvalidArgument, maxBurstSeconds)
	}

	capacity := int64(burstFor(permitsPerSecond, maxBurstSeconds))
	return &BucketLimiter{
		bucket: ratelimit.NewBucketWithRateAndClock(permitsPerSecond, capacity, bucketClock{now: wallClock(clock)}),
		closed: newLatch(),
	}, nil
}

func (l *BucketLimiter) Acquire(ctx context.Context, permits int) (time.Duration, error) {
	if l.closed.released() {
		return 0, domain.ErrClosed
	}
	if err := checkPermits(permits); err != nil {
		return 0, err
	}

	wait := l.bucket.Take(int64(permits)).Round(time.Microsecond)
	if err := l.closed.sleep(ctx, wait); err != nil {
		return wait, err
	}
	return wait, nil
}

// Pending informa se o bucket está em débito por reservas ainda não vencidas.
func (l *BucketLimiter) Pending() bool {
	return l.bucket.Available() < 0
}

func (l *BucketLimiter) Close() error {
	l.closed.release()
	return nil
}

func (l *BucketLimiter) Rate() float64 { return l.bucket.Rate() }

func (l *BucketLimiter) MaxPermits() float64 { return float64(l.bucket.Capacity()) }

func (l *BucketLimiter) String() string {
	return fmt.Sprintf("BucketLimiter[rate=%3.1fqps capacity=%d]", l.Rate(), l.bucket.Capacity())
}

// bucketClock adapta o domain.Clock para ratelimit.Clock.
// Sleep não é usado por Take, mas faz parte da interface.
type bucketClock struct {
	now func() time.Time
}

func (c bucketClock) Now() time.Time { return c.now() }

func (c bucketClock) Sleep(d time.Duration) { time.Sleep(d) }
