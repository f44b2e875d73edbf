package infra

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"throttle-gateway/middleware/ratelimit/domain"
)

// AveragingLimiter é um token bucket com burst, no estilo SmoothBursty do Guava.
//
// O estado é um relógio virtual (nextFreeMicros) e um saldo de permits
// acumulados enquanto o limiter ficou ocioso (storedPermits, até maxPermits).
// Só a aritmética da reserva roda sob o mutex; a espera acontece fora dele.
type AveragingLimiter struct {
	clock                domain.Clock
	startNanos           int64
	stableIntervalMicros float64
	maxPermits           float64
	closed               *latch

	mu             sync.Mutex
	storedPermits  float64
	nextFreeMicros int64
}

var _ domain.RateLimiter = (*AveragingLimiter)(nil)

// maxVirtualMicros é o maior atraso que ainda cabe num time.Duration.
const maxVirtualMicros = math.MaxInt64 / int64(time.Microsecond)

// NewAveragingLimiter cria um limiter de permitsPerSecond com até
// maxBurstSeconds de crédito acumulado. O saldo inicial é zero, mas a primeira
// reserva nunca espera.
func NewAveragingLimiter(permitsPerSecond int64, maxBurstSeconds float64, clock domain.Clock) (*AveragingLimiter, error) {
	if permitsPerSecond == 0 {
		return nil, fmt.Errorf("%w: rate must not be zero", domain.ErrInvalidArgument)
	}
	// taxa negativa geraria intervalo negativo e esperas sem sentido
	if permitsPerSecond < 0 {
		return nil, fmt.Errorf("%w: rate must be positive, got %d", domain.ErrInvalidArgument, permitsPerSecond)
	}
	if maxBurstSeconds < 0 || math.IsNaN(maxBurstSeconds) || math.IsInf(maxBurstSeconds, 0) {
		return nil, fmt.Errorf("%w: max burst seconds must be a finite value >= 0, got %v", domain.ErrInvalidArgument, maxBurstSeconds)
	}
	if clock == nil {
		clock = MonotonicClock()
	}

	return &AveragingLimiter{
		clock:                clock,
		startNanos:           clock(),
		stableIntervalMicros: float64(time.Second/time.Microsecond) / float64(permitsPerSecond),
		maxPermits:           maxBurstSeconds * float64(permitsPerSecond),
		closed:               newLatch(),
	}, nil
}

// Acquire reserva permits e espera o atraso calculado.
//
// O retorno é o atraso calculado, com granularidade de microssegundos. Se a
// espera for interrompida por Close ou pelo ctx, o atraso vem junto de um erro
// que embrulha domain.ErrInterrupted.
func (l *AveragingLimiter) Acquire(ctx context.Context, permits int) (time.Duration, error) {
	if l.closed.released() {
		return 0, domain.ErrClosed
	}
	if err := checkPermits(permits); err != nil {
		return 0, err
	}

	wait := time.Duration(l.reserve(permits)) * time.Microsecond
	if err := l.closed.sleep(ctx, wait); err != nil {
		return wait, err
	}
	return wait, nil
}

// reserve devolve quantos microssegundos o chamador deve esperar.
func (l *AveragingLimiter) reserve(permits int) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowMicros()
	momentAvailable := l.reserveEarliestAvailable(permits, now)
	return max(momentAvailable-now, 0)
}

// reserveEarliestAvailable cobra a reserva sobre o relógio virtual e devolve o
// instante em que as reservas anteriores já estavam pagas. O atraso de quem
// chega é medido contra esse instante, não contra o novo nextFreeMicros.
func (l *AveragingLimiter) reserveEarliestAvailable(permits int, now int64) int64 {
	l.resync(now)

	returnValue := l.nextFreeMicros
	storedToSpend := min(float64(permits), l.storedPermits)
	freshPermits := float64(permits) - storedToSpend
	waitMicros := math.Round(freshPermits * l.stableIntervalMicros)

	if waitMicros >= float64(maxVirtualMicros) || l.nextFreeMicros > maxVirtualMicros-int64(waitMicros) {
		panic(fmt.Sprintf("ratelimit: virtual clock overflow (next=%dus wait=%.0fus)", l.nextFreeMicros, waitMicros))
	}
	l.nextFreeMicros += int64(waitMicros)

	l.storedPermits -= storedToSpend
	return returnValue
}

// resync converte o tempo ocioso em permits acumulados, limitados a maxPermits.
func (l *AveragingLimiter) resync(now int64) {
	if now > l.nextFreeMicros {
		newPermits := float64(now-l.nextFreeMicros) / l.stableIntervalMicros
		l.storedPermits = min(l.maxPermits, l.storedPermits+newPermits)
		l.nextFreeMicros = now
	}
}

func (l *AveragingLimiter) nowMicros() int64 {
	return (l.clock() - l.startNanos) / int64(time.Microsecond)
}

// Pending informa se ainda há reservas aguardando o relógio virtual.
func (l *AveragingLimiter) Pending() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nextFreeMicros > l.nowMicros()
}

// Close é definitivo e acorda todos os Acquire em espera.
func (l *AveragingLimiter) Close() error {
	l.closed.release()
	return nil
}

// Rate é a taxa estável em permits por segundo.
func (l *AveragingLimiter) Rate() float64 {
	return float64(time.Second/time.Microsecond) / l.stableIntervalMicros
}

// MaxPermits é o teto de permits acumuláveis como burst.
func (l *AveragingLimiter) MaxPermits() float64 { return l.maxPermits }

func (l *AveragingLimiter) String() string {
	return fmt.Sprintf("AveragingLimiter[stableRate=%3.1fqps]", l.Rate())
}
