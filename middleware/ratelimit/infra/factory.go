package infra

import (
	"fmt"
	"strings"

	"throttle-gateway/middleware/ratelimit/domain"
)

// DefaultMaxBurstSeconds é o burst usado por NewLimiter: um segundo de crédito.
const DefaultMaxBurstSeconds = 1.0

// NewLimiter escolhe a implementação pela taxa:
//
//   - domain.Unlimited (-1): UnlimitedLimiter
//   - domain.Paused (0): PausedLimiter
//   - > 0: AveragingLimiter com DefaultMaxBurstSeconds
func NewLimiter(permitsPerSecond int64, clock domain.Clock) (domain.RateLimiter, error) {
	switch {
	case permitsPerSecond == domain.Unlimited:
		return NewUnlimitedLimiter(), nil
	case permitsPerSecond == domain.Paused:
		return NewPausedLimiter(clock), nil
	case permitsPerSecond > 0:
		return orNil(NewAveragingLimiter(permitsPerSecond, DefaultMaxBurstSeconds, clock))
	default:
		return nil, fmt.Errorf("%w: rate must be %d (unlimited), %d (paused) or positive, got %d",
			domain.ErrInvalidArgument, domain.Unlimited, domain.Paused, permitsPerSecond)
	}
}

// Backend identifica a implementação de token bucket usada para taxas positivas.
type Backend string

const (
	BackendAveraging Backend = "averaging"
	BackendXRate     Backend = "xrate"
	BackendBucket    Backend = "bucket"
)

func ParseBackend(s string) (Backend, error) {
	switch b := Backend(strings.ToLower(strings.TrimSpace(s))); b {
	case "", BackendAveraging:
		return BackendAveraging, nil
	case BackendXRate, BackendBucket:
		return b, nil
	default:
		return "", fmt.Errorf("%w: unknown backend %q", domain.ErrInvalidArgument, s)
	}
}

// Factory cria limiters independentes com a mesma configuração.
// É usada pelo Store para criar um limiter por chave.
type Factory func() (domain.RateLimiter, error)

// NewFactory valida a configuração uma vez e devolve uma Factory.
// Taxas Unlimited/Paused ignoram o backend.
func NewFactory(backend Backend, permitsPerSecond int64, maxBurstSeconds float64, clock domain.Clock) (Factory, error) {
	build := func() (domain.RateLimiter, error) {
		if permitsPerSecond <= 0 {
			return NewLimiter(permitsPerSecond, clock)
		}
		switch backend {
		case BackendXRate:
			return orNil(NewXRateLimiter(float64(permitsPerSecond), maxBurstSeconds, clock))
		case BackendBucket:
			return orNil(NewBucketLimiter(float64(permitsPerSecond), maxBurstSeconds, clock))
		default:
			return orNil(NewAveragingLimiter(permitsPerSecond, maxBurstSeconds, clock))
		}
	}

	lim, err := build()
	if err != nil {
		return nil, err
	}
	_ = lim.Close()
	return build, nil
}

// permitChecker é implementado por limiters que recusam pedidos acima de um teto.
type permitChecker interface {
	CheckPermits(permits int) error
}

// Check diz se um pedido de permits por Acquire pode ser atendido pelos
// limiters desta Factory. Um erro aqui significa que todo Acquire com esse
// tamanho falharia, então a configuração deve ser recusada no startup.
func (f Factory) Check(permits int) error {
	if err := checkPermits(permits); err != nil {
		return err
	}
	lim, err := f()
	if err != nil {
		return err
	}
	defer lim.Close()

	if c, ok := lim.(permitChecker); ok {
		return c.CheckPermits(permits)
	}
	return nil
}

// orNil evita devolver um ponteiro nil embrulhado na interface quando há erro.
func orNil[L domain.RateLimiter](lim L, err error) (domain.RateLimiter, error) {
	if err != nil {
		return nil, err
	}
	return lim, nil
}
