package application

import (
	"context"
	"time"

	"throttle-gateway/middleware/ratelimit/domain"
)

// ConcurrencyService concentra a regra de aquisição/liberação de vagas com timeout,
// sem saber nada sobre HTTP.
type ConcurrencyService struct {
	Pool           domain.SlotPool
	AcquireTimeout time.Duration
}

// Acquire tenta adquirir uma vaga.
//   - Se `AcquireTimeout <= 0`, espera indefinidamente (até ctx cancelar ou o pool fechar).
//   - Se `AcquireTimeout > 0`, espera até o timeout.
//
// Sem pool devolve uma vaga que não conta nada.
func (s ConcurrencyService) Acquire(ctx context.Context) (domain.Slot, error) {
	if s.Pool == nil {
		return noSlot{}, nil
	}

	if s.AcquireTimeout <= 0 {
		return s.Pool.Acquire(ctx)
	}

	acqCtx, cancel := context.WithTimeout(ctx, s.AcquireTimeout)
	defer cancel()
	return s.Pool.Acquire(acqCtx)
}

// Occupancy é a ocupação do pool (zero sem pool).
func (s ConcurrencyService) Occupancy() domain.Occupancy {
	if s.Pool == nil {
		return domain.Occupancy{}
	}
	return s.Pool.Occupancy()
}

type noSlot struct{}

func (noSlot) Forward() {}
func (noSlot) Release() {}

type slotKey struct{}

// WithSlot guarda a vaga no contexto do request para que o throttle possa
// marcá-la como liberada para o upstream.
func WithSlot(ctx context.Context, s domain.Slot) context.Context {
	return context.WithValue(ctx, slotKey{}, s)
}

// forwardSlot marca a vaga do contexto, se houver, como em voo para o upstream.
func forwardSlot(ctx context.Context) {
	if s, ok := ctx.Value(slotKey{}).(domain.Slot); ok {
		s.Forward()
	}
}
