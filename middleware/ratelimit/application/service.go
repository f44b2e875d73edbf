package application

import (
	"context"
	"errors"
	"time"

	"throttle-gateway/middleware/ratelimit/domain"

	"go.uber.org/zap"
)

// Service concentra a regra de aplicação do throttle.
//
// Ele não sabe nada sobre HTTP (headers/status), apenas espera o limiter da
// chave e devolve uma decisão.
type Service struct {
	Store      domain.LimiterStore
	RetryAfter time.Duration
	Logger     *zap.Logger
}

// Throttle reserva permits no limiter da chave e bloqueia pelo tempo calculado.
//
// Allowed=false significa que a espera foi abandonada (limiter fechado, ctx
// cancelado) ou que o pedido é inválido; Err traz o motivo. Com Allowed=true a
// vaga do contexto (WithSlot) passa a contar como em voo para o upstream.
func (s Service) Throttle(ctx context.Context, key domain.Key, permits int) domain.Decision {
	if s.Store == nil {
		forwardSlot(ctx)
		return domain.Decision{Allowed: true}
	}
	if s.RetryAfter <= 0 {
		s.RetryAfter = 1 * time.Second
	}
	log := s.Logger
	if log == nil {
		log = zap.NewNop()
	}

	lim, err := s.Store.Get(key)
	if err != nil {
		log.Warn("throttle limiter unavailable", zap.String("key", string(key)), zap.Error(err))
		return domain.Decision{Allowed: false, RetryAfter: s.RetryAfter, Err: err}
	}
	if lim == nil {
		forwardSlot(ctx)
		return domain.Decision{Allowed: true}
	}

	waited, err := lim.Acquire(ctx, permits)
	if err != nil {
		if errors.Is(err, domain.ErrInterrupted) {
			log.Warn("throttle wait abandoned",
				zap.String("key", string(key)),
				zap.Int("permits", permits),
				zap.Duration("computedWait", waited),
				zap.Error(err))
		}
		return domain.Decision{Allowed: false, Waited: waited, RetryAfter: s.RetryAfter, Err: err}
	}

	if waited > 0 {
		log.Debug("throttled",
			zap.String("key", string(key)),
			zap.Int("permits", permits),
			zap.Duration("waited", waited))
	}
	forwardSlot(ctx)
	return domain.Decision{Allowed: true, Waited: waited}
}
