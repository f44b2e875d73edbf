package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"time"

	"throttle-gateway/middleware/ratelimit/application"
	"throttle-gateway/middleware/ratelimit/domain"
	"throttle-gateway/middleware/ratelimit/infra"

	"go.uber.org/zap"
)

type ConcurrencyOptions struct {
	Max int
	// Pool permite que quem monta o gateway feche o pool no shutdown.
	// Se nil e Max > 0, um infra.SlotPool de Max vagas é criado.
	Pool           domain.SlotPool
	RejectStatus   int
	RetryAfter     time.Duration
	AcquireTimeout time.Duration
	Logger         *zap.Logger
	// AddHeaders expõe X-Concurrency-Queued, X-Concurrency-Throttled e
	// X-Concurrency-Upstream (ocupação ao entrar no handler).
	AddHeaders bool
}

// ConcurrencyMiddleware limita quantos requests ficam em voo ao mesmo tempo,
// incluindo os que estão esperando o throttle. O Middleware de throttle, se
// estiver dentro dele, move a vaga para Upstream quando libera o request.
func ConcurrencyMiddleware(opts ConcurrencyOptions) func(next http.Handler) http.Handler {
	if opts.Pool == nil {
		if opts.Max <= 0 {
			return func(next http.Handler) http.Handler { return next }
		}
		opts.Pool = infra.NewSlotPool(opts.Max)
	}
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusServiceUnavailable
	}
	if opts.RetryAfter == 0 {
		opts.RetryAfter = 1 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	svc := application.ConcurrencyService{
		Pool:           opts.Pool,
		AcquireTimeout: opts.AcquireTimeout,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			slot, err := svc.Acquire(r.Context())
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				opts.Logger.Debug("concurrency slot unavailable", zap.Error(err))
				w.Header().Set("Retry-After", retryAfterSeconds(opts.RetryAfter))
				http.Error(w, http.StatusText(opts.RejectStatus), opts.RejectStatus)
				return
			}
			defer slot.Release()

			if opts.AddHeaders {
				occ := svc.Occupancy()
				w.Header().Set("X-Concurrency-Queued", formatInt(occ.Queued))
				w.Header().Set("X-Concurrency-Throttled", formatInt(occ.Throttled))
				w.Header().Set("X-Concurrency-Upstream", formatInt(occ.Upstream))
			}
			next.ServeHTTP(w, r.WithContext(application.WithSlot(r.Context(), slot)))
		})
	}
}
