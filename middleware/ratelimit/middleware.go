package ratelimit

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"throttle-gateway/middleware/ratelimit/application"
	"throttle-gateway/middleware/ratelimit/domain"

	"go.uber.org/zap"
)

// GlobalKey é a chave usada quando todos os requests dividem um único limiter.
const GlobalKey domain.Key = "*"

type KeyFunc func(r *http.Request) string

type Options struct {
	Store  domain.LimiterStore
	Stats  domain.StatsStore
	Logger *zap.Logger
	KeyFn  KeyFunc
	// PerKey=false faz todos os requests dividirem o limiter de GlobalKey
	// (throttle do upstream como um todo). Ignorado se KeyFn for informado.
	PerKey             bool
	KeyHeader          string
	TrustXForwardedFor bool
	// Permits cobrados por request (padrão 1).
	Permits            int
	RejectStatus       int
	RetryAfter         time.Duration
	AddThrottleHeaders bool
}

type rateInfo interface {
	Rate() float64
	MaxPermits() float64
}

func GlobalKeyFunc() KeyFunc {
	return func(*http.Request) string { return string(GlobalKey) }
}

func DefaultKeyFunc(keyHeader string, trustXFF bool) KeyFunc {
	return func(r *http.Request) string {
		if keyHeader != "" {
			if v := strings.TrimSpace(r.Header.Get(keyHeader)); v != "" {
				return v
			}
		}

		if trustXFF {
			// pega o primeiro IP do X-Forwarded-For (cliente original)
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				parts := strings.Split(xff, ",")
				if len(parts) > 0 {
					ip := strings.TrimSpace(parts[0])
					if ip != "" {
						return ip
					}
				}
			}
		}

		// fallback: RemoteAddr
		host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
		if err == nil && host != "" {
			return host
		}
		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
		return "unknown"
	}
}

// Middleware segura cada request até o limiter da chave liberar.
//
// Diferente de um rate limit que rejeita (429), aqui o request espera: o
// gateway se auto-limita em relação ao upstream. Só quando a espera é
// abandonada (limiter fechado no shutdown) o request é respondido com
// RejectStatus + Retry-After. Um pedido de permits que o limiter nunca atende
// vira 500, sem Retry-After.
func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusServiceUnavailable
	}
	if opts.RetryAfter == 0 {
		opts.RetryAfter = 1 * time.Second
	}
	if opts.Permits <= 0 {
		opts.Permits = 1
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.KeyFn == nil {
		if opts.PerKey {
			opts.KeyFn = DefaultKeyFunc(opts.KeyHeader, opts.TrustXForwardedFor)
		} else {
			opts.KeyFn = GlobalKeyFunc()
		}
	}

	svc := application.Service{
		Store:      opts.Store,
		RetryAfter: opts.RetryAfter,
		Logger:     opts.Logger,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := opts.KeyFn(r)

			if opts.AddThrottleHeaders {
				w.Header().Set("X-Throttle-Key", key)
				if opts.Store != nil {
					if lim, err := opts.Store.Get(domain.Key(key)); err == nil {
						if ri, ok := lim.(rateInfo); ok {
							w.Header().Set("X-Throttle-Rate", formatFloat(ri.Rate()))
							w.Header().Set("X-Throttle-Burst", formatFloat(ri.MaxPermits()))
						}
					}
				}
			}

			dec := svc.Throttle(r.Context(), domain.Key(key), opts.Permits)
			if opts.Stats != nil {
				err := opts.Stats.Record(r.Context(), domain.StatsEvent{
					Key:     domain.Key(key),
					Permits: opts.Permits,
					Waited:  dec.Waited,
					Allowed: dec.Allowed,
					Method:  r.Method,
					Path:    r.URL.Path,
					At:      time.Now(),
				})
				if err != nil {
					opts.Logger.Warn("throttle stats record failed", zap.Error(err))
				}
			}
			if opts.AddThrottleHeaders {
				w.Header().Set("X-Throttle-Waited-Us", formatInt64(dec.Waited.Microseconds()))
			}
			if !dec.Allowed {
				// cliente desistiu: não há para quem responder
				if errors.Is(dec.Err, context.Canceled) {
					return
				}
				// pedido que nenhum limiter atende: repetir não adianta
				if errors.Is(dec.Err, domain.ErrInvalidArgument) {
					opts.Logger.Error("throttle rejected request permits", zap.String("key", key), zap.Error(dec.Err))
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
					return
				}
				w.Header().Set("Retry-After", retryAfterSeconds(dec.RetryAfter))
				http.Error(w, http.StatusText(opts.RejectStatus), opts.RejectStatus)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
