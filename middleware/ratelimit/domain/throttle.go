package domain

// Camada de domínio do throttle.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import (
	"context"
	"errors"
	"time"
)

type Key string

const (
	// Unlimited desliga o limite: Acquire nunca espera.
	Unlimited int64 = -1
	// Paused bloqueia todo Acquire até o limiter ser fechado.
	Paused int64 = 0
)

var (
	// ErrInvalidArgument: taxa zero na construção ou permits <= 0 no Acquire.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrClosed: Acquire chamado depois de Close.
	ErrClosed = errors.New("limiter is already closed")
	// ErrInterrupted: a espera foi abandonada (Close ou ctx cancelado).
	// O erro retornado também embrulha a causa (ErrClosed ou ctx.Err()).
	ErrInterrupted = errors.New("wait interrupted")
)

// Clock retorna nanossegundos monotônicos.
type Clock func() int64

// RateLimiter é um limitador local que informa quanto o chamador esperou.
//
// Acquire reserva `permits` e bloqueia pelo tempo calculado. O retorno é o
// tempo calculado (não o medido), mesmo quando a espera é interrompida.
// Close é definitivo e acorda quem estiver esperando.
type RateLimiter interface {
	Acquire(ctx context.Context, permits int) (time.Duration, error)
	Close() error
}

// LimiterStore obtém um limiter por chave (ex: IP, API key, usuário).
// A implementação pode manter cache, TTL, etc.
type LimiterStore interface {
	Get(Key) (RateLimiter, error)
}

type Decision struct {
	Allowed bool
	// Waited é o tempo que o limiter impôs ao chamador.
	Waited time.Duration
	// RetryAfter é o valor a ser retornado em Retry-After quando a espera
	// foi abandonada. Se 0, não há recomendação.
	RetryAfter time.Duration
	// Err explica por que Allowed=false.
	Err error
}
