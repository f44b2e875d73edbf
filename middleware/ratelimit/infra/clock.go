package infra

import (
	"time"

	"throttle-gateway/middleware/ratelimit/domain"
)

// MonotonicClock retorna um domain.Clock baseado no relógio monotônico do
// runtime (time.Since), imune a ajustes do relógio de parede.
func MonotonicClock() domain.Clock {
	origin := time.Now()
	return func() int64 { return int64(time.Since(origin)) }
}
