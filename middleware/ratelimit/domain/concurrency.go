package domain

import "context"

// Occupancy é a foto de quem está segurando o gateway num instante.
//
// Queued ainda espera vaga no pool; Throttled já tem vaga e espera o limiter;
// Upstream foi liberado pelo limiter e está em voo para o upstream.
type Occupancy struct {
	Queued    int
	Throttled int
	Upstream  int
}

// InFlight é o número de vagas ocupadas.
func (o Occupancy) InFlight() int { return o.Throttled + o.Upstream }

// Slot é uma vaga adquirida. Forward marca que o throttle liberou o request;
// Release devolve a vaga. Ambos são idempotentes.
type Slot interface {
	Forward()
	Release()
}

// SlotPool limita quantos requests o gateway segura ao mesmo tempo, somando
// os que esperam o throttle e os que já estão no upstream.
//
// Acquire bloqueia até conseguir uma vaga, até o ctx encerrar ou até Close.
// Depois de Close, Acquire falha com ErrClosed; quem estava na fila recebe um
// erro que embrulha ErrInterrupted e ErrClosed.
type SlotPool interface {
	Acquire(ctx context.Context) (Slot, error)
	Occupancy() Occupancy
	Close() error
}
