// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - AveragingLimiter: token bucket com burst e relógio virtual (padrão)
//   - XRateLimiter / BucketLimiter: o mesmo contrato sobre golang.org/x/time/rate
//     e github.com/juju/ratelimit
//   - Store: um limiter por chave, com limpeza de chaves ociosas
//   - SlotPool: vagas do gateway, separando fila, espera no throttle e upstream
//   - Memory/Redis/Prometheus StatsStore: estatísticas do throttle
package infra
