// Package ratelimit fornece adapters HTTP (net/http) para throttle e limite de concorrência.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: casos de uso (esperar o limiter, acquire/timeout) sem net/http
//   - infra: implementações concretas (token bucket com burst, semáforo, stats)
//   - ratelimit (este pacote): middlewares HTTP + wiring/extração de chave + tradução para status/headers
//
// Fluxo no gateway:
//
//   1) Extrai a chave (global ou por cliente: IP/header/XFF)
//   2) Chama a camada application, que espera o limiter liberar os permits
//   3) Se a espera foi abandonada (shutdown), responde 503 + Retry-After
//   4) Se liberado, chama o próximo handler (ex: reverse proxy)
//
// Variáveis de ambiente do binário gateway (cmd/gateway) controlam o comportamento,
// como THROTTLE_RPS, THROTTLE_MAX_BURST_SECONDS, CONCURRENCY_MAX e CONCURRENCY_TIMEOUT.
package ratelimit
