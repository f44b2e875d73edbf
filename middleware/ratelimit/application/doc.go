// Package application contém os casos de uso (regras de aplicação) para throttle
// e limite de concorrência.
//
// Ele depende apenas do pacote domain e não conhece net/http.
// Ex.: Service.Throttle(ctx, key, permits) espera o limiter e retorna uma
// Decision (allowed + tempo esperado, ou o motivo da desistência).
package application
