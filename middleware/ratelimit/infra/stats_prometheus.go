package infra

import (
	"context"

	"throttle-gateway/middleware/ratelimit/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusStatsStore expõe o throttle como métricas.
//
// Só Method/Path viram labels; a chave do cliente fica de fora para não
// explodir a cardinalidade.
type PrometheusStatsStore struct {
	acquires *prometheus.CounterVec
	permits  prometheus.Counter
	wait     *prometheus.HistogramVec
}

// NewPrometheusStatsStore registra as métricas em reg.
// Se reg for nil, usa prometheus.DefaultRegisterer.
func NewPrometheusStatsStore(reg prometheus.Registerer) *PrometheusStatsStore {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &PrometheusStatsStore{
		acquires: f.NewCounterVec(prometheus.CounterOpts{
			Name: "throttle_acquires_total",
			Help: "Throttle acquisitions by outcome (allowed or interrupted).",
		}, []string{"outcome", "method"}),
		permits: f.NewCounter(prometheus.CounterOpts{
			Name: "throttle_permits_total",
			Help: "Permits reserved through the throttle.",
		}),
		wait: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "throttle_wait_seconds",
			Help:    "Wait imposed by the throttle per acquisition.",
			Buckets: []float64{0, 0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method"}),
	}
}

func (s *PrometheusStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	outcome := "interrupted"
	if ev.Allowed {
		outcome = "allowed"
	}

	s.acquires.WithLabelValues(outcome, ev.Method).Inc()
	s.permits.Add(float64(ev.Permits))
	s.wait.WithLabelValues(ev.Method).Observe(ev.Waited.Seconds())
	return nil
}
