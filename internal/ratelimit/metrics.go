package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Decisions *prometheus.CounterVec
	Degraded  prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "examboard_ratelimit_decisions_total",
			Help: "Rate limit decisions by outcome",
		}, []string{"outcome"}),
		Degraded: f.NewGauge(prometheus.GaugeOpts{
			Name: "examboard_ratelimit_degraded",
			Help: "1 while rate limiting runs on the local fallback",
		}),
	}
}

func (m *Metrics) Observe(allowed bool) {
	if m == nil {
		return
	}
	outcome := "allowed"
	if !allowed {
		outcome = "limited"
	}
	m.Decisions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetDegraded(degraded bool) {
	if m == nil {
		return
	}
	if degraded {
		m.Degraded.Set(1)
		return
	}
	m.Degraded.Set(0)
}
