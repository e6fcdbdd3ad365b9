package verification

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Verifications *prometheus.CounterVec
	Cache         *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Verifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "examboard_verifications_total",
			Help: "Public verification lookups by status",
		}, []string{"status"}),
		Cache: f.NewCounterVec(prometheus.CounterOpts{
			Name: "examboard_verification_cache_total",
			Help: "Verification cache reads by result",
		}, []string{"result"}),
	}
}

func (m *Metrics) IncVerification(status string) {
	if m != nil {
		m.Verifications.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) IncCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.Cache.WithLabelValues("hit").Inc()
		return
	}
	m.Cache.WithLabelValues("miss").Inc()
}
