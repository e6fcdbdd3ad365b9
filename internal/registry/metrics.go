package registry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks reservation pressure per namespace. A nil *Metrics is valid.
type Metrics struct {
	Collisions *prometheus.CounterVec
	Exhausted  *prometheus.CounterVec
	Attempts   *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Collisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "examboard_registry_collisions_total",
			Help: "Reservation attempts that hit an existing value",
		}, []string{"namespace"}),
		Exhausted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "examboard_registry_exhausted_total",
			Help: "Claims that ran out of attempts",
		}, []string{"namespace"}),
		Attempts: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "examboard_registry_claim_attempts",
			Help:    "Attempts needed for a successful claim",
			Buckets: []float64{1, 2, 3, 5, 10, 25, 50},
		}, []string{"namespace"}),
	}
}

func (m *Metrics) IncCollision(ns Namespace) {
	if m != nil {
		m.Collisions.WithLabelValues(string(ns)).Inc()
	}
}

func (m *Metrics) IncExhausted(ns Namespace) {
	if m != nil {
		m.Exhausted.WithLabelValues(string(ns)).Inc()
	}
}

func (m *Metrics) ObserveAttempts(ns Namespace, attempts int) {
	if m != nil {
		m.Attempts.WithLabelValues(string(ns)).Observe(float64(attempts))
	}
}
