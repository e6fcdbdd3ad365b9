package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Transitions *prometheus.CounterVec
	Conflicts   *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "examboard_invoice_transitions_total",
			Help: "Applied invoice transitions",
		}, []string{"transition"}),
		Conflicts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "examboard_invoice_conflicts_total",
			Help: "Invoice transitions rejected by state or version guards",
		}, []string{"transition"}),
	}
}

func (m *Metrics) IncTransition(name string) {
	if m != nil {
		m.Transitions.WithLabelValues(name).Inc()
	}
}

func (m *Metrics) IncConflict(name string) {
	if m != nil {
		m.Conflicts.WithLabelValues(name).Inc()
	}
}
