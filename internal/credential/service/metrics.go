package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"examboard/internal/credential/models"
)

// Metrics is nil-safe.
type Metrics struct {
	Issued *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		Issued: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "examboard_credentials_total",
			Help: "Credential issuance attempts by kind and outcome",
		}, []string{"kind", "outcome"}),
	}
}

func (m *Metrics) IncIssued(kind models.Kind, outcome string) {
	if m != nil {
		m.Issued.WithLabelValues(kind.String(), outcome).Inc()
	}
}
