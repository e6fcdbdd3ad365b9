package rendering

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is nil-safe.
type Metrics struct {
	Requests    *prometheus.CounterVec
	Duration    prometheus.Histogram
	BreakerOpen prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "examboard_renderer_requests_total",
			Help: "Renderer calls by outcome",
		}, []string{"outcome"}),
		Duration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "examboard_renderer_duration_seconds",
			Help:    "Renderer call latency",
			Buckets: prometheus.DefBuckets,
		}),
		BreakerOpen: f.NewGauge(prometheus.GaugeOpts{
			Name: "examboard_renderer_breaker_open",
			Help: "1 while the renderer breaker is open",
		}),
	}
}

func (m *Metrics) IncRequest(outcome string) {
	if m != nil {
		m.Requests.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) ObserveDuration(seconds float64) {
	if m != nil {
		m.Duration.Observe(seconds)
	}
}

func (m *Metrics) SetBreakerOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.BreakerOpen.Set(1)
	} else {
		m.BreakerOpen.Set(0)
	}
}
