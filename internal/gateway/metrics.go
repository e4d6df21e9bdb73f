package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records per-operation outcomes. A nil *Metrics records nothing.
type Metrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	waiting    *prometheus.GaugeVec
}

// NewMetrics registers the gateway collectors with reg. history may be nil.
func NewMetrics(reg prometheus.Registerer, history *HistoryStore) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "card_gateway",
				Subsystem: "operations",
				Name:      "total",
				Help:      "Card operations by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "card_gateway",
				Subsystem: "operations",
				Name:      "duration_seconds",
				Help:      "Card operation duration in seconds, including queueing.",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 15, 30},
			},
			[]string{"kind"},
		),
		waiting: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "card_gateway",
				Subsystem: "readers",
				Name:      "waiting_operations",
				Help:      "Operations waiting for or holding a reader.",
			},
			[]string{"reader"},
		),
	}
	reg.MustRegister(m.operations, m.duration, m.waiting)

	if history != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: "card_gateway",
				Subsystem: "history",
				Name:      "records",
				Help:      "UID history records currently held.",
			},
			func() float64 { return float64(history.Len()) },
		))
	}
	return m
}

func outcome(res *Result) string {
	if res.Success {
		return "success"
	}
	return string(res.Failure)
}

func (m *Metrics) observe(res *Result) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(string(res.Kind), outcome(res)).Inc()
	m.duration.WithLabelValues(string(res.Kind)).Observe(res.Duration.Seconds())
}

func (m *Metrics) readerGauge(reader string) prometheus.Gauge {
	if m == nil {
		return nil
	}
	return m.waiting.WithLabelValues(reader)
}
