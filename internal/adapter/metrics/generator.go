package metrics

import "github.com/prometheus/client_golang/prometheus"

// GeneratorMetrics tracks the periodic counter generator.
type GeneratorMetrics struct {
	TicksTotal   *prometheus.CounterVec
	TickDuration prometheus.Histogram
	ActiveUsers  prometheus.Gauge
	Messages     prometheus.Gauge
}

func NewGeneratorMetrics(reg prometheus.Registerer) *GeneratorMetrics {
	m := &GeneratorMetrics{
		TicksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "generator",
			Name:      "ticks_total",
			Help:      "Generator ticks by result (ok/error).",
		}, []string{"result"}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "generator",
			Name:      "tick_duration_seconds",
			Help:      "Duration of one generator tick including hand-off to the broadcaster.",
			Buckets:   []float64{.00001, .0001, .0005, .001, .005, .01, .05},
		}),
		ActiveUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "counters",
			Name:      "active_users",
			Help:      "Current active-user estimate.",
		}),
		Messages: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "counters",
			Name:      "messages",
			Help:      "Current total message count.",
		}),
	}

	reg.MustRegister(m.TicksTotal, m.TickDuration, m.ActiveUsers, m.Messages)
	return m
}
