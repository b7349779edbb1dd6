package metrics

import "github.com/prometheus/client_golang/prometheus"

// BroadcastMetrics tracks WebSocket subscribers and fan-out.
type BroadcastMetrics struct {
	ConnectedSubscribers prometheus.Gauge
	FramesPublished      *prometheus.CounterVec
	SubscribersEvicted   *prometheus.CounterVec
	FanOutDuration       prometheus.Histogram
}

func NewBroadcastMetrics(reg prometheus.Registerer) *BroadcastMetrics {
	m := &BroadcastMetrics{
		ConnectedSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "connected_subscribers",
			Help:      "Number of live WebSocket subscribers.",
		}),
		FramesPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "frames_enqueued_total",
			Help:      "Frames enqueued to subscribers by event name.",
		}, []string{"event"}),
		SubscribersEvicted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "subscribers_evicted_total",
			Help:      "Subscribers removed during fan-out by reason (slow/closed).",
		}, []string{"reason"}),
		FanOutDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "fanout_duration_seconds",
			Help:      "Duration of one Publish call across all subscribers.",
			Buckets:   []float64{.00001, .0001, .0005, .001, .005, .01, .025},
		}),
	}

	reg.MustRegister(m.ConnectedSubscribers, m.FramesPublished, m.SubscribersEvicted, m.FanOutDuration)
	return m
}
