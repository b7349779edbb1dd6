package metrics

import "github.com/prometheus/client_golang/prometheus"

// CacheMetrics tracks the short-lived proxy response cache.
type CacheMetrics struct {
	Hits   *prometheus.CounterVec
	Misses *prometheus.CounterVec
}

func NewCacheMetrics(reg prometheus.Registerer) *CacheMetrics {
	m := &CacheMetrics{
		Hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "proxy_cache",
			Name:      "hits_total",
			Help:      "Proxy responses served from cache, by upstream.",
		}, []string{"upstream"}),
		Misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "proxy_cache",
			Name:      "misses_total",
			Help:      "Proxy lookups that went to the upstream, by upstream.",
		}, []string{"upstream"}),
	}

	reg.MustRegister(m.Hits, m.Misses)
	return m
}
