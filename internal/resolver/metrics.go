package resolver

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricsOnce       sync.Once
	resolutionTotal   *prometheus.CounterVec
	resolutionLatency *prometheus.HistogramVec
	metricsEnabled    bool
)

func initMetrics() {
	metricsOnce.Do(func() {
		resolutionTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "skiff",
			Subsystem: "router",
			Name:      "http_requests_total",
			Help:      "Count of content resolution requests",
		}, []string{"method", "status"})

		resolutionLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "skiff",
			Subsystem: "router",
			Name:      "http_request_duration_seconds",
			Help:      "Latency distribution of content resolution",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
		}, []string{"method", "status"})

		for _, c := range []prometheus.Collector{resolutionTotal, resolutionLatency} {
			if err := prometheus.Register(c); err != nil {
				if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
					switch v := are.ExistingCollector.(type) {
					case *prometheus.CounterVec:
						resolutionTotal = v
					case *prometheus.HistogramVec:
						resolutionLatency = v
					}
				}
			}
		}
		metricsEnabled = true
	})
}

func recordResolution(method string, status int, elapsed time.Duration) {
	initMetrics()
	if !metricsEnabled {
		return
	}
	labels := prometheus.Labels{"method": method, "status": strconv.Itoa(status)}
	resolutionTotal.With(labels).Inc()
	resolutionLatency.With(labels).Observe(elapsed.Seconds())
}
