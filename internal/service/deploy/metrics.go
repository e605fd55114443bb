package deploy

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricsOnce    sync.Once
	buildsTotal    *prometheus.CounterVec
	buildDuration  prometheus.Histogram
	jobLeaksTotal  prometheus.Counter
	metricsEnabled bool
)

func initMetrics() {
	metricsOnce.Do(func() {
		buildsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "skiff",
			Subsystem: "pipeline",
			Name:      "builds_total",
			Help:      "Count of finished builds by result",
		}, []string{"result"})

		buildDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "skiff",
			Subsystem: "pipeline",
			Name:      "build_duration_seconds",
			Help:      "Wall-clock duration of builds",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		})

		jobLeaksTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "skiff",
			Subsystem: "pipeline",
			Name:      "job_leaks_total",
			Help:      "Build jobs whose execution context could not be disposed",
		})

		for _, c := range []prometheus.Collector{buildsTotal, buildDuration, jobLeaksTotal} {
			if err := prometheus.Register(c); err != nil {
				if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
					switch v := are.ExistingCollector.(type) {
					case *prometheus.CounterVec:
						buildsTotal = v
					case prometheus.Histogram:
						buildDuration = v
					case prometheus.Counter:
						jobLeaksTotal = v
					}
				}
			}
		}
		metricsEnabled = true
	})
}

func recordBuildResult(result string, elapsed time.Duration) {
	initMetrics()
	if !metricsEnabled {
		return
	}
	buildsTotal.WithLabelValues(result).Inc()
	buildDuration.Observe(elapsed.Seconds())
}

func recordJobLeak() {
	initMetrics()
	if !metricsEnabled {
		return
	}
	jobLeaksTotal.Inc()
}
