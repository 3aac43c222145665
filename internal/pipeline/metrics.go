package pipeline

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PipelineMetrics holds Prometheus metrics for request processing.
type PipelineMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

var (
	pipelineMetricsInstance *PipelineMetrics
	pipelineMetricsOnce     sync.Once
)

// GetPipelineMetrics returns the singleton pipeline metrics instance.
func GetPipelineMetrics() *PipelineMetrics {
	pipelineMetricsOnce.Do(func() {
		pipelineMetricsInstance = newPipelineMetrics()
	})
	return pipelineMetricsInstance
}

func newPipelineMetrics() *PipelineMetrics {
	return &PipelineMetrics{
		requestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gateway",
				Subsystem: "pipeline",
				Name:      "requests_total",
				Help:      "Total number of requests by service code and outcome",
			},
			[]string{"service", "outcome"},
		),
		requestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "gateway",
				Subsystem: "pipeline",
				Name:      "request_duration_seconds",
				Help:      "End to end request duration by service code",
				Buckets: []float64{
					.005, .01, .025, .05, .1,
					.25, .5, 1, 2.5, 5, 10,
				},
			},
			[]string{"service"},
		),
	}
}
