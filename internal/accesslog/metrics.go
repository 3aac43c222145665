package accesslog

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// AccessLogMetrics holds Prometheus metrics for the recorder.
type AccessLogMetrics struct {
	entriesTotal    prometheus.Counter
	alarmsTotal     *prometheus.CounterVec
	callerRunsTotal prometheus.Counter
	queueDepth      prometheus.Gauge
}

var (
	accessLogMetricsInstance *AccessLogMetrics
	accessLogMetricsOnce     sync.Once
)

// GetAccessLogMetrics returns the singleton recorder metrics instance.
func GetAccessLogMetrics() *AccessLogMetrics {
	accessLogMetricsOnce.Do(func() {
		accessLogMetricsInstance = newAccessLogMetrics()
	})
	return accessLogMetricsInstance
}

func newAccessLogMetrics() *AccessLogMetrics {
	return &AccessLogMetrics{
		entriesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "gateway",
				Subsystem: "accesslog",
				Name:      "entries_total",
				Help:      "Total number of access log entries recorded",
			},
		),
		alarmsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gateway",
				Subsystem: "accesslog",
				Name:      "alarms_total",
				Help:      "Total number of alarms raised",
			},
			[]string{"type"},
		),
		callerRunsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "gateway",
				Subsystem: "accesslog",
				Name:      "caller_runs_total",
				Help:      "Entries processed on the caller goroutine due to queue saturation",
			},
		),
		queueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "gateway",
				Subsystem: "accesslog",
				Name:      "queue_depth",
				Help:      "Current number of queued access log entries",
			},
		),
	}
}
