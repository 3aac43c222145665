// Package accesslog records per-request access entries off the hot path
// and raises error and slow-request alarms.
package accesslog

import (
	"net/http"
	"sync"
	"time"

	"github.com/paysphere/sphere-gateway/internal/config"
	"github.com/paysphere/sphere-gateway/internal/observability"
)

// Entry is one access-log record.
type Entry struct {
	TargetServer  string        `json:"targetServer"`
	Host          string        `json:"host"`
	RequestPath   string        `json:"requestPath"`
	Method        string        `json:"method"`
	Schema        string        `json:"schema"`
	IP            string        `json:"ip"`
	RequestTime   time.Time     `json:"requestTime"`
	RequestHeader string        `json:"requestHeader"`
	RequestParam  string        `json:"requestParam"`
	MerchantID    string        `json:"merchantId"`
	Code          int           `json:"code"`
	ExecuteTime   time.Duration `json:"executeTime"`
}

// AlarmSink receives alarm notifications. Implementations must be safe for
// concurrent use.
type AlarmSink interface {
	ErrorAlarm(e Entry)
	SlowAlarm(e Entry)
}

// Recorder writes entries through a bounded worker pool. When the queue is
// full the submitting goroutine processes the entry itself, so records are
// delayed under load but never dropped.
type Recorder struct {
	logger observability.Logger
	sink   AlarmSink

	failAlarm     bool
	failExclusion map[int]struct{}
	slowAlarm     bool
	slowThreshold time.Duration

	queue chan Entry
	wg    sync.WaitGroup

	closeOnce sync.Once
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithAlarmSink replaces the default logger-backed alarm sink.
func WithAlarmSink(sink AlarmSink) Option {
	return func(r *Recorder) {
		r.sink = sink
	}
}

// NewRecorder creates a Recorder and starts its worker pool.
func NewRecorder(cfg config.LogConfig, logger observability.Logger, opts ...Option) *Recorder {
	if logger == nil {
		logger = observability.NopLogger()
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = 64
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 1024
	}

	exclusion := make(map[int]struct{}, len(cfg.Fail.Exclusion))
	for _, code := range cfg.Fail.Exclusion {
		exclusion[code] = struct{}{}
	}

	r := &Recorder{
		logger:        logger,
		failAlarm:     cfg.Fail.Alarm,
		failExclusion: exclusion,
		slowAlarm:     cfg.Slow.Alarm,
		slowThreshold: cfg.Slow.Threshold.Duration(),
		queue:         make(chan Entry, queueSize),
	}
	r.sink = &logSink{logger: logger}
	for _, opt := range opts {
		opt(r)
	}

	r.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go r.worker()
	}

	logger.Info("access log recorder started",
		observability.Int("workers", workers),
		observability.Int("queueSize", queueSize))

	return r
}

// Record submits an entry. Never blocks: on queue saturation the entry is
// processed on the caller goroutine.
func (r *Recorder) Record(e Entry) {
	select {
	case r.queue <- e:
		GetAccessLogMetrics().queueDepth.Set(float64(len(r.queue)))
	default:
		GetAccessLogMetrics().callerRunsTotal.Inc()
		r.process(e)
	}
}

// Close stops accepting entries and waits for queued ones to drain.
func (r *Recorder) Close() {
	r.closeOnce.Do(func() {
		close(r.queue)
		r.wg.Wait()
		r.logger.Info("access log recorder stopped")
	})
}

func (r *Recorder) worker() {
	defer r.wg.Done()
	for e := range r.queue {
		r.process(e)
	}
}

// process writes the structured record and evaluates both alarms. The
// alarms are independent: a slow failing request raises both.
func (r *Recorder) process(e Entry) {
	r.logger.Info("access",
		observability.String("targetServer", e.TargetServer),
		observability.String("host", e.Host),
		observability.String("requestPath", e.RequestPath),
		observability.String("method", e.Method),
		observability.String("schema", e.Schema),
		observability.String("ip", e.IP),
		observability.Time("requestTime", e.RequestTime),
		observability.String("merchantId", e.MerchantID),
		observability.Int("code", e.Code),
		observability.Duration("executeTime", e.ExecuteTime))

	GetAccessLogMetrics().entriesTotal.Inc()

	if r.shouldErrorAlarm(e) {
		GetAccessLogMetrics().alarmsTotal.WithLabelValues("error").Inc()
		r.sink.ErrorAlarm(e)
	}
	if r.shouldSlowAlarm(e) {
		GetAccessLogMetrics().alarmsTotal.WithLabelValues("slow").Inc()
		r.sink.SlowAlarm(e)
	}
}

func (r *Recorder) shouldErrorAlarm(e Entry) bool {
	if !r.failAlarm || e.Code == http.StatusOK {
		return false
	}
	_, excluded := r.failExclusion[e.Code]
	return !excluded
}

func (r *Recorder) shouldSlowAlarm(e Entry) bool {
	return r.slowAlarm && r.slowThreshold > 0 && e.ExecuteTime >= r.slowThreshold
}

// logSink raises alarms through the process logger.
type logSink struct {
	logger observability.Logger
}

func (s *logSink) ErrorAlarm(e Entry) {
	s.logger.Warn("request failed",
		observability.String("requestPath", e.RequestPath),
		observability.String("merchantId", e.MerchantID),
		observability.String("ip", e.IP),
		observability.Int("code", e.Code))
}

func (s *logSink) SlowAlarm(e Entry) {
	s.logger.Warn("slow request",
		observability.String("requestPath", e.RequestPath),
		observability.String("merchantId", e.MerchantID),
		observability.Duration("executeTime", e.ExecuteTime))
}
