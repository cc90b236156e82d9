package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Script invocation outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeTimeout = "timeout"
)

// Metrics provides Prometheus metrics for payrun evaluation.
// Every recorder is safe to call on a nil or disabled instance.
type Metrics struct {
	config MetricsConfig

	// Script metrics
	scriptInvocations *prometheus.CounterVec
	scriptDuration    *prometheus.HistogramVec
	scriptCompiles    *prometheus.CounterVec
	scriptCacheHits   prometheus.Counter

	// Payrun metrics
	jobsCompleted      *prometheus.CounterVec
	jobDuration        *prometheus.HistogramVec
	employeesEvaluated *prometheus.CounterVec
	wageTypeRestarts   prometheus.Counter
	retroRequests      prometheus.Counter
	activeJobs         prometheus.Gauge

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	// Webhook metrics
	webhookMessages *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		scriptInvocations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "script_invocations_total",
				Help:      "Total number of script invocations",
			},
			[]string{"function", "outcome"},
		),
		scriptDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "script_duration_seconds",
				Help:      "Duration of script invocations in seconds",
				Buckets:   buckets,
			},
			[]string{"function", "language"},
		),
		scriptCompiles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "script_compiles_total",
				Help:      "Total number of script compilations",
			},
			[]string{"language", "outcome"},
		),
		scriptCacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "script_cache_hits_total",
				Help:      "Total number of compiled function cache hits",
			},
		),

		jobsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "payrun_jobs_completed_total",
				Help:      "Total number of payrun jobs completed",
			},
			[]string{"status"},
		),
		jobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "payrun_job_duration_seconds",
				Help:      "Duration of payrun jobs in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),
		employeesEvaluated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "employees_evaluated_total",
				Help:      "Total number of employees evaluated",
			},
			[]string{"outcome"},
		),
		wageTypeRestarts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "wage_type_restarts_total",
				Help:      "Total number of wage type restarts",
			},
		),
		retroRequests: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retro_requests_total",
				Help:      "Total number of accepted retro requests",
			},
		),
		activeJobs: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_payrun_jobs",
				Help:      "Current number of running payrun jobs",
			},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),

		webhookMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhook_messages_total",
				Help:      "Total number of webhook messages by action and outcome",
			},
			[]string{"action", "outcome"},
		),
	}

	registry.MustRegister(
		m.scriptInvocations,
		m.scriptDuration,
		m.scriptCompiles,
		m.scriptCacheHits,
		m.jobsCompleted,
		m.jobDuration,
		m.employeesEvaluated,
		m.wageTypeRestarts,
		m.retroRequests,
		m.activeJobs,
		m.errorsByClass,
		m.errorsByCode,
		m.webhookMessages,
	)

	return m, nil
}

func (m *Metrics) enabled() bool {
	return m != nil && m.registry != nil
}

// Registry returns the metrics registry, nil when disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Script Metrics

// RecordScriptInvocation records one script call with its outcome and duration.
func (m *Metrics) RecordScriptInvocation(functionType, language, outcome string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.scriptInvocations.WithLabelValues(functionType, outcome).Inc()
	m.scriptDuration.WithLabelValues(functionType, language).Observe(duration.Seconds())
}

// RecordScriptCompile records a compilation attempt.
func (m *Metrics) RecordScriptCompile(language, outcome string) {
	if !m.enabled() {
		return
	}
	m.scriptCompiles.WithLabelValues(language, outcome).Inc()
}

// RecordScriptCacheHit records a compiled function served from the cache.
func (m *Metrics) RecordScriptCacheHit() {
	if !m.enabled() {
		return
	}
	m.scriptCacheHits.Inc()
}

// Payrun Metrics

// RecordJobStarted marks a payrun job as running.
func (m *Metrics) RecordJobStarted() {
	if !m.enabled() {
		return
	}
	m.activeJobs.Inc()
}

// RecordJobCompleted records a finished job with its final status and duration.
func (m *Metrics) RecordJobCompleted(status string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.jobsCompleted.WithLabelValues(status).Inc()
	m.jobDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.activeJobs.Dec()
}

// RecordEmployeeEvaluated records the evaluation of one employee.
func (m *Metrics) RecordEmployeeEvaluated(outcome string) {
	if !m.enabled() {
		return
	}
	m.employeesEvaluated.WithLabelValues(outcome).Inc()
}

// RecordWageTypeRestart records a restart requested by a wage type script.
func (m *Metrics) RecordWageTypeRestart() {
	if !m.enabled() {
		return
	}
	m.wageTypeRestarts.Inc()
}

// RecordRetroRequest records an accepted retro request.
func (m *Metrics) RecordRetroRequest() {
	if !m.enabled() {
		return
	}
	m.retroRequests.Inc()
}

// Error Metrics

// RecordError records an error by class and optionally by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if !m.enabled() {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
}

// Webhook Metrics

// RecordWebhook records a delivered or failed webhook message.
func (m *Metrics) RecordWebhook(action, outcome string) {
	if !m.enabled() {
		return
	}
	m.webhookMessages.WithLabelValues(action, outcome).Inc()
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer(logger zerolog.Logger) *http.Server {
	if !m.enabled() {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Str("address", m.config.ListenAddress).Msg("Metrics server failed")
		}
	}()

	return server
}
