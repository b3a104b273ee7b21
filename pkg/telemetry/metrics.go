package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the management core.
type Metrics struct {
	config MetricsConfig

	// Operation metrics
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	activeOperations  prometheus.Gauge

	// Step metrics
	stepsTotal   *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec

	// Rollback metrics
	rollbackActions *prometheus.CounterVec
	reloadRequired  prometheus.Counter

	// Lock metrics
	lockWait *prometheus.HistogramVec

	// Notification metrics
	notificationsEmitted   *prometheus.CounterVec
	notificationsDelivered *prometheus.CounterVec
	notificationsDropped   *prometheus.CounterVec
	notificationFailures   *prometheus.CounterVec

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	// Model metrics
	resources prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// No-op instance: every Record method returns early.
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

		operationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Total number of management operations by outcome",
			},
			[]string{"operation", "outcome"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of management operations in seconds",
				Buckets:   buckets,
			},
			[]string{"operation"},
		),
		activeOperations: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_operations",
				Help:      "Current number of operations being executed",
			},
		),

		stepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "steps_total",
				Help:      "Total number of executed steps by phase and status",
			},
			[]string{"phase", "status"},
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "step_duration_seconds",
				Help:      "Duration of step execution in seconds",
				Buckets:   buckets,
			},
			[]string{"phase"},
		),

		rollbackActions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rollback_actions_total",
				Help:      "Total number of rollback actions run, by result",
			},
			[]string{"result"},
		),
		reloadRequired: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reload_required_total",
				Help:      "Total number of operations that left the process reload-required",
			},
		),

		lockWait: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "lock_wait_seconds",
				Help:      "Time spent waiting for subtree locks",
				Buckets:   buckets,
			},
			[]string{"mode"},
		),

		notificationsEmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_emitted_total",
				Help:      "Total number of notifications emitted",
			},
			[]string{"type"},
		),
		notificationsDelivered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_delivered_total",
				Help:      "Total number of notification deliveries to handlers",
			},
			[]string{"type"},
		),
		notificationsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_dropped_total",
				Help:      "Total number of notifications with no matching handler",
			},
			[]string{"type"},
		),
		notificationFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notification_handler_failures_total",
				Help:      "Total number of notification handler failures",
			},
			[]string{"type"},
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

		resources: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "resources",
				Help:      "Current number of resources in the model",
			},
		),
	}

	registry.MustRegister(
		m.operationsTotal,
		m.operationDuration,
		m.activeOperations,
		m.stepsTotal,
		m.stepDuration,
		m.rollbackActions,
		m.reloadRequired,
		m.lockWait,
		m.notificationsEmitted,
		m.notificationsDelivered,
		m.notificationsDropped,
		m.notificationFailures,
		m.errorsByClass,
		m.errorsByCode,
		m.resources,
	)

	return m, nil
}

// Operation Metrics

// OperationStarted increments the active operation gauge.
func (m *Metrics) OperationStarted() {
	if m.activeOperations == nil {
		return
	}
	m.activeOperations.Inc()
}

// RecordOperation records a finished operation with its outcome and duration.
func (m *Metrics) RecordOperation(operation, outcome string, reloadRequired bool, duration time.Duration) {
	if m.operationsTotal == nil {
		return
	}
	m.operationsTotal.WithLabelValues(operation, outcome).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	m.activeOperations.Dec()
	if reloadRequired {
		m.reloadRequired.Inc()
	}
}

// RecordStep records the execution of one step.
func (m *Metrics) RecordStep(phase string, failed bool, duration time.Duration) {
	if m.stepsTotal == nil {
		return
	}
	status := "completed"
	if failed {
		status = "failed"
	}
	m.stepsTotal.WithLabelValues(phase, status).Inc()
	m.stepDuration.WithLabelValues(phase).Observe(duration.Seconds())
}

// RecordRollback records the rollback actions run for one failed operation.
func (m *Metrics) RecordRollback(actions, failures int) {
	if m.rollbackActions == nil {
		return
	}
	m.rollbackActions.WithLabelValues("ok").Add(float64(actions - failures))
	m.rollbackActions.WithLabelValues("failed").Add(float64(failures))
}

// RecordLockWait records how long an operation waited for its lock.
func (m *Metrics) RecordLockWait(mode string, duration time.Duration) {
	if m.lockWait == nil {
		return
	}
	m.lockWait.WithLabelValues(mode).Observe(duration.Seconds())
}

// Notification Metrics

// RecordNotification records an emitted notification and the number of
// handlers it was delivered to.
func (m *Metrics) RecordNotification(notificationType string, handlers int) {
	if m.notificationsEmitted == nil {
		return
	}
	m.notificationsEmitted.WithLabelValues(notificationType).Inc()
	m.notificationsDelivered.WithLabelValues(notificationType).Add(float64(handlers))
}

// RecordNotificationDropped records a notification that had no handler.
func (m *Metrics) RecordNotificationDropped(notificationType string) {
	if m.notificationsDropped == nil {
		return
	}
	m.notificationsDropped.WithLabelValues(notificationType).Inc()
}

// RecordHandlerFailure records a notification handler that returned an error
// or panicked.
func (m *Metrics) RecordHandlerFailure(notificationType string) {
	if m.notificationFailures == nil {
		return
	}
	m.notificationFailures.WithLabelValues(notificationType).Inc()
}

// Error Metrics

// RecordError records an error by class and optionally by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" && m.errorsByCode != nil {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
}

// Model Metrics

// SetResourceCount sets the current number of resources in the model.
func (m *Metrics) SetResourceCount(count int) {
	if m.resources == nil {
		return
	}
	m.resources.Set(float64(count))
}

// Registry returns the underlying registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
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
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics. It returns the
// server so the caller can shut it down, or nil when metrics are disabled.
func (m *Metrics) StartMetricsServer(logger *Logger) *http.Server {
	if !m.config.Enabled {
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
			// The process keeps running without a metrics endpoint.
			logger.WithError(err).Error(fmt.Sprintf("metrics server on %s stopped", server.Addr))
		}
	}()

	return server
}
