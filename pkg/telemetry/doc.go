// Package telemetry provides observability for the management core.
//
// It integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry) and metrics (Prometheus).
//
// # Usage
//
// Initialize telemetry at process startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = "1.0.0"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//	tel.StartMetricsServer()
//
// # Structured Logging
//
//	logger := tel.Logger.NewComponentLogger("engine")
//	logger = logger.WithOperationID(id).WithOperation("write-attribute", "/server=s1")
//	logger.Info("operation started")
//
// # Tracing
//
// Every operation gets a root span from StartOperationSpan and every step a
// child span from StartStepSpan. The "stdout" exporter pretty-prints spans,
// "otlp" exports over gRPC and "none" records without exporting.
//
// # Metrics
//
// Metrics satisfies the engine's Recorder interface and the notification
// emitter's recorder. Key series:
//
//   - mgmtcore_operations_total{operation,outcome}
//   - mgmtcore_operation_duration_seconds{operation}
//   - mgmtcore_steps_total{phase,status}
//   - mgmtcore_rollback_actions_total{result}
//   - mgmtcore_lock_wait_seconds{mode}
//   - mgmtcore_notifications_emitted_total{type}
//   - mgmtcore_notifications_dropped_total{type}
//   - mgmtcore_errors_by_class_total{class}
//
// Metrics are exposed via HTTP at /metrics (default: :9090/metrics).
package telemetry
