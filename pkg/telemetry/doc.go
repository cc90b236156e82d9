// Package telemetry provides logging, tracing and metrics for the payroll runtime.
//
// Logging wraps zerolog with payroll fields:
//
//	logger := tel.Logger.NewComponentLogger("payrun")
//	logger.WithJobID(job.ID).WithEmployee(employee.Identifier).Info("Employee evaluated")
//
// Tracing uses OpenTelemetry with stdout or OTLP gRPC exporters. The payrun
// processor opens a span per job and per employee, the script host one per
// invocation:
//
//	ctx, span := tel.Tracer.StartScriptSpan(ctx, "WageTypeValue", "1000", "starlark")
//	defer telemetry.EndSpan(span, err)
//
// Metrics are Prometheus collectors on a private registry, exposed by
// StartMetricsServer (default :9090/metrics). Recorders are no-ops when metrics
// are disabled or the Metrics value is nil:
//
//	tel.Metrics.RecordScriptInvocation("WageTypeValue", "starlark", telemetry.OutcomeSuccess, d)
//	tel.Metrics.RecordWageTypeRestart()
//
// Configuration presets are DefaultConfig, DevelopmentConfig and ProductionConfig.
package telemetry
