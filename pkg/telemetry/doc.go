// Package telemetry provides observability instrumentation for cuebridge.
//
// The package integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry) and metrics (Prometheus). Everything hangs off a
// context.Context so the loader, engine and bridge never need telemetry
// passed explicitly.
//
// # Usage
//
// Initialize telemetry in the host process:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = version
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx = tel.WithContext(ctx)
//
// # Library use
//
// Without telemetry in the context, FromContext returns a disabled logger,
// StartOperation returns non-recording spans and MetricsFromContext returns
// nil, whose methods are no-ops. Embedding cuebridge in another process
// therefore produces no output unless the host opts in.
//
// # Structured Logging
//
//	logger := telemetry.FromContext(ctx).NewComponentLogger("engine")
//	logger.WithInstance("./services/api").Debug("Built instance")
//	logger.WithError(err).Warn("Instance failed to build")
//
// Log levels: trace, debug, info, warn, error, disabled
//
// # Tracing
//
// One span per pipeline phase:
//
//	op := telemetry.StartOperation(ctx, telemetry.SpanBuild,
//	    telemetry.AttrInstances.Int(len(instances)))
//	defer op.End(err)
//
// Exporters: otlp (gRPC), stdout, none.
//
// # Metrics
//
// Metrics live in a private registry exposed through Metrics.Handler:
//
//   - cuebridge_calls_total{code}
//   - cuebridge_call_duration_seconds{code}
//   - cuebridge_instances_total{outcome}
//   - cuebridge_phase_duration_seconds{phase}
//   - cuebridge_panics_recovered_total{site}
//   - cuebridge_workers_in_flight
package telemetry
