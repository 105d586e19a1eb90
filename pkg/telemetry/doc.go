// Package telemetry provides the observability stack for the Converge
// engine: structured logging (zerolog), Prometheus metrics, OpenTelemetry
// tracing, and an in-process event publisher.
//
// The package plugs into the engine through two adapters: Observer implements
// engine.PassObserver and feeds pass and provider-call metrics, and
// EngineSink implements engine.AlertSink and turns drift and error alerts
// into published events. OpsServer exposes /metrics, /healthz, and /readyz.
//
// Typical wiring:
//
//	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(ctx)
//
//	observer := telemetry.NewObserver(tel.Metrics)
//	sink := telemetry.NewEngineSink(tel.Events, tel.Logger.Zerolog())
//
//	ops := telemetry.NewOpsServer(tel.Config.Metrics, tel.Metrics, nil, tel.Logger.Zerolog())
//	ops.Start()
package telemetry
