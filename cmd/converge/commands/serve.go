package commands

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/convergehq/converge/pkg/config"
	"github.com/convergehq/converge/pkg/drift"
	"github.com/convergehq/converge/pkg/engine"
	"github.com/convergehq/converge/pkg/policy"
	"github.com/convergehq/converge/pkg/telemetry"
)

func newServeCommand() *cobra.Command {
	var resync time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the reconciliation service",
		Long: `Run Converge as a long-lived service: periodic reconciliation of every
managed resource, scheduled drift scans, policy hot-reload, and an ops
HTTP endpoint exposing metrics and health.

Intents are submitted out of band with "converge apply --async"; the
serve loop picks them up on the next resync pass.`,
		Example: `  # Run with the default config
  converge serve

  # Resync every minute
  converge serve --resync 1m`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			telCfg := cfg.Telemetry.Build(buildVersion)
			if verbose {
				telCfg.Logging.Level = "debug"
			}

			tel, err := telemetry.NewTelemetry(telCfg)
			if err != nil {
				return err
			}
			logger := tel.Logger.Zerolog()
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := tel.Shutdown(shutdownCtx); err != nil {
					logger.Warn().Err(err).Msg("telemetry shutdown failed")
				}
			}()

			sink := telemetry.NewEngineSink(tel.Events, logger)

			rt, err := newRuntimeFromConfig(ctx, cfg, logger,
				engine.WithPassObserver(telemetry.NewObserver(tel.Metrics)),
				engine.WithAlertSink(sink),
			)
			if err != nil {
				return err
			}
			defer rt.Close()

			// Drift detections reach the metrics through the event stream, so
			// one subscription covers both scheduled and ad hoc scans.
			tel.Events.Subscribe(func(event telemetry.Event) {
				id, err := engine.ParseResourceID(event.ResourceID)
				if err != nil {
					return
				}
				status, _ := event.Data["status"].(string)
				tel.Metrics.RecordDriftDetection(string(id.Kind), status)
			}, telemetry.FilterByType(telemetry.EventTypeDriftDetected, telemetry.EventTypeResourceMissing))

			if telCfg.Metrics.Enabled {
				ops := telemetry.NewOpsServer(telCfg.Metrics, tel.Metrics, func(ctx context.Context) error {
					if hc, ok := rt.store.(interface{ HealthCheck(context.Context) error }); ok {
						return hc.HealthCheck(ctx)
					}
					return nil
				}, logger)
				ops.Start()
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					if err := ops.Shutdown(shutdownCtx); err != nil {
						logger.Warn().Err(err).Msg("ops server shutdown failed")
					}
				}()
			}

			if cfg.Policy.Watch && len(cfg.Policy.Paths) > 0 {
				loader := policy.NewLoader(logger)
				reload := func(policies []policy.Policy) error {
					return rt.policy.ReplacePolicies(policies)
				}
				if err := loader.Watch(ctx, cfg.Policy.Paths, reload); err != nil {
					return err
				}
				defer func() {
					if err := loader.StopWatching(); err != nil {
						logger.Warn().Err(err).Msg("policy watcher shutdown failed")
					}
				}()
			}

			if cfg.Drift.Enabled {
				detector := drift.NewDetector(rt.store, rt.adapter,
					drift.WithLogger(logger),
					drift.WithAlertSink(sink),
					drift.WithCallTimeout(cfg.Engine.CallTimeout.Std()),
				)
				scheduler, err := drift.NewScheduler(detector, drift.Schedule{
					Interval: cfg.Drift.Interval.Std(),
					Cron:     cfg.Drift.Cron,
					Timezone: cfg.Drift.Timezone,
				}, logger)
				if err != nil {
					return err
				}
				go func() {
					if err := scheduler.Run(ctx); err != nil && ctx.Err() == nil {
						logger.Error().Err(err).Msg("drift scheduler stopped")
					}
				}()
			}

			logger.Info().
				Str("version", buildVersion).
				Str("adapter", cfg.Provider.Adapter).
				Str("store", cfg.Store.Driver).
				Dur("resync", resync).
				Msg("converge serving")

			if resync <= 0 {
				<-ctx.Done()
				logger.Info().Msg("shutting down")
				return nil
			}

			ticker := time.NewTicker(resync)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					logger.Info().Msg("shutting down")
					return nil

				case <-ticker.C:
					results, err := rt.engine.ReconcileAll(ctx)
					if err != nil {
						if ctx.Err() != nil {
							logger.Info().Msg("shutting down")
							return nil
						}
						logger.Error().Err(err).Msg("resync pass failed")
						continue
					}

					settled, failed := 0, 0
					for _, result := range results {
						switch result.Phase {
						case engine.PhaseSettled:
							settled++
						default:
							failed++
						}
					}
					logger.Info().
						Int("resources", len(results)).
						Int("settled", settled).
						Int("failed", failed).
						Msg("resync pass complete")

					updatePhaseGauges(ctx, rt.engine, tel.Metrics, logger)
				}
			}
		},
	}

	cmd.Flags().DurationVar(&resync, "resync", 5*time.Minute, "interval between full reconciliation passes (0 disables)")

	return cmd
}

// updatePhaseGauges refreshes the per-kind phase gauges from the store.
func updatePhaseGauges(ctx context.Context, eng *engine.Engine, metrics *telemetry.Metrics, logger zerolog.Logger) {
	records, err := eng.List(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to list records for phase gauges")
		return
	}

	type key struct{ kind, phase string }
	counts := make(map[key]int)
	for _, record := range records {
		counts[key{string(record.ID.Kind), string(record.Phase)}]++
	}
	for k, n := range counts {
		metrics.SetResourcesByPhase(k.kind, k.phase, float64(n))
	}
}
