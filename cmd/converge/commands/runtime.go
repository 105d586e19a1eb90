package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/convergehq/converge/pkg/config"
	"github.com/convergehq/converge/pkg/engine"
	"github.com/convergehq/converge/pkg/intent"
	"github.com/convergehq/converge/pkg/policy"
	"github.com/convergehq/converge/pkg/providers"
	"github.com/convergehq/converge/pkg/providers/sim"
	"github.com/convergehq/converge/pkg/stores"
)

// runtime bundles the wired components a command needs: config, store,
// provider registry, policy gate, and the reconciliation engine.
type runtime struct {
	cfg       *config.Config
	logger    zerolog.Logger
	store     engine.StateStore
	registry  *providers.Registry
	adapter   engine.Adapter
	policy    *policy.Engine
	engine    *engine.Engine
	validator *intent.Validator

	closers []func() error
}

// newRuntime loads configuration and wires the full stack.
func newRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return newRuntimeFromConfig(ctx, cfg, newCommandLogger(cfg))
}

// newRuntimeFromConfig wires the stack from an already-loaded configuration.
// Extra engine options are appended after the defaults, so callers can attach
// observers and alert sinks.
func newRuntimeFromConfig(ctx context.Context, cfg *config.Config, logger zerolog.Logger, engineOpts ...engine.EngineOption) (*runtime, error) {
	store, closer, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	r := &runtime{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		validator: intent.NewValidator(),
	}
	if closer != nil {
		r.closers = append(r.closers, closer)
	}

	r.registry = providers.NewRegistry()
	if err := r.registry.Register(sim.New(nil)); err != nil {
		r.Close()
		return nil, err
	}

	r.adapter, err = r.registry.Get(cfg.Provider.Adapter)
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("unknown provider adapter %q: %w", cfg.Provider.Adapter, err)
	}

	r.policy, err = policy.NewEngine(logger)
	if err != nil {
		r.Close()
		return nil, err
	}
	if len(cfg.Policy.Paths) > 0 {
		if err := r.policy.LoadPolicies(ctx, cfg.Policy.Paths); err != nil {
			r.Close()
			return nil, err
		}
	}
	gate := policy.NewGate(r.policy, policy.Mode(cfg.Policy.Mode), logger)

	opts := []engine.EngineOption{
		engine.WithLogger(logger),
		engine.WithAdmissionGates(gate),
	}
	opts = append(opts, engineOpts...)

	r.engine, err = engine.New(store, r.adapter, cfg.Engine.Options(), opts...)
	if err != nil {
		r.Close()
		return nil, err
	}

	return r, nil
}

// Close releases the runtime's resources in reverse wiring order.
func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			r.logger.Warn().Err(err).Msg("failed to close resource")
		}
	}
}

// openStore builds the configured state store backend.
func openStore(ctx context.Context, cfg *config.Config) (engine.StateStore, func() error, error) {
	switch cfg.Store.Driver {
	case "memory":
		return stores.NewMemoryStore(), nil, nil

	case "sqlite":
		store, err := stores.NewSQLiteStore(stores.SQLiteConfig{Path: cfg.Store.Path})
		if err != nil {
			return nil, nil, err
		}
		if err := store.Init(ctx); err != nil {
			return nil, nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, nil, err
		}
		return store, store.Close, nil

	case "postgres":
		store, err := stores.NewPostgresStore(ctx, stores.PostgresConfig{DSN: cfg.Store.DSN})
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown store driver: %s", cfg.Store.Driver)
	}
}

// newCommandLogger builds the CLI logger from config and the global flags.
func newCommandLogger(cfg *config.Config) zerolog.Logger {
	level := zerolog.InfoLevel
	if cfg.Telemetry.LogLevel != "" {
		if parsed, err := zerolog.ParseLevel(cfg.Telemetry.LogLevel); err == nil {
			level = parsed
		}
	}
	if verbose {
		level = zerolog.DebugLevel
	}

	if cfg.Telemetry.LogFormat == "json" {
		return zerolog.New(os.Stderr).With().Timestamp().Logger().Level(level)
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger().Level(level)
}

// printJSON writes v as indented JSON to stdout.
func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
