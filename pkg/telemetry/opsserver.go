package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// ReadyFunc reports whether the service is ready to serve. A non-nil error
// makes /readyz return 503.
type ReadyFunc func(ctx context.Context) error

// OpsServer serves the operational HTTP endpoints: /metrics, /healthz, and
// /readyz.
type OpsServer struct {
	server *http.Server
	logger zerolog.Logger
}

// NewOpsServer builds the ops server. ready may be nil, in which case /readyz
// always reports ready.
func NewOpsServer(cfg MetricsConfig, metrics *Metrics, ready ReadyFunc, logger zerolog.Logger) *OpsServer {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	path := cfg.Path
	if path == "" {
		path = "/metrics"
	}
	r.Handle(path, metrics.Handler())

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		if ready != nil {
			if err := ready(req.Context()); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	return &OpsServer{
		server: &http.Server{
			Addr:              cfg.ListenAddress,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger.With().Str("component", "ops-server").Logger(),
	}
}

// Start serves in a background goroutine and returns immediately.
func (s *OpsServer) Start() {
	go func() {
		s.logger.Info().Str("addr", s.server.Addr).Msg("ops server listening")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("ops server failed")
		}
	}()
}

// Shutdown drains in-flight requests and stops the server.
func (s *OpsServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
