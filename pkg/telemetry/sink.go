package telemetry

import (
	"github.com/rs/zerolog"

	"github.com/convergehq/converge/pkg/engine"
)

// EngineSink forwards engine alerts into the event publisher.
// It implements engine.AlertSink; emission is fire-and-forget, so publish
// failures are logged and dropped.
type EngineSink struct {
	events *EventPublisher
	logger zerolog.Logger
}

// NewEngineSink wraps an event publisher as an alert sink.
func NewEngineSink(events *EventPublisher, logger zerolog.Logger) *EngineSink {
	return &EngineSink{
		events: events,
		logger: logger.With().Str("component", "alert-sink").Logger(),
	}
}

// EmitDrift implements engine.AlertSink.
func (s *EngineSink) EmitDrift(event *engine.DriftEvent) {
	if err := s.events.PublishDriftDetected(event); err != nil {
		s.logger.Warn().Err(err).
			Str("resource_id", event.ResourceID.String()).
			Msg("failed to publish drift event")
	}
}

// EmitError implements engine.AlertSink.
func (s *EngineSink) EmitError(event *engine.ErrorEvent) {
	if err := s.events.PublishReconcileError(event); err != nil {
		s.logger.Warn().Err(err).
			Str("resource_id", event.ResourceID.String()).
			Msg("failed to publish error event")
	}
}
