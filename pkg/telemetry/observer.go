package telemetry

import (
	"time"

	"github.com/convergehq/converge/pkg/engine"
)

// Observer feeds reconciliation pass lifecycle notifications into metrics.
// It implements engine.PassObserver.
type Observer struct {
	metrics *Metrics
}

// NewObserver wraps a metrics collector as a pass observer.
func NewObserver(metrics *Metrics) *Observer {
	return &Observer{metrics: metrics}
}

// PassStarted implements engine.PassObserver.
func (o *Observer) PassStarted(id engine.ResourceID) {
	o.metrics.RecordPassStarted(string(id.Kind))
}

// PassCompleted implements engine.PassObserver.
func (o *Observer) PassCompleted(result *engine.PassResult) {
	o.metrics.RecordPassCompleted(string(result.ResourceID.Kind), string(result.Phase), result.Duration)
	if result.Err != nil {
		o.metrics.RecordError(string(result.Err.Class), result.Err.Code)
	}
}

// ProviderCall implements engine.PassObserver.
func (o *Observer) ProviderCall(provider, operation string, duration time.Duration, err error) {
	o.metrics.RecordProviderCall(provider, operation, duration)
	if err != nil {
		o.metrics.RecordProviderError(provider, operation)
		if classified := engine.Classify(err); classified != nil {
			o.metrics.RecordError(string(classified.Class), classified.Code)
		}
	}
}
