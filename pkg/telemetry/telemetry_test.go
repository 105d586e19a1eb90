package telemetry

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/convergehq/converge/pkg/engine"
)

func enabledMetrics(t *testing.T) *Metrics {
	t.Helper()
	m, err := NewMetrics(MetricsConfig{
		Enabled:       true,
		ListenAddress: ":0",
		Path:          "/metrics",
		Namespace:     "converge",
	})
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}
	return m
}

func syncPublisher(t *testing.T) *EventPublisher {
	t.Helper()
	ep, err := NewEventPublisher(EventsConfig{
		Enabled:      true,
		BufferSize:   16,
		MaxBatchSize: 16,
		EnableAsync:  false,
	})
	if err != nil {
		t.Fatalf("NewEventPublisher() error = %v", err)
	}
	return ep
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "default is valid", mutate: func(*Config) {}},
		{name: "missing service name", mutate: func(c *Config) { c.ServiceName = "" }, wantErr: true},
		{name: "bad log level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: true},
		{name: "bad log format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: true},
		{name: "bad exporter", mutate: func(c *Config) { c.Tracing.Enabled = true; c.Tracing.Exporter = "jaeger" }, wantErr: true},
		{name: "sampling rate out of range", mutate: func(c *Config) { c.Tracing.SamplingRate = 1.5 }, wantErr: true},
		{name: "metrics without address", mutate: func(c *Config) { c.Metrics.ListenAddress = "" }, wantErr: true},
		{name: "disabled metrics without address", mutate: func(c *Config) { c.Metrics.Enabled = false; c.Metrics.ListenAddress = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDisabledMetricsAreNoOp(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	// None of these may panic on the no-op instance.
	m.RecordIntent("budget", "accepted")
	m.RecordPassStarted("budget")
	m.RecordPassCompleted("budget", "settled", time.Second)
	m.RecordProviderCall("sim", "create", time.Millisecond)
	m.RecordProviderError("sim", "create")
	m.RecordError("transient", "TIMEOUT")
	m.RecordDriftScan()
	m.RecordDriftDetection("container", "drifted")
	m.SetResourcesByPhase("container", "settled", 3)
}

func TestObserverRecordsPassLifecycle(t *testing.T) {
	m := enabledMetrics(t)
	obs := NewObserver(m)

	id := engine.NewResourceID(engine.KindContainer, "", "api-gateway")
	obs.PassStarted(id)
	obs.PassCompleted(&engine.PassResult{
		ResourceID: id,
		Phase:      engine.PhaseSettled,
		Duration:   50 * time.Millisecond,
	})

	if got := testutil.ToFloat64(m.passesStarted.WithLabelValues("container")); got != 1 {
		t.Errorf("passes started = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.passesCompleted.WithLabelValues("container", "settled")); got != 1 {
		t.Errorf("passes completed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.activePasses); got != 0 {
		t.Errorf("active passes = %v, want 0", got)
	}
}

func TestObserverRecordsFailures(t *testing.T) {
	m := enabledMetrics(t)
	obs := NewObserver(m)

	id := engine.NewResourceID(engine.KindBudget, "", "team-alpha")
	obs.PassStarted(id)
	obs.PassCompleted(&engine.PassResult{
		ResourceID: id,
		Phase:      engine.PhaseFailed,
		Err:        engine.NewTransientError("provider unavailable", nil).WithCode(engine.ErrCodeRetryExhausted),
	})
	obs.ProviderCall("sim", "update", time.Millisecond, engine.NewThrottledError("rate limited", nil))

	if got := testutil.ToFloat64(m.errorsByClass.WithLabelValues("transient")); got != 1 {
		t.Errorf("transient errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.errorsByClass.WithLabelValues("throttled")); got != 1 {
		t.Errorf("throttled errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.providerErrors.WithLabelValues("sim", "update")); got != 1 {
		t.Errorf("provider errors = %v, want 1", got)
	}
}

func TestEventPublisherDeliversToSubscribers(t *testing.T) {
	ep := syncPublisher(t)

	received := make(chan Event, 1)
	ep.Subscribe(func(event Event) {
		received <- event
	}, FilterByType(EventTypeIntentAccepted))

	if err := ep.PublishIntentRejected("budget/default/x", "nope"); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if err := ep.PublishIntentAccepted("budget/default/team-alpha", 3); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case event := <-received:
		if event.Type != EventTypeIntentAccepted {
			t.Errorf("Type = %s, want %s", event.Type, EventTypeIntentAccepted)
		}
		if event.ResourceID != "budget/default/team-alpha" {
			t.Errorf("ResourceID = %s", event.ResourceID)
		}
		if event.ID == "" || event.Timestamp.IsZero() {
			t.Error("event missing ID or timestamp")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event delivery")
	}
}

func TestPublishPassCompleted(t *testing.T) {
	ep := syncPublisher(t)

	received := make(chan Event, 2)
	ep.Subscribe(func(event Event) { received <- event }, nil)

	id := engine.NewResourceID(engine.KindContainer, "", "api-gateway")
	if err := ep.PublishPassCompleted(&engine.PassResult{
		ResourceID: id,
		Phase:      engine.PhaseSettled,
	}); err != nil {
		t.Fatalf("PublishPassCompleted() error = %v", err)
	}
	if err := ep.PublishPassCompleted(&engine.PassResult{
		ResourceID: id,
		Phase:      engine.PhaseFailed,
		Err:        engine.NewPermanentError("spec rejected", nil),
	}); err != nil {
		t.Fatalf("PublishPassCompleted() error = %v", err)
	}

	types := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case event := <-received:
			types[event.Type] = true
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for events")
		}
	}
	if !types[EventTypePassSettled] || !types[EventTypePassFailed] {
		t.Errorf("got event types %v", types)
	}
}

func TestEngineSinkEmitsDriftEvents(t *testing.T) {
	ep := syncPublisher(t)
	sink := NewEngineSink(ep, zerolog.Nop())

	received := make(chan Event, 2)
	ep.Subscribe(func(event Event) { received <- event }, nil)

	id := engine.NewResourceID(engine.KindContainer, "", "api-gateway")
	sink.EmitDrift(&engine.DriftEvent{
		ID:         "evt-1",
		ResourceID: id,
		Status:     engine.DriftStatusDrifted,
		DetectedAt: time.Now(),
	})
	sink.EmitDrift(&engine.DriftEvent{
		ID:         "evt-2",
		ResourceID: id,
		Status:     engine.DriftStatusMissing,
		DetectedAt: time.Now(),
	})

	types := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case event := <-received:
			types[event.Type] = true
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for drift events")
		}
	}
	if !types[EventTypeDriftDetected] || !types[EventTypeResourceMissing] {
		t.Errorf("got event types %v", types)
	}
}

func TestFilterByLevel(t *testing.T) {
	filter := FilterByLevel(EventLevelWarning)

	if filter(Event{Level: EventLevelInfo}) {
		t.Error("info passed a warning filter")
	}
	if !filter(Event{Level: EventLevelWarning}) {
		t.Error("warning rejected by a warning filter")
	}
	if !filter(Event{Level: EventLevelError}) {
		t.Error("error rejected by a warning filter")
	}
}

func TestOpsServerEndpoints(t *testing.T) {
	m := enabledMetrics(t)
	m.RecordDriftScan()

	readyErr := errors.New("store not reachable")
	ops := NewOpsServer(MetricsConfig{ListenAddress: ":0", Path: "/metrics"}, m,
		func(context.Context) error { return readyErr }, zerolog.Nop())

	srv := httptest.NewServer(ops.server.Handler)
	defer srv.Close()

	get := func(path string) (int, string) {
		t.Helper()
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s error = %v", path, err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, string(body)
	}

	if code, _ := get("/healthz"); code != http.StatusOK {
		t.Errorf("/healthz status = %d", code)
	}
	if code, _ := get("/readyz"); code != http.StatusServiceUnavailable {
		t.Errorf("/readyz status = %d, want 503", code)
	}
	code, body := get("/metrics")
	if code != http.StatusOK {
		t.Errorf("/metrics status = %d", code)
	}
	if !strings.Contains(body, "converge_drift_scans_total") {
		t.Error("/metrics body missing converge_drift_scans_total")
	}
}
