// Package drift periodically compares the live state of settled resources
// against their last-applied desired state and reports divergence. Detection
// is read-only: it never issues corrective provider calls, it only updates
// drift status on the records and emits events.
package drift

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/convergehq/converge/pkg/engine"
)

// DefaultCallTimeout bounds each provider read during a scan.
const DefaultCallTimeout = 30 * time.Second

// Detector scans settled records for drift.
type Detector struct {
	store       engine.StateStore
	adapter     engine.Adapter
	sink        engine.AlertSink
	callTimeout time.Duration
	logger      zerolog.Logger
}

// DetectorOption configures a Detector.
type DetectorOption func(*Detector)

// WithAlertSink wires drift events to a sink.
func WithAlertSink(sink engine.AlertSink) DetectorOption {
	return func(d *Detector) {
		d.sink = sink
	}
}

// WithCallTimeout overrides the per-read provider timeout.
func WithCallTimeout(timeout time.Duration) DetectorOption {
	return func(d *Detector) {
		d.callTimeout = timeout
	}
}

// WithLogger sets the detector logger.
func WithLogger(logger zerolog.Logger) DetectorOption {
	return func(d *Detector) {
		d.logger = logger
	}
}

// NewDetector creates a drift detector over the given store and adapter.
func NewDetector(store engine.StateStore, adapter engine.Adapter, opts ...DetectorOption) *Detector {
	d := &Detector{
		store:       store,
		adapter:     adapter,
		callTimeout: DefaultCallTimeout,
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ScanResult summarizes one drift scan.
type ScanResult struct {
	// Scanned counts the records evaluated.
	Scanned int `json:"scanned"`

	// InSync counts records that matched their desired state.
	InSync int `json:"in_sync"`

	// Drifted counts records whose live state diverged.
	Drifted int `json:"drifted"`

	// Missing counts records whose live resource no longer exists.
	Missing int `json:"missing"`

	// Events are the emitted drift events.
	Events []*engine.DriftEvent `json:"events,omitempty"`

	// StartedAt is when the scan began.
	StartedAt time.Time `json:"started_at"`

	// Duration is the total scan time.
	Duration time.Duration `json:"duration"`
}

// Scan evaluates every settled record once. Records that are mid-pass,
// terminal-errored, or never created are skipped; a pass already reconciles
// them. Scan stops early if the context is cancelled.
func (d *Detector) Scan(ctx context.Context) (*ScanResult, error) {
	result := &ScanResult{StartedAt: time.Now()}
	defer func() {
		result.Duration = time.Since(result.StartedAt)
	}()

	records, err := d.store.List(ctx)
	if err != nil {
		return result, err
	}

	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if record.Phase != engine.PhaseSettled || record.Observed == nil {
			continue
		}

		result.Scanned++
		event, err := d.scanRecord(ctx, record)
		if err != nil {
			d.logger.Warn().
				Str("resource_id", record.ID.String()).
				Err(err).
				Msg("drift scan skipped resource")
			continue
		}

		switch {
		case event == nil:
			result.InSync++
		case event.Status == engine.DriftStatusMissing:
			result.Missing++
			result.Events = append(result.Events, event)
		default:
			result.Drifted++
			result.Events = append(result.Events, event)
		}
	}

	d.logger.Info().
		Int("scanned", result.Scanned).
		Int("drifted", result.Drifted).
		Int("missing", result.Missing).
		Dur("duration", result.Duration).
		Msg("drift scan completed")

	return result, nil
}

// scanRecord evaluates one record. A nil event means the resource is in
// sync. The record's drift status and observed snapshot are persisted either
// way so status queries reflect the latest scan.
func (d *Detector) scanRecord(ctx context.Context, record *engine.Record) (*engine.DriftEvent, error) {
	client, err := d.adapter.Client(record.ID.Kind)
	if err != nil {
		return nil, err
	}

	readCtx, cancel := context.WithTimeout(ctx, d.callTimeout)
	observed, err := client.Read(readCtx, record.Observed.ProviderID)
	cancel()

	if engine.IsNotFound(err) {
		event := d.newEvent(record, engine.DriftStatusMissing, []engine.ChangeOp{{
			Field:  ".",
			From:   record.Observed.ProviderID,
			Action: engine.ChangeActionRemove,
		}})
		return event, d.persist(ctx, record, engine.DriftStatusMissing, nil, event)
	}
	if err != nil {
		return nil, err
	}

	ops, err := client.Diff(record.DesiredSpec(), observed)
	if err != nil {
		return nil, err
	}

	if len(ops) == 0 {
		return nil, d.persist(ctx, record, engine.DriftStatusInSync, observed, nil)
	}

	event := d.newEvent(record, engine.DriftStatusDrifted, ops)
	return event, d.persist(ctx, record, engine.DriftStatusDrifted, observed, event)
}

func (d *Detector) newEvent(record *engine.Record, status engine.DriftStatus, fields []engine.ChangeOp) *engine.DriftEvent {
	return &engine.DriftEvent{
		ID:         uuid.New().String(),
		ResourceID: record.ID,
		Status:     status,
		Fields:     fields,
		DetectedAt: time.Now(),
	}
}

// persist writes the scan outcome to the record and emits the event, if any.
// The scan holds no per-resource lock, so the write goes onto a fresh read of
// the record and is skipped entirely when a newer generation or an in-flight
// pass took over since the scan snapshot: the next pass recomputes drift, and
// overwriting would revert the newer record.
func (d *Detector) persist(ctx context.Context, record *engine.Record, status engine.DriftStatus, observed *engine.ObservedState, event *engine.DriftEvent) error {
	current, err := d.store.Get(ctx, record.ID)
	if err != nil {
		if engine.IsNotFound(err) {
			return nil
		}
		return err
	}
	if current.Generation != record.Generation || current.Phase != engine.PhaseSettled {
		d.logger.Debug().
			Str("resource_id", record.ID.String()).
			Int64("scanned_generation", record.Generation).
			Int64("current_generation", current.Generation).
			Msg("record changed during scan, drift result discarded")
		return nil
	}

	current.Drift = status
	if observed != nil {
		current.Observed = observed
	}
	current.UpdatedAt = time.Now()

	if err := d.store.Put(ctx, current); err != nil {
		return err
	}

	if event != nil && d.sink != nil {
		d.sink.EmitDrift(event)
	}
	return nil
}
