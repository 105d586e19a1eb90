package engine

import (
	"context"
	"time"
)

// ResourceClient performs provider operations for a single resource kind.
// Create, Read, Update, and Delete are the only suspending operations in the
// engine; implementations must honor context cancellation. Diff is a pure
// function of its inputs and must not block.
type ResourceClient interface {
	// Create provisions a new resource and returns the provider-assigned ID.
	Create(ctx context.Context, desired *Desired) (string, error)

	// Read returns the live state of a resource. Absence is reported with an
	// error satisfying IsNotFound, not with a nil state.
	Read(ctx context.Context, providerID string) (*ObservedState, error)

	// Update applies the full desired spec in place and returns the new state.
	Update(ctx context.Context, providerID string, desired *Desired) (*ObservedState, error)

	// Delete deprovisions the resource. Deleting an absent resource is not an error.
	Delete(ctx context.Context, providerID string) error

	// Diff computes the ordered corrective ops that would converge observed
	// toward desired. A nil observed means the resource does not exist and
	// yields a single whole-resource add op. Op order is the order the
	// reconciler will apply them in.
	Diff(desired *Desired, observed *ObservedState) ([]ChangeOp, error)
}

// Adapter is the capability contract a cloud backend satisfies.
// The engine resolves one adapter by configured name at startup and never
// branches on provider identity.
type Adapter interface {
	// Metadata describes the adapter and the kinds it supports.
	Metadata() AdapterMetadata

	// Client returns the per-kind resource client.
	Client(kind Kind) (ResourceClient, error)
}

// AdapterMetadata describes a registered provider adapter.
type AdapterMetadata struct {
	// Name is the unique adapter name used in configuration.
	Name string `json:"name"`

	// Version is the adapter version.
	Version string `json:"version"`

	// Kinds lists the resource kinds the adapter supports.
	Kinds []Kind `json:"kinds"`
}

// Registry resolves provider adapters by name.
type Registry interface {
	// Register adds an adapter. Registering a duplicate name is an error.
	Register(adapter Adapter) error

	// Get returns the adapter with the given name.
	Get(name string) (Adapter, error)

	// List returns metadata for all registered adapters.
	List() []AdapterMetadata
}

// StateStore persists reconciliation records keyed by resource identity.
// Writes are atomic per record: a concurrent reader sees either the previous
// or the new record, never a partial one. The engine is the only writer and
// serializes writes per resource through its lock table.
type StateStore interface {
	// Get returns the record for the given identity. Absence is reported
	// with an error satisfying IsNotFound.
	Get(ctx context.Context, id ResourceID) (*Record, error)

	// Put inserts or replaces the record atomically.
	Put(ctx context.Context, record *Record) error

	// Delete removes the record. Deleting an absent record is not an error.
	Delete(ctx context.Context, id ResourceID) error

	// List returns a snapshot of all records. The snapshot is finite and
	// safe to iterate while writes continue.
	List(ctx context.Context) ([]*Record, error)
}

// AlertSink receives drift and terminal-error notifications.
// Emission is fire-and-forget; implementations must not block the caller and
// the engine ignores delivery failures.
type AlertSink interface {
	// EmitDrift reports detected divergence.
	EmitDrift(event *DriftEvent)

	// EmitError reports a terminal reconciliation failure.
	EmitError(event *ErrorEvent)
}

// AdmissionGate checks a desired spec before the engine accepts it.
// Gates run during Submit, after schema validation and before the record is
// written. A non-nil error rejects the intent.
type AdmissionGate interface {
	// Admit returns nil to accept the desired spec or an error describing
	// why it is rejected.
	Admit(ctx context.Context, desired *Desired) error
}

// PassObserver receives reconciliation pass lifecycle notifications.
// Used to wire metrics and tracing without coupling the engine to a
// telemetry implementation. All methods must be non-blocking.
type PassObserver interface {
	// PassStarted is called when a pass acquires the resource lock.
	PassStarted(id ResourceID)

	// PassCompleted is called with the final pass outcome.
	PassCompleted(result *PassResult)

	// ProviderCall is called after every provider operation.
	ProviderCall(provider, operation string, duration time.Duration, err error)
}
