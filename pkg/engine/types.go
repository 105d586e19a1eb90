package engine

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DefaultNamespace is assigned to intents that do not name a namespace.
const DefaultNamespace = "default"

// ResourceID is the stable identity of a managed resource.
// Names are unique per kind and namespace.
type ResourceID struct {
	// Kind is the resource kind (budget, container).
	Kind Kind `json:"kind"`

	// Namespace groups resources; defaults to "default".
	Namespace string `json:"namespace"`

	// Name is the operator-chosen resource name.
	Name string `json:"name"`
}

// NewResourceID builds a ResourceID, applying the default namespace.
func NewResourceID(kind Kind, namespace, name string) ResourceID {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return ResourceID{Kind: kind, Namespace: namespace, Name: name}
}

// String returns the canonical kind/namespace/name form used as a store key.
func (id ResourceID) String() string {
	return string(id.Kind) + "/" + id.Namespace + "/" + id.Name
}

// Validate checks that all identity components are present and well formed.
func (id ResourceID) Validate() error {
	if err := id.Kind.Validate(); err != nil {
		return err
	}
	if id.Namespace == "" {
		return fmt.Errorf("resource id has empty namespace")
	}
	if id.Name == "" {
		return fmt.Errorf("resource id has empty name")
	}
	return nil
}

// ParseResourceID parses the canonical kind/namespace/name form.
func ParseResourceID(s string) (ResourceID, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return ResourceID{}, fmt.Errorf("invalid resource id %q: want kind/namespace/name", s)
	}
	id := ResourceID{Kind: Kind(parts[0]), Namespace: parts[1], Name: parts[2]}
	if err := id.Validate(); err != nil {
		return ResourceID{}, err
	}
	return id, nil
}

// Desired is a validated desired spec for one resource, produced by intent
// validation. The Spec payload is the canonical JSON encoding of the
// kind-specific parameters with all defaults applied.
type Desired struct {
	// ID is the resource identity.
	ID ResourceID `json:"id"`

	// Labels are operator-assigned key-value pairs propagated to the provider.
	Labels map[string]string `json:"labels,omitempty"`

	// Spec is the kind-specific parameters as canonical JSON.
	Spec json.RawMessage `json:"spec"`
}

// ObservedState is the provider-reported snapshot of a live resource.
// It is owned by the state store and written only by the reconciler and the
// drift detector.
type ObservedState struct {
	// ProviderID is the provider-assigned identifier of the live resource.
	ProviderID string `json:"provider_id"`

	// Parameters is the last-seen kind-specific state as JSON.
	Parameters json.RawMessage `json:"parameters,omitempty"`

	// Status is the provider-reported lifecycle status, free-form per adapter.
	Status string `json:"status,omitempty"`

	// ObservedAt is when this snapshot was taken.
	ObservedAt time.Time `json:"observed_at"`
}

// ChangeOp is one corrective action produced by an adapter diff.
// Ops execute strictly in the order the adapter returned them.
type ChangeOp struct {
	// Field is the spec field the op corrects; "." addresses the whole resource.
	Field string `json:"field"`

	// From is the observed value before the change.
	From interface{} `json:"from,omitempty"`

	// To is the desired value after the change.
	To interface{} `json:"to,omitempty"`

	// Action describes the change (add, remove, modify).
	Action ChangeAction `json:"action"`

	// RequiresReplace forces delete+create instead of an in-place update.
	// Set by adapters for fields the provider treats as immutable.
	RequiresReplace bool `json:"requires_replace"`
}

// Record is the persisted reconciliation state for one resource.
// Created on first intent submission, updated on every pass, deleted on an
// explicit deletion intent.
type Record struct {
	// ID is the resource identity and the store key.
	ID ResourceID `json:"id"`

	// Desired is the kind-specific desired spec as canonical JSON.
	Desired json.RawMessage `json:"desired"`

	// Labels are the intent labels as of the latest submission.
	Labels map[string]string `json:"labels,omitempty"`

	// Generation increments on every intent submission for this identity.
	Generation int64 `json:"generation"`

	// Phase is the reconciliation state machine position.
	Phase Phase `json:"phase"`

	// Observed is the last provider-reported snapshot, nil before first create.
	Observed *ObservedState `json:"observed,omitempty"`

	// Attempts counts provider attempts made for the current pass.
	Attempts int `json:"attempts"`

	// Drift is the last drift evaluation for this resource.
	Drift DriftStatus `json:"drift"`

	// LastAppliedAt is when a pass last completed successfully.
	LastAppliedAt *time.Time `json:"last_applied_at,omitempty"`

	// LastOp is the last ChangeOp attempted, kept for failure inspection.
	LastOp *ChangeOp `json:"last_op,omitempty"`

	// LastError is the most recent classified failure, nil after success.
	LastError *EngineError `json:"last_error,omitempty"`

	// CreatedAt is when the record was first created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the record was last written.
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy of the record. Stores hand out clones so readers
// never share mutable state with a running pass.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	if r.Desired != nil {
		out.Desired = append(json.RawMessage(nil), r.Desired...)
	}
	if r.Labels != nil {
		out.Labels = make(map[string]string, len(r.Labels))
		for k, v := range r.Labels {
			out.Labels[k] = v
		}
	}
	if r.Observed != nil {
		obs := *r.Observed
		if r.Observed.Parameters != nil {
			obs.Parameters = append(json.RawMessage(nil), r.Observed.Parameters...)
		}
		out.Observed = &obs
	}
	if r.LastOp != nil {
		op := *r.LastOp
		out.LastOp = &op
	}
	if r.LastError != nil {
		e := *r.LastError
		out.LastError = &e
	}
	if r.LastAppliedAt != nil {
		t := *r.LastAppliedAt
		out.LastAppliedAt = &t
	}
	return &out
}

// DesiredSpec reconstructs the Desired view of the record for adapter calls.
func (r *Record) DesiredSpec() *Desired {
	return &Desired{ID: r.ID, Labels: r.Labels, Spec: r.Desired}
}

// Receipt acknowledges an accepted intent submission.
type Receipt struct {
	// ID is the resource identity the intent maps to.
	ID ResourceID `json:"id"`

	// Generation is the record generation this submission produced.
	Generation int64 `json:"generation"`

	// SubmittedAt is when the intent was accepted.
	SubmittedAt time.Time `json:"submitted_at"`
}

// PassResult is the outcome of a single reconciliation pass.
type PassResult struct {
	// ResourceID is the resource the pass reconciled.
	ResourceID ResourceID `json:"resource_id"`

	// Phase is the record phase after the pass.
	Phase Phase `json:"phase"`

	// Planned is the ordered op list the final diff produced.
	Planned []ChangeOp `json:"planned,omitempty"`

	// Attempts is how many provider attempts the pass made.
	Attempts int `json:"attempts"`

	// StartedAt is when the pass began.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the pass finished.
	CompletedAt time.Time `json:"completed_at"`

	// Duration is the total pass time.
	Duration time.Duration `json:"duration"`

	// Err is the classified failure for passes that did not settle.
	Err *EngineError `json:"error,omitempty"`
}

// Plan is a read-only preview of the ops a pass would apply right now.
type Plan struct {
	// ResourceID is the resource the plan describes.
	ResourceID ResourceID `json:"resource_id"`

	// Ops is the ordered op list from the adapter diff.
	Ops []ChangeOp `json:"ops,omitempty"`

	// Observed is the live snapshot used to compute the plan.
	Observed *ObservedState `json:"observed,omitempty"`

	// CreatedAt is when the plan was computed.
	CreatedAt time.Time `json:"created_at"`
}

// DriftEvent reports divergence between desired and live state, emitted by
// the drift detector. It is informational; nothing is auto-corrected.
type DriftEvent struct {
	// ID is the unique event identifier.
	ID string `json:"id"`

	// ResourceID is the drifted resource.
	ResourceID ResourceID `json:"resource_id"`

	// Status is drifted or missing.
	Status DriftStatus `json:"status"`

	// Fields lists the diverged fields as adapter diff ops.
	Fields []ChangeOp `json:"fields,omitempty"`

	// DetectedAt is when the divergence was seen.
	DetectedAt time.Time `json:"detected_at"`
}

// ErrorEvent reports a terminal reconciliation failure to the alerting sink.
type ErrorEvent struct {
	// ID is the unique event identifier.
	ID string `json:"id"`

	// ResourceID is the failed resource.
	ResourceID ResourceID `json:"resource_id"`

	// Op is the last ChangeOp attempted, if any.
	Op *ChangeOp `json:"op,omitempty"`

	// Err is the classified failure.
	Err *EngineError `json:"error"`

	// OccurredAt is when the failure became terminal.
	OccurredAt time.Time `json:"occurred_at"`
}
