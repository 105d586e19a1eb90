package engine

import (
	"encoding/json"
	"fmt"
)

// Kind identifies the resource kind an intent provisions.
type Kind string

const (
	// KindBudget is a spending budget with alert thresholds.
	KindBudget Kind = "budget"

	// KindContainer is a managed container service.
	KindContainer Kind = "container"
)

// Validate checks if the kind is one of the supported resource kinds.
func (k Kind) Validate() error {
	switch k {
	case KindBudget, KindContainer:
		return nil
	default:
		return fmt.Errorf("invalid resource kind: %s", k)
	}
}

// Phase represents the reconciliation state of a resource record.
type Phase string

const (
	// PhasePending indicates an intent was accepted but not yet applied.
	PhasePending Phase = "pending"

	// PhaseApplying indicates a reconciliation pass is issuing provider calls.
	PhaseApplying Phase = "applying"

	// PhaseSettled indicates observed state matches desired state.
	PhaseSettled Phase = "settled"

	// PhaseFailed indicates a transient failure; a retry is scheduled.
	PhaseFailed Phase = "failed"

	// PhaseError indicates a terminal failure requiring operator intervention.
	PhaseError Phase = "error"
)

// IsTerminal returns true if the phase represents a final state for the
// current intent generation.
func (p Phase) IsTerminal() bool {
	return p == PhaseSettled || p == PhaseError
}

// IsActive returns true if the resource still has reconciliation work pending.
func (p Phase) IsActive() bool {
	return p == PhasePending || p == PhaseApplying || p == PhaseFailed
}

// Validate checks if the phase is valid.
func (p Phase) Validate() error {
	switch p {
	case PhasePending, PhaseApplying, PhaseSettled, PhaseFailed, PhaseError:
		return nil
	default:
		return fmt.Errorf("invalid phase: %s", p)
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (p Phase) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(p))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (p *Phase) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*p = Phase(str)
	return p.Validate()
}

// ChangeAction represents the type of change a ChangeOp performs.
type ChangeAction string

const (
	// ChangeActionAdd indicates a field or resource is being added.
	ChangeActionAdd ChangeAction = "add"

	// ChangeActionRemove indicates a field or resource is being removed.
	ChangeActionRemove ChangeAction = "remove"

	// ChangeActionModify indicates a field value is being changed.
	ChangeActionModify ChangeAction = "modify"
)

// Validate checks if the change action is valid.
func (a ChangeAction) Validate() error {
	switch a {
	case ChangeActionAdd, ChangeActionRemove, ChangeActionModify:
		return nil
	default:
		return fmt.Errorf("invalid change action: %s", a)
	}
}

// DriftStatus represents the drift detection status of a resource.
type DriftStatus string

const (
	// DriftStatusInSync indicates the resource matches the last-applied desired state.
	DriftStatusInSync DriftStatus = "in_sync"

	// DriftStatusDrifted indicates the live resource diverged from desired state.
	DriftStatusDrifted DriftStatus = "drifted"

	// DriftStatusMissing indicates the live resource no longer exists.
	DriftStatusMissing DriftStatus = "missing"

	// DriftStatusUnknown indicates drift has not been evaluated yet.
	DriftStatusUnknown DriftStatus = "unknown"
)

// Validate checks if the drift status is valid.
func (s DriftStatus) Validate() error {
	switch s {
	case DriftStatusInSync, DriftStatusDrifted, DriftStatusMissing, DriftStatusUnknown:
		return nil
	default:
		return fmt.Errorf("invalid drift status: %s", s)
	}
}
