package sim

import (
	"encoding/json"
	"fmt"

	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/convergehq/converge/pkg/engine"
	"github.com/convergehq/converge/pkg/intent"
)

// diffBudget computes corrective ops for a budget, in a fixed field order.
// Currency and time period are immutable in every real billing backend, so
// changing either forces a replace.
func diffBudget(desired *engine.Desired, observed *engine.ObservedState) ([]engine.ChangeOp, error) {
	if observed == nil {
		return []engine.ChangeOp{wholeResourceAdd(desired)}, nil
	}

	var want, have intent.BudgetSpec
	if err := json.Unmarshal(desired.Spec, &want); err != nil {
		return nil, engine.NewPermanentError("failed to decode desired budget spec", err).WithCode(engine.ErrCodeDiffFailed)
	}
	if err := json.Unmarshal(observed.Parameters, &have); err != nil {
		return nil, engine.NewPermanentError("failed to decode observed budget state", err).WithCode(engine.ErrCodeDiffFailed)
	}

	var ops []engine.ChangeOp

	if !want.Amount.Equal(have.Amount) {
		ops = append(ops, modifyOp("amount", have.Amount.String(), want.Amount.String(), false))
	}
	if want.Currency != have.Currency {
		ops = append(ops, modifyOp("currency", have.Currency, want.Currency, true))
	}
	if want.TimePeriod != have.TimePeriod {
		ops = append(ops, modifyOp("timePeriod", string(have.TimePeriod), string(want.TimePeriod), true))
	}
	if !floatsEqual(want.AlertThresholds, have.AlertThresholds) {
		ops = append(ops, modifyOp("alertThresholds", have.AlertThresholds, want.AlertThresholds, false))
	}
	if !stringsEqual(want.NotificationEmails, have.NotificationEmails) {
		ops = append(ops, modifyOp("notificationEmails", have.NotificationEmails, want.NotificationEmails, false))
	}
	if !stringsEqual(want.ServicesFilter, have.ServicesFilter) {
		ops = append(ops, modifyOp("servicesFilter", have.ServicesFilter, want.ServicesFilter, false))
	}

	return ops, nil
}

// diffContainer computes corrective ops for a container service, in a fixed
// field order. All container fields update in place.
func diffContainer(desired *engine.Desired, observed *engine.ObservedState) ([]engine.ChangeOp, error) {
	if observed == nil {
		return []engine.ChangeOp{wholeResourceAdd(desired)}, nil
	}

	var want, have intent.ContainerSpec
	if err := json.Unmarshal(desired.Spec, &want); err != nil {
		return nil, engine.NewPermanentError("failed to decode desired container spec", err).WithCode(engine.ErrCodeDiffFailed)
	}
	if err := json.Unmarshal(observed.Parameters, &have); err != nil {
		return nil, engine.NewPermanentError("failed to decode observed container state", err).WithCode(engine.ErrCodeDiffFailed)
	}

	var ops []engine.ChangeOp

	if want.Image != have.Image {
		ops = append(ops, modifyOp("image", have.Image, want.Image, false))
	}
	if want.Port != have.Port {
		ops = append(ops, modifyOp("port", have.Port, want.Port, false))
	}
	if eq, err := quantitiesEqual(want.CPU, have.CPU); err != nil {
		return nil, engine.NewPermanentError("failed to compare cpu quantities", err).WithCode(engine.ErrCodeDiffFailed)
	} else if !eq {
		ops = append(ops, modifyOp("cpu", have.CPU, want.CPU, false))
	}
	if eq, err := quantitiesEqual(want.Memory, have.Memory); err != nil {
		return nil, engine.NewPermanentError("failed to compare memory quantities", err).WithCode(engine.ErrCodeDiffFailed)
	} else if !eq {
		ops = append(ops, modifyOp("memory", have.Memory, want.Memory, false))
	}
	if want.MinInstances != have.MinInstances {
		ops = append(ops, modifyOp("minInstances", have.MinInstances, want.MinInstances, false))
	}
	if want.MaxInstances != have.MaxInstances {
		ops = append(ops, modifyOp("maxInstances", have.MaxInstances, want.MaxInstances, false))
	}
	if !mapsEqual(want.EnvVars, have.EnvVars) {
		ops = append(ops, modifyOp("envVars", have.EnvVars, want.EnvVars, false))
	}
	if !mapsEqual(want.Secrets, have.Secrets) {
		ops = append(ops, modifyOp("secrets", have.Secrets, want.Secrets, false))
	}

	return ops, nil
}

// wholeResourceAdd is the single op that creates an absent resource.
func wholeResourceAdd(desired *engine.Desired) engine.ChangeOp {
	return engine.ChangeOp{
		Field:  ".",
		To:     json.RawMessage(desired.Spec),
		Action: engine.ChangeActionAdd,
	}
}

func modifyOp(field string, from, to interface{}, replace bool) engine.ChangeOp {
	return engine.ChangeOp{
		Field:           field,
		From:            from,
		To:              to,
		Action:          engine.ChangeActionModify,
		RequiresReplace: replace,
	}
}

// quantitiesEqual compares two resource quantity strings by value, so "1000m"
// and "1" do not read as a change. Empty strings only equal each other.
func quantitiesEqual(a, b string) (bool, error) {
	if a == "" || b == "" {
		return a == b, nil
	}
	qa, err := resource.ParseQuantity(a)
	if err != nil {
		return false, fmt.Errorf("invalid quantity %q: %w", a, err)
	}
	qb, err := resource.ParseQuantity(b)
	if err != nil {
		return false, fmt.Errorf("invalid quantity %q: %w", b, err)
	}
	return qa.Equal(qb), nil
}

func floatsEqual(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func stringsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func mapsEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
