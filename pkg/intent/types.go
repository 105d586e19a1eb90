package intent

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/convergehq/converge/pkg/engine"
)

// Document is a raw resource intent as submitted by an operator, before
// validation. Parameters carry the kind-specific fields untyped; the
// validator decodes them into BudgetSpec or ContainerSpec.
type Document struct {
	// Kind is the resource kind (budget, container).
	Kind string `yaml:"kind" json:"kind"`

	// Name is the resource name, unique per kind and namespace.
	Name string `yaml:"name" json:"name"`

	// Namespace groups resources; empty means "default".
	Namespace string `yaml:"namespace,omitempty" json:"namespace,omitempty"`

	// Labels are operator-assigned key-value pairs.
	Labels map[string]string `yaml:"labels,omitempty" json:"labels,omitempty"`

	// Parameters are the kind-specific fields.
	Parameters map[string]interface{} `yaml:"parameters" json:"parameters"`
}

// ID returns the resource identity the document addresses.
func (d *Document) ID() engine.ResourceID {
	return engine.NewResourceID(engine.Kind(d.Kind), d.Namespace, d.Name)
}

// TimePeriod is the budget accounting period.
type TimePeriod string

const (
	// PeriodMonthly resets the budget every calendar month.
	PeriodMonthly TimePeriod = "monthly"

	// PeriodQuarterly resets the budget every quarter.
	PeriodQuarterly TimePeriod = "quarterly"

	// PeriodYearly resets the budget every year.
	PeriodYearly TimePeriod = "yearly"
)

// Validate checks if the time period is one of the supported values.
func (p TimePeriod) Validate() error {
	switch p {
	case PeriodMonthly, PeriodQuarterly, PeriodYearly:
		return nil
	default:
		return fmt.Errorf("invalid time period: %s", p)
	}
}

// Defaults applied to omitted optional fields before validation.
var (
	// DefaultAlertThresholds fire at 25/50/75/90/100 percent of the budget.
	DefaultAlertThresholds = []float64{0.25, 0.5, 0.75, 0.9, 1.0}

	// DefaultCurrency is used when a budget names no currency.
	DefaultCurrency = "USD"

	// DefaultPort is the container service port when none is given.
	DefaultPort = 8000

	// DefaultMaxInstances is the scaling ceiling when none is given.
	DefaultMaxInstances = 1
)

// BudgetSpec is the validated parameter set of a budget intent.
type BudgetSpec struct {
	// Amount is the budget ceiling for the period. Always positive.
	Amount decimal.Decimal `json:"amount"`

	// Currency is the ISO 4217 currency code.
	Currency string `json:"currency" validate:"required,len=3,alpha,uppercase"`

	// AlertThresholds are budget fractions in [0,1], strictly increasing,
	// at which notifications fire.
	AlertThresholds []float64 `json:"alertThresholds" validate:"required,min=1"`

	// NotificationEmails receive threshold alerts. At least one is required.
	NotificationEmails []string `json:"notificationEmails" validate:"required,min=1,dive,required,email"`

	// TimePeriod is the accounting period the amount covers.
	TimePeriod TimePeriod `json:"timePeriod"`

	// ServicesFilter limits the budget to the named services. Empty matches
	// all services.
	ServicesFilter []string `json:"servicesFilter,omitempty"`
}

// ContainerSpec is the validated parameter set of a container service intent.
type ContainerSpec struct {
	// Image is the container image URI.
	Image string `json:"image" validate:"required"`

	// Port is the service port the container listens on.
	Port int `json:"port" validate:"min=1,max=65535"`

	// CPU is the per-instance CPU request as a resource quantity string.
	CPU string `json:"cpu,omitempty"`

	// Memory is the per-instance memory request as a resource quantity string.
	Memory string `json:"memory,omitempty"`

	// MinInstances is the scaling floor.
	MinInstances int `json:"minInstances" validate:"min=0"`

	// MaxInstances is the scaling ceiling. Never below MinInstances.
	MaxInstances int `json:"maxInstances" validate:"min=0"`

	// EnvVars are plain environment variables for the container.
	EnvVars map[string]string `json:"envVars,omitempty"`

	// Secrets maps environment variable names to secret references.
	// Values are references, never secret material.
	Secrets map[string]string `json:"secrets,omitempty"`
}

// applyDefaults fills omitted optional fields on the raw parameter map so the
// canonical JSON always carries concrete values. The input map is not
// modified; a shallow copy is returned.
func applyDefaults(kind engine.Kind, params map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(params)+4)
	for k, v := range params {
		out[k] = v
	}

	switch kind {
	case engine.KindBudget:
		if _, ok := out["currency"]; !ok {
			out["currency"] = DefaultCurrency
		}
		if _, ok := out["timePeriod"]; !ok {
			out["timePeriod"] = string(PeriodMonthly)
		}
		if _, ok := out["alertThresholds"]; !ok {
			thresholds := make([]interface{}, len(DefaultAlertThresholds))
			for i, t := range DefaultAlertThresholds {
				thresholds[i] = t
			}
			out["alertThresholds"] = thresholds
		}
	case engine.KindContainer:
		if _, ok := out["port"]; !ok {
			out["port"] = DefaultPort
		}
		if _, ok := out["minInstances"]; !ok {
			out["minInstances"] = 0
		}
		if _, ok := out["maxInstances"]; !ok {
			out["maxInstances"] = DefaultMaxInstances
		}
	}

	return out
}

// Issue is one field-level validation violation.
type Issue struct {
	// Field names the violating field, as written in the document.
	Field string `json:"field"`

	// Reason describes the violation.
	Reason string `json:"reason"`
}

// ValidationError carries every violation found in one validation pass.
type ValidationError struct {
	// Issues lists all violations, in document field order where possible.
	Issues []Issue `json:"issues"`
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return "validation failed"
	}
	parts := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		parts[i] = fmt.Sprintf("%s: %s", issue.Field, issue.Reason)
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(parts, "; "))
}

// sortIssues orders issues by field for stable output.
func sortIssues(issues []Issue) {
	sort.SliceStable(issues, func(i, j int) bool {
		return issues[i].Field < issues[j].Field
	})
}
