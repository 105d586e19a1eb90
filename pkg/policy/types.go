package policy

import (
	"encoding/json"
	"time"

	"github.com/convergehq/converge/pkg/engine"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational findings.
	SeverityInfo Severity = "info"

	// SeverityWarning is for findings that should be reviewed but do not
	// block admission.
	SeverityWarning Severity = "warning"

	// SeverityError blocks intent admission.
	SeverityError Severity = "error"
)

// Policy is one admission rule with its Rego code.
type Policy struct {
	// Name is the unique policy name.
	Name string `json:"name"`

	// Description is a human-readable summary.
	Description string `json:"description"`

	// Rego contains the Rego policy code. Violations are collected from the
	// package's deny set.
	Rego string `json:"rego"`

	// Severity is the default severity for violations the rule reports
	// without their own.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// CreatedAt is when the policy was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the policy was last updated.
	UpdatedAt time.Time `json:"updated_at"`
}

// Violation is a single policy violation against an intent.
type Violation struct {
	// Policy is the name of the violated policy.
	Policy string `json:"policy"`

	// Resource is the canonical identity of the offending intent.
	Resource string `json:"resource,omitempty"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`

	// DetectedAt is when the violation was found.
	DetectedAt time.Time `json:"detected_at"`
}

// Result is the outcome of evaluating all policies against one intent.
type Result struct {
	// Allowed is false when any error-severity violation exists.
	Allowed bool `json:"allowed"`

	// Violations lists blocking violations.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists non-blocking findings.
	Warnings []Violation `json:"warnings,omitempty"`

	// EvaluatedAt is when evaluation ran.
	EvaluatedAt time.Time `json:"evaluated_at"`

	// Duration is how long evaluation took.
	Duration time.Duration `json:"duration"`
}

// Input is the document handed to Rego evaluation.
type Input struct {
	// Kind is the resource kind.
	Kind string `json:"kind"`

	// Namespace is the resource namespace.
	Namespace string `json:"namespace"`

	// Name is the resource name.
	Name string `json:"name"`

	// Labels are the intent labels.
	Labels map[string]string `json:"labels,omitempty"`

	// Spec is the validated kind-specific spec with defaults applied.
	Spec map[string]interface{} `json:"spec"`

	// Context carries evaluation metadata.
	Context *Context `json:"context"`
}

// Context provides evaluation metadata to policies.
type Context struct {
	// Environment names the deployment environment (production, staging).
	Environment string `json:"environment,omitempty"`

	// Timestamp is when the evaluation is occurring.
	Timestamp time.Time `json:"timestamp"`

	// Operation is always "submit" for admission.
	Operation string `json:"operation"`
}

// NewInput builds the Rego input from a validated desired spec.
func NewInput(desired *engine.Desired, environment string) (*Input, error) {
	spec := map[string]interface{}{}
	if len(desired.Spec) > 0 {
		if err := json.Unmarshal(desired.Spec, &spec); err != nil {
			return nil, err
		}
	}

	return &Input{
		Kind:      string(desired.ID.Kind),
		Namespace: desired.ID.Namespace,
		Name:      desired.ID.Name,
		Labels:    desired.Labels,
		Spec:      spec,
		Context: &Context{
			Timestamp: time.Now(),
			Operation: "submit",
		},
	}, nil
}
