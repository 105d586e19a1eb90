package intent

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/convergehq/converge/pkg/engine"
)

// namePattern constrains resource names and namespaces to DNS-label style
// identifiers.
var namePattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)

// Validator turns raw intent documents into validated desired specs.
// It is safe for concurrent use.
type Validator struct {
	schemas  *SchemaRegistry
	validate *validator.Validate
}

// NewValidator creates a validator with the built-in schemas and semantic
// rules registered.
func NewValidator() *Validator {
	v := validator.New()

	// Report violations under the JSON field name, matching the document.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	v.RegisterStructValidation(budgetStructLevel, BudgetSpec{})
	v.RegisterStructValidation(containerStructLevel, ContainerSpec{})

	return &Validator{
		schemas:  NewSchemaRegistry(),
		validate: v,
	}
}

// ValidateDocument validates a raw document and returns the canonical desired
// spec. On failure it returns a *ValidationError listing every violation
// found; it never stops at the first.
func (v *Validator) ValidateDocument(doc *Document) (*engine.Desired, error) {
	var issues []Issue

	kind := engine.Kind(doc.Kind)
	if err := kind.Validate(); err != nil {
		// Without a known kind there is no schema to check against.
		return nil, &ValidationError{Issues: []Issue{{
			Field:  "kind",
			Reason: fmt.Sprintf("unsupported kind %q", doc.Kind),
		}}}
	}

	if doc.Name == "" {
		issues = append(issues, Issue{Field: "name", Reason: "is required"})
	} else if !namePattern.MatchString(doc.Name) {
		issues = append(issues, Issue{Field: "name", Reason: "must be a lowercase alphanumeric identifier"})
	}
	if doc.Namespace != "" && !namePattern.MatchString(doc.Namespace) {
		issues = append(issues, Issue{Field: "namespace", Reason: "must be a lowercase alphanumeric identifier"})
	}

	params := applyDefaults(kind, doc.Parameters)

	structural, err := v.schemas.CheckStructure(kind, params)
	if err != nil {
		return nil, fmt.Errorf("structural validation for %s: %w", doc.ID(), err)
	}
	issues = append(issues, structural...)

	semantic, canonical := v.checkSemantics(kind, params, len(structural) > 0)
	issues = append(issues, semantic...)

	issues = dedupIssues(issues)
	if len(issues) > 0 {
		sortIssues(issues)
		return nil, &ValidationError{Issues: issues}
	}

	desired := &engine.Desired{
		ID:     doc.ID(),
		Labels: doc.Labels,
		Spec:   canonical,
	}
	if err := desired.ID.Validate(); err != nil {
		return nil, err
	}

	return desired, nil
}

// checkSemantics decodes the parameter map into the kind's typed spec and
// runs the semantic rules. The canonical JSON of the typed spec is returned
// when decoding succeeds. A decode failure is only reported as an issue when
// the structural layer found nothing, since a structural type error already
// explains it.
func (v *Validator) checkSemantics(kind engine.Kind, params map[string]interface{}, structuralFailed bool) ([]Issue, json.RawMessage) {
	raw, err := json.Marshal(params)
	if err != nil {
		return []Issue{{Field: "parameters", Reason: fmt.Sprintf("not encodable: %v", err)}}, nil
	}

	var spec interface{}
	switch kind {
	case engine.KindBudget:
		spec = &BudgetSpec{}
	case engine.KindContainer:
		spec = &ContainerSpec{}
	default:
		return []Issue{{Field: "kind", Reason: fmt.Sprintf("unsupported kind %q", kind)}}, nil
	}

	if err := json.Unmarshal(raw, spec); err != nil {
		if structuralFailed {
			return nil, nil
		}
		return []Issue{{Field: "parameters", Reason: fmt.Sprintf("malformed parameters: %v", err)}}, nil
	}

	var issues []Issue
	if err := v.validate.Struct(spec); err != nil {
		fieldErrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return []Issue{{Field: "parameters", Reason: err.Error()}}, nil
		}
		for _, fe := range fieldErrs {
			issues = append(issues, Issue{
				Field:  fieldName(fe),
				Reason: reasonFor(fe),
			})
		}
	}

	canonical, err := json.Marshal(spec)
	if err != nil {
		return append(issues, Issue{Field: "parameters", Reason: fmt.Sprintf("not encodable: %v", err)}), nil
	}

	return issues, canonical
}

// fieldName strips the struct type prefix from the validator namespace so
// issues read like document paths (notificationEmails[1], not
// BudgetSpec.notificationEmails[1]).
func fieldName(fe validator.FieldError) string {
	ns := fe.Namespace()
	if idx := strings.Index(ns, "."); idx >= 0 {
		return ns[idx+1:]
	}
	return fe.Field()
}

// reasonFor translates a validator tag into a human-readable reason.
func reasonFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "len":
		return fmt.Sprintf("must be exactly %s characters", fe.Param())
	case "alpha":
		return "must contain only letters"
	case "uppercase":
		return "must be uppercase"
	case "min":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("must have at least %s entries", fe.Param())
		}
		return fmt.Sprintf("must be >= %s", fe.Param())
	case "max":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("must have at most %s entries", fe.Param())
		}
		return fmt.Sprintf("must be <= %s", fe.Param())
	case "positive":
		return "must be greater than zero"
	case "thresholds":
		return "must be strictly increasing values in [0, 1]"
	case "timeperiod":
		return "must be one of monthly, quarterly, yearly"
	case "scaling":
		return "must be >= minInstances"
	case "quantity":
		return "must be a valid resource quantity (e.g. 500m, 256Mi)"
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}

// budgetStructLevel holds the budget rules that span fields or need types
// struct tags cannot express.
func budgetStructLevel(sl validator.StructLevel) {
	spec := sl.Current().Interface().(BudgetSpec)

	if !spec.Amount.IsPositive() {
		sl.ReportError(spec.Amount, "amount", "Amount", "positive", "")
	}

	if spec.TimePeriod != "" {
		if err := spec.TimePeriod.Validate(); err != nil {
			sl.ReportError(spec.TimePeriod, "timePeriod", "TimePeriod", "timeperiod", "")
		}
	}

	for i, t := range spec.AlertThresholds {
		if t < 0 || t > 1 || (i > 0 && t <= spec.AlertThresholds[i-1]) {
			sl.ReportError(spec.AlertThresholds, "alertThresholds", "AlertThresholds", "thresholds", "")
			break
		}
	}
}

// containerStructLevel holds the container rules that span fields.
func containerStructLevel(sl validator.StructLevel) {
	spec := sl.Current().Interface().(ContainerSpec)

	if spec.MaxInstances < spec.MinInstances {
		sl.ReportError(spec.MaxInstances, "maxInstances", "MaxInstances", "scaling", "")
	}

	if spec.CPU != "" {
		if _, err := resource.ParseQuantity(spec.CPU); err != nil {
			sl.ReportError(spec.CPU, "cpu", "CPU", "quantity", "")
		}
	}
	if spec.Memory != "" {
		if _, err := resource.ParseQuantity(spec.Memory); err != nil {
			sl.ReportError(spec.Memory, "memory", "Memory", "quantity", "")
		}
	}
}

// dedupIssues removes repeated issues so a violation caught by both layers
// reports once. Keyed on field and reason: distinct violations on the same
// field all survive.
func dedupIssues(issues []Issue) []Issue {
	seen := make(map[Issue]struct{}, len(issues))
	out := issues[:0]
	for _, issue := range issues {
		if _, dup := seen[issue]; dup {
			continue
		}
		seen[issue] = struct{}{}
		out = append(out, issue)
	}
	return out
}
