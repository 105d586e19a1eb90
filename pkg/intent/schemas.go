package intent

import (
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/convergehq/converge/pkg/engine"
)

// SchemaRegistry manages the CUE schemas used for structural validation.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[engine.Kind]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a schema registry with the built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[engine.Kind]cue.Value),
	}

	sr.registerBuiltInSchemas()

	return sr
}

// registerBuiltInSchemas registers the schema for each supported kind.
func (sr *SchemaRegistry) registerBuiltInSchemas() {
	// Compile errors in built-in schemas are programming errors; surface
	// them loudly instead of deferring to validation time.
	if err := sr.RegisterSchema(engine.KindBudget, "#Budget", builtinBudgetSchema); err != nil {
		panic(err)
	}
	if err := sr.RegisterSchema(engine.KindContainer, "#Container", builtinContainerSchema); err != nil {
		panic(err)
	}
}

// RegisterSchema compiles and registers a CUE schema for a resource kind.
// The definition name selects the closed definition inside the schema source.
func (sr *SchemaRegistry) RegisterSchema(kind engine.Kind, definition, schema string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema)
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema for kind %s: %w", kind, err)
	}

	def := val.LookupPath(cue.ParsePath(definition))
	if !def.Exists() {
		return fmt.Errorf("schema for kind %s has no definition %s", kind, definition)
	}

	sr.schemas[kind] = def
	return nil
}

// Schema returns the compiled schema for a kind.
func (sr *SchemaRegistry) Schema(kind engine.Kind) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[kind]
	return val, ok
}

// Kinds returns the kinds with a registered schema.
func (sr *SchemaRegistry) Kinds() []engine.Kind {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	kinds := make([]engine.Kind, 0, len(sr.schemas))
	for kind := range sr.schemas {
		kinds = append(kinds, kind)
	}
	return kinds
}

// CheckStructure validates the raw parameter map against the kind's schema
// and returns one issue per structural violation (unknown field, wrong type).
func (sr *SchemaRegistry) CheckStructure(kind engine.Kind, params map[string]interface{}) ([]Issue, error) {
	schema, ok := sr.Schema(kind)
	if !ok {
		return nil, fmt.Errorf("no schema registered for kind %s", kind)
	}

	sr.mu.RLock()
	dataVal := sr.ctx.Encode(params)
	sr.mu.RUnlock()
	if err := dataVal.Err(); err != nil {
		return nil, fmt.Errorf("failed to encode parameters: %w", err)
	}

	unified := schema.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return convertCUEErrors(err), nil
	}

	return nil, nil
}

// convertCUEErrors flattens a CUE error into field-level issues.
func convertCUEErrors(err error) []Issue {
	errs := cueerrors.Errors(err)
	issues := make([]Issue, 0, len(errs))
	seen := make(map[string]struct{}, len(errs))

	for _, e := range errs {
		field := strings.Join(e.Path(), ".")
		if field == "" {
			field = "parameters"
		}
		if _, dup := seen[field]; dup {
			continue
		}
		seen[field] = struct{}{}

		issues = append(issues, Issue{
			Field:  field,
			Reason: e.Error(),
		})
	}

	return issues
}

// Built-in schema definitions. Each definition is closed so unknown fields
// are rejected, and every field is optional so type errors and missing-field
// errors never double-report: required-ness is enforced by the semantic layer.

const builtinBudgetSchema = `
// Budget resource parameters
#Budget: {
	// Amount is the budget ceiling for the period
	amount?: number | string

	// Currency is the ISO 4217 currency code
	currency?: string

	// AlertThresholds are fractions of the budget at which alerts fire
	alertThresholds?: [...number]

	// NotificationEmails receive threshold alerts
	notificationEmails?: [...string]

	// TimePeriod is the accounting period
	timePeriod?: "monthly" | "quarterly" | "yearly"

	// ServicesFilter limits the budget to named services
	servicesFilter?: [...string]
}
`

const builtinContainerSchema = `
// Container service resource parameters
#Container: {
	// Image is the container image URI
	image?: string

	// Port is the service port
	port?: int

	// CPU is the per-instance CPU request
	cpu?: string

	// Memory is the per-instance memory request
	memory?: string

	// MinInstances is the scaling floor
	minInstances?: int

	// MaxInstances is the scaling ceiling
	maxInstances?: int

	// EnvVars are plain environment variables
	envVars?: {[string]: string}

	// Secrets maps env var names to secret references
	secrets?: {[string]: string}
}
`
