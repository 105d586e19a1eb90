package policy

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/storage"
	"github.com/open-policy-agent/opa/storage/inmem"
	"github.com/rs/zerolog"

	"github.com/convergehq/converge/pkg/engine"
)

// Engine evaluates admission policies against validated intents.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	store    storage.Store
	logger   zerolog.Logger
}

// compiledPolicy is a parsed and validated Rego policy.
type compiledPolicy struct {
	policy   *Policy
	module   *ast.Module
	compiled time.Time
}

// NewEngine creates a policy engine with the built-in policies loaded.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		store:    inmem.New(),
		logger:   logger.With().Str("component", "policy-engine").Logger(),
	}

	for _, policy := range BuiltinPolicies() {
		p := policy
		if err := e.compileAndStorePolicy(&p); err != nil {
			return nil, fmt.Errorf("failed to compile built-in policy %s: %w", p.Name, err)
		}
	}

	return e, nil
}

// Evaluate runs every enabled policy against the desired spec and collects
// all findings.
func (e *Engine) Evaluate(ctx context.Context, desired *engine.Desired) (*Result, error) {
	started := time.Now()

	input, err := NewInput(desired, "")
	if err != nil {
		return nil, fmt.Errorf("failed to build policy input: %w", err)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	result := &Result{
		Allowed:     true,
		EvaluatedAt: started,
	}

	for _, cp := range e.policies {
		if !cp.policy.Enabled {
			continue
		}

		violations, err := e.evaluatePolicy(ctx, cp, input)
		if err != nil {
			return nil, fmt.Errorf("policy %s evaluation failed: %w", cp.policy.Name, err)
		}

		for _, v := range violations {
			v.Resource = desired.ID.String()
			if v.Severity == SeverityError {
				result.Allowed = false
				result.Violations = append(result.Violations, v)
			} else {
				result.Warnings = append(result.Warnings, v)
			}
		}
	}

	result.Duration = time.Since(started)

	e.logger.Debug().
		Str("resource_id", desired.ID.String()).
		Bool("allowed", result.Allowed).
		Int("violations", len(result.Violations)).
		Int("warnings", len(result.Warnings)).
		Dur("duration", result.Duration).
		Msg("policy evaluation completed")

	return result, nil
}

// LoadPolicies loads and compiles policies from files or directories,
// replacing same-named policies.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	loader := NewLoader(e.logger)
	policies, err := loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	return e.ReplacePolicies(policies)
}

// ReplacePolicies compiles and installs the given policies on top of the
// built-ins. Used by the loader's hot-reload hook.
func (e *Engine) ReplacePolicies(policies []Policy) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range policies {
		if err := e.compileAndStorePolicy(&policies[i]); err != nil {
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
	}

	e.logger.Info().Int("count", len(policies)).Msg("policies loaded")
	return nil
}

// evaluatePolicy evaluates one policy's deny set against the input.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input *Input) ([]Violation, error) {
	query := fmt.Sprintf("data.%s.deny", cp.module.Package.Path.String()[len("data."):])

	r := rego.New(
		rego.Module(cp.policy.Name, cp.policy.Rego),
		rego.Store(e.store),
		rego.Query(query),
		rego.Input(input),
	)

	results, err := r.Eval(ctx)
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []Violation
	for _, result := range results {
		for _, expr := range result.Expressions {
			denySet, ok := expr.Value.([]interface{})
			if !ok {
				continue
			}
			for _, d := range denySet {
				violations = append(violations, e.newViolation(cp.policy, d))
			}
		}
	}

	return violations, nil
}

// newViolation converts one deny-set entry into a Violation. Entries are
// either plain strings or objects with message/severity fields.
func (e *Engine) newViolation(policy *Policy, result interface{}) Violation {
	violation := Violation{
		Policy:     policy.Name,
		Severity:   policy.Severity,
		DetectedAt: time.Now(),
	}

	switch v := result.(type) {
	case string:
		violation.Message = v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			violation.Message = msg
		}
		if sev, ok := v["severity"].(string); ok {
			violation.Severity = Severity(sev)
		}
	default:
		violation.Message = fmt.Sprintf("%v", result)
	}

	return violation
}

// compileAndStorePolicy parses the policy module and installs it.
// Callers hold the write lock, except during construction.
func (e *Engine) compileAndStorePolicy(policy *Policy) error {
	module, err := ast.ParseModule(policy.Name, policy.Rego)
	if err != nil {
		return fmt.Errorf("failed to parse policy: %w", err)
	}

	e.policies[policy.Name] = &compiledPolicy{
		policy:   policy,
		module:   module,
		compiled: time.Now(),
	}

	return nil
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}

	return cp.policy, nil
}

// ListPolicies returns all loaded policies.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, cp := range e.policies {
		policies = append(policies, *cp.policy)
	}

	return policies
}

// SetEnabled enables or disables a policy by name.
func (e *Engine) SetEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}

	cp.policy.Enabled = enabled
	e.logger.Info().Str("policy", name).Bool("enabled", enabled).Msg("policy toggled")
	return nil
}

// Mode selects how violations affect admission.
type Mode string

const (
	// ModeEnforcing rejects intents with blocking violations.
	ModeEnforcing Mode = "enforcing"

	// ModeAdvisory logs violations but admits the intent anyway.
	ModeAdvisory Mode = "advisory"
)

// Gate adapts the policy engine to the engine's admission hook.
type Gate struct {
	engine *Engine
	mode   Mode
	logger zerolog.Logger
}

// NewGate wraps the policy engine as an admission gate.
func NewGate(policyEngine *Engine, mode Mode, logger zerolog.Logger) *Gate {
	if mode == "" {
		mode = ModeEnforcing
	}
	return &Gate{
		engine: policyEngine,
		mode:   mode,
		logger: logger.With().Str("component", "policy-gate").Logger(),
	}
}

// Admit implements engine.AdmissionGate.
func (g *Gate) Admit(ctx context.Context, desired *engine.Desired) error {
	result, err := g.engine.Evaluate(ctx, desired)
	if err != nil {
		return engine.NewPermanentError("policy evaluation failed", err)
	}

	for _, w := range result.Warnings {
		g.logger.Warn().
			Str("resource_id", w.Resource).
			Str("policy", w.Policy).
			Msg(w.Message)
	}

	if result.Allowed {
		return nil
	}

	messages := make([]string, len(result.Violations))
	for i, v := range result.Violations {
		messages[i] = fmt.Sprintf("%s: %s", v.Policy, v.Message)
	}

	if g.mode == ModeAdvisory {
		g.logger.Warn().
			Str("resource_id", desired.ID.String()).
			Strs("violations", messages).
			Msg("policy violations admitted in advisory mode")
		return nil
	}

	return engine.NewPermanentError(
		fmt.Sprintf("intent rejected by policy: %s", strings.Join(messages, "; ")), nil,
	).WithCode("policy_violation").WithResource(desired.ID.String())
}
