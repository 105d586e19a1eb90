// Package policy provides Open Policy Agent (OPA) admission control for
// intent submissions.
//
// Policies are Rego modules whose deny set reports violations. Every
// submitted intent is evaluated after schema validation and before the
// record is written; error-severity violations reject the intent, warnings
// are logged and admitted.
//
// # Usage
//
// Creating an engine and wiring it as an admission gate:
//
//	policyEngine, err := policy.NewEngine(logger)
//	if err != nil {
//	    return err
//	}
//	gate := policy.NewGate(policyEngine, policy.ModeEnforcing, logger)
//	eng, err := engine.New(store, adapter, opts, engine.WithAdmissionGates(gate))
//
// # Custom Policies
//
// Custom policies are loaded from .rego files (or JSON policy definitions)
// and can be hot-reloaded through the loader's Watch hook:
//
//	package converge.policies.ownership
//
//	import rego.v1
//
//	deny contains violation if {
//	    not input.labels.team
//	    violation := {
//	        "message": "resources must carry a team label",
//	        "severity": "error",
//	    }
//	}
//
// The evaluation input carries the resource identity (kind, namespace,
// name), its labels, and the validated spec with defaults applied, so
// policies never see unvalidated operator input.
package policy
