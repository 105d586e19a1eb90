package policy

import (
	"time"
)

// BuiltinPolicies returns the policies every deployment starts with.
func BuiltinPolicies() []Policy {
	return []Policy{
		resourceNamingPolicy(),
		budgetApprovalPolicy(),
		budgetAlertingPolicy(),
		imagePinningPolicy(),
		scalingBoundsPolicy(),
	}
}

// resourceNamingPolicy enforces resource name length bounds.
func resourceNamingPolicy() Policy {
	return Policy{
		Name:        "resource-naming",
		Description: "Resource names must be between 3 and 63 characters",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"naming", "conventions"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package converge.policies.naming

import rego.v1

deny contains violation if {
	count(input.name) < 3
	violation := {
		"message": sprintf("resource name '%s' must be at least 3 characters long", [input.name]),
		"severity": "error",
	}
}

deny contains violation if {
	count(input.name) > 63
	violation := {
		"message": sprintf("resource name '%s' must be at most 63 characters long", [input.name]),
		"severity": "error",
	}
}
`,
	}
}

// budgetApprovalPolicy requires an approval label on large budgets.
func budgetApprovalPolicy() Policy {
	return Policy{
		Name:        "budget-approval",
		Description: "Budgets above 10000 require the cost-approved label",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"budget", "cost"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package converge.policies.budget_approval

import rego.v1

deny contains violation if {
	input.kind == "budget"
	to_number(input.spec.amount) > 10000
	not input.labels["cost-approved"]
	violation := {
		"message": sprintf("budget %s/%s exceeds 10000 and needs a cost-approved label", [input.namespace, input.name]),
		"severity": "error",
	}
}
`,
	}
}

// budgetAlertingPolicy warns when a budget has no 100% alert threshold.
func budgetAlertingPolicy() Policy {
	return Policy{
		Name:        "budget-alerting",
		Description: "Budgets should alert at 100% of the amount",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"budget", "alerting"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package converge.policies.budget_alerting

import rego.v1

deny contains violation if {
	input.kind == "budget"
	not has_full_threshold
	violation := {
		"message": sprintf("budget %s/%s has no alert threshold at 1.0", [input.namespace, input.name]),
		"severity": "warning",
	}
}

has_full_threshold if {
	some t in input.spec.alertThresholds
	t == 1.0
}
`,
	}
}

// imagePinningPolicy rejects unpinned container images.
func imagePinningPolicy() Policy {
	return Policy{
		Name:        "image-pinning",
		Description: "Container images must be pinned to an explicit tag other than latest",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"container", "supply-chain"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package converge.policies.image_pinning

import rego.v1

deny contains violation if {
	input.kind == "container"
	not contains(input.spec.image, ":")
	violation := {
		"message": sprintf("container image '%s' has no tag", [input.spec.image]),
		"severity": "error",
	}
}

deny contains violation if {
	input.kind == "container"
	endswith(input.spec.image, ":latest")
	violation := {
		"message": sprintf("container image '%s' must not use the latest tag", [input.spec.image]),
		"severity": "error",
	}
}
`,
	}
}

// scalingBoundsPolicy caps container scaling ceilings.
func scalingBoundsPolicy() Policy {
	return Policy{
		Name:        "scaling-bounds",
		Description: "Container services may not scale beyond 100 instances",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"container", "capacity"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package converge.policies.scaling_bounds

import rego.v1

deny contains violation if {
	input.kind == "container"
	input.spec.maxInstances > 100
	violation := {
		"message": sprintf("container %s/%s requests %v instances, limit is 100", [input.namespace, input.name, input.spec.maxInstances]),
		"severity": "error",
	}
}
`,
	}
}
