// Package engine provides the core types and the reconciliation loop for the
// Converge provisioning engine.
//
// # Overview
//
// Converge is a cloud-agnostic provisioning layer: operators submit
// declarative resource intents (budget policies, container services) and the
// engine converges each cloud resource toward its desired state through a
// pluggable provider adapter. The flow for one resource is:
//
//  1. Submit - Accept a validated desired spec and persist the record
//  2. Read - Refresh the provider-observed state of the resource
//  3. Diff - Compute the ordered change operations (adapter-specific)
//  4. Apply - Issue create/update/delete calls, one ChangeOp at a time
//  5. Settle - Re-read, persist, and mark the record Settled
//  6. Drift - A separate read-only loop flags later divergence (pkg/drift)
//
// # Core Domain Types
//
//   - ResourceID: Stable identity of a managed resource (kind/namespace/name)
//   - Desired: The validated desired spec submitted by an operator
//   - ObservedState: Provider-reported snapshot of the live resource
//   - Record: Desired plus observed plus phase, persisted per resource
//   - ChangeOp: One corrective action produced by an adapter diff
//   - PassResult: The outcome of a single reconciliation pass
//
// # Provider Adapters
//
// Cloud backends plug in through the Adapter interface, which hands out one
// ResourceClient per resource kind:
//
//	type ResourceClient interface {
//	    Create(ctx context.Context, desired *Desired) (string, error)
//	    Read(ctx context.Context, providerID string) (*ObservedState, error)
//	    Update(ctx context.Context, providerID string, desired *Desired) (*ObservedState, error)
//	    Delete(ctx context.Context, providerID string) error
//	    Diff(desired *Desired, observed *ObservedState) ([]ChangeOp, error)
//	}
//
// The engine never branches on provider identity; the adapter is resolved by
// name through a Registry once at startup. Diff is a pure function and the
// only suspending operations are the four provider calls.
//
// # State Machine
//
// Each record moves through Pending -> Applying -> Settled. Transient
// provider failures move it to Failed and the pass retries with capped
// exponential backoff; exhausting the retry budget, or any permanent
// failure, moves it to Error and surfaces the resource, the last ChangeOp
// attempted, and the last provider error on the record.
//
// # Concurrency
//
// Passes for different resources run in parallel (ReconcileAll uses a
// bounded worker pool). At most one pass runs per resource at a time,
// enforced by an in-process lock table; a second request for a locked
// resource fails with an AlreadyInProgress error rather than being merged.
// Convergence is idempotent: a Settled resource with an unchanged intent
// produces an empty diff and issues no provider calls.
//
// # Error Classification
//
// Errors are classified for retry logic:
//
//   - Transient: Temporary failures that may succeed on retry (timeouts, 5xx)
//   - Throttled: Rate limiting that requires a longer backoff
//   - Conflict: Concurrent-modification conflicts, retried
//   - Permanent: Non-recoverable errors, surfaced immediately
//
// Use the predicates to inspect errors:
//
//	if engine.IsRetryable(err) {
//	    // the pass will retry with backoff
//	}
package engine
