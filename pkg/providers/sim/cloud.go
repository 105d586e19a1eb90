// Package sim is an in-memory provider adapter. It behaves like a small
// cloud backend with provider-assigned IDs, scripted fault injection, and
// out-of-band tampering hooks, which makes it the reference adapter for
// engine and drift tests as well as local dry runs.
package sim

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/convergehq/converge/pkg/engine"
)

// Cloud is the in-memory backend shared by the per-kind clients.
type Cloud struct {
	mu        sync.Mutex
	resources map[string]*resourceEntry
	faults    map[string][]error
	calls     map[string]int
	now       func() time.Time
}

// resourceEntry is one live simulated resource.
type resourceEntry struct {
	providerID string
	kind       engine.Kind
	spec       json.RawMessage
	labels     map[string]string
	status     string
	createdAt  time.Time
}

// NewCloud creates an empty simulated backend.
func NewCloud() *Cloud {
	return &Cloud{
		resources: make(map[string]*resourceEntry),
		faults:    make(map[string][]error),
		calls:     make(map[string]int),
		now:       time.Now,
	}
}

// FailNext queues errors to return from the next calls of the named
// operation (create, read, update, delete). Queued errors are consumed in
// order before the operation runs.
func (c *Cloud) FailNext(operation string, errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.faults[operation] = append(c.faults[operation], errs...)
}

// Calls returns how many times the named operation ran, including faulted
// calls.
func (c *Cloud) Calls(operation string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[operation]
}

// Tamper mutates a field of a live resource behind the engine's back.
// Used to induce drift.
func (c *Cloud) Tamper(providerID, field string, value interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.resources[providerID]
	if !exists {
		return fmt.Errorf("no resource %s", providerID)
	}

	var params map[string]interface{}
	if err := json.Unmarshal(entry.spec, &params); err != nil {
		return fmt.Errorf("failed to decode resource %s: %w", providerID, err)
	}
	params[field] = value

	spec, err := json.Marshal(params)
	if err != nil {
		return err
	}
	entry.spec = spec
	return nil
}

// Destroy removes a live resource behind the engine's back.
// Used to induce missing-resource drift.
func (c *Cloud) Destroy(providerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.resources, providerID)
}

// Len returns the number of live resources.
func (c *Cloud) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.resources)
}

// takeFault pops the next queued error for an operation and counts the call.
func (c *Cloud) takeFault(operation string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls[operation]++

	queue := c.faults[operation]
	if len(queue) == 0 {
		return nil
	}
	err := queue[0]
	c.faults[operation] = queue[1:]
	return err
}

// create stores a new resource and returns its provider-assigned ID.
func (c *Cloud) create(kind engine.Kind, desired *engine.Desired) (string, error) {
	if err := c.takeFault("create"); err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	providerID := fmt.Sprintf("sim-%s-%s", kind, uuid.New().String()[:8])
	c.resources[providerID] = &resourceEntry{
		providerID: providerID,
		kind:       kind,
		spec:       append(json.RawMessage(nil), desired.Spec...),
		labels:     cloneLabels(desired.Labels),
		status:     "active",
		createdAt:  c.now(),
	}

	return providerID, nil
}

// read returns the current snapshot of a resource.
func (c *Cloud) read(kind engine.Kind, providerID string) (*engine.ObservedState, error) {
	if err := c.takeFault("read"); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.resources[providerID]
	if !exists || entry.kind != kind {
		return nil, engine.NewNotFoundError(fmt.Sprintf("resource %s not found", providerID))
	}

	return &engine.ObservedState{
		ProviderID: providerID,
		Parameters: append(json.RawMessage(nil), entry.spec...),
		Status:     entry.status,
		ObservedAt: c.now(),
	}, nil
}

// update replaces the stored spec with the full desired spec.
func (c *Cloud) update(kind engine.Kind, providerID string, desired *engine.Desired) (*engine.ObservedState, error) {
	if err := c.takeFault("update"); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.resources[providerID]
	if !exists || entry.kind != kind {
		return nil, engine.NewNotFoundError(fmt.Sprintf("resource %s not found", providerID))
	}

	entry.spec = append(json.RawMessage(nil), desired.Spec...)
	entry.labels = cloneLabels(desired.Labels)

	return &engine.ObservedState{
		ProviderID: providerID,
		Parameters: append(json.RawMessage(nil), entry.spec...),
		Status:     entry.status,
		ObservedAt: c.now(),
	}, nil
}

// delete removes a resource. Deleting an absent resource succeeds.
func (c *Cloud) delete(providerID string) error {
	if err := c.takeFault("delete"); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.resources, providerID)
	return nil
}

func cloneLabels(labels map[string]string) map[string]string {
	if labels == nil {
		return nil
	}
	out := make(map[string]string, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}
