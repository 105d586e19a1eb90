package engine

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"
)

// Mock implementations for testing

type mockStore struct {
	mu      sync.Mutex
	records map[string]*Record
	puts    int
}

func newMockStore() *mockStore {
	return &mockStore{records: make(map[string]*Record)}
}

func (s *mockStore) Get(_ context.Context, id ResourceID) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[id.String()]
	if !ok {
		return nil, NewNotFoundError("record not found: " + id.String())
	}
	return record.Clone(), nil
}

func (s *mockStore) Put(_ context.Context, record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.ID.String()] = record.Clone()
	s.puts++
	return nil
}

func (s *mockStore) Delete(_ context.Context, id ResourceID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id.String())
	return nil
}

func (s *mockStore) List(_ context.Context) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	records := make([]*Record, 0, len(s.records))
	for _, record := range s.records {
		records = append(records, record.Clone())
	}
	return records, nil
}

func (s *mockStore) putCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts
}

// mockClient is a scriptable ResourceClient. It records every suspending call
// in order and can be primed with per-operation failure queues.
type mockClient struct {
	mu       sync.Mutex
	calls    []string
	failures map[string][]error
	live     map[string]json.RawMessage
	nextID   int
	blockFor time.Duration

	// diffFn overrides the default byte-compare diff when set.
	diffFn func(desired *Desired, observed *ObservedState) ([]ChangeOp, error)
}

func newMockClient() *mockClient {
	return &mockClient{
		failures: make(map[string][]error),
		live:     make(map[string]json.RawMessage),
	}
}

func (c *mockClient) failNext(operation string, errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[operation] = append(c.failures[operation], errs...)
}

func (c *mockClient) record(operation string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, operation)
	if queue := c.failures[operation]; len(queue) > 0 {
		err := queue[0]
		c.failures[operation] = queue[1:]
		return err
	}
	return nil
}

func (c *mockClient) callLog() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.calls))
	copy(out, c.calls)
	return out
}

func (c *mockClient) mutatingCalls() []string {
	var out []string
	for _, call := range c.callLog() {
		if call != "read" {
			out = append(out, call)
		}
	}
	return out
}

func (c *mockClient) Create(ctx context.Context, desired *Desired) (string, error) {
	if c.blockFor > 0 {
		select {
		case <-time.After(c.blockFor):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err := c.record("create"); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := "sim-" + string(rune('a'+c.nextID-1))
	c.live[id] = append(json.RawMessage(nil), desired.Spec...)
	return id, nil
}

func (c *mockClient) Read(_ context.Context, providerID string) (*ObservedState, error) {
	if err := c.record("read"); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	params, ok := c.live[providerID]
	if !ok {
		return nil, NewNotFoundError("resource not found: " + providerID)
	}
	return &ObservedState{
		ProviderID: providerID,
		Parameters: append(json.RawMessage(nil), params...),
		Status:     "active",
		ObservedAt: time.Now(),
	}, nil
}

func (c *mockClient) Update(_ context.Context, providerID string, desired *Desired) (*ObservedState, error) {
	if err := c.record("update"); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.live[providerID] = append(json.RawMessage(nil), desired.Spec...)
	return &ObservedState{
		ProviderID: providerID,
		Parameters: append(json.RawMessage(nil), desired.Spec...),
		Status:     "active",
		ObservedAt: time.Now(),
	}, nil
}

func (c *mockClient) Delete(_ context.Context, providerID string) error {
	if err := c.record("delete"); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.live, providerID)
	return nil
}

func (c *mockClient) Diff(desired *Desired, observed *ObservedState) ([]ChangeOp, error) {
	if c.diffFn != nil {
		return c.diffFn(desired, observed)
	}
	if observed == nil {
		return []ChangeOp{{Field: ".", To: "created", Action: ChangeActionAdd}}, nil
	}
	if string(desired.Spec) == string(observed.Parameters) {
		return nil, nil
	}
	return []ChangeOp{{Field: ".", Action: ChangeActionModify}}, nil
}

type mockAdapter struct {
	client *mockClient
}

func (a *mockAdapter) Metadata() AdapterMetadata {
	return AdapterMetadata{Name: "mock", Version: "0.0.0", Kinds: []Kind{KindBudget, KindContainer}}
}

func (a *mockAdapter) Client(_ Kind) (ResourceClient, error) {
	return a.client, nil
}

type mockSink struct {
	mu     sync.Mutex
	drifts []*DriftEvent
	errors []*ErrorEvent
}

func (s *mockSink) EmitDrift(event *DriftEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drifts = append(s.drifts, event)
}

func (s *mockSink) EmitError(event *ErrorEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, event)
}

func (s *mockSink) errorCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.errors)
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.BaseDelay = time.Millisecond
	opts.MaxDelay = 10 * time.Millisecond
	opts.MaxAttempts = 3
	return opts
}

func setupEngine(t *testing.T) (*Engine, *mockStore, *mockClient, *mockSink) {
	t.Helper()

	store := newMockStore()
	client := newMockClient()
	sink := &mockSink{}

	eng, err := New(store, &mockAdapter{client: client}, testOptions(), WithAlertSink(sink))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return eng, store, client, sink
}

func containerDesired(name, image string) *Desired {
	spec, _ := json.Marshal(map[string]interface{}{
		"image":        image,
		"port":         8000,
		"minInstances": 0,
		"maxInstances": 2,
	})
	return &Desired{
		ID:   NewResourceID(KindContainer, "", name),
		Spec: spec,
	}
}

func TestSubmitCreatesRecord(t *testing.T) {
	eng, store, _, _ := setupEngine(t)
	ctx := context.Background()

	receipt, err := eng.Submit(ctx, containerDesired("svc1", "img:v1"))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if receipt.Generation != 1 {
		t.Errorf("expected generation 1, got %d", receipt.Generation)
	}

	record, err := store.Get(ctx, receipt.ID)
	if err != nil {
		t.Fatalf("record not stored: %v", err)
	}
	if record.Phase != PhasePending {
		t.Errorf("expected phase pending, got %s", record.Phase)
	}
}

func TestSubmitSupersedesPriorIntent(t *testing.T) {
	eng, store, _, _ := setupEngine(t)
	ctx := context.Background()

	if _, err := eng.Submit(ctx, containerDesired("svc1", "img:v1")); err != nil {
		t.Fatalf("first Submit failed: %v", err)
	}
	receipt, err := eng.Submit(ctx, containerDesired("svc1", "img:v2"))
	if err != nil {
		t.Fatalf("second Submit failed: %v", err)
	}
	if receipt.Generation != 2 {
		t.Errorf("expected generation 2, got %d", receipt.Generation)
	}

	record, _ := store.Get(ctx, receipt.ID)
	if record.Phase != PhasePending {
		t.Errorf("superseding intent must reset phase to pending, got %s", record.Phase)
	}
}

type rejectAllGate struct{}

func (rejectAllGate) Admit(_ context.Context, desired *Desired) error {
	return NewPermanentError("denied by policy", nil).
		WithCode(ErrCodePermissionDenied).
		WithResource(desired.ID.String())
}

func TestSubmitRejectedByGate(t *testing.T) {
	store := newMockStore()
	eng, err := New(store, &mockAdapter{client: newMockClient()}, testOptions(),
		WithAdmissionGates(rejectAllGate{}))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	if _, err := eng.Submit(context.Background(), containerDesired("svc1", "img:v1")); err == nil {
		t.Fatal("expected gate rejection")
	}
	if len(store.records) != 0 {
		t.Error("rejected intent must not be persisted")
	}
}

func TestReconcileCreatesAbsentResource(t *testing.T) {
	eng, store, client, _ := setupEngine(t)
	ctx := context.Background()

	desired := containerDesired("svc1", "img:v1")
	if _, err := eng.Submit(ctx, desired); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	result, err := eng.Reconcile(ctx, desired.ID)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if result.Phase != PhaseSettled {
		t.Fatalf("expected settled, got %s", result.Phase)
	}
	if len(result.Planned) != 1 || result.Planned[0].Action != ChangeActionAdd {
		t.Fatalf("expected exactly one create op, got %+v", result.Planned)
	}

	mutating := client.mutatingCalls()
	if len(mutating) != 1 || mutating[0] != "create" {
		t.Fatalf("expected exactly one create call, got %v", mutating)
	}

	record, _ := store.Get(ctx, desired.ID)
	if record.Phase != PhaseSettled {
		t.Errorf("record phase = %s, want settled", record.Phase)
	}
	if record.Observed == nil || record.Observed.ProviderID == "" {
		t.Error("settled record must carry the provider id")
	}
	if record.Drift != DriftStatusInSync {
		t.Errorf("record drift = %s, want in_sync", record.Drift)
	}
}

func TestReconcileIdempotentWhenSettled(t *testing.T) {
	eng, store, client, _ := setupEngine(t)
	ctx := context.Background()

	desired := containerDesired("svc1", "img:v1")
	if _, err := eng.Submit(ctx, desired); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if _, err := eng.Reconcile(ctx, desired.ID); err != nil {
		t.Fatalf("first Reconcile failed: %v", err)
	}

	before, _ := store.Get(ctx, desired.ID)
	callsBefore := len(client.callLog())
	putsBefore := store.putCount()

	result, err := eng.Reconcile(ctx, desired.ID)
	if err != nil {
		t.Fatalf("second Reconcile failed: %v", err)
	}
	if result.Phase != PhaseSettled {
		t.Fatalf("expected settled, got %s", result.Phase)
	}
	if got := len(client.callLog()); got != callsBefore {
		t.Errorf("settled pass issued %d provider calls, want 0", got-callsBefore)
	}
	if store.putCount() != putsBefore {
		t.Error("settled pass must not rewrite the record")
	}

	after, _ := store.Get(ctx, desired.ID)
	if !after.UpdatedAt.Equal(before.UpdatedAt) {
		t.Error("record changed during a no-op pass")
	}
}

func TestReconcileUpdatesChangedField(t *testing.T) {
	eng, _, client, _ := setupEngine(t)
	ctx := context.Background()

	desired := containerDesired("svc1", "img:v1")
	if _, err := eng.Submit(ctx, desired); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if _, err := eng.Reconcile(ctx, desired.ID); err != nil {
		t.Fatalf("initial Reconcile failed: %v", err)
	}

	client.diffFn = func(d *Desired, observed *ObservedState) ([]ChangeOp, error) {
		if observed == nil {
			return []ChangeOp{{Field: ".", Action: ChangeActionAdd}}, nil
		}
		if string(d.Spec) == string(observed.Parameters) {
			return nil, nil
		}
		return []ChangeOp{{Field: "image", From: "img:v1", To: "img:v2", Action: ChangeActionModify}}, nil
	}

	if _, err := eng.Submit(ctx, containerDesired("svc1", "img:v2")); err != nil {
		t.Fatalf("Submit v2 failed: %v", err)
	}

	before := len(client.mutatingCalls())
	result, err := eng.Reconcile(ctx, desired.ID)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if result.Phase != PhaseSettled {
		t.Fatalf("expected settled, got %s", result.Phase)
	}
	if len(result.Planned) != 1 || result.Planned[0].Field != "image" || result.Planned[0].RequiresReplace {
		t.Fatalf("expected one in-place image op, got %+v", result.Planned)
	}

	mutating := client.mutatingCalls()[before:]
	if len(mutating) != 1 || mutating[0] != "update" {
		t.Fatalf("expected exactly one update call, got %v", mutating)
	}
}

func TestReconcileReplaceIssuesDeleteThenCreate(t *testing.T) {
	eng, _, client, _ := setupEngine(t)
	ctx := context.Background()

	desired := containerDesired("svc1", "img:v1")
	if _, err := eng.Submit(ctx, desired); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if _, err := eng.Reconcile(ctx, desired.ID); err != nil {
		t.Fatalf("initial Reconcile failed: %v", err)
	}

	client.diffFn = func(d *Desired, observed *ObservedState) ([]ChangeOp, error) {
		if observed == nil {
			return nil, nil
		}
		if string(d.Spec) == string(observed.Parameters) {
			return nil, nil
		}
		return []ChangeOp{{Field: "image", Action: ChangeActionModify, RequiresReplace: true}}, nil
	}

	if _, err := eng.Submit(ctx, containerDesired("svc1", "img:v2")); err != nil {
		t.Fatalf("Submit v2 failed: %v", err)
	}

	before := len(client.mutatingCalls())
	result, err := eng.Reconcile(ctx, desired.ID)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if result.Phase != PhaseSettled {
		t.Fatalf("expected settled, got %s", result.Phase)
	}

	mutating := client.mutatingCalls()[before:]
	if len(mutating) != 2 || mutating[0] != "delete" || mutating[1] != "create" {
		t.Fatalf("replace must issue delete then create, got %v", mutating)
	}
	for _, call := range mutating {
		if call == "update" {
			t.Fatal("replace op must never issue a plain update")
		}
	}
}

func TestReconcileRetriesTransientFailures(t *testing.T) {
	eng, store, client, _ := setupEngine(t)
	ctx := context.Background()

	desired := containerDesired("svc1", "img:v1")
	if _, err := eng.Submit(ctx, desired); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	client.failNext("create",
		NewTransientError("rate limited", nil),
		NewTransientError("gateway timeout", nil),
	)

	result, err := eng.Reconcile(ctx, desired.ID)
	if err != nil {
		t.Fatalf("Reconcile failed after retries: %v", err)
	}
	if result.Phase != PhaseSettled {
		t.Fatalf("expected settled after retries, got %s", result.Phase)
	}
	if result.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", result.Attempts)
	}

	record, _ := store.Get(ctx, desired.ID)
	if record.LastError != nil {
		t.Error("settled record must clear the last error")
	}
}

func TestReconcileExhaustedRetriesTransitionsToError(t *testing.T) {
	eng, store, client, sink := setupEngine(t)
	ctx := context.Background()

	desired := containerDesired("svc1", "img:v1")
	if _, err := eng.Submit(ctx, desired); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	client.failNext("create",
		NewTransientError("still down", nil),
		NewTransientError("still down", nil),
		NewTransientError("still down", nil),
	)

	result, err := eng.Reconcile(ctx, desired.ID)
	if err == nil {
		t.Fatal("expected terminal error")
	}
	if result.Phase != PhaseError {
		t.Fatalf("expected error phase, got %s", result.Phase)
	}
	if !IsRetryable(err) {
		t.Error("exhausted error should keep its transient class for inspection")
	}

	record, _ := store.Get(ctx, desired.ID)
	if record.Phase != PhaseError {
		t.Errorf("record phase = %s, want error", record.Phase)
	}
	if record.LastError == nil || record.LastError.Code != ErrCodeRetryExhausted {
		t.Errorf("record must persist the exhausted error, got %+v", record.LastError)
	}
	if record.LastOp == nil {
		t.Error("record must persist the last attempted op for inspection")
	}
	if sink.errorCount() != 1 {
		t.Errorf("expected one error event, got %d", sink.errorCount())
	}
}

func TestReconcilePermanentErrorIsNotRetried(t *testing.T) {
	eng, store, client, sink := setupEngine(t)
	ctx := context.Background()

	desired := containerDesired("svc1", "img:v1")
	if _, err := eng.Submit(ctx, desired); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	client.failNext("create", NewPermanentError("quota exceeded", nil))

	result, err := eng.Reconcile(ctx, desired.ID)
	if err == nil {
		t.Fatal("expected terminal error")
	}
	if result.Phase != PhaseError {
		t.Fatalf("expected error phase, got %s", result.Phase)
	}
	if got := len(client.mutatingCalls()); got != 1 {
		t.Errorf("permanent error must not be retried, got %d mutating calls", got)
	}

	record, _ := store.Get(ctx, desired.ID)
	if record.Phase != PhaseError {
		t.Errorf("record phase = %s, want error", record.Phase)
	}
	if sink.errorCount() != 1 {
		t.Errorf("expected one error event, got %d", sink.errorCount())
	}
}

func TestReconcileMutualExclusion(t *testing.T) {
	eng, _, client, _ := setupEngine(t)
	ctx := context.Background()

	desired := containerDesired("svc1", "img:v1")
	if _, err := eng.Submit(ctx, desired); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	client.blockFor = 100 * time.Millisecond

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		settled  int
		rejected int
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := eng.Reconcile(ctx, desired.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil && IsAlreadyInProgress(err):
				rejected++
			case err == nil && result.Phase == PhaseSettled:
				settled++
			}
		}()
	}
	wg.Wait()

	if settled != 1 || rejected != 1 {
		t.Fatalf("expected 1 settled + 1 rejected, got settled=%d rejected=%d", settled, rejected)
	}
	if got := client.mutatingCalls(); len(got) != 1 {
		t.Fatalf("expected one applying execution, got calls %v", got)
	}
}

func TestReconcileUnknownResource(t *testing.T) {
	eng, _, _, _ := setupEngine(t)

	_, err := eng.Reconcile(context.Background(), NewResourceID(KindContainer, "", "ghost"))
	if err == nil {
		t.Fatal("expected not-found error")
	}
	if !IsNotFound(err) {
		t.Errorf("expected not-found classification, got %v", err)
	}
}

func TestPlanIsReadOnly(t *testing.T) {
	eng, store, client, _ := setupEngine(t)
	ctx := context.Background()

	desired := containerDesired("svc1", "img:v1")
	if _, err := eng.Submit(ctx, desired); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	before, _ := store.Get(ctx, desired.ID)

	plan, err := eng.Plan(ctx, desired.ID)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if len(plan.Ops) != 1 || plan.Ops[0].Action != ChangeActionAdd {
		t.Fatalf("expected one create op in plan, got %+v", plan.Ops)
	}
	if got := client.mutatingCalls(); len(got) != 0 {
		t.Fatalf("plan must not issue mutating calls, got %v", got)
	}

	after, _ := store.Get(ctx, desired.ID)
	if after.Phase != before.Phase {
		t.Error("plan must not change the record phase")
	}
}

func TestRemoveDeletesResourceAndRecord(t *testing.T) {
	eng, store, client, _ := setupEngine(t)
	ctx := context.Background()

	desired := containerDesired("svc1", "img:v1")
	if _, err := eng.Submit(ctx, desired); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if _, err := eng.Reconcile(ctx, desired.ID); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	if err := eng.Remove(ctx, desired.ID); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	if _, err := store.Get(ctx, desired.ID); !IsNotFound(err) {
		t.Error("record must be deleted after Remove")
	}

	var deletes int
	for _, call := range client.callLog() {
		if call == "delete" {
			deletes++
		}
	}
	if deletes != 1 {
		t.Errorf("expected one provider delete, got %d", deletes)
	}
}

func TestRemoveAbsentRecordIsNoop(t *testing.T) {
	eng, _, _, _ := setupEngine(t)
	if err := eng.Remove(context.Background(), NewResourceID(KindBudget, "", "ghost")); err != nil {
		t.Fatalf("Remove of absent record must be a no-op, got %v", err)
	}
}

func TestReconcileAllParallel(t *testing.T) {
	eng, store, _, _ := setupEngine(t)
	ctx := context.Background()

	for _, name := range []string{"svc1", "svc2", "svc3"} {
		if _, err := eng.Submit(ctx, containerDesired(name, "img:v1")); err != nil {
			t.Fatalf("Submit %s failed: %v", name, err)
		}
	}

	results, err := eng.ReconcileAll(ctx)
	if err != nil {
		t.Fatalf("ReconcileAll failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 pass results, got %d", len(results))
	}
	for _, result := range results {
		if result.Phase != PhaseSettled {
			t.Errorf("resource %s phase = %s, want settled", result.ResourceID, result.Phase)
		}
	}

	records, _ := store.List(ctx)
	for _, record := range records {
		if record.Phase != PhaseSettled {
			t.Errorf("record %s phase = %s, want settled", record.ID, record.Phase)
		}
	}
}

func TestReconcileAllSkipsErrorRecords(t *testing.T) {
	eng, store, client, _ := setupEngine(t)
	ctx := context.Background()

	desired := containerDesired("svc1", "img:v1")
	if _, err := eng.Submit(ctx, desired); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	client.failNext("create", NewPermanentError("rejected", nil))
	if _, err := eng.Reconcile(ctx, desired.ID); err == nil {
		t.Fatal("expected terminal error")
	}

	before := len(client.callLog())
	if _, err := eng.ReconcileAll(ctx); err != nil {
		t.Fatalf("ReconcileAll failed: %v", err)
	}
	if got := len(client.callLog()); got != before {
		t.Error("error records must be skipped by the sweep")
	}

	record, _ := store.Get(ctx, desired.ID)
	if record.Phase != PhaseError {
		t.Errorf("record phase = %s, want error", record.Phase)
	}
}

func TestCalculateBackoffGrowthAndCap(t *testing.T) {
	eng, _, _, _ := setupEngine(t)
	transient := NewTransientError("x", nil)

	prev := time.Duration(0)
	for attempt := 0; attempt < 3; attempt++ {
		delay := eng.calculateBackoff(attempt, transient)
		if delay <= 0 {
			t.Fatalf("attempt %d: non-positive delay %v", attempt, delay)
		}
		// Jitter is +/-25%, so consecutive doublings still strictly grow
		// until the cap kicks in.
		if delay <= prev/2 {
			t.Errorf("attempt %d: delay %v did not grow from %v", attempt, delay, prev)
		}
		prev = delay
	}

	capCeiling := eng.opts.MaxDelay + eng.opts.MaxDelay/4
	for attempt := 10; attempt < 13; attempt++ {
		if delay := eng.calculateBackoff(attempt, transient); delay > capCeiling {
			t.Errorf("attempt %d: delay %v exceeds cap %v", attempt, delay, capCeiling)
		}
	}
}

func TestCancellationStopsAtOpBoundary(t *testing.T) {
	eng, _, client, _ := setupEngine(t)

	desired := containerDesired("svc1", "img:v1")
	if _, err := eng.Submit(context.Background(), desired); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := eng.Reconcile(ctx, desired.ID)
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if got := client.mutatingCalls(); len(got) != 0 {
		t.Fatalf("cancelled pass must not issue mutating calls, got %v", got)
	}
}
