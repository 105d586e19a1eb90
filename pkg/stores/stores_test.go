package stores

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/convergehq/converge/pkg/engine"
)

// storeWithEvents is the full surface the SQLite and memory stores share.
type storeWithEvents interface {
	engine.StateStore
	AppendEvent(ctx context.Context, event *EventRecord) error
	ListEvents(ctx context.Context, filter EventFilter) ([]*EventRecord, error)
}

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(SQLiteConfig{
		Path: filepath.Join(t.TempDir(), "converge.db"),
	})
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	return store
}

func testRecord(name string) *engine.Record {
	now := time.Now().UTC().Truncate(time.Second)
	return &engine.Record{
		ID:         engine.NewResourceID(engine.KindContainer, "platform", name),
		Desired:    json.RawMessage(`{"image":"registry.example.com/api:v1","port":8000}`),
		Labels:     map[string]string{"team": "payments"},
		Generation: 1,
		Phase:      engine.PhasePending,
		Drift:      engine.DriftStatusUnknown,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func runStateStoreTests(t *testing.T, store storeWithEvents) {
	ctx := context.Background()

	t.Run("get absent record", func(t *testing.T) {
		_, err := store.Get(ctx, engine.NewResourceID(engine.KindBudget, "", "nope"))
		if !engine.IsNotFound(err) {
			t.Errorf("Get() error = %v, want not found", err)
		}
	})

	t.Run("put and get", func(t *testing.T) {
		record := testRecord("api")
		if err := store.Put(ctx, record); err != nil {
			t.Fatalf("Put() error = %v", err)
		}

		got, err := store.Get(ctx, record.ID)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got.ID != record.ID {
			t.Errorf("ID = %v, want %v", got.ID, record.ID)
		}
		if got.Phase != engine.PhasePending {
			t.Errorf("Phase = %s, want pending", got.Phase)
		}
		if string(got.Desired) != string(record.Desired) {
			t.Errorf("Desired = %s, want %s", got.Desired, record.Desired)
		}
		if got.Labels["team"] != "payments" {
			t.Errorf("Labels = %v", got.Labels)
		}
	})

	t.Run("put replaces", func(t *testing.T) {
		record := testRecord("api")
		record.Generation = 2
		record.Phase = engine.PhaseSettled
		record.Drift = engine.DriftStatusInSync
		record.Observed = &engine.ObservedState{
			ProviderID: "sim-container-abc123",
			Parameters: json.RawMessage(`{"image":"registry.example.com/api:v1"}`),
			Status:     "active",
			ObservedAt: time.Now().UTC().Truncate(time.Second),
		}
		if err := store.Put(ctx, record); err != nil {
			t.Fatalf("Put() error = %v", err)
		}

		got, err := store.Get(ctx, record.ID)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got.Generation != 2 || got.Phase != engine.PhaseSettled {
			t.Errorf("got generation %d phase %s, want 2 settled", got.Generation, got.Phase)
		}
		if got.Observed == nil || got.Observed.ProviderID != "sim-container-abc123" {
			t.Errorf("Observed = %+v", got.Observed)
		}
	})

	t.Run("list snapshot", func(t *testing.T) {
		second := testRecord("worker")
		if err := store.Put(ctx, second); err != nil {
			t.Fatalf("Put() error = %v", err)
		}

		records, err := store.List(ctx)
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(records) != 2 {
			t.Fatalf("got %d records, want 2", len(records))
		}
		// Ordered by canonical identity.
		if records[0].ID.Name != "api" || records[1].ID.Name != "worker" {
			t.Errorf("order = %s, %s", records[0].ID.Name, records[1].ID.Name)
		}
	})

	t.Run("delete", func(t *testing.T) {
		id := engine.NewResourceID(engine.KindContainer, "platform", "worker")
		if err := store.Delete(ctx, id); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if _, err := store.Get(ctx, id); !engine.IsNotFound(err) {
			t.Errorf("Get() after delete error = %v, want not found", err)
		}

		// Absent deletes succeed.
		if err := store.Delete(ctx, id); err != nil {
			t.Errorf("Delete() of absent record error = %v", err)
		}
	})

	t.Run("event history", func(t *testing.T) {
		first := &EventRecord{
			EventID:    "evt-1",
			ResourceID: "container/platform/api",
			Type:       EventTypeDrift,
			Payload:    json.RawMessage(`{"status":"drifted"}`),
			OccurredAt: time.Now().UTC().Add(-time.Minute).Truncate(time.Second),
		}
		second := &EventRecord{
			EventID:    "evt-2",
			ResourceID: "container/platform/api",
			Type:       EventTypeError,
			Payload:    json.RawMessage(`{"code":"retry_exhausted"}`),
			OccurredAt: time.Now().UTC().Truncate(time.Second),
		}
		if err := store.AppendEvent(ctx, first); err != nil {
			t.Fatalf("AppendEvent() error = %v", err)
		}
		if err := store.AppendEvent(ctx, second); err != nil {
			t.Fatalf("AppendEvent() error = %v", err)
		}

		events, err := store.ListEvents(ctx, EventFilter{ResourceID: "container/platform/api"})
		if err != nil {
			t.Fatalf("ListEvents() error = %v", err)
		}
		if len(events) != 2 {
			t.Fatalf("got %d events, want 2", len(events))
		}
		if events[0].EventID != "evt-2" {
			t.Errorf("newest event = %s, want evt-2", events[0].EventID)
		}

		drifts, err := store.ListEvents(ctx, EventFilter{Type: EventTypeDrift})
		if err != nil {
			t.Fatalf("ListEvents() error = %v", err)
		}
		if len(drifts) != 1 || drifts[0].EventID != "evt-1" {
			t.Errorf("drift events = %+v", drifts)
		}

		limited, err := store.ListEvents(ctx, EventFilter{Limit: 1})
		if err != nil {
			t.Fatalf("ListEvents() error = %v", err)
		}
		if len(limited) != 1 {
			t.Errorf("got %d events with limit 1", len(limited))
		}
	})
}

func TestMemoryStore(t *testing.T) {
	runStateStoreTests(t, NewMemoryStore())
}

func TestSQLiteStore(t *testing.T) {
	runStateStoreTests(t, newSQLiteStore(t))
}

func TestMemoryStoreIsolatesClones(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	record := testRecord("api")
	if err := store.Put(ctx, record); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	// Mutating the caller's copy must not leak into the store.
	record.Phase = engine.PhaseError
	record.Labels["team"] = "rogue"

	got, err := store.Get(ctx, record.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Phase != engine.PhasePending {
		t.Errorf("Phase = %s, want pending", got.Phase)
	}
	if got.Labels["team"] != "payments" {
		t.Errorf("Labels = %v, want team=payments", got.Labels)
	}
}

func TestBackupRoundTrip(t *testing.T) {
	ctx := context.Background()
	source := NewMemoryStore()

	for _, name := range []string{"api", "worker"} {
		if err := source.Put(ctx, testRecord(name)); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
	}

	var buf bytes.Buffer
	if err := Export(ctx, source, &buf); err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	target := newSQLiteStore(t)
	n, err := Import(ctx, target, &buf)
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Import() restored %d records, want 2", n)
	}

	records, err := target.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records after restore, want 2", len(records))
	}
	if records[0].ID.Name != "api" {
		t.Errorf("first record = %s, want api", records[0].ID.Name)
	}
}

func TestImportRejectsWrongVersion(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if _, err := Import(ctx, store, bytes.NewBufferString(`{"version": 99, "records": []}`)); err == nil {
		t.Error("expected version error, got nil")
	}
}
