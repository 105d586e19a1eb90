package sim

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/convergehq/converge/pkg/engine"
)

func budgetDesired(t *testing.T, amount, currency string) *engine.Desired {
	t.Helper()
	spec, err := json.Marshal(map[string]interface{}{
		"amount":             amount,
		"currency":           currency,
		"timePeriod":         "monthly",
		"alertThresholds":    []float64{0.5, 1.0},
		"notificationEmails": []string{"ops@example.com"},
	})
	if err != nil {
		t.Fatalf("failed to build budget spec: %v", err)
	}
	return &engine.Desired{
		ID:   engine.NewResourceID(engine.KindBudget, "", "team-alpha"),
		Spec: spec,
	}
}

func containerDesired(t *testing.T, image, cpu string) *engine.Desired {
	t.Helper()
	spec, err := json.Marshal(map[string]interface{}{
		"image":        image,
		"port":         8000,
		"cpu":          cpu,
		"minInstances": 0,
		"maxInstances": 2,
	})
	if err != nil {
		t.Fatalf("failed to build container spec: %v", err)
	}
	return &engine.Desired{
		ID:   engine.NewResourceID(engine.KindContainer, "", "api"),
		Spec: spec,
	}
}

func TestAdapterMetadata(t *testing.T) {
	a := New(nil)

	meta := a.Metadata()
	if meta.Name != AdapterName {
		t.Errorf("Name = %s, want %s", meta.Name, AdapterName)
	}
	if len(meta.Kinds) != 2 {
		t.Errorf("Kinds = %v, want budget and container", meta.Kinds)
	}

	if _, err := a.Client(engine.KindBudget); err != nil {
		t.Errorf("Client(budget) error = %v", err)
	}
	if _, err := a.Client(engine.Kind("volcano")); err == nil {
		t.Error("Client(volcano) expected error, got nil")
	}
}

func TestCreateReadUpdateDelete(t *testing.T) {
	ctx := context.Background()
	a := New(nil)
	client, err := a.Client(engine.KindContainer)
	if err != nil {
		t.Fatalf("Client() error = %v", err)
	}

	id, err := client.Create(ctx, containerDesired(t, "registry.example.com/api:v1", "500m"))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if id == "" {
		t.Fatal("Create() returned empty provider ID")
	}

	observed, err := client.Read(ctx, id)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if observed.ProviderID != id {
		t.Errorf("ProviderID = %s, want %s", observed.ProviderID, id)
	}
	if observed.Status != "active" {
		t.Errorf("Status = %s, want active", observed.Status)
	}

	updated, err := client.Update(ctx, id, containerDesired(t, "registry.example.com/api:v2", "500m"))
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	var params map[string]interface{}
	if err := json.Unmarshal(updated.Parameters, &params); err != nil {
		t.Fatalf("failed to decode parameters: %v", err)
	}
	if params["image"] != "registry.example.com/api:v2" {
		t.Errorf("image = %v after update", params["image"])
	}

	if err := client.Delete(ctx, id); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := client.Read(ctx, id); !engine.IsNotFound(err) {
		t.Errorf("Read() after delete error = %v, want not found", err)
	}

	// Absent deletes succeed.
	if err := client.Delete(ctx, id); err != nil {
		t.Errorf("Delete() of absent resource error = %v", err)
	}
}

func TestReadWrongKindIsNotFound(t *testing.T) {
	ctx := context.Background()
	a := New(nil)

	containers, _ := a.Client(engine.KindContainer)
	budgets, _ := a.Client(engine.KindBudget)

	id, err := containers.Create(ctx, containerDesired(t, "img", ""))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if _, err := budgets.Read(ctx, id); !engine.IsNotFound(err) {
		t.Errorf("budget Read() of container ID error = %v, want not found", err)
	}
}

func TestFaultInjectionOrder(t *testing.T) {
	ctx := context.Background()
	a := New(nil)
	client, _ := a.Client(engine.KindBudget)

	a.Cloud().FailNext("create",
		engine.NewThrottledError("rate limited", nil),
		engine.NewTransientError("flaky", nil),
	)

	_, err := client.Create(ctx, budgetDesired(t, "100", "USD"))
	if !engine.IsThrottled(err) {
		t.Errorf("first Create() error = %v, want throttled", err)
	}
	_, err = client.Create(ctx, budgetDesired(t, "100", "USD"))
	if !engine.IsTransient(err) {
		t.Errorf("second Create() error = %v, want transient", err)
	}
	if _, err := client.Create(ctx, budgetDesired(t, "100", "USD")); err != nil {
		t.Errorf("third Create() error = %v, want nil", err)
	}

	if got := a.Cloud().Calls("create"); got != 3 {
		t.Errorf("Calls(create) = %d, want 3", got)
	}
}

func TestTamperAndDestroy(t *testing.T) {
	ctx := context.Background()
	a := New(nil)
	client, _ := a.Client(engine.KindContainer)

	id, err := client.Create(ctx, containerDesired(t, "img:v1", ""))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := a.Cloud().Tamper(id, "image", "img:rogue"); err != nil {
		t.Fatalf("Tamper() error = %v", err)
	}
	observed, err := client.Read(ctx, id)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	var params map[string]interface{}
	if err := json.Unmarshal(observed.Parameters, &params); err != nil {
		t.Fatalf("failed to decode parameters: %v", err)
	}
	if params["image"] != "img:rogue" {
		t.Errorf("image = %v after tamper", params["image"])
	}

	a.Cloud().Destroy(id)
	if _, err := client.Read(ctx, id); !engine.IsNotFound(err) {
		t.Errorf("Read() after destroy error = %v, want not found", err)
	}
}

func TestDiffAbsentResource(t *testing.T) {
	a := New(nil)
	client, _ := a.Client(engine.KindBudget)

	ops, err := client.Diff(budgetDesired(t, "100", "USD"), nil)
	if err != nil {
		t.Fatalf("Diff() error = %v", err)
	}
	if len(ops) != 1 {
		t.Fatalf("got %d ops, want 1", len(ops))
	}
	if ops[0].Field != "." || ops[0].Action != engine.ChangeActionAdd {
		t.Errorf("op = %+v, want whole-resource add", ops[0])
	}
}

func TestDiffBudgetImmutableFields(t *testing.T) {
	ctx := context.Background()
	a := New(nil)
	client, _ := a.Client(engine.KindBudget)

	id, err := client.Create(ctx, budgetDesired(t, "100", "USD"))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	observed, err := client.Read(ctx, id)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	ops, err := client.Diff(budgetDesired(t, "250", "EUR"), observed)
	if err != nil {
		t.Fatalf("Diff() error = %v", err)
	}
	if len(ops) != 2 {
		t.Fatalf("got %d ops, want 2: %+v", len(ops), ops)
	}
	if ops[0].Field != "amount" || ops[0].RequiresReplace {
		t.Errorf("first op = %+v, want in-place amount change", ops[0])
	}
	if ops[1].Field != "currency" || !ops[1].RequiresReplace {
		t.Errorf("second op = %+v, want replace-forcing currency change", ops[1])
	}
}

func TestDiffContainerInPlace(t *testing.T) {
	ctx := context.Background()
	a := New(nil)
	client, _ := a.Client(engine.KindContainer)

	id, err := client.Create(ctx, containerDesired(t, "img:v1", "500m"))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	observed, err := client.Read(ctx, id)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	ops, err := client.Diff(containerDesired(t, "img:v2", "500m"), observed)
	if err != nil {
		t.Fatalf("Diff() error = %v", err)
	}
	if len(ops) != 1 {
		t.Fatalf("got %d ops, want 1: %+v", len(ops), ops)
	}
	if ops[0].Field != "image" || ops[0].RequiresReplace || ops[0].Action != engine.ChangeActionModify {
		t.Errorf("op = %+v, want in-place image modify", ops[0])
	}
}

func TestDiffQuantityEquivalence(t *testing.T) {
	ctx := context.Background()
	a := New(nil)
	client, _ := a.Client(engine.KindContainer)

	id, err := client.Create(ctx, containerDesired(t, "img:v1", "1000m"))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	observed, err := client.Read(ctx, id)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	// 1 CPU and 1000 millicores are the same request.
	ops, err := client.Diff(containerDesired(t, "img:v1", "1"), observed)
	if err != nil {
		t.Fatalf("Diff() error = %v", err)
	}
	if len(ops) != 0 {
		t.Errorf("got %d ops, want 0: %+v", len(ops), ops)
	}
}

func TestDiffIsPure(t *testing.T) {
	a := New(nil)
	client, _ := a.Client(engine.KindBudget)

	if _, err := client.Diff(budgetDesired(t, "100", "USD"), nil); err != nil {
		t.Fatalf("Diff() error = %v", err)
	}

	for _, op := range []string{"create", "read", "update", "delete"} {
		if got := a.Cloud().Calls(op); got != 0 {
			t.Errorf("Calls(%s) = %d, want 0", op, got)
		}
	}
}
