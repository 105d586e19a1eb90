package providers

import (
	"testing"

	"github.com/convergehq/converge/pkg/engine"
	"github.com/convergehq/converge/pkg/providers/sim"
)

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()

	if err := r.Register(sim.New(nil)); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	adapter, err := r.Get(sim.AdapterName)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if adapter.Metadata().Name != sim.AdapterName {
		t.Errorf("Metadata().Name = %s, want %s", adapter.Metadata().Name, sim.AdapterName)
	}
}

func TestRegistryDuplicateRejected(t *testing.T) {
	r := NewRegistry()

	if err := r.Register(sim.New(nil)); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := r.Register(sim.New(nil)); err == nil {
		t.Error("expected duplicate registration error, got nil")
	}
}

func TestRegistryUnknownAdapter(t *testing.T) {
	r := NewRegistry()

	if _, err := r.Get("aws"); !engine.IsNotFound(err) {
		t.Errorf("Get() error = %v, want not found", err)
	}
}

func TestRegistryListSorted(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(sim.New(nil)); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	metas := r.List()
	if len(metas) != 1 || metas[0].Name != sim.AdapterName {
		t.Errorf("List() = %v", metas)
	}
}
