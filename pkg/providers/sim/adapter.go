package sim

import (
	"context"
	"fmt"

	"github.com/convergehq/converge/pkg/engine"
)

// AdapterName is the registry name of the simulated adapter.
const AdapterName = "sim"

// Adapter is the simulated provider adapter. It supports the budget and
// container kinds against a shared in-memory Cloud.
type Adapter struct {
	cloud     *Cloud
	budget    *budgetClient
	container *containerClient
}

// New creates an adapter backed by the given cloud. A nil cloud gets a
// fresh empty one.
func New(cloud *Cloud) *Adapter {
	if cloud == nil {
		cloud = NewCloud()
	}
	return &Adapter{
		cloud:     cloud,
		budget:    &budgetClient{cloud: cloud},
		container: &containerClient{cloud: cloud},
	}
}

// Cloud returns the backing cloud, for fault injection and tampering in tests.
func (a *Adapter) Cloud() *Cloud {
	return a.cloud
}

// Metadata implements engine.Adapter.
func (a *Adapter) Metadata() engine.AdapterMetadata {
	return engine.AdapterMetadata{
		Name:    AdapterName,
		Version: "1.0.0",
		Kinds:   []engine.Kind{engine.KindBudget, engine.KindContainer},
	}
}

// Client implements engine.Adapter.
func (a *Adapter) Client(kind engine.Kind) (engine.ResourceClient, error) {
	switch kind {
	case engine.KindBudget:
		return a.budget, nil
	case engine.KindContainer:
		return a.container, nil
	default:
		return nil, engine.NewPermanentError(fmt.Sprintf("adapter %s does not support kind %s", AdapterName, kind), nil)
	}
}

// budgetClient provisions simulated budgets.
type budgetClient struct {
	cloud *Cloud
}

func (c *budgetClient) Create(ctx context.Context, desired *engine.Desired) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return c.cloud.create(engine.KindBudget, desired)
}

func (c *budgetClient) Read(ctx context.Context, providerID string) (*engine.ObservedState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.cloud.read(engine.KindBudget, providerID)
}

func (c *budgetClient) Update(ctx context.Context, providerID string, desired *engine.Desired) (*engine.ObservedState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.cloud.update(engine.KindBudget, providerID, desired)
}

func (c *budgetClient) Delete(ctx context.Context, providerID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.cloud.delete(providerID)
}

func (c *budgetClient) Diff(desired *engine.Desired, observed *engine.ObservedState) ([]engine.ChangeOp, error) {
	return diffBudget(desired, observed)
}

// containerClient provisions simulated container services.
type containerClient struct {
	cloud *Cloud
}

func (c *containerClient) Create(ctx context.Context, desired *engine.Desired) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return c.cloud.create(engine.KindContainer, desired)
}

func (c *containerClient) Read(ctx context.Context, providerID string) (*engine.ObservedState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.cloud.read(engine.KindContainer, providerID)
}

func (c *containerClient) Update(ctx context.Context, providerID string, desired *engine.Desired) (*engine.ObservedState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.cloud.update(engine.KindContainer, providerID, desired)
}

func (c *containerClient) Delete(ctx context.Context, providerID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.cloud.delete(providerID)
}

func (c *containerClient) Diff(desired *engine.Desired, observed *engine.ObservedState) ([]engine.ChangeOp, error) {
	return diffContainer(desired, observed)
}
