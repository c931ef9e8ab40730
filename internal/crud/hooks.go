// Package crud orchestrates single and bulk CRUD operations against a
// record store: the lifecycle-hook pipeline, batched bulk writes, and the
// response envelope.
package crud

import (
	"context"

	"github.com/fluxbase-eu/crudkit/internal/collection"
	"github.com/fluxbase-eu/crudkit/internal/store"
)

// HookContext carries execution context through one record's hook chain.
type HookContext struct {
	// Operation is the CRUD operation kind: show, index, create, update,
	// upsert, destroy, recover.
	Operation string
	// Params are the route parameters of the request.
	Params map[string]string
	// Record is the current entity, once fetched or instantiated.
	Record store.Record
}

// Hooks is the optional lifecycle pipeline wrapped around each operation:
// assignBefore → build/fetch → assignAfter → saveBefore → persist →
// saveAfter. A nil stage is the identity.
type Hooks struct {
	AssignBefore func(ctx context.Context, input store.Record, hc *HookContext) error
	AssignAfter  func(ctx context.Context, entity store.Record, input store.Record, hc *HookContext) error
	SaveBefore   func(ctx context.Context, entity store.Record, hc *HookContext) error
	SaveAfter    func(ctx context.Context, entity store.Record, hc *HookContext) error
}

func (h Hooks) assignBefore(ctx context.Context, input store.Record, hc *HookContext) error {
	if h.AssignBefore == nil {
		return nil
	}
	return h.AssignBefore(ctx, input, hc)
}

func (h Hooks) assignAfter(ctx context.Context, entity, input store.Record, hc *HookContext) error {
	if h.AssignAfter == nil {
		return nil
	}
	return h.AssignAfter(ctx, entity, input, hc)
}

func (h Hooks) saveBefore(ctx context.Context, entity store.Record, hc *HookContext) error {
	if h.SaveBefore == nil {
		return nil
	}
	return h.SaveBefore(ctx, entity, hc)
}

func (h Hooks) saveAfter(ctx context.Context, entity store.Record, hc *HookContext) error {
	if h.SaveAfter == nil {
		return nil
	}
	return h.SaveAfter(ctx, entity, hc)
}

// Resource pairs a collection configuration with its hook pipeline. Built
// once at startup and handed to the orchestrator.
type Resource struct {
	Config *collection.Collection
	Hooks  Hooks
}
