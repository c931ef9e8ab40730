package crud

import (
	"context"
	"fmt"
	"time"

	"github.com/fluxbase-eu/crudkit/internal/store"
)

// bulkFetch issues one batched key-set fetch and returns the key→record
// lookup plus the requested keys that resolved to nothing, in request
// order.
func (o *Orchestrator) bulkFetch(ctx context.Context, res *Resource, keys []string, withDeleted, usePrimary bool) (map[string]store.Record, []string, error) {
	col := res.Config
	where := o.keyWhere(col, keys...)
	if col.SoftDelete && !withDeleted {
		where.Add([]string{col.SoftDeleteColumn}, store.Predicate{Op: store.PredIsNull, Value: true})
	}
	rows, err := o.store.Find(ctx, col.Name, store.FindSpec{
		Where:      where,
		Columns:    col.Columns,
		UsePrimary: usePrimary,
	})
	if err != nil {
		return nil, nil, err
	}

	pk := col.PrimaryKeyColumn()
	lookup := make(map[string]store.Record, len(rows))
	for _, rec := range rows {
		lookup[fmt.Sprint(rec[pk])] = rec
	}

	var missing []string
	for _, key := range keys {
		if _, ok := lookup[key]; !ok {
			missing = append(missing, key)
		}
	}
	return lookup, missing, nil
}

// itemKeys extracts the primary key of every bulk item. An item without a
// key value is a conflicting request state.
func itemKeys(res *Resource, items []store.Record) ([]string, error) {
	pk := res.Config.PrimaryKeyColumn()
	keys := make([]string, 0, len(items))
	for _, item := range items {
		v, ok := item[pk]
		if !ok || v == nil || v == "" {
			return nil, &store.ConflictError{
				Collection: res.Config.Name,
				Reason:     "bulk item is missing its primary key",
			}
		}
		keys = append(keys, fmt.Sprint(v))
	}
	return keys, nil
}

// BulkUpdate applies partial bodies to many records in one fetch and one
// persist. Any requested key without a record fails the whole operation
// with NotFound naming exactly the missing keys; nothing is persisted.
func (o *Orchestrator) BulkUpdate(ctx context.Context, res *Resource, items []store.Record, params map[string]string) (resp *Response, err error) {
	defer o.observe("update", res, time.Now(), &err)
	col := res.Config

	keys, err := itemKeys(res, items)
	if err != nil {
		return nil, err
	}
	lookup, missing, err := o.bulkFetch(ctx, res, keys, false, false)
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		return nil, &store.NotFoundError{Collection: col.Name, Keys: missing}
	}

	entities := make([]store.Record, 0, len(items))
	contexts := make([]*HookContext, 0, len(items))
	for i, item := range items {
		entity := lookup[keys[i]]
		mergeBody(col, entity, item)
		hc := &HookContext{Operation: "update", Params: params, Record: entity}
		if err = o.runSaveChain(ctx, res, entity, item, hc); err != nil {
			return nil, err
		}
		entities = append(entities, entity)
		contexts = append(contexts, hc)
	}

	saved, err := o.persist(ctx, col, entities)
	if err != nil {
		return nil, err
	}
	for i, rec := range saved {
		if err = res.Hooks.saveAfter(ctx, rec, contexts[i]); err != nil {
			return nil, err
		}
	}

	ser := NewSerializer(col)
	return newResponse(ser.SerializeAll(saved), Metadata{
		AffectedCount:  len(saved),
		ExcludedFields: col.Excluded,
	}), nil
}

// BulkUpsert updates existing records and instantiates missing ones in one
// fetch and one persist. The response carries a parallel isNew flag per
// item in request order. A soft-deleted target fails with Conflict.
func (o *Orchestrator) BulkUpsert(ctx context.Context, res *Resource, items []store.Record, params map[string]string) (resp *Response, err error) {
	defer o.observe("upsert", res, time.Now(), &err)
	col := res.Config
	pk := col.PrimaryKeyColumn()

	// Items may omit the key; those are unconditionally new.
	keyed := make([]string, len(items))
	var fetchKeys []string
	for i, item := range items {
		if v, ok := item[pk]; ok && v != nil && v != "" {
			keyed[i] = fmt.Sprint(v)
			fetchKeys = append(fetchKeys, keyed[i])
		}
	}

	lookup := map[string]store.Record{}
	if len(fetchKeys) > 0 {
		// Soft-deleted rows stay visible to the existence check.
		lookup, _, err = o.bulkFetch(ctx, res, fetchKeys, true, true)
		if err != nil {
			return nil, err
		}
	}

	isNew := make([]bool, len(items))
	entities := make([]store.Record, 0, len(items))
	contexts := make([]*HookContext, 0, len(items))
	for i, item := range items {
		entity, found := lookup[keyed[i]]
		switch {
		case !found:
			isNew[i] = true
			entity = copyRecord(item)
			o.ensureKey(col, entity)
		case isSoftDeleted(col, entity):
			return nil, &store.ConflictError{Collection: col.Name, Reason: "upsert target is soft-deleted: " + keyed[i]}
		default:
			mergeBody(col, entity, item)
		}
		hc := &HookContext{Operation: "upsert", Params: params, Record: entity}
		if err = o.runSaveChain(ctx, res, entity, item, hc); err != nil {
			return nil, err
		}
		entities = append(entities, entity)
		contexts = append(contexts, hc)
	}

	saved, err := o.persist(ctx, col, entities)
	if err != nil {
		return nil, err
	}
	for i, rec := range saved {
		if err = res.Hooks.saveAfter(ctx, rec, contexts[i]); err != nil {
			return nil, err
		}
	}

	ser := NewSerializer(col)
	return newResponse(ser.SerializeAll(saved), Metadata{
		AffectedCount:  len(saved),
		IsNew:          isNew,
		ExcludedFields: col.Excluded,
	}), nil
}

// BulkDestroy removes many records by key: one fetch, one persist (soft) or
// one remove (hard).
func (o *Orchestrator) BulkDestroy(ctx context.Context, res *Resource, keys []string, params map[string]string) (resp *Response, err error) {
	defer o.observe("destroy", res, time.Now(), &err)
	col := res.Config

	if len(col.PrimaryKey) == 0 {
		return nil, &store.ConflictError{Collection: col.Name, Reason: "destroy requires a configured primary key"}
	}

	lookup, missing, err := o.bulkFetch(ctx, res, keys, false, false)
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		return nil, &store.NotFoundError{Collection: col.Name, Keys: missing}
	}

	entities := make([]store.Record, 0, len(keys))
	contexts := make([]*HookContext, 0, len(keys))
	for _, key := range keys {
		entity := lookup[key]
		hc := &HookContext{Operation: "destroy", Params: params, Record: entity}
		if err = res.Hooks.saveBefore(ctx, entity, hc); err != nil {
			return nil, err
		}
		entities = append(entities, entity)
		contexts = append(contexts, hc)
	}

	if col.SoftDelete {
		now := time.Now().UTC()
		for _, entity := range entities {
			entity[col.SoftDeleteColumn] = now
		}
		if _, err = o.persist(ctx, col, entities); err != nil {
			return nil, err
		}
	} else {
		if _, err = o.store.Remove(ctx, col.Name, o.keyWhere(col, keys...)); err != nil {
			return nil, err
		}
	}
	for i, entity := range entities {
		if err = res.Hooks.saveAfter(ctx, entity, contexts[i]); err != nil {
			return nil, err
		}
	}

	ser := NewSerializer(col)
	return newResponse(ser.SerializeAll(entities), Metadata{
		AffectedCount:  len(entities),
		WasSoftDeleted: col.SoftDelete,
		ExcludedFields: col.Excluded,
	}), nil
}

// BulkRecover clears soft-delete markers for many records. The response
// carries a parallel wasSoftDeleted flag per key reflecting prior state.
func (o *Orchestrator) BulkRecover(ctx context.Context, res *Resource, keys []string, params map[string]string) (resp *Response, err error) {
	defer o.observe("recover", res, time.Now(), &err)
	col := res.Config

	if !col.SoftDelete {
		return nil, &store.ConflictError{Collection: col.Name, Reason: "recover requires soft delete to be enabled"}
	}

	lookup, missing, err := o.bulkFetch(ctx, res, keys, true, false)
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		return nil, &store.NotFoundError{Collection: col.Name, Keys: missing}
	}

	was := make([]bool, len(keys))
	entities := make([]store.Record, 0, len(keys))
	contexts := make([]*HookContext, 0, len(keys))
	for i, key := range keys {
		entity := lookup[key]
		was[i] = isSoftDeleted(col, entity)
		hc := &HookContext{Operation: "recover", Params: params, Record: entity}
		if err = res.Hooks.saveBefore(ctx, entity, hc); err != nil {
			return nil, err
		}
		entity[col.SoftDeleteColumn] = nil
		entities = append(entities, entity)
		contexts = append(contexts, hc)
	}

	saved, err := o.persist(ctx, col, entities)
	if err != nil {
		return nil, err
	}
	for i, rec := range saved {
		if err = res.Hooks.saveAfter(ctx, rec, contexts[i]); err != nil {
			return nil, err
		}
	}

	ser := NewSerializer(col)
	return newResponse(ser.SerializeAll(saved), Metadata{
		AffectedCount:  len(saved),
		WasSoftDeleted: was,
		ExcludedFields: col.Excluded,
	}), nil
}
