package crud

import (
	"context"
	"net/url"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fluxbase-eu/crudkit/internal/collection"
	"github.com/fluxbase-eu/crudkit/internal/config"
	"github.com/fluxbase-eu/crudkit/internal/observability"
	"github.com/fluxbase-eu/crudkit/internal/pagination"
	"github.com/fluxbase-eu/crudkit/internal/query"
	"github.com/fluxbase-eu/crudkit/internal/store"
)

// Orchestrator drives CRUD operations through the hook pipeline against a
// record store.
type Orchestrator struct {
	store   store.Store
	parser  *query.Parser
	api     config.APIConfig
	batch   *BatchProcessor
	metrics *observability.Metrics
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMetrics enables prometheus instrumentation.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New creates an orchestrator over the given store.
func New(st store.Store, api config.APIConfig, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:  st,
		parser: query.NewParser(api),
		api:    api,
		batch: &BatchProcessor{
			Threshold:    api.BatchThreshold,
			MaxChunkSize: api.MaxChunkSize,
		},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Parser exposes the query parser (the HTTP layer parses withDeleted and
// route params itself).
func (o *Orchestrator) Parser() *query.Parser { return o.parser }

// ShowOptions modify a single-record fetch.
type ShowOptions struct {
	WithDeleted bool
	Params      map[string]string
}

// Show fetches one record by key.
func (o *Orchestrator) Show(ctx context.Context, res *Resource, id string, opts ShowOptions) (resp *Response, err error) {
	defer o.observe("show", res, time.Now(), &err)
	col := res.Config

	hc := &HookContext{Operation: "show", Params: opts.Params}
	if err = res.Hooks.assignBefore(ctx, nil, hc); err != nil {
		return nil, err
	}

	entity, found, err := o.fetchOne(ctx, res, id, opts.WithDeleted, false)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, &store.NotFoundError{Collection: col.Name, Keys: []string{id}}
	}
	hc.Record = entity
	if err = res.Hooks.assignAfter(ctx, entity, nil, hc); err != nil {
		return nil, err
	}

	ser := NewSerializer(col)
	return newResponse(ser.Serialize(entity), Metadata{
		AffectedCount:  1,
		ExcludedFields: col.Excluded,
	}), nil
}

// Index runs a list query: parse, convert, paginate, serialize.
func (o *Orchestrator) Index(ctx context.Context, res *Resource, values url.Values) (resp *Response, err error) {
	defer o.observe("index", res, time.Now(), &err)
	col := res.Config

	parsed := o.parser.Parse(values, col)
	spec, err := query.Convert(parsed, o.store.Capabilities())
	if err != nil {
		return nil, err
	}

	if col.SoftDelete && values.Get("withDeleted") != "true" {
		spec.Where.Add([]string{col.SoftDeleteColumn}, store.Predicate{Op: store.PredIsNull, Value: true})
	}

	// Narrow to the schema's known columns.
	spec.Columns = col.Columns

	// A deterministic order is required for stable paging.
	if len(spec.Order) == 0 {
		spec.Order = store.OrderList{{Field: col.PrimaryKeyColumn(), Dir: store.Ascending}}
	}

	var state *pagination.State
	if parsed.Page != nil && parsed.Page.Type == query.PageCursor {
		state, spec, err = o.cursorPage(ctx, col, parsed.Page, spec)
	} else {
		state, spec, err = o.offsetPage(ctx, col, spec)
	}
	if err != nil {
		return nil, err
	}

	rows, err := o.store.Find(ctx, col.Name, spec)
	if err != nil {
		return nil, err
	}

	if state.NextCursor == "" && spec.Take > 0 && len(rows) == spec.Take {
		// Encode with the tie-broken order so a cursor issued here matches
		// the order cursor consumption will reconstruct.
		cursorOrder := pagination.EnsureTieBreaker(spec.Order, col.PrimaryKeyColumn())
		next, encErr := pagination.EncodeCursor(rows[len(rows)-1], cursorOrder)
		if encErr == nil {
			state.NextCursor = next
		}
	}

	ser := NewSerializer(col)
	return newResponse(ser.SerializeAll(rows), Metadata{
		AffectedCount:     len(rows),
		IncludedRelations: relationNames(spec.Relations),
		ExcludedFields:    col.Excluded,
		Pagination:        state,
	}), nil
}

// cursorPage prepares a cursor-family query: the continuation predicate is
// merged into the where tree and the count is short-circuited on
// continuation ("next") pages.
func (o *Orchestrator) cursorPage(ctx context.Context, col *collection.Collection, page *query.PageOperation, spec store.FindSpec) (*pagination.State, store.FindSpec, error) {
	spec.Order = pagination.EnsureTieBreaker(spec.Order, col.PrimaryKeyColumn())
	spec.Take = pagination.ResolveTake(0, page.Size, col.DefaultPageSize)

	total := int64(-1)
	if page.Cursor == "" {
		var err error
		total, err = o.store.Count(ctx, col.Name, spec)
		if err != nil {
			return nil, spec, err
		}
	} else {
		pairs, err := pagination.DecodeCursor(page.Cursor)
		if err != nil {
			return nil, spec, err
		}
		continuation, err := pagination.ContinuationWhere(pairs, spec.Order)
		if err != nil {
			return nil, spec, err
		}
		spec.Where.Merge(continuation)
	}

	return pagination.CursorState(total, spec.Take, ""), spec, nil
}

// offsetPage prepares an offset-family query (page-number, raw offset, or
// no page intent at all).
func (o *Orchestrator) offsetPage(ctx context.Context, col *collection.Collection, spec store.FindSpec) (*pagination.State, store.FindSpec, error) {
	if spec.Take <= 0 {
		spec.Take = pagination.ResolveTake(0, 0, col.DefaultPageSize)
	}
	total, err := o.store.Count(ctx, col.Name, spec)
	if err != nil {
		return nil, spec, err
	}
	return pagination.OffsetState(total, spec.Skip, spec.Take, ""), spec, nil
}

// Create instantiates and persists one record or an array of records.
func (o *Orchestrator) Create(ctx context.Context, res *Resource, body interface{}, params map[string]string) (resp *Response, err error) {
	defer o.observe("create", res, time.Now(), &err)
	col := res.Config

	inputs, single := normalizeBody(body)

	entities := make([]store.Record, 0, len(inputs))
	contexts := make([]*HookContext, 0, len(inputs))
	for _, input := range inputs {
		hc := &HookContext{Operation: "create", Params: params}
		if err = res.Hooks.assignBefore(ctx, input, hc); err != nil {
			return nil, err
		}
		entity := copyRecord(input)
		o.ensureKey(col, entity)
		hc.Record = entity
		if err = res.Hooks.assignAfter(ctx, entity, input, hc); err != nil {
			return nil, err
		}
		if err = res.Hooks.saveBefore(ctx, entity, hc); err != nil {
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
	var data interface{}
	if single && len(saved) == 1 {
		data = ser.Serialize(saved[0])
	} else {
		data = ser.SerializeAll(saved)
	}
	return newResponse(data, Metadata{
		AffectedCount:  len(saved),
		ExcludedFields: col.Excluded,
	}), nil
}

// Update merges a partial body onto the fetched entity, then runs the hook
// chain so hooks observe the merged record.
func (o *Orchestrator) Update(ctx context.Context, res *Resource, id string, body store.Record, params map[string]string) (resp *Response, err error) {
	defer o.observe("update", res, time.Now(), &err)
	col := res.Config

	entity, found, err := o.fetchOne(ctx, res, id, false, false)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, &store.NotFoundError{Collection: col.Name, Keys: []string{id}}
	}

	mergeBody(col, entity, body)
	hc := &HookContext{Operation: "update", Params: params, Record: entity}
	if err = o.runSaveChain(ctx, res, entity, body, hc); err != nil {
		return nil, err
	}

	saved, err := o.store.Save(ctx, col.Name, []store.Record{entity})
	if err != nil {
		return nil, err
	}
	if err = res.Hooks.saveAfter(ctx, saved[0], hc); err != nil {
		return nil, err
	}

	ser := NewSerializer(col)
	return newResponse(ser.Serialize(saved[0]), Metadata{
		AffectedCount:  1,
		ExcludedFields: col.Excluded,
	}), nil
}

// Upsert updates the record at the key or creates it. The existence check
// sees soft-deleted rows and routes to the primary connection.
func (o *Orchestrator) Upsert(ctx context.Context, res *Resource, id string, body store.Record, params map[string]string) (resp *Response, err error) {
	defer o.observe("upsert", res, time.Now(), &err)
	col := res.Config

	entity, found, err := o.fetchOne(ctx, res, id, true, true)
	if err != nil {
		return nil, err
	}

	isNew := !found
	switch {
	case !found:
		entity = store.Record{col.PrimaryKeyColumn(): id}
		mergeBody(col, entity, body)
	case isSoftDeleted(col, entity):
		return nil, &store.ConflictError{Collection: col.Name, Reason: "upsert target is soft-deleted"}
	default:
		mergeBody(col, entity, body)
	}

	hc := &HookContext{Operation: "upsert", Params: params, Record: entity}
	if err = o.runSaveChain(ctx, res, entity, body, hc); err != nil {
		return nil, err
	}

	saved, err := o.store.Save(ctx, col.Name, []store.Record{entity})
	if err != nil {
		return nil, err
	}
	if err = res.Hooks.saveAfter(ctx, saved[0], hc); err != nil {
		return nil, err
	}

	ser := NewSerializer(col)
	return newResponse(ser.Serialize(saved[0]), Metadata{
		AffectedCount:  1,
		IsNew:          isNew,
		ExcludedFields: col.Excluded,
	}), nil
}

// Destroy soft- or hard-removes a record per collection configuration. A
// missing primary-key configuration is a deployment error, reported as a
// conflict before any fetch.
func (o *Orchestrator) Destroy(ctx context.Context, res *Resource, id string, params map[string]string) (resp *Response, err error) {
	defer o.observe("destroy", res, time.Now(), &err)
	col := res.Config

	if len(col.PrimaryKey) == 0 {
		return nil, &store.ConflictError{Collection: col.Name, Reason: "destroy requires a configured primary key"}
	}

	entity, found, err := o.fetchOne(ctx, res, id, false, false)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, &store.NotFoundError{Collection: col.Name, Keys: []string{id}}
	}

	hc := &HookContext{Operation: "destroy", Params: params, Record: entity}
	if err = res.Hooks.saveBefore(ctx, entity, hc); err != nil {
		return nil, err
	}

	if col.SoftDelete {
		entity[col.SoftDeleteColumn] = time.Now().UTC()
		if _, err = o.store.Save(ctx, col.Name, []store.Record{entity}); err != nil {
			return nil, err
		}
	} else {
		if _, err = o.store.Remove(ctx, col.Name, o.keyWhere(col, id)); err != nil {
			return nil, err
		}
	}
	if err = res.Hooks.saveAfter(ctx, entity, hc); err != nil {
		return nil, err
	}

	ser := NewSerializer(col)
	return newResponse(ser.Serialize(entity), Metadata{
		AffectedCount:  1,
		WasSoftDeleted: col.SoftDelete,
		ExcludedFields: col.Excluded,
	}), nil
}

// Recover clears the soft-delete marker. wasSoftDeleted reflects the prior
// state, so recovering a live record is detectable.
func (o *Orchestrator) Recover(ctx context.Context, res *Resource, id string, params map[string]string) (resp *Response, err error) {
	defer o.observe("recover", res, time.Now(), &err)
	col := res.Config

	if !col.SoftDelete {
		return nil, &store.ConflictError{Collection: col.Name, Reason: "recover requires soft delete to be enabled"}
	}

	entity, found, err := o.fetchOne(ctx, res, id, true, false)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, &store.NotFoundError{Collection: col.Name, Keys: []string{id}}
	}

	was := isSoftDeleted(col, entity)
	hc := &HookContext{Operation: "recover", Params: params, Record: entity}
	if err = res.Hooks.saveBefore(ctx, entity, hc); err != nil {
		return nil, err
	}

	entity[col.SoftDeleteColumn] = nil
	saved, err := o.store.Save(ctx, col.Name, []store.Record{entity})
	if err != nil {
		return nil, err
	}
	if err = res.Hooks.saveAfter(ctx, saved[0], hc); err != nil {
		return nil, err
	}

	ser := NewSerializer(col)
	return newResponse(ser.Serialize(saved[0]), Metadata{
		AffectedCount:  1,
		WasSoftDeleted: was,
		ExcludedFields: col.Excluded,
	}), nil
}

// runSaveChain runs assignBefore/assignAfter/saveBefore on an already
// merged entity (body-then-hook ordering).
func (o *Orchestrator) runSaveChain(ctx context.Context, res *Resource, entity, input store.Record, hc *HookContext) error {
	if err := res.Hooks.assignBefore(ctx, input, hc); err != nil {
		return err
	}
	if err := res.Hooks.assignAfter(ctx, entity, input, hc); err != nil {
		return err
	}
	return res.Hooks.saveBefore(ctx, entity, hc)
}

// fetchOne loads one record by key.
func (o *Orchestrator) fetchOne(ctx context.Context, res *Resource, id string, withDeleted, usePrimary bool) (store.Record, bool, error) {
	col := res.Config
	where := o.keyWhere(col, id)
	if col.SoftDelete && !withDeleted {
		where.Add([]string{col.SoftDeleteColumn}, store.Predicate{Op: store.PredIsNull, Value: true})
	}
	rows, err := o.store.Find(ctx, col.Name, store.FindSpec{
		Where:      where,
		Take:       1,
		Columns:    col.Columns,
		UsePrimary: usePrimary,
	})
	if err != nil {
		return nil, false, err
	}
	if len(rows) == 0 {
		return nil, false, nil
	}
	return rows[0], true, nil
}

// persist saves entities in one call, chunking through the batch processor
// above the configured threshold.
func (o *Orchestrator) persist(ctx context.Context, col *collection.Collection, entities []store.Record) ([]store.Record, error) {
	if len(entities) > o.batch.Threshold {
		return o.batch.Run(ctx, entities, func(ctx context.Context, chunk []store.Record) ([]store.Record, error) {
			return o.store.Save(ctx, col.Name, chunk)
		})
	}
	return o.store.Save(ctx, col.Name, entities)
}

func (o *Orchestrator) keyWhere(col *collection.Collection, keys ...string) store.WhereTree {
	where := store.WhereTree{}
	pk := col.PrimaryKeyColumn()
	if len(keys) == 1 {
		where.Add([]string{pk}, store.Predicate{Op: store.PredEqual, Value: keys[0]})
	} else {
		where.Add([]string{pk}, store.Predicate{Op: store.PredIn, Value: keys})
	}
	return where
}

// ensureKey assigns a generated identifier when a single-column primary key
// is absent from a new entity.
func (o *Orchestrator) ensureKey(col *collection.Collection, entity store.Record) {
	if len(col.PrimaryKey) > 1 {
		return
	}
	pk := col.PrimaryKeyColumn()
	if v, ok := entity[pk]; !ok || v == nil || v == "" {
		entity[pk] = uuid.NewString()
	}
}

func (o *Orchestrator) observe(op string, res *Resource, start time.Time, err *error) {
	o.metrics.Observe(op, res.Config.Name, start, *err)
	if *err != nil {
		log.Debug().Err(*err).Str("operation", op).Str("collection", res.Config.Name).Msg("CRUD operation failed")
	}
}

func isSoftDeleted(col *collection.Collection, rec store.Record) bool {
	if !col.SoftDelete {
		return false
	}
	v, ok := rec[col.SoftDeleteColumn]
	return ok && v != nil
}

// mergeBody copies body fields onto the entity, leaving the primary key
// untouched.
func mergeBody(col *collection.Collection, entity, body store.Record) {
	pk := col.PrimaryKeyColumn()
	for k, v := range body {
		if k == pk {
			continue
		}
		entity[k] = v
	}
}

func copyRecord(rec store.Record) store.Record {
	out := make(store.Record, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out
}

// normalizeBody accepts a single record or a record slice and reports which
// shape it was.
func normalizeBody(body interface{}) ([]store.Record, bool) {
	switch b := body.(type) {
	case store.Record:
		return []store.Record{b}, true
	case []store.Record:
		return b, false
	case []interface{}:
		out := make([]store.Record, 0, len(b))
		for _, item := range b {
			if rec, ok := item.(map[string]interface{}); ok {
				out = append(out, rec)
			}
		}
		return out, false
	default:
		return nil, true
	}
}

// relationNames flattens the top-level relation names for the metadata
// block.
func relationNames(tree store.RelationTree) []string {
	if len(tree) == 0 {
		return nil
	}
	names := make([]string, 0, len(tree))
	for name := range tree {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
