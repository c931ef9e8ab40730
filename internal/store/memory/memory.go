// Package memory implements the record store contract in process. It backs
// unit tests and zero-dependency deployments; predicate semantics match the
// postgres backend.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/fluxbase-eu/crudkit/internal/collection"
	"github.com/fluxbase-eu/crudkit/internal/store"
)

// Store is an in-memory record store. All operations copy records on the
// way in and out; callers never share map instances with the store.
type Store struct {
	mu       sync.RWMutex
	registry *collection.Registry
	data     map[string][]store.Record
	fullText bool
}

// Option configures a Store.
type Option func(*Store)

// WithFullText enables the full-text capability; the fts predicate then
// evaluates as a case-insensitive substring match.
func WithFullText() Option {
	return func(s *Store) { s.fullText = true }
}

// New creates an empty store over the given collection registry.
func New(registry *collection.Registry, opts ...Option) *Store {
	s := &Store{
		registry: registry,
		data:     make(map[string][]store.Record),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Capabilities reports what this backend can execute.
func (s *Store) Capabilities() store.Capabilities {
	return store.Capabilities{FullTextSearch: s.fullText}
}

// Seed inserts fixture records directly, bypassing Save semantics.
func (s *Store) Seed(collectionName string, records ...store.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		s.data[collectionName] = append(s.data[collectionName], copyRecord(rec))
	}
}

// Find returns the records matching the spec, ordered, paged and with
// requested relations attached.
func (s *Store) Find(ctx context.Context, collectionName string, spec store.FindSpec) ([]store.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	col, ok := s.registry.Get(collectionName)
	if !ok {
		return nil, &store.ConfigurationError{Reason: "unknown collection: " + collectionName}
	}

	var matched []store.Record
	for _, rec := range s.data[collectionName] {
		ok, err := s.matches(col, rec, spec.Where)
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, copyRecord(rec))
		}
	}

	if len(spec.Order) > 0 {
		s.sortRecords(col, matched, spec.Order)
	}

	matched = page(matched, spec.Skip, spec.Take)

	if len(spec.Relations) > 0 {
		if err := s.attachRelations(col, matched, spec.Relations); err != nil {
			return nil, err
		}
	}

	if len(spec.Columns) > 0 {
		for i, rec := range matched {
			matched[i] = project(rec, spec.Columns, spec.Relations)
		}
	}

	return matched, nil
}

// Count returns the number of records matching the spec's where tree.
func (s *Store) Count(ctx context.Context, collectionName string, spec store.FindSpec) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	col, ok := s.registry.Get(collectionName)
	if !ok {
		return 0, &store.ConfigurationError{Reason: "unknown collection: " + collectionName}
	}

	var count int64
	for _, rec := range s.data[collectionName] {
		ok, err := s.matches(col, rec, spec.Where)
		if err != nil {
			return 0, err
		}
		if ok {
			count++
		}
	}
	return count, nil
}

// Save inserts or updates the given records by primary key in one call and
// returns them as persisted, in input order.
func (s *Store) Save(ctx context.Context, collectionName string, records []store.Record) ([]store.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	col, ok := s.registry.Get(collectionName)
	if !ok {
		return nil, &store.ConfigurationError{Reason: "unknown collection: " + collectionName}
	}
	pk := col.PrimaryKeyColumn()

	saved := make([]store.Record, 0, len(records))
	for _, rec := range records {
		key, ok := rec[pk]
		if !ok || key == nil {
			return nil, &store.ConflictError{Collection: collectionName, Reason: "record has no primary key value"}
		}
		stored := copyRecord(rec)
		replaced := false
		for i, existing := range s.data[collectionName] {
			if looseEqual(existing[pk], key) {
				s.data[collectionName][i] = stored
				replaced = true
				break
			}
		}
		if !replaced {
			s.data[collectionName] = append(s.data[collectionName], stored)
		}
		saved = append(saved, copyRecord(stored))
	}
	return saved, nil
}

// Remove physically deletes matching records and reports the count.
func (s *Store) Remove(ctx context.Context, collectionName string, where store.WhereTree) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	col, ok := s.registry.Get(collectionName)
	if !ok {
		return 0, &store.ConfigurationError{Reason: "unknown collection: " + collectionName}
	}

	var kept []store.Record
	var removed int64
	for _, rec := range s.data[collectionName] {
		ok, err := s.matches(col, rec, where)
		if err != nil {
			return 0, err
		}
		if ok {
			removed++
			continue
		}
		kept = append(kept, rec)
	}
	s.data[collectionName] = kept
	return removed, nil
}

// matches evaluates a where tree against one record. Branch entries scope
// conditions to a relation: the record matches when at least one related
// record satisfies the branch.
func (s *Store) matches(col *collection.Collection, rec store.Record, where store.WhereTree) (bool, error) {
	for field, cond := range where {
		switch c := cond.(type) {
		case []store.Predicate:
			for _, pred := range c {
				ok, err := s.evalPredicate(rec[field], pred)
				if err != nil {
					return false, err
				}
				if !ok {
					return false, nil
				}
			}
		case store.WhereTree:
			ok, err := s.matchesRelation(col, rec, field, c)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		default:
			return false, fmt.Errorf("invalid where tree node for field %q", field)
		}
	}
	return true, nil
}

func (s *Store) matchesRelation(col *collection.Collection, rec store.Record, name string, branch store.WhereTree) (bool, error) {
	rel, ok := col.Relations[name]
	if !ok {
		return false, &store.ConfigurationError{
			Reason: fmt.Sprintf("collection %s has no relation %s", col.Name, name),
		}
	}
	target, ok := s.registry.Get(rel.Target)
	if !ok {
		return false, &store.ConfigurationError{Reason: "unknown collection: " + rel.Target}
	}
	localKey := rel.LocalKey
	if localKey == "" {
		localKey = col.PrimaryKeyColumn()
	}
	for _, related := range s.data[rel.Target] {
		if !looseEqual(related[rel.ForeignKey], rec[localKey]) {
			continue
		}
		ok, err := s.matches(target, related, branch)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) evalPredicate(value interface{}, pred store.Predicate) (bool, error) {
	switch pred.Op {
	case store.PredEqual:
		return looseEqual(value, pred.Value), nil
	case store.PredNotEqual:
		return !looseEqual(value, pred.Value), nil
	case store.PredGreaterThan:
		return compareValues(value, pred.Value) > 0, nil
	case store.PredGreaterOrEqual:
		return compareValues(value, pred.Value) >= 0, nil
	case store.PredLessThan:
		return compareValues(value, pred.Value) < 0, nil
	case store.PredLessOrEqual:
		return compareValues(value, pred.Value) <= 0, nil
	case store.PredBetween:
		bounds, ok := pred.Value.([]string)
		if !ok || len(bounds) != 2 {
			return false, &store.UnsupportedOperationError{Operator: "between", Reason: "requires two bounds"}
		}
		return compareValues(value, bounds[0]) >= 0 && compareValues(value, bounds[1]) <= 0, nil
	case store.PredLike:
		return matchPattern(value, pred.Value, false), nil
	case store.PredILike:
		return matchPattern(value, pred.Value, true), nil
	case store.PredIn:
		return inSet(value, pred.Value), nil
	case store.PredNotIn:
		return !inSet(value, pred.Value), nil
	case store.PredIsNull:
		return value == nil, nil
	case store.PredNotNull:
		return value != nil, nil
	case store.PredFullText:
		if !s.fullText {
			return false, &store.UnsupportedOperationError{Operator: "fts", Reason: "store does not support full-text search"}
		}
		return matchFullText(value, pred.Value), nil
	default:
		return false, &store.UnsupportedOperationError{Operator: string(pred.Op), Reason: "unknown predicate"}
	}
}

// sortRecords applies a stable multi-key sort. Dotted sort fields resolve
// through relation definitions.
func (s *Store) sortRecords(col *collection.Collection, records []store.Record, order store.OrderList) {
	sort.SliceStable(records, func(i, j int) bool {
		for _, entry := range order {
			a := s.resolveField(col, records[i], entry.Field)
			b := s.resolveField(col, records[j], entry.Field)
			cmp := compareValues(a, b)
			if cmp == 0 {
				continue
			}
			if entry.Dir == store.Descending {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
}

// resolveField reads a possibly relation-scoped field off a record. For a
// dotted path the first matching related record supplies the value.
func (s *Store) resolveField(col *collection.Collection, rec store.Record, field string) interface{} {
	name, rest, dotted := cutDot(field)
	if !dotted {
		return rec[field]
	}
	rel, ok := col.Relations[name]
	if !ok {
		return nil
	}
	target, ok := s.registry.Get(rel.Target)
	if !ok {
		return nil
	}
	localKey := rel.LocalKey
	if localKey == "" {
		localKey = col.PrimaryKeyColumn()
	}
	for _, related := range s.data[rel.Target] {
		if looseEqual(related[rel.ForeignKey], rec[localKey]) {
			return s.resolveField(target, related, rest)
		}
	}
	return nil
}

// attachRelations eagerly attaches requested relations. One pass per
// relation over the target collection, never one lookup per parent row.
func (s *Store) attachRelations(col *collection.Collection, records []store.Record, tree store.RelationTree) error {
	for name, node := range tree {
		rel, ok := col.Relations[name]
		if !ok {
			return &store.ConfigurationError{
				Reason: fmt.Sprintf("collection %s has no relation %s", col.Name, name),
			}
		}
		target, ok := s.registry.Get(rel.Target)
		if !ok {
			return &store.ConfigurationError{Reason: "unknown collection: " + rel.Target}
		}
		localKey := rel.LocalKey
		if localKey == "" {
			localKey = col.PrimaryKeyColumn()
		}

		// Index related records by foreign key value.
		index := make(map[string][]store.Record)
		for _, related := range s.data[rel.Target] {
			key := fmt.Sprint(related[rel.ForeignKey])
			index[key] = append(index[key], copyRecord(related))
		}

		var attached []store.Record
		for _, rec := range records {
			related := index[fmt.Sprint(rec[localKey])]
			if rel.HasMany {
				rec[name] = related
				attached = append(attached, related...)
			} else if len(related) > 0 {
				rec[name] = related[0]
				attached = append(attached, related[0])
			} else {
				rec[name] = nil
			}
		}

		if nested, ok := node.(store.RelationTree); ok {
			if err := s.attachRelations(target, attached, nested); err != nil {
				return err
			}
		}
	}
	return nil
}

func page(records []store.Record, skip, take int) []store.Record {
	if skip > 0 {
		if skip >= len(records) {
			return nil
		}
		records = records[skip:]
	}
	if take > 0 && take < len(records) {
		records = records[:take]
	}
	return records
}

// project narrows a record to the known columns, keeping attached relations.
func project(rec store.Record, columns []string, relations store.RelationTree) store.Record {
	out := store.Record{}
	for _, c := range columns {
		if v, ok := rec[c]; ok {
			out[c] = v
		}
	}
	for name := range relations {
		if v, ok := rec[name]; ok {
			out[name] = v
		}
	}
	return out
}

func copyRecord(rec store.Record) store.Record {
	out := make(store.Record, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out
}
