package crud

import (
	"fmt"

	"github.com/fluxbase-eu/crudkit/internal/collection"
	"github.com/fluxbase-eu/crudkit/internal/store"
)

// Serializer converts records into their serializable shape: the per-route
// exclude set is applied first, schema-declared hidden fields second, so an
// explicit exclude always wins. The source record is never mutated; removal
// is a field mask applied while copying.
//
// Results are cached by primary key for the lifetime of one serializer,
// which is scoped to a single request/response cycle. Records without a
// primary key value fall back to per-call serialization.
type Serializer struct {
	col   *collection.Collection
	cache map[string]store.Record
}

// NewSerializer creates a request-scoped serializer for one collection.
func NewSerializer(col *collection.Collection) *Serializer {
	return &Serializer{col: col, cache: make(map[string]store.Record)}
}

// Serialize returns the response shape of one record.
func (s *Serializer) Serialize(rec store.Record) store.Record {
	if rec == nil {
		return nil
	}

	pk := s.col.PrimaryKeyColumn()
	var cacheKey string
	if v, ok := rec[pk]; ok && v != nil {
		cacheKey = fmt.Sprint(v)
		if cached, ok := s.cache[cacheKey]; ok {
			return cached
		}
	}

	masked := make(map[string]bool, len(s.col.Excluded)+len(s.col.Hidden))
	for _, f := range s.col.Excluded {
		masked[f] = true
	}
	for _, f := range s.col.Hidden {
		masked[f] = true
	}

	out := make(store.Record, len(rec))
	for k, v := range rec {
		if masked[k] {
			continue
		}
		out[k] = v
	}

	if cacheKey != "" {
		s.cache[cacheKey] = out
	}
	return out
}

// SerializeAll returns the response shapes of a record slice, preserving
// order.
func (s *Serializer) SerializeAll(records []store.Record) []store.Record {
	out := make([]store.Record, len(records))
	for i, rec := range records {
		out[i] = s.Serialize(rec)
	}
	return out
}
