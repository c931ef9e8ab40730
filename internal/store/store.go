// Package store defines the backend-agnostic record store abstraction:
// the FindSpec query plan, predicate primitives, and the Store interface
// implemented by concrete backends (postgres, memory).
package store

import "context"

// Record is one persisted item of a collection.
type Record = map[string]interface{}

// PredicateOp identifies a backend predicate primitive.
type PredicateOp string

const (
	PredEqual          PredicateOp = "eq"
	PredNotEqual       PredicateOp = "ne"
	PredGreaterThan    PredicateOp = "gt"
	PredGreaterOrEqual PredicateOp = "gte"
	PredLessThan       PredicateOp = "lt"
	PredLessOrEqual    PredicateOp = "lte"
	PredBetween        PredicateOp = "between"
	PredLike           PredicateOp = "like"
	PredILike          PredicateOp = "ilike"
	PredIn             PredicateOp = "in"
	PredNotIn          PredicateOp = "not_in"
	PredIsNull         PredicateOp = "is_null"
	PredNotNull        PredicateOp = "not_null"
	PredFullText       PredicateOp = "fts"
)

// Predicate is one leaf condition of a WhereTree.
type Predicate struct {
	Op    PredicateOp
	Value interface{}
}

// WhereTree is a nested condition tree keyed by field name. Leaf values are
// []Predicate (ANDed conditions on the field); branch values are nested
// WhereTree maps scoping conditions to a relation.
type WhereTree map[string]interface{}

// Add inserts a predicate at the given path, creating intermediate branches.
// Multiple predicates on the same field accumulate (range queries).
func (w WhereTree) Add(path []string, p Predicate) {
	if len(path) == 0 {
		return
	}
	if len(path) == 1 {
		field := path[0]
		if existing, ok := w[field].([]Predicate); ok {
			w[field] = append(existing, p)
		} else {
			w[field] = []Predicate{p}
		}
		return
	}
	branch, ok := w[path[0]].(WhereTree)
	if !ok {
		branch = WhereTree{}
		w[path[0]] = branch
	}
	branch.Add(path[1:], p)
}

// Merge copies every entry of other into w. Leaf predicate lists on the same
// field are concatenated.
func (w WhereTree) Merge(other WhereTree) {
	for k, v := range other {
		switch val := v.(type) {
		case []Predicate:
			for _, p := range val {
				w.Add([]string{k}, p)
			}
		case WhereTree:
			branch, ok := w[k].(WhereTree)
			if !ok {
				branch = WhereTree{}
				w[k] = branch
			}
			branch.Merge(val)
		}
	}
}

// Direction is a sort direction.
type Direction string

const (
	Ascending  Direction = "ASC"
	Descending Direction = "DESC"
)

// OrderEntry is one sort clause. Field may be a dotted relation path.
// Entries are kept in a slice so the primary sort key stays first.
type OrderEntry struct {
	Field string
	Dir   Direction
}

// OrderList is the ordered sort specification of a FindSpec.
type OrderList []OrderEntry

// Fields returns the sort fields in order.
func (o OrderList) Fields() []string {
	fields := make([]string, len(o))
	for i, e := range o {
		fields[i] = e.Field
	}
	return fields
}

// RelationTree marks relations to eagerly attach. A value of true is a simple
// relation; a nested RelationTree loads transitive relations.
type RelationTree map[string]interface{}

// FindSpec is the backend-agnostic query plan produced by the query
// converter and executed by a Store.
type FindSpec struct {
	Where     WhereTree
	Order     OrderList
	Relations RelationTree
	Columns   []string
	Skip      int
	Take      int

	// UsePrimary routes the query to the writer connection on replicated
	// backends. Set for read-after-write-sensitive lookups (upsert
	// existence checks). Backends without replicas ignore it.
	UsePrimary bool
}

// Capabilities describes what a concrete backend can execute.
type Capabilities struct {
	FullTextSearch  bool
	ReplicatedReads bool
}

// Store is the record store contract the CRUD orchestrator runs against.
// Save persists the given records in one call (insert-or-update by primary
// key) and returns them as persisted. Remove physically deletes matching
// records and reports the affected count.
type Store interface {
	Find(ctx context.Context, collection string, spec FindSpec) ([]Record, error)
	Count(ctx context.Context, collection string, spec FindSpec) (int64, error)
	Save(ctx context.Context, collection string, records []Record) ([]Record, error)
	Remove(ctx context.Context, collection string, where WhereTree) (int64, error)
	Capabilities() Capabilities
}
