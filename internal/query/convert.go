package query

import (
	"strings"

	"github.com/fluxbase-eu/crudkit/internal/store"
)

// predicateOps maps scalar filter operators onto predicate primitives.
// start/end/contains are pattern matches whose values were wildcarded at
// parse time.
var predicateOps = map[Operator]store.PredicateOp{
	OpEqual:          store.PredEqual,
	OpNotEqual:       store.PredNotEqual,
	OpGreaterThan:    store.PredGreaterThan,
	OpGreaterOrEqual: store.PredGreaterOrEqual,
	OpLessThan:       store.PredLessThan,
	OpLessOrEqual:    store.PredLessOrEqual,
	OpBetween:        store.PredBetween,
	OpLike:           store.PredLike,
	OpILike:          store.PredILike,
	OpStart:          store.PredLike,
	OpEnd:            store.PredLike,
	OpContains:       store.PredLike,
	OpIn:             store.PredIn,
	OpNotIn:          store.PredNotIn,
}

// Convert maps a ParsedQuery onto a FindSpec for a store with the given
// capabilities. Conversion-stage problems surface as errors; nothing is
// silently dropped here.
func Convert(q *ParsedQuery, caps store.Capabilities) (store.FindSpec, error) {
	spec := store.FindSpec{Where: store.WhereTree{}}

	for _, f := range q.Filters {
		pred, err := convertFilter(f, caps)
		if err != nil {
			return store.FindSpec{}, err
		}
		spec.Where.Add(append(append([]string{}, f.Relation...), f.Field), pred)
	}

	for _, s := range q.Sorts {
		dir := store.Ascending
		if s.Desc {
			dir = store.Descending
		}
		field := s.Field
		if len(s.Relation) > 0 {
			field = strings.Join(s.Relation, ".") + "." + s.Field
		}
		spec.Order = append(spec.Order, store.OrderEntry{Field: field, Dir: dir})
	}

	if len(q.Includes) > 0 {
		spec.Relations = convertIncludes(q.Includes)
	}

	if q.Page != nil {
		spec.Skip, spec.Take = resolvePage(q.Page)
	}

	return spec, nil
}

func convertFilter(f FilterOperation, caps store.Capabilities) (store.Predicate, error) {
	switch f.Operator {
	case OpBetween:
		bounds, ok := f.Value.([]string)
		if !ok || len(bounds) != 2 {
			return store.Predicate{}, &store.UnsupportedOperationError{
				Operator: string(OpBetween),
				Reason:   "requires exactly two comma-separated bounds",
			}
		}
		return store.Predicate{Op: store.PredBetween, Value: bounds}, nil

	case OpNull, OpBlank:
		return nullPredicate(f.Value, true), nil
	case OpNotNull, OpPresent:
		return nullPredicate(f.Value, false), nil

	case OpFullText:
		if !caps.FullTextSearch {
			return store.Predicate{}, &store.UnsupportedOperationError{
				Operator: string(OpFullText),
				Reason:   "store does not support full-text search",
			}
		}
		term, _ := f.Value.(string)
		if strings.TrimSpace(term) == "" {
			return store.Predicate{}, &store.UnsupportedOperationError{
				Operator: string(OpFullText),
				Reason:   "empty search term",
			}
		}
		return store.Predicate{Op: store.PredFullText, Value: strings.TrimSpace(term)}, nil

	default:
		op, ok := predicateOps[f.Operator]
		if !ok {
			return store.Predicate{}, &store.UnsupportedOperationError{
				Operator: string(f.Operator),
				Reason:   "unknown filter operator",
			}
		}
		return store.Predicate{Op: op, Value: f.Value}, nil
	}
}

// nullPredicate resolves the null-family assertion: asserting "is null"
// with false flips to "is not null" and vice versa.
func nullPredicate(value interface{}, null bool) store.Predicate {
	asserted, _ := value.(bool)
	if asserted == null {
		return store.Predicate{Op: store.PredIsNull, Value: true}
	}
	return store.Predicate{Op: store.PredNotNull, Value: true}
}

func convertIncludes(includes []IncludeOperation) store.RelationTree {
	tree := store.RelationTree{}
	for _, inc := range includes {
		if len(inc.Nested) == 0 {
			tree[inc.Relation] = true
			continue
		}
		tree[inc.Relation] = convertIncludes(inc.Nested)
	}
	return tree
}

// resolvePage maps page intent onto skip/take. Cursor pages resolve take
// only; the caller attaches the continuation predicate separately.
func resolvePage(page *PageOperation) (int, int) {
	switch page.Type {
	case PageNumber:
		number := page.Number
		if number < 1 {
			number = 1
		}
		return (number - 1) * page.Size, page.Size
	case PageOffset:
		return page.Offset, page.Limit
	case PageCursor:
		return 0, page.Size
	default:
		return 0, 0
	}
}
