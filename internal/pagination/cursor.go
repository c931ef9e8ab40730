// Package pagination builds response paging state for the offset and cursor
// families and implements opaque keyset cursors with continuation
// predicates.
package pagination

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/fluxbase-eu/crudkit/internal/store"
)

// Pair is one sort-key field/value boundary captured by a cursor. Pair
// order matches the active sort order exactly; continuation predicates are
// only correct when that invariant holds.
type Pair struct {
	Field string      `json:"f"`
	Value interface{} `json:"v"`
}

// EncodeCursor serializes the sort-key values of the last-seen record into
// an opaque base64 token, one pair per active sort entry in sort order.
func EncodeCursor(last store.Record, order store.OrderList) (string, error) {
	if len(order) == 0 {
		return "", fmt.Errorf("cannot encode cursor without an active sort")
	}
	pairs := make([]Pair, len(order))
	for i, entry := range order {
		pairs[i] = Pair{Field: entry.Field, Value: last[entry.Field]}
	}
	raw, err := json.Marshal(pairs)
	if err != nil {
		return "", fmt.Errorf("failed to encode cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// DecodeCursor reconstructs the ordered field/value pairs from an opaque
// cursor token.
func DecodeCursor(cursor string) ([]Pair, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, fmt.Errorf("malformed cursor: %w", err)
	}
	var pairs []Pair
	if err := json.Unmarshal(raw, &pairs); err != nil {
		return nil, fmt.Errorf("malformed cursor payload: %w", err)
	}
	return pairs, nil
}

// ContinuationWhere builds the keyset continuation predicates for the next
// page: value > boundary for ascending sort fields, value < boundary for
// descending ones. The cursor must carry exactly the fields of the active
// sort, in the same order.
func ContinuationWhere(pairs []Pair, order store.OrderList) (store.WhereTree, error) {
	if len(pairs) != len(order) {
		return nil, fmt.Errorf("cursor carries %d sort keys, active sort has %d", len(pairs), len(order))
	}
	where := store.WhereTree{}
	for i, pair := range pairs {
		if pair.Field != order[i].Field {
			return nil, fmt.Errorf("cursor sort key %q does not match active sort field %q", pair.Field, order[i].Field)
		}
		op := store.PredGreaterThan
		if order[i].Dir == store.Descending {
			op = store.PredLessThan
		}
		where.Add([]string{pair.Field}, store.Predicate{Op: op, Value: pair.Value})
	}
	return where, nil
}

// EnsureTieBreaker appends the primary key as a trailing ascending sort when
// the active sort does not already end on it. Without a unique trailing key,
// duplicate sort values across a page boundary can skip or repeat rows.
func EnsureTieBreaker(order store.OrderList, primaryKey string) store.OrderList {
	for _, entry := range order {
		if entry.Field == primaryKey {
			return order
		}
	}
	return append(order, store.OrderEntry{Field: primaryKey, Dir: store.Ascending})
}
