// Package query turns raw query-string parameters into a typed intermediate
// representation (ParsedQuery) and converts that representation into the
// backend-agnostic FindSpec executed by a record store.
//
// The canonical filter grammar is the bracketed form:
//
//	filter[<field>[.<relation>]_<operator>]=<value>
//	sort=<[-]field>[,<[-]field>...]
//	include=<relation>[.<nested>][,...]
//	page[number]=N&page[size]=S | page[offset]=O&page[limit]=L | page[cursor]=C&page[size]=S
//
// Parsing never fails: malformed numeric input degrades to safe defaults and
// fields outside the collection's allow-lists are silently dropped.
package query

// Operator is a parsed filter operator suffix.
type Operator string

const (
	OpEqual          Operator = "eq"
	OpNotEqual       Operator = "ne"
	OpGreaterThan    Operator = "gt"
	OpGreaterOrEqual Operator = "gte"
	OpLessThan       Operator = "lt"
	OpLessOrEqual    Operator = "lte"
	OpBetween        Operator = "between"
	OpLike           Operator = "like"
	OpILike          Operator = "ilike"
	OpStart          Operator = "start"
	OpEnd            Operator = "end"
	OpContains       Operator = "contains"
	OpIn             Operator = "in"
	OpNotIn          Operator = "not_in"
	OpNull           Operator = "null"
	OpNotNull        Operator = "not_null"
	OpPresent        Operator = "present"
	OpBlank          Operator = "blank"
	OpFullText       Operator = "fts"
)

// FilterOperation is one parsed filter clause.
type FilterOperation struct {
	Field    string
	Operator Operator
	// Value is a string for scalar operators, []string for set/range
	// operators and bool for the null family.
	Value interface{}
	// Relation is the dotted prefix of a relation-scoped filter.
	Relation []string
}

// SortOperation is one parsed sort clause.
type SortOperation struct {
	Field    string
	Desc     bool
	Relation []string
}

// IncludeOperation is a relation to eagerly attach, possibly nested.
type IncludeOperation struct {
	Relation string
	Nested   []IncludeOperation
}

// PageType selects the pagination family of a request.
type PageType string

const (
	PageNumber PageType = "number"
	PageOffset PageType = "offset"
	PageCursor PageType = "cursor"
)

// PageOperation is the parsed page intent.
type PageOperation struct {
	Type   PageType
	Number int
	Size   int
	Offset int
	Limit  int
	Cursor string
}

// ParsedQuery aggregates every parsed operation of one request.
type ParsedQuery struct {
	Filters  []FilterOperation
	Sorts    []SortOperation
	Includes []IncludeOperation
	Page     *PageOperation
}
