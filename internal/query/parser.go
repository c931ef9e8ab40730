package query

import (
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/fluxbase-eu/crudkit/internal/collection"
	"github.com/fluxbase-eu/crudkit/internal/config"
)

// operatorSuffixes is checked longest-first so not_null wins over null and
// not_in over in.
var operatorSuffixes = []Operator{
	OpNotNull, OpContains, OpBetween, OpNotIn, OpPresent,
	OpILike, OpStart, OpBlank, OpLike, OpNull,
	OpGreaterOrEqual, OpLessOrEqual, OpEnd, OpFullText,
	OpEqual, OpNotEqual, OpGreaterThan, OpLessThan, OpIn,
}

// nullFamily operators carry a boolean assertion instead of a value.
var nullFamily = map[Operator]bool{
	OpNull: true, OpNotNull: true, OpPresent: true, OpBlank: true,
}

// Parser translates url.Values into a ParsedQuery against a collection's
// allow-lists.
type Parser struct {
	defaultPageSize int
	maxPageSize     int
}

// NewParser creates a parser with the API paging limits.
func NewParser(api config.APIConfig) *Parser {
	return &Parser{
		defaultPageSize: api.DefaultPageSize,
		maxPageSize:     api.MaxPageSize,
	}
}

// Parse produces the ParsedQuery for one request. It never returns an
// error: disallowed fields are dropped and malformed numbers degrade to
// safe defaults.
func (p *Parser) Parse(values url.Values, col *collection.Collection) *ParsedQuery {
	q := &ParsedQuery{}
	q.Filters = p.parseFilters(values, col)
	q.Sorts = p.parseSorts(values.Get("sort"), col)
	q.Includes = p.parseIncludes(values.Get("include"), col)
	q.Page = p.parsePage(values, col)
	return q
}

func (p *Parser) parseFilters(values url.Values, col *collection.Collection) []FilterOperation {
	// url.Values iteration order is random; collect keys first so repeated
	// requests parse deterministically.
	keys := make([]string, 0, len(values))
	for key := range values {
		if strings.HasPrefix(key, "filter[") && strings.HasSuffix(key, "]") {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	var filters []FilterOperation
	for _, key := range keys {
		inner := key[len("filter[") : len(key)-1]
		if inner == "" {
			continue
		}
		field, op := splitOperator(inner)
		if !col.FilterAllowed(field) {
			continue
		}
		base, relation := splitRelation(field)
		for _, raw := range values[key] {
			filters = append(filters, FilterOperation{
				Field:    base,
				Operator: op,
				Value:    shapeValue(op, raw),
				Relation: relation,
			})
		}
	}
	return filters
}

// splitOperator separates the operator suffix from the field name. A key
// without a recognized suffix is a whole field name with implicit eq.
func splitOperator(key string) (string, Operator) {
	for _, op := range operatorSuffixes {
		suffix := "_" + string(op)
		if strings.HasSuffix(key, suffix) && len(key) > len(suffix) {
			return key[:len(key)-len(suffix)], op
		}
	}
	return key, OpEqual
}

// splitRelation splits a dotted field into the base field and its relation
// path prefix.
func splitRelation(field string) (string, []string) {
	parts := strings.Split(field, ".")
	if len(parts) == 1 {
		return field, nil
	}
	return parts[len(parts)-1], parts[:len(parts)-1]
}

// shapeValue applies the deterministic per-operator value shaping.
func shapeValue(op Operator, raw string) interface{} {
	switch {
	case op == OpIn || op == OpNotIn || op == OpBetween:
		parts := strings.Split(raw, ",")
		out := make([]string, 0, len(parts))
		for _, part := range parts {
			out = append(out, strings.TrimSpace(part))
		}
		return out
	case nullFamily[op]:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return true
		}
		return b
	case op == OpStart:
		return raw + "%"
	case op == OpEnd:
		return "%" + raw
	case op == OpContains:
		return "%" + raw + "%"
	default:
		return raw
	}
}

func (p *Parser) parseSorts(raw string, col *collection.Collection) []SortOperation {
	if raw == "" {
		return nil
	}
	var sorts []SortOperation
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		desc := strings.HasPrefix(entry, "-")
		field := strings.TrimPrefix(entry, "-")
		if field == "" || !col.SortAllowed(field) {
			continue
		}
		base, relation := splitRelation(field)
		sorts = append(sorts, SortOperation{Field: base, Desc: desc, Relation: relation})
	}
	return sorts
}

func (p *Parser) parseIncludes(raw string, col *collection.Collection) []IncludeOperation {
	if raw == "" {
		return nil
	}
	var includes []IncludeOperation
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" || !col.IncludeAllowed(entry) {
			continue
		}
		includes = mergeInclude(includes, strings.Split(entry, "."))
	}
	return includes
}

// mergeInclude folds one dotted include path into the include forest,
// preserving first-seen order.
func mergeInclude(includes []IncludeOperation, path []string) []IncludeOperation {
	if len(path) == 0 {
		return includes
	}
	for i := range includes {
		if includes[i].Relation == path[0] {
			includes[i].Nested = mergeInclude(includes[i].Nested, path[1:])
			return includes
		}
	}
	inc := IncludeOperation{Relation: path[0]}
	inc.Nested = mergeInclude(nil, path[1:])
	return append(includes, inc)
}

func (p *Parser) parsePage(values url.Values, col *collection.Collection) *PageOperation {
	has := func(key string) bool { return values.Has("page[" + key + "]") }
	num := func(key string) int {
		// Malformed numeric input degrades to 0.
		n, err := strconv.Atoi(values.Get("page[" + key + "]"))
		if err != nil {
			return 0
		}
		return n
	}

	switch {
	case has("cursor"):
		return &PageOperation{
			Type:   PageCursor,
			Cursor: values.Get("page[cursor]"),
			Size:   p.clampSize(num("size"), col),
		}
	case has("offset") || has("limit"):
		offset := num("offset")
		if offset < 0 {
			offset = 0
		}
		return &PageOperation{
			Type:   PageOffset,
			Offset: offset,
			Limit:  p.clampSize(num("limit"), col),
		}
	case has("number") || has("size"):
		return &PageOperation{
			Type:   PageNumber,
			Number: num("number"),
			Size:   p.clampSize(num("size"), col),
		}
	default:
		return nil
	}
}

// clampSize clamps a requested size to the configured maximum and falls
// back through collection default, global default, hard default.
func (p *Parser) clampSize(size int, col *collection.Collection) int {
	if size <= 0 {
		size = config.MergeDefault(col.DefaultPageSize, p.defaultPageSize, 100)
	}
	if p.maxPageSize > 0 && size > p.maxPageSize {
		size = p.maxPageSize
	}
	return size
}
