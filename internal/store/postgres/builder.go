package postgres

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fluxbase-eu/crudkit/internal/collection"
	"github.com/fluxbase-eu/crudkit/internal/store"
)

// quoteIdentifier quotes a SQL identifier, escaping embedded quotes.
func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// Builder renders a FindSpec into parameterized SQL for one table.
type Builder struct {
	schema  string
	table   string
	col     *collection.Collection
	columns []string
	where   store.WhereTree
	order   store.OrderList
	limit   int
	offset  int

	args []interface{}
}

// NewBuilder creates a builder for a table in the public schema.
func NewBuilder(table string, col *collection.Collection) *Builder {
	return &Builder{schema: "public", table: table, col: col}
}

// WithColumns narrows the select list.
func (b *Builder) WithColumns(columns []string) *Builder {
	b.columns = columns
	return b
}

// WithWhere sets the condition tree.
func (b *Builder) WithWhere(where store.WhereTree) *Builder {
	b.where = where
	return b
}

// WithOrder sets the sort specification.
func (b *Builder) WithOrder(order store.OrderList) *Builder {
	b.order = order
	return b
}

// WithLimit sets the row limit; zero means no limit.
func (b *Builder) WithLimit(limit int) *Builder {
	b.limit = limit
	return b
}

// WithOffset sets the row offset.
func (b *Builder) WithOffset(offset int) *Builder {
	b.offset = offset
	return b
}

func (b *Builder) qualifiedTable() string {
	return quoteIdentifier(b.schema) + "." + quoteIdentifier(b.table)
}

func (b *Builder) nextArg(value interface{}) string {
	b.args = append(b.args, value)
	return fmt.Sprintf("$%d", len(b.args))
}

// BuildSelect renders the SELECT statement and its arguments.
func (b *Builder) BuildSelect() (string, []interface{}, error) {
	b.args = nil
	var sb strings.Builder

	sb.WriteString("SELECT ")
	if len(b.columns) == 0 {
		sb.WriteString("*")
	} else {
		quoted := make([]string, len(b.columns))
		for i, c := range b.columns {
			quoted[i] = quoteIdentifier(c)
		}
		sb.WriteString(strings.Join(quoted, ", "))
	}
	sb.WriteString(" FROM ")
	sb.WriteString(b.qualifiedTable())

	if err := b.writeWhere(&sb); err != nil {
		return "", nil, err
	}

	if len(b.order) > 0 {
		clauses := make([]string, 0, len(b.order))
		for _, entry := range b.order {
			if strings.Contains(entry.Field, ".") {
				return "", nil, &store.UnsupportedOperationError{
					Operator: "sort",
					Reason:   "relation-scoped sort is not supported by the postgres backend",
				}
			}
			dir := "ASC"
			if entry.Dir == store.Descending {
				dir = "DESC"
			}
			clauses = append(clauses, quoteIdentifier(entry.Field)+" "+dir)
		}
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(clauses, ", "))
	}

	if b.limit > 0 {
		sb.WriteString(fmt.Sprintf(" LIMIT %d", b.limit))
	}
	if b.offset > 0 {
		sb.WriteString(fmt.Sprintf(" OFFSET %d", b.offset))
	}

	return sb.String(), b.args, nil
}

// BuildCount renders the COUNT statement and its arguments.
func (b *Builder) BuildCount() (string, []interface{}, error) {
	b.args = nil
	var sb strings.Builder
	sb.WriteString("SELECT COUNT(*) FROM ")
	sb.WriteString(b.qualifiedTable())
	if err := b.writeWhere(&sb); err != nil {
		return "", nil, err
	}
	return sb.String(), b.args, nil
}

// BuildDelete renders the DELETE statement and its arguments.
func (b *Builder) BuildDelete() (string, []interface{}, error) {
	b.args = nil
	var sb strings.Builder
	sb.WriteString("DELETE FROM ")
	sb.WriteString(b.qualifiedTable())
	if err := b.writeWhere(&sb); err != nil {
		return "", nil, err
	}
	return sb.String(), b.args, nil
}

func (b *Builder) writeWhere(sb *strings.Builder) error {
	if len(b.where) == 0 {
		return nil
	}
	clause, err := b.renderTree(b.where, b.col, b.table)
	if err != nil {
		return err
	}
	if clause == "" {
		return nil
	}
	sb.WriteString(" WHERE ")
	sb.WriteString(clause)
	return nil
}

// renderTree renders a where tree for the given table, producing AND-joined
// conditions. Branches become EXISTS subqueries against the relation target.
func (b *Builder) renderTree(tree store.WhereTree, col *collection.Collection, table string) (string, error) {
	// Deterministic clause order for stable SQL and testability.
	fields := make([]string, 0, len(tree))
	for field := range tree {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	var clauses []string
	for _, field := range fields {
		switch node := tree[field].(type) {
		case []store.Predicate:
			for _, pred := range node {
				clause, err := b.renderPredicate(table, field, pred)
				if err != nil {
					return "", err
				}
				clauses = append(clauses, clause)
			}
		case store.WhereTree:
			clause, err := b.renderRelation(col, table, field, node)
			if err != nil {
				return "", err
			}
			clauses = append(clauses, clause)
		default:
			return "", fmt.Errorf("invalid where tree node for field %q", field)
		}
	}
	return strings.Join(clauses, " AND "), nil
}

func (b *Builder) renderRelation(col *collection.Collection, table, name string, branch store.WhereTree) (string, error) {
	rel, ok := col.Relations[name]
	if !ok {
		return "", &store.ConfigurationError{
			Reason: fmt.Sprintf("collection %s has no relation %s", col.Name, name),
		}
	}
	localKey := rel.LocalKey
	if localKey == "" {
		localKey = col.PrimaryKeyColumn()
	}
	inner, err := b.renderTree(branch, nil, rel.Target)
	if err != nil {
		return "", err
	}
	sub := fmt.Sprintf(
		"EXISTS (SELECT 1 FROM %s.%s WHERE %s.%s = %s.%s",
		quoteIdentifier(b.schema), quoteIdentifier(rel.Target),
		quoteIdentifier(rel.Target), quoteIdentifier(rel.ForeignKey),
		quoteIdentifier(table), quoteIdentifier(localKey),
	)
	if inner != "" {
		sub += " AND " + inner
	}
	return sub + ")", nil
}

func (b *Builder) renderPredicate(table, field string, pred store.Predicate) (string, error) {
	qualified := quoteIdentifier(table) + "." + quoteIdentifier(field)
	switch pred.Op {
	case store.PredEqual:
		return qualified + " = " + b.nextArg(pred.Value), nil
	case store.PredNotEqual:
		return qualified + " <> " + b.nextArg(pred.Value), nil
	case store.PredGreaterThan:
		return qualified + " > " + b.nextArg(pred.Value), nil
	case store.PredGreaterOrEqual:
		return qualified + " >= " + b.nextArg(pred.Value), nil
	case store.PredLessThan:
		return qualified + " < " + b.nextArg(pred.Value), nil
	case store.PredLessOrEqual:
		return qualified + " <= " + b.nextArg(pred.Value), nil
	case store.PredBetween:
		bounds, ok := pred.Value.([]string)
		if !ok || len(bounds) != 2 {
			return "", &store.UnsupportedOperationError{Operator: "between", Reason: "requires two bounds"}
		}
		return qualified + " BETWEEN " + b.nextArg(bounds[0]) + " AND " + b.nextArg(bounds[1]), nil
	case store.PredLike:
		return qualified + " LIKE " + b.nextArg(pred.Value), nil
	case store.PredILike:
		return qualified + " ILIKE " + b.nextArg(pred.Value), nil
	case store.PredIn:
		return qualified + " = ANY(" + b.nextArg(pred.Value) + ")", nil
	case store.PredNotIn:
		return qualified + " <> ALL(" + b.nextArg(pred.Value) + ")", nil
	case store.PredIsNull:
		return qualified + " IS NULL", nil
	case store.PredNotNull:
		return qualified + " IS NOT NULL", nil
	case store.PredFullText:
		return "to_tsvector('simple', " + qualified + "::text) @@ plainto_tsquery('simple', " + b.nextArg(pred.Value) + ")", nil
	default:
		return "", &store.UnsupportedOperationError{Operator: string(pred.Op), Reason: "unknown predicate"}
	}
}

// BuildUpsert renders an insert-or-update statement for one record keyed on
// the primary key column. Column order is sorted for determinism.
func (b *Builder) BuildUpsert(record store.Record, pk string) (string, []interface{}) {
	if len(record) == 0 {
		return "", nil
	}
	columns := make([]string, 0, len(record))
	for c := range record {
		columns = append(columns, c)
	}
	sort.Strings(columns)

	b.args = nil
	quoted := make([]string, len(columns))
	placeholders := make([]string, len(columns))
	var updates []string
	for i, c := range columns {
		quoted[i] = quoteIdentifier(c)
		placeholders[i] = b.nextArg(record[c])
		if c != pk {
			updates = append(updates, quoteIdentifier(c)+" = EXCLUDED."+quoteIdentifier(c))
		}
	}

	sql := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s RETURNING *",
		b.qualifiedTable(),
		strings.Join(quoted, ", "),
		strings.Join(placeholders, ", "),
		quoteIdentifier(pk),
		strings.Join(updates, ", "),
	)
	if len(updates) == 0 {
		sql = fmt.Sprintf(
			"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO NOTHING RETURNING *",
			b.qualifiedTable(),
			strings.Join(quoted, ", "),
			strings.Join(placeholders, ", "),
			quoteIdentifier(pk),
		)
	}
	return sql, b.args
}
