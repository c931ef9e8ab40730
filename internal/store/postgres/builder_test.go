package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxbase-eu/crudkit/internal/collection"
	"github.com/fluxbase-eu/crudkit/internal/store"
)

func usersCollection() *collection.Collection {
	return &collection.Collection{
		Name:       "users",
		PrimaryKey: []string{"id"},
		Relations: map[string]collection.Relation{
			"posts": {Target: "posts", ForeignKey: "author_id", HasMany: true},
		},
	}
}

func TestBuildSelect_Basic(t *testing.T) {
	sql, args, err := NewBuilder("users", usersCollection()).BuildSelect()
	require.NoError(t, err)
	assert.Equal(t, `SELECT * FROM "public"."users"`, sql)
	assert.Empty(t, args)
}

func TestBuildSelect_Full(t *testing.T) {
	w := store.WhereTree{}
	w.Add([]string{"age"}, store.Predicate{Op: store.PredGreaterOrEqual, Value: "18"})
	w.Add([]string{"age"}, store.Predicate{Op: store.PredLessThan, Value: "65"})
	w.Add([]string{"name"}, store.Predicate{Op: store.PredILike, Value: "al%"})

	sql, args, err := NewBuilder("users", usersCollection()).
		WithColumns([]string{"id", "name"}).
		WithWhere(w).
		WithOrder(store.OrderList{
			{Field: "name", Dir: store.Ascending},
			{Field: "id", Dir: store.Descending},
		}).
		WithLimit(10).
		WithOffset(20).
		BuildSelect()
	require.NoError(t, err)

	assert.Equal(t,
		`SELECT "id", "name" FROM "public"."users"`+
			` WHERE "users"."age" >= $1 AND "users"."age" < $2 AND "users"."name" ILIKE $3`+
			` ORDER BY "name" ASC, "id" DESC LIMIT 10 OFFSET 20`,
		sql)
	assert.Equal(t, []interface{}{"18", "65", "al%"}, args)
}

func TestBuildSelect_PredicateRendering(t *testing.T) {
	tests := []struct {
		name       string
		pred       store.Predicate
		wantClause string
		wantArgs   []interface{}
	}{
		{"eq", store.Predicate{Op: store.PredEqual, Value: "x"}, `"users"."f" = $1`, []interface{}{"x"}},
		{"ne", store.Predicate{Op: store.PredNotEqual, Value: "x"}, `"users"."f" <> $1`, []interface{}{"x"}},
		{"gt", store.Predicate{Op: store.PredGreaterThan, Value: "1"}, `"users"."f" > $1`, []interface{}{"1"}},
		{"lte", store.Predicate{Op: store.PredLessOrEqual, Value: "1"}, `"users"."f" <= $1`, []interface{}{"1"}},
		{"between", store.Predicate{Op: store.PredBetween, Value: []string{"1", "9"}}, `"users"."f" BETWEEN $1 AND $2`, []interface{}{"1", "9"}},
		{"like", store.Predicate{Op: store.PredLike, Value: "a%"}, `"users"."f" LIKE $1`, []interface{}{"a%"}},
		{"in", store.Predicate{Op: store.PredIn, Value: []string{"a", "b"}}, `"users"."f" = ANY($1)`, []interface{}{[]string{"a", "b"}}},
		{"not_in", store.Predicate{Op: store.PredNotIn, Value: []string{"a"}}, `"users"."f" <> ALL($1)`, []interface{}{[]string{"a"}}},
		{"is_null", store.Predicate{Op: store.PredIsNull, Value: true}, `"users"."f" IS NULL`, nil},
		{"not_null", store.Predicate{Op: store.PredNotNull, Value: true}, `"users"."f" IS NOT NULL`, nil},
		{"fts", store.Predicate{Op: store.PredFullText, Value: "term"}, `to_tsvector('simple', "users"."f"::text) @@ plainto_tsquery('simple', $1)`, []interface{}{"term"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := store.WhereTree{}
			w.Add([]string{"f"}, tt.pred)

			sql, args, err := NewBuilder("users", usersCollection()).WithWhere(w).BuildSelect()
			require.NoError(t, err)
			assert.Equal(t, `SELECT * FROM "public"."users" WHERE `+tt.wantClause, sql)
			if tt.wantArgs == nil {
				assert.Empty(t, args)
			} else {
				assert.Equal(t, tt.wantArgs, args)
			}
		})
	}
}

func TestBuildSelect_RelationBranchBecomesExists(t *testing.T) {
	w := store.WhereTree{}
	w.Add([]string{"posts", "title"}, store.Predicate{Op: store.PredEqual, Value: "hello"})

	sql, args, err := NewBuilder("users", usersCollection()).WithWhere(w).BuildSelect()
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT * FROM "public"."users" WHERE EXISTS (SELECT 1 FROM "public"."posts"`+
			` WHERE "posts"."author_id" = "users"."id" AND "posts"."title" = $1)`,
		sql)
	assert.Equal(t, []interface{}{"hello"}, args)
}

func TestBuildSelect_UnknownRelation(t *testing.T) {
	w := store.WhereTree{}
	w.Add([]string{"ghosts", "name"}, store.Predicate{Op: store.PredEqual, Value: "x"})

	_, _, err := NewBuilder("users", usersCollection()).WithWhere(w).BuildSelect()
	var cfgErr *store.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}

func TestBuildSelect_RelationScopedSortUnsupported(t *testing.T) {
	_, _, err := NewBuilder("users", usersCollection()).
		WithOrder(store.OrderList{{Field: "posts.title", Dir: store.Ascending}}).
		BuildSelect()
	var unsupported *store.UnsupportedOperationError
	require.ErrorAs(t, err, &unsupported)
}

func TestBuildSelect_QuotesEmbeddedQuotes(t *testing.T) {
	sql, _, err := NewBuilder(`us"ers`, usersCollection()).BuildSelect()
	require.NoError(t, err)
	assert.Equal(t, `SELECT * FROM "public"."us""ers"`, sql)
}

func TestBuildCount(t *testing.T) {
	w := store.WhereTree{}
	w.Add([]string{"active"}, store.Predicate{Op: store.PredEqual, Value: true})

	sql, args, err := NewBuilder("users", usersCollection()).WithWhere(w).BuildCount()
	require.NoError(t, err)
	assert.Equal(t, `SELECT COUNT(*) FROM "public"."users" WHERE "users"."active" = $1`, sql)
	assert.Equal(t, []interface{}{true}, args)
}

func TestBuildDelete(t *testing.T) {
	w := store.WhereTree{}
	w.Add([]string{"id"}, store.Predicate{Op: store.PredIn, Value: []string{"1", "2"}})

	sql, args, err := NewBuilder("users", usersCollection()).WithWhere(w).BuildDelete()
	require.NoError(t, err)
	assert.Equal(t, `DELETE FROM "public"."users" WHERE "users"."id" = ANY($1)`, sql)
	assert.Equal(t, []interface{}{[]string{"1", "2"}}, args)
}

func TestBuildUpsert(t *testing.T) {
	sql, args := NewBuilder("users", usersCollection()).BuildUpsert(store.Record{
		"name": "alice",
		"id":   "1",
		"age":  30,
	}, "id")

	assert.Equal(t,
		`INSERT INTO "public"."users" ("age", "id", "name") VALUES ($1, $2, $3)`+
			` ON CONFLICT ("id") DO UPDATE SET "age" = EXCLUDED."age", "name" = EXCLUDED."name" RETURNING *`,
		sql)
	assert.Equal(t, []interface{}{30, "1", "alice"}, args)
}

func TestBuildUpsert_KeyOnly(t *testing.T) {
	sql, args := NewBuilder("users", usersCollection()).BuildUpsert(store.Record{"id": "1"}, "id")
	assert.Equal(t,
		`INSERT INTO "public"."users" ("id") VALUES ($1) ON CONFLICT ("id") DO NOTHING RETURNING *`,
		sql)
	assert.Equal(t, []interface{}{"1"}, args)
}

func TestBuildUpsert_Empty(t *testing.T) {
	sql, args := NewBuilder("users", usersCollection()).BuildUpsert(store.Record{}, "id")
	assert.Empty(t, sql)
	assert.Nil(t, args)
}
