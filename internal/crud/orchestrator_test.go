package crud

import (
	"context"
	"fmt"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxbase-eu/crudkit/internal/collection"
	"github.com/fluxbase-eu/crudkit/internal/config"
	"github.com/fluxbase-eu/crudkit/internal/store"
	"github.com/fluxbase-eu/crudkit/internal/store/memory"
)

var testAPI = config.APIConfig{
	DefaultPageSize: 100,
	MaxPageSize:     1000,
	BatchThreshold:  50,
	MaxChunkSize:    500,
}

func usersResource() *Resource {
	return &Resource{Config: &collection.Collection{
		Name:       "users",
		PrimaryKey: []string{"id"},
		Hidden:     []string{"password"},
	}}
}

func tasksResource() *Resource {
	return &Resource{Config: &collection.Collection{
		Name:             "tasks",
		PrimaryKey:       []string{"id"},
		SoftDelete:       true,
		SoftDeleteColumn: "deleted_at",
	}}
}

func newTestEnv(t *testing.T, resources ...*Resource) (*Orchestrator, *memory.Store) {
	t.Helper()
	registry := collection.NewRegistry()
	for _, res := range resources {
		require.NoError(t, registry.Register(res.Config))
	}
	st := memory.New(registry)
	return New(st, testAPI), st
}

func TestShow(t *testing.T) {
	res := usersResource()
	orch, st := newTestEnv(t, res)
	st.Seed("users", store.Record{"id": "1", "name": "alice", "password": "s3cret"})

	resp, err := orch.Show(context.Background(), res, "1", ShowOptions{})
	require.NoError(t, err)

	data, ok := resp.Data.(store.Record)
	require.True(t, ok)
	assert.Equal(t, "alice", data["name"])
	assert.NotContains(t, data, "password")
	assert.Equal(t, 1, resp.Metadata.AffectedCount)
	assert.False(t, resp.Metadata.Timestamp.IsZero())
}

func TestShow_NotFound(t *testing.T) {
	res := usersResource()
	orch, _ := newTestEnv(t, res)

	_, err := orch.Show(context.Background(), res, "missing", ShowOptions{})
	var notFound *store.NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, []string{"missing"}, notFound.Keys)
}

func seedEight(st *memory.Store) {
	for i := 1; i <= 8; i++ {
		st.Seed("users", store.Record{
			"id":   fmt.Sprintf("%d", i),
			"name": fmt.Sprintf("user-%d", i),
		})
	}
}

func ids(t *testing.T, resp *Response) []string {
	t.Helper()
	rows, ok := resp.Data.([]store.Record)
	require.True(t, ok)
	out := make([]string, len(rows))
	for i, rec := range rows {
		out[i] = fmt.Sprint(rec["id"])
	}
	return out
}

func TestIndex_OffsetPagination(t *testing.T) {
	res := usersResource()
	orch, st := newTestEnv(t, res)
	seedEight(st)

	resp, err := orch.Index(context.Background(), res, url.Values{
		"page[offset]": {"3"},
		"page[limit]":  {"3"},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"4", "5", "6"}, ids(t, resp))
	state := resp.Metadata.Pagination
	require.NotNil(t, state)
	assert.Equal(t, "offset", state.Type)
	assert.Equal(t, int64(8), state.Total)
	assert.Equal(t, 3, state.Offset)
	assert.Equal(t, 2, state.Page)
	assert.Equal(t, 3, state.Pages)
}

func TestIndex_PageNumber(t *testing.T) {
	res := usersResource()
	orch, st := newTestEnv(t, res)
	seedEight(st)

	resp, err := orch.Index(context.Background(), res, url.Values{
		"page[number]": {"3"},
		"page[size]":   {"3"},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"7", "8"}, ids(t, resp))
	assert.Equal(t, 3, resp.Metadata.Pagination.Page)
}

// Walking all pages via cursors visits exactly the rows an offset walk
// visits, in the same order.
func TestIndex_CursorWalkMatchesOffsetWalk(t *testing.T) {
	res := usersResource()
	orch, st := newTestEnv(t, res)
	seedEight(st)
	ctx := context.Background()

	var offsetWalk []string
	for offset := 0; offset < 8; offset += 3 {
		resp, err := orch.Index(ctx, res, url.Values{
			"page[offset]": {fmt.Sprint(offset)},
			"page[limit]":  {"3"},
		})
		require.NoError(t, err)
		offsetWalk = append(offsetWalk, ids(t, resp)...)
	}

	var cursorWalk []string
	cursor := ""
	for page := 0; ; page++ {
		require.Less(t, page, 10, "cursor walk did not terminate")
		resp, err := orch.Index(ctx, res, url.Values{
			"page[cursor]": {cursor},
			"page[size]":   {"3"},
		})
		require.NoError(t, err)

		state := resp.Metadata.Pagination
		require.NotNil(t, state)
		assert.Equal(t, "cursor", state.Type)
		if cursor == "" {
			assert.Equal(t, int64(8), state.Total)
			assert.Equal(t, 3, state.TotalPages)
		} else {
			assert.Equal(t, int64(-1), state.Total, "continuation pages skip the count")
		}

		cursorWalk = append(cursorWalk, ids(t, resp)...)
		if state.NextCursor == "" {
			break
		}
		cursor = state.NextCursor
	}

	assert.Equal(t, offsetWalk, cursorWalk)
	assert.Equal(t, []string{"1", "2", "3", "4", "5", "6", "7", "8"}, cursorWalk)
}

// A cursor handed out by an offset page under a non-key sort must be
// consumable: encoding uses the same tie-broken order that cursor
// consumption reconstructs.
func TestIndex_OffsetIssuedCursorIsConsumable(t *testing.T) {
	res := usersResource()
	orch, st := newTestEnv(t, res)
	st.Seed("users",
		store.Record{"id": "1", "name": "alice"},
		store.Record{"id": "2", "name": "bob"},
		store.Record{"id": "3", "name": "carol"},
		store.Record{"id": "4", "name": "dave"},
		store.Record{"id": "5", "name": "erin"},
	)
	ctx := context.Background()

	first, err := orch.Index(ctx, res, url.Values{
		"sort":         {"name"},
		"page[offset]": {"0"},
		"page[limit]":  {"2"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, ids(t, first))
	require.NotEmpty(t, first.Metadata.Pagination.NextCursor)

	second, err := orch.Index(ctx, res, url.Values{
		"sort":         {"name"},
		"page[cursor]": {first.Metadata.Pagination.NextCursor},
		"page[size]":   {"2"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"3", "4"}, ids(t, second))
}

func TestIndex_MalformedCursor(t *testing.T) {
	res := usersResource()
	orch, st := newTestEnv(t, res)
	seedEight(st)

	_, err := orch.Index(context.Background(), res, url.Values{
		"page[cursor]": {"!!not-a-cursor!!"},
	})
	require.Error(t, err)
}

func TestIndex_SoftDeleteFilter(t *testing.T) {
	res := tasksResource()
	orch, st := newTestEnv(t, res)
	st.Seed("tasks",
		store.Record{"id": "1", "title": "live", "deleted_at": nil},
		store.Record{"id": "2", "title": "gone", "deleted_at": "2026-01-01T00:00:00Z"},
	)
	ctx := context.Background()

	resp, err := orch.Index(ctx, res, url.Values{})
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, ids(t, resp))

	resp, err = orch.Index(ctx, res, url.Values{"withDeleted": {"true"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, ids(t, resp))
}

func TestCreate_SingleGeneratesKey(t *testing.T) {
	res := usersResource()
	orch, st := newTestEnv(t, res)

	resp, err := orch.Create(context.Background(), res, store.Record{"name": "new"}, nil)
	require.NoError(t, err)

	data, ok := resp.Data.(store.Record)
	require.True(t, ok)
	assert.NotEmpty(t, data["id"], "a missing key is generated")
	assert.Equal(t, 1, resp.Metadata.AffectedCount)

	count, err := st.Count(context.Background(), "users", store.FindSpec{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestCreate_Array(t *testing.T) {
	res := usersResource()
	orch, st := newTestEnv(t, res)

	body := []interface{}{
		map[string]interface{}{"id": "a", "name": "first"},
		map[string]interface{}{"id": "b", "name": "second"},
	}
	resp, err := orch.Create(context.Background(), res, body, nil)
	require.NoError(t, err)

	rows, ok := resp.Data.([]store.Record)
	require.True(t, ok)
	assert.Len(t, rows, 2)
	assert.Equal(t, 2, resp.Metadata.AffectedCount)

	count, err := st.Count(context.Background(), "users", store.FindSpec{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestCreate_HookOrder(t *testing.T) {
	res := usersResource()
	var calls []string
	res.Hooks = Hooks{
		AssignBefore: func(ctx context.Context, input store.Record, hc *HookContext) error {
			calls = append(calls, "assignBefore")
			assert.Equal(t, "create", hc.Operation)
			return nil
		},
		AssignAfter: func(ctx context.Context, entity, input store.Record, hc *HookContext) error {
			calls = append(calls, "assignAfter")
			assert.NotEmpty(t, entity["id"], "assignAfter sees the keyed entity")
			return nil
		},
		SaveBefore: func(ctx context.Context, entity store.Record, hc *HookContext) error {
			calls = append(calls, "saveBefore")
			entity["status"] = "ready"
			return nil
		},
		SaveAfter: func(ctx context.Context, entity store.Record, hc *HookContext) error {
			calls = append(calls, "saveAfter")
			return nil
		},
	}
	orch, _ := newTestEnv(t, res)

	resp, err := orch.Create(context.Background(), res, store.Record{"name": "n"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"assignBefore", "assignAfter", "saveBefore", "saveAfter"}, calls)

	data := resp.Data.(store.Record)
	assert.Equal(t, "ready", data["status"], "saveBefore mutations are persisted")
}

func TestUpdate(t *testing.T) {
	res := usersResource()
	orch, st := newTestEnv(t, res)
	st.Seed("users", store.Record{"id": "1", "name": "alice", "age": 30})

	resp, err := orch.Update(context.Background(), res, "1", store.Record{
		"name": "alicia",
		"id":   "hijacked",
	}, nil)
	require.NoError(t, err)

	data := resp.Data.(store.Record)
	assert.Equal(t, "alicia", data["name"])
	assert.Equal(t, 30, data["age"], "unmentioned fields survive the merge")
	assert.Equal(t, "1", data["id"], "the primary key is never merged from the body")
}

func TestUpdate_NotFound(t *testing.T) {
	res := usersResource()
	orch, _ := newTestEnv(t, res)

	_, err := orch.Update(context.Background(), res, "nope", store.Record{"name": "x"}, nil)
	var notFound *store.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestUpsert(t *testing.T) {
	res := usersResource()
	orch, _ := newTestEnv(t, res)
	ctx := context.Background()

	resp, err := orch.Upsert(ctx, res, "1", store.Record{"name": "created"}, nil)
	require.NoError(t, err)
	assert.Equal(t, true, resp.Metadata.IsNew)
	assert.Equal(t, "1", resp.Data.(store.Record)["id"], "the route key becomes the new record's key")

	resp, err = orch.Upsert(ctx, res, "1", store.Record{"name": "updated"}, nil)
	require.NoError(t, err)
	assert.Equal(t, false, resp.Metadata.IsNew)
	assert.Equal(t, "updated", resp.Data.(store.Record)["name"])
}

func TestUpsert_SoftDeletedTargetConflicts(t *testing.T) {
	res := tasksResource()
	orch, st := newTestEnv(t, res)
	st.Seed("tasks", store.Record{"id": "1", "title": "t", "deleted_at": "2026-01-01T00:00:00Z"})

	_, err := orch.Upsert(context.Background(), res, "1", store.Record{"title": "x"}, nil)
	var conflict *store.ConflictError
	require.ErrorAs(t, err, &conflict)
}

func TestDestroy_Soft(t *testing.T) {
	res := tasksResource()
	orch, st := newTestEnv(t, res)
	st.Seed("tasks", store.Record{"id": "1", "title": "t", "deleted_at": nil})
	ctx := context.Background()

	resp, err := orch.Destroy(ctx, res, "1", nil)
	require.NoError(t, err)
	assert.Equal(t, true, resp.Metadata.WasSoftDeleted)

	// Hidden from default reads, still physically present.
	_, err = orch.Show(ctx, res, "1", ShowOptions{})
	var notFound *store.NotFoundError
	require.ErrorAs(t, err, &notFound)

	count, err := st.Count(ctx, "tasks", store.FindSpec{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestDestroy_Hard(t *testing.T) {
	res := usersResource()
	orch, st := newTestEnv(t, res)
	st.Seed("users", store.Record{"id": "1", "name": "alice"})
	ctx := context.Background()

	resp, err := orch.Destroy(ctx, res, "1", nil)
	require.NoError(t, err)
	assert.Equal(t, false, resp.Metadata.WasSoftDeleted)

	count, err := st.Count(ctx, "users", store.FindSpec{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestDestroy_RequiresPrimaryKeyConfig(t *testing.T) {
	res := &Resource{Config: &collection.Collection{Name: "keyless"}}
	registry := collection.NewRegistry()
	st := memory.New(registry)
	orch := New(st, testAPI)

	_, err := orch.Destroy(context.Background(), res, "1", nil)
	var conflict *store.ConflictError
	require.ErrorAs(t, err, &conflict)
}

func TestRecover(t *testing.T) {
	res := tasksResource()
	orch, st := newTestEnv(t, res)
	st.Seed("tasks",
		store.Record{"id": "1", "title": "deleted", "deleted_at": "2026-01-01T00:00:00Z"},
		store.Record{"id": "2", "title": "live", "deleted_at": nil},
	)
	ctx := context.Background()

	resp, err := orch.Recover(ctx, res, "1", nil)
	require.NoError(t, err)
	assert.Equal(t, true, resp.Metadata.WasSoftDeleted)

	// Visible again.
	_, err = orch.Show(ctx, res, "1", ShowOptions{})
	require.NoError(t, err)

	// Recovering a live record reports it was never deleted.
	resp, err = orch.Recover(ctx, res, "2", nil)
	require.NoError(t, err)
	assert.Equal(t, false, resp.Metadata.WasSoftDeleted)
}

func TestRecover_RequiresSoftDelete(t *testing.T) {
	res := usersResource()
	orch, st := newTestEnv(t, res)
	st.Seed("users", store.Record{"id": "1", "name": "alice"})
	ctx := context.Background()

	_, err := orch.Recover(ctx, res, "1", nil)
	var conflict *store.ConflictError
	require.ErrorAs(t, err, &conflict)

	// The record gained no marker field.
	rows, err := st.Find(ctx, "users", store.FindSpec{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.NotContains(t, rows[0], "")
	assert.Equal(t, store.Record{"id": "1", "name": "alice"}, rows[0])
}
