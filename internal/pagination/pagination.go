package pagination

import "github.com/fluxbase-eu/crudkit/internal/config"

// GlobalDefaultTake is the last fallback of the take resolution chain.
const GlobalDefaultTake = 100

// State is the pagination metadata of an index response. Exactly one of the
// two families is populated: offset {total,page,pages,offset} or cursor
// {total,limit,totalPages}. Total is -1 when the count was short-circuited
// on a cursor continuation page.
type State struct {
	Type       string `json:"type"`
	Total      int64  `json:"total"`
	Page       int    `json:"page,omitempty"`
	Pages      int    `json:"pages,omitempty"`
	Offset     int    `json:"offset,omitempty"`
	Limit      int    `json:"limit,omitempty"`
	TotalPages int    `json:"totalPages,omitempty"`
	NextCursor string `json:"nextCursor,omitempty"`
}

// OffsetState builds the offset-family state. pages = ceil(total/limit).
func OffsetState(total int64, skip, take int, nextCursor string) *State {
	state := &State{
		Type:       "offset",
		Total:      total,
		Offset:     skip,
		NextCursor: nextCursor,
	}
	if take > 0 {
		state.Pages = int((total + int64(take) - 1) / int64(take))
		state.Page = skip/take + 1
	}
	return state
}

// CursorState builds the cursor-family state. total is -1 on continuation
// pages where the count was skipped.
func CursorState(total int64, limit int, nextCursor string) *State {
	state := &State{
		Type:       "cursor",
		Total:      total,
		Limit:      limit,
		NextCursor: nextCursor,
	}
	if limit > 0 && total >= 0 {
		state.TotalPages = int((total + int64(limit) - 1) / int64(limit))
	}
	return state
}

// ResolveTake resolves the page size through the precedence chain: an
// explicit spec take, the page-derived limit, the per-collection default,
// then the global default.
func ResolveTake(specTake, pageLimit, collectionDefault int) int {
	if specTake > 0 {
		return specTake
	}
	if pageLimit > 0 {
		return pageLimit
	}
	return config.MergeDefault(collectionDefault, 0, GlobalDefaultTake)
}
