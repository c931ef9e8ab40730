package crud

import (
	"time"

	"github.com/fluxbase-eu/crudkit/internal/pagination"
)

// Metadata is the envelope metadata block. IsNew is a bool on single upsert
// and a []bool on bulk upsert; WasSoftDeleted follows the same shape for
// destroy/recover.
type Metadata struct {
	Timestamp         time.Time         `json:"timestamp"`
	AffectedCount     int               `json:"affectedCount"`
	IsNew             interface{}       `json:"isNew,omitempty"`
	WasSoftDeleted    interface{}       `json:"wasSoftDeleted,omitempty"`
	IncludedRelations []string          `json:"includedRelations,omitempty"`
	ExcludedFields    []string          `json:"excludedFields,omitempty"`
	Pagination        *pagination.State `json:"pagination,omitempty"`
}

// Response is the uniform envelope returned by every operation. Built once,
// not mutated afterwards.
type Response struct {
	Data     interface{} `json:"data"`
	Metadata Metadata    `json:"metadata"`
}

func newResponse(data interface{}, md Metadata) *Response {
	md.Timestamp = time.Now().UTC()
	return &Response{Data: data, Metadata: md}
}
