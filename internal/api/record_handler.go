// Package api exposes the CRUD surface over HTTP. Handlers are thin
// adapters: decode the request, call the orchestrator, map errors to
// statuses. All semantics live below this layer.
package api

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/gofiber/fiber/v3"

	"github.com/fluxbase-eu/crudkit/internal/crud"
	"github.com/fluxbase-eu/crudkit/internal/store"
)

// RecordHandler serves the generic record CRUD endpoints.
type RecordHandler struct {
	orch      *crud.Orchestrator
	resources map[string]*crud.Resource
}

// NewRecordHandler creates a handler over the configured resources.
func NewRecordHandler(orch *crud.Orchestrator, resources map[string]*crud.Resource) *RecordHandler {
	return &RecordHandler{orch: orch, resources: resources}
}

// BulkActionRequest is the body of the bulk endpoint. Targets carries
// record keys for destroy/recover; Items carries record bodies for
// update/upsert.
type BulkActionRequest struct {
	Action  string                   `json:"action"`
	Targets []string                 `json:"targets,omitempty"`
	Items   []map[string]interface{} `json:"items,omitempty"`
}

func (h *RecordHandler) resource(c fiber.Ctx) (*crud.Resource, error) {
	name := c.Params("collection")
	res, ok := h.resources[name]
	if !ok {
		return nil, c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": fmt.Sprintf("Unknown collection: %s", name),
		})
	}
	return res, nil
}

func routeParams(c fiber.Ctx) map[string]string {
	return map[string]string{
		"collection": c.Params("collection"),
		"id":         c.Params("id"),
	}
}

func queryValues(c fiber.Ctx) url.Values {
	values, err := url.ParseQuery(string(c.Request().URI().QueryString()))
	if err != nil {
		return url.Values{}
	}
	return values
}

// HandleIndex serves GET /:collection.
func (h *RecordHandler) HandleIndex(c fiber.Ctx) error {
	res, err := h.resource(c)
	if res == nil {
		return err
	}
	resp, err := h.orch.Index(c.RequestCtx(), res, queryValues(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(resp)
}

// HandleShow serves GET /:collection/:id.
func (h *RecordHandler) HandleShow(c fiber.Ctx) error {
	res, err := h.resource(c)
	if res == nil {
		return err
	}
	resp, err := h.orch.Show(c.RequestCtx(), res, c.Params("id"), crud.ShowOptions{
		WithDeleted: c.Query("withDeleted") == "true",
		Params:      routeParams(c),
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(resp)
}

// HandleCreate serves POST /:collection with a single record or an array.
func (h *RecordHandler) HandleCreate(c fiber.Ctx) error {
	res, err := h.resource(c)
	if res == nil {
		return err
	}

	var body interface{}
	if err := json.Unmarshal(c.Body(), &body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	resp, err := h.orch.Create(c.RequestCtx(), res, body, routeParams(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(resp)
}

func (h *RecordHandler) bindRecord(c fiber.Ctx) (store.Record, error) {
	var body map[string]interface{}
	if err := json.Unmarshal(c.Body(), &body); err != nil {
		return nil, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if body == nil {
		body = map[string]interface{}{}
	}
	return body, nil
}

// HandleUpdate serves PATCH /:collection/:id.
func (h *RecordHandler) HandleUpdate(c fiber.Ctx) error {
	res, err := h.resource(c)
	if res == nil {
		return err
	}
	body, err := h.bindRecord(c)
	if body == nil {
		return err
	}
	resp, err := h.orch.Update(c.RequestCtx(), res, c.Params("id"), body, routeParams(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(resp)
}

// HandleUpsert serves PUT /:collection/:id.
func (h *RecordHandler) HandleUpsert(c fiber.Ctx) error {
	res, err := h.resource(c)
	if res == nil {
		return err
	}
	body, err := h.bindRecord(c)
	if body == nil {
		return err
	}
	resp, err := h.orch.Upsert(c.RequestCtx(), res, c.Params("id"), body, routeParams(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(resp)
}

// HandleDestroy serves DELETE /:collection/:id.
func (h *RecordHandler) HandleDestroy(c fiber.Ctx) error {
	res, err := h.resource(c)
	if res == nil {
		return err
	}
	resp, err := h.orch.Destroy(c.RequestCtx(), res, c.Params("id"), routeParams(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(resp)
}

// HandleRecover serves POST /:collection/:id/recover.
func (h *RecordHandler) HandleRecover(c fiber.Ctx) error {
	res, err := h.resource(c)
	if res == nil {
		return err
	}
	resp, err := h.orch.Recover(c.RequestCtx(), res, c.Params("id"), routeParams(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(resp)
}

// HandleBulk serves POST /:collection/bulk.
func (h *RecordHandler) HandleBulk(c fiber.Ctx) error {
	res, err := h.resource(c)
	if res == nil {
		return err
	}

	var req BulkActionRequest
	if err := c.Bind().Body(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	params := routeParams(c)
	var resp *crud.Response
	switch req.Action {
	case "update":
		resp, err = h.orch.BulkUpdate(c.RequestCtx(), res, toRecords(req.Items), params)
	case "upsert":
		resp, err = h.orch.BulkUpsert(c.RequestCtx(), res, toRecords(req.Items), params)
	case "destroy":
		resp, err = h.orch.BulkDestroy(c.RequestCtx(), res, req.Targets, params)
	case "recover":
		resp, err = h.orch.BulkRecover(c.RequestCtx(), res, req.Targets, params)
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": fmt.Sprintf("Unknown action: %s. Supported actions: update, upsert, destroy, recover", req.Action),
		})
	}
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(resp)
}

func toRecords(items []map[string]interface{}) []store.Record {
	records := make([]store.Record, len(items))
	for i, item := range items {
		records[i] = item
	}
	return records
}

// RegisterRoutes registers the record CRUD endpoints.
func (h *RecordHandler) RegisterRoutes(app *fiber.App) {
	g := app.Group("/api/v1/collections")
	g.Get("/:collection", h.HandleIndex)
	g.Post("/:collection", h.HandleCreate)
	g.Post("/:collection/bulk", h.HandleBulk)
	g.Get("/:collection/:id", h.HandleShow)
	g.Patch("/:collection/:id", h.HandleUpdate)
	g.Put("/:collection/:id", h.HandleUpsert)
	g.Delete("/:collection/:id", h.HandleDestroy)
	g.Post("/:collection/:id/recover", h.HandleRecover)
}
