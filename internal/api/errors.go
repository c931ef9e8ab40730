package api

import (
	"errors"

	"github.com/gofiber/fiber/v3"

	"github.com/fluxbase-eu/crudkit/internal/crud"
	"github.com/fluxbase-eu/crudkit/internal/store"
)

// respondError maps the error taxonomy onto HTTP statuses: missing keys →
// 404, conflicting state → 409, unsupported query operators → 422. Partial
// bulk failures report what was persisted before the failing chunk.
func respondError(c fiber.Ctx, err error) error {
	var notFound *store.NotFoundError
	if errors.As(err, &notFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":       notFound.Error(),
			"missingKeys": notFound.Keys,
		})
	}

	var conflict *store.ConflictError
	if errors.As(err, &conflict) {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": conflict.Error(),
		})
	}

	var unsupported *store.UnsupportedOperationError
	if errors.As(err, &unsupported) {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": unsupported.Error(),
		})
	}

	var confErr *store.ConfigurationError
	if errors.As(err, &confErr) {
		// Reaching a configuration error at request time is a deployment
		// problem surfaced as a conflict.
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": confErr.Error(),
		})
	}

	var batchErr *crud.BatchError
	if errors.As(err, &batchErr) {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":          batchErr.Error(),
			"failedChunk":    batchErr.Chunk,
			"failedRange":    []int{batchErr.Start, batchErr.End},
			"persistedCount": batchErr.Persisted,
		})
	}

	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": err.Error(),
	})
}
