package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/iamqiss/Pixelle-sub004/internal/models"
)

// GetEpoch reports the sync state of one epoch in the window
func (h *Handler) GetEpoch(c *fiber.Ctx) error {
	e, err := strconv.ParseUint(c.Params("epoch"), 10, 64)
	if err != nil || e == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(models.ErrorResponse{
			Error: models.ErrorDetail{
				Code:    "INVALID_EPOCH",
				Message: "Epoch must be a positive integer",
				Path:    c.Path(),
			},
		})
	}

	view, ok := h.service.EpochSnapshot(e)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(models.ErrorResponse{
			Error: models.ErrorDetail{
				Code:    "UNKNOWN_EPOCH",
				Message: "Epoch is outside the tracked window",
				Path:    c.Path(),
				Details: map[string]interface{}{
					"min_epoch": h.service.MinEpoch(),
					"max_epoch": h.service.MaxEpoch(),
				},
			},
		})
	}

	resp := models.EpochResponse{
		Epoch:        view.Epoch,
		SyncStatus:   view.SyncStatus.String(),
		Received:     view.Received.String(),
		Acknowledged: view.Acknowledged.String(),
		Reads:        view.Reads.String(),
	}

	if t := h.service.TopologyAt(e); t != nil {
		resp.Shards = len(t.Shards)
		for _, n := range t.Nodes() {
			resp.Nodes = append(resp.Nodes, int(n))
		}
	}

	return c.JSON(resp)
}
