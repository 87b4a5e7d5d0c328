package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/iamqiss/Pixelle-sub004/internal/models"
)

// TriggerCatchup pulls watermark snapshots from peers on demand.
// Normally gossip keeps the collector current; this endpoint forces a
// round after an operator notices a node lagging.
func (h *Handler) TriggerCatchup(c *fiber.Ctx) error {
	peers, err := h.catchup(c.UserContext())
	if err != nil {
		h.logger.Error("Watermark catch-up failed", "error", err, "peers", peers)
		return c.Status(fiber.StatusBadGateway).JSON(models.CatchupResponse{
			Started: false,
			Peers:   peers,
			Error:   err.Error(),
		})
	}

	h.logger.Info("Watermark catch-up completed", "peers", peers)
	return c.JSON(models.CatchupResponse{
		Started: true,
		Peers:   peers,
	})
}
