package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/iamqiss/Pixelle-sub004/internal/models"
)

// Status reports this node's lifecycle and epoch window
func (h *Handler) Status(c *fiber.Ctx) error {
	return c.JSON(models.StatusResponse{
		Node:         h.self.String(),
		Lifecycle:    h.service.Lifecycle().String(),
		MinEpoch:     h.service.MinEpoch(),
		MaxEpoch:     h.service.MaxEpoch(),
		MappingEpoch: h.service.MappingEpoch(),
	})
}
