package handlers

import (
	"sort"

	"github.com/gofiber/fiber/v2"
	"github.com/iamqiss/Pixelle-sub004/internal/models"
	"github.com/iamqiss/Pixelle-sub004/internal/topology"
)

// Watermarks renders the collector's current snapshot
func (h *Handler) Watermarks(c *fiber.Ctx) error {
	snap := h.collector.Snapshot()

	resp := models.WatermarksResponse{
		Closed:  rangeWatermarks(snap.Closed),
		Retired: rangeWatermarks(snap.Retired),
		Synced:  make([]models.NodeWatermark, 0, len(snap.Synced)),
	}

	nodes := make([]topology.NodeID, 0, len(snap.Synced))
	for n := range snap.Synced {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })
	for _, n := range nodes {
		resp.Synced = append(resp.Synced, models.NodeWatermark{
			Node:  n.String(),
			Epoch: snap.Synced[n],
		})
	}

	return c.JSON(resp)
}

func rangeWatermarks(m map[topology.Range]uint64) []models.RangeWatermark {
	keys := make([]topology.Range, 0, len(m))
	for r := range m {
		keys = append(keys, r)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Compare(keys[j]) < 0 })

	out := make([]models.RangeWatermark, 0, len(keys))
	for _, r := range keys {
		out = append(out, models.RangeWatermark{Range: r.String(), Epoch: m[r]})
	}
	return out
}
