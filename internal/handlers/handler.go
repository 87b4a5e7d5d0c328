package handlers

import (
	"context"

	"github.com/iamqiss/Pixelle-sub004/internal/confservice"
	"github.com/iamqiss/Pixelle-sub004/internal/epoch"
	"github.com/iamqiss/Pixelle-sub004/internal/logging"
	"github.com/iamqiss/Pixelle-sub004/internal/topology"
	"github.com/iamqiss/Pixelle-sub004/internal/watermark"
)

// TopologyService is the slice of the configuration service the admin
// endpoints read from. Satisfied by *confservice.Service.
type TopologyService interface {
	Lifecycle() confservice.Lifecycle
	MinEpoch() uint64
	MaxEpoch() uint64
	MappingEpoch() uint64
	EpochSnapshot(e uint64) (epoch.View, bool)
	TopologyAt(e uint64) *topology.Topology
}

// CatchupFunc pulls watermark snapshots from peers and merges them in.
// Returns the number of peers contacted.
type CatchupFunc func(ctx context.Context) (int, error)

// Handler contains all HTTP handlers
type Handler struct {
	logger    *logging.Logger
	self      topology.NodeID
	service   TopologyService
	collector *watermark.Collector
	catchup   CatchupFunc
}

// New creates a new handler instance
func New(logger *logging.Logger, self topology.NodeID, service TopologyService,
	collector *watermark.Collector, catchup CatchupFunc,
) *Handler {
	return &Handler{
		logger:    logger,
		self:      self,
		service:   service,
		collector: collector,
		catchup:   catchup,
	}
}
