package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/iamqiss/Pixelle-sub004/internal/logging"
	"github.com/iamqiss/Pixelle-sub004/internal/topology"
)

// Event subjects published by the topology service
const (
	SubjectTopologyApplied = "topology.applied"
	SubjectSyncCompleted   = "topology.sync.completed"
	SubjectNodesRemoved    = "topology.nodes.removed"
	SubjectEpochsTruncated = "topology.epochs.truncated"
)

// TopologyAppliedEvent is published when a new topology epoch is applied locally
type TopologyAppliedEvent struct {
	Epoch     uint64    `json:"epoch"`
	Shards    int       `json:"shards"`
	Timestamp time.Time `json:"timestamp"`
}

// SyncCompletedEvent is published when a node finishes synchronizing an epoch
type SyncCompletedEvent struct {
	Node      topology.NodeID `json:"node"`
	Epoch     uint64          `json:"epoch"`
	Timestamp time.Time       `json:"timestamp"`
}

// NodesRemovedEvent is published when nodes leave the cluster topology
type NodesRemovedEvent struct {
	Epoch     uint64            `json:"epoch"`
	Nodes     []topology.NodeID `json:"nodes"`
	Timestamp time.Time         `json:"timestamp"`
}

// EpochsTruncatedEvent is published when epochs below a floor are discarded
type EpochsTruncatedEvent struct {
	Floor     uint64    `json:"floor"`
	Timestamp time.Time `json:"timestamp"`
}

// Announcer publishes topology lifecycle events to the bus.
// Publishing is best effort: failures are logged, never propagated,
// because event delivery must not block epoch processing.
type Announcer struct {
	bus    Bus
	logger *logging.Logger
}

// NewAnnouncer creates an announcer backed by the given bus
func NewAnnouncer(bus Bus, logger *logging.Logger) *Announcer {
	return &Announcer{bus: bus, logger: logger}
}

// TopologyApplied announces that an epoch has been applied locally
func (a *Announcer) TopologyApplied(ctx context.Context, t topology.Topology) {
	a.publish(ctx, SubjectTopologyApplied, TopologyAppliedEvent{
		Epoch:     t.Epoch,
		Shards:    len(t.Shards),
		Timestamp: time.Now().UTC(),
	})
}

// SyncCompleted announces that a node finished synchronizing an epoch
func (a *Announcer) SyncCompleted(ctx context.Context, node topology.NodeID, epoch uint64) {
	a.publish(ctx, SubjectSyncCompleted, SyncCompletedEvent{
		Node:      node,
		Epoch:     epoch,
		Timestamp: time.Now().UTC(),
	})
}

// NodesRemoved announces that nodes left the cluster as of an epoch
func (a *Announcer) NodesRemoved(ctx context.Context, epoch uint64, nodes []topology.NodeID) {
	if len(nodes) == 0 {
		return
	}
	a.publish(ctx, SubjectNodesRemoved, NodesRemovedEvent{
		Epoch:     epoch,
		Nodes:     nodes,
		Timestamp: time.Now().UTC(),
	})
}

// EpochsTruncated announces that epochs below floor were discarded
func (a *Announcer) EpochsTruncated(ctx context.Context, floor uint64) {
	a.publish(ctx, SubjectEpochsTruncated, EpochsTruncatedEvent{
		Floor:     floor,
		Timestamp: time.Now().UTC(),
	})
}

func (a *Announcer) publish(ctx context.Context, subject string, event interface{}) {
	data, err := json.Marshal(event)
	if err != nil {
		a.logger.Warn("failed to encode event",
			"subject", subject, "error", err)
		return
	}

	if err := a.bus.Publish(ctx, subject, data); err != nil {
		a.logger.Warn("failed to publish event",
			"subject", subject, "error", err)
	}
}
