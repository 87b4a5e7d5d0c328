package main

import (
	"context"

	"github.com/iamqiss/Pixelle-sub004/internal/confservice"
	"github.com/iamqiss/Pixelle-sub004/internal/epoch"
	"github.com/iamqiss/Pixelle-sub004/internal/events"
	"github.com/iamqiss/Pixelle-sub004/internal/fetch"
	"github.com/iamqiss/Pixelle-sub004/internal/propagator"
	"github.com/iamqiss/Pixelle-sub004/internal/topology"
	"github.com/iamqiss/Pixelle-sub004/internal/watermark"
)

// syncBridge connects the configuration service to the propagator and
// the watermark collector. It is assembled in two phases because the
// service and the propagator each hold a reference to it.
type syncBridge struct {
	self      topology.NodeID
	svc       *confservice.Service
	prop      *propagator.Propagator
	collector *watermark.Collector
	announcer *events.Announcer
}

var _ confservice.Propagator = (*syncBridge)(nil)
var _ propagator.Listener = (*syncBridge)(nil)

func (b *syncBridge) NotifySyncComplete(epoch uint64, members []topology.NodeID) {
	b.prop.Notify(epoch, members)
}

func (b *syncBridge) NotifyNodesRemoved(removed []topology.NodeID) {
	b.prop.OnNodesRemoved(removed)
}

func (b *syncBridge) NotifyClosed(epoch uint64, peers []topology.NodeID, ranges topology.Ranges) {
	b.collector.ReportClosed(ranges, epoch)
	b.prop.NotifyClosed(epoch, peers, ranges)
}

func (b *syncBridge) NotifyRetired(epoch uint64, peers []topology.NodeID, ranges topology.Ranges) {
	b.collector.ReportRetired(ranges, epoch)
	b.prop.NotifyRetired(epoch, peers, ranges)
}

// OnEndpointAck fires when one peer acknowledges one epoch
func (b *syncBridge) OnEndpointAck(node topology.NodeID, epoch uint64) {}

// OnComplete fires once every peer acknowledged the epoch. That is
// the moment this node's sync watermark advances.
func (b *syncBridge) OnComplete(e uint64) {
	b.svc.OnComplete(e)
	b.collector.ReportSynced(b.self, e)
	b.announcer.SyncCompleted(context.Background(), b.self, e)
}

// watermarkBridge replays collector advances into the service so
// watermarks learned through gossip complete stuck epochs. Replay
// uses the receive path, never the report path, so nothing learned
// from a peer is pushed back out.
type watermarkBridge struct {
	svc *confservice.Service
}

var _ watermark.Listener = (*watermarkBridge)(nil)

func (b *watermarkBridge) OnRangesClosed(ranges topology.Ranges, epoch uint64) {
	_ = b.svc.ReceiveClosed(ranges, epoch)
}

func (b *watermarkBridge) OnRangesRetired(ranges topology.Ranges, epoch uint64) {
	_ = b.svc.ReceiveRetired(ranges, epoch)
}

// OnNodeSynced back-fills every retained epoch through the watermark.
// The watermark means synced through epoch, not synced at epoch, so a
// single call at the high-water mark would leave the epochs below it
// stuck.
func (b *watermarkBridge) OnNodeSynced(node topology.NodeID, epoch uint64) {
	b.svc.ReceiveSyncedWatermark(node, epoch)
}

// notificationReceiver applies peer pushes to the service and the
// collector. The collector advance re-enters the service through the
// watermark bridge.
type notificationReceiver struct {
	svc       *confservice.Service
	collector *watermark.Collector
}

var _ propagator.Receiver = (*notificationReceiver)(nil)

func (r *notificationReceiver) ReceiveRemoteSyncComplete(node topology.NodeID, epoch uint64) {
	r.svc.ReceiveRemoteSyncComplete(node, epoch)
	r.collector.ReportSynced(node, epoch)
}

func (r *notificationReceiver) ReceiveClosed(ranges topology.Ranges, epoch uint64) {
	r.collector.ReportClosed(ranges, epoch)
}

func (r *notificationReceiver) ReceiveRetired(ranges topology.Ranges, epoch uint64) {
	r.collector.ReportRetired(ranges, epoch)
}

// announcerListener publishes applied topologies on the event bus
type announcerListener struct {
	announcer *events.Announcer
}

var _ confservice.TopologyListener = (*announcerListener)(nil)

func (l *announcerListener) OnTopologyUpdate(t topology.Topology) {
	ctx := context.Background()
	l.announcer.TopologyApplied(ctx, t)
	if len(t.RemovedIDs) > 0 {
		l.announcer.NodesRemoved(ctx, t.Epoch, t.RemovedIDs)
	}
}

// serviceSource exposes the service's epoch window to remote fetchers
type serviceSource struct {
	svc *confservice.Service
}

var _ fetch.Source = (*serviceSource)(nil)

func (s *serviceSource) MinEpoch() uint64 { return s.svc.MinEpoch() }
func (s *serviceSource) MaxEpoch() uint64 { return s.svc.MaxEpoch() }

func (s *serviceSource) TopologyAt(e uint64) (topology.Topology, error) {
	if t := s.svc.TopologyAt(e); t != nil {
		return *t, nil
	}
	return topology.Topology{}, epoch.ErrUnknownEpoch
}
