// Package propagator pushes local epoch state to every member of an
// epoch's topology and keeps retrying until each peer acknowledges or
// is removed from the cluster. Three kinds of state ride on the same
// notification: the local node's sync completion, closed ranges, and
// retired ranges. An epoch is only considered propagated once no peer
// still owes an acknowledgement for its sync completion.
package propagator

import (
	"context"
	"sync"
	"time"

	"github.com/iamqiss/Pixelle-sub004/internal/logging"
	"github.com/iamqiss/Pixelle-sub004/internal/metrics"
	"github.com/iamqiss/Pixelle-sub004/internal/topology"
	"github.com/iamqiss/Pixelle-sub004/internal/transport"
)

// Listener observes notification progress
type Listener interface {
	// OnEndpointAck fires when one peer acknowledges one epoch
	OnEndpointAck(node topology.NodeID, epoch uint64)

	// OnComplete fires when no peer remains pending for an epoch's
	// sync completion
	OnComplete(epoch uint64)
}

// EndpointResolver maps a node id to its dialable address. The second
// return is false when the node's address is not currently known.
type EndpointResolver func(node topology.NodeID) (string, bool)

// Executor runs notification work off the propagator's critical path
type Executor interface {
	Submit(task func()) bool
	Schedule(delay time.Duration, task func()) *time.Timer
}

// Config tunes the renotification backoff
type Config struct {
	// RetryInterval is the first delay before renotifying a silent peer
	RetryInterval time.Duration

	// MaxInterval caps the doubling backoff between renotifications
	MaxInterval time.Duration
}

// DefaultConfig returns default propagator configuration
func DefaultConfig() Config {
	return Config{
		RetryInterval: time.Second,
		MaxInterval:   30 * time.Second,
	}
}

// pendingEpoch is what one peer still owes an acknowledgement for in
// one epoch. Closed and retired ranges accumulate until acked; the
// sync flag clears when the peer acks a notification that carried it.
type pendingEpoch struct {
	sync    bool
	closed  topology.Ranges
	retired topology.Ranges
}

func (pe *pendingEpoch) empty() bool {
	return !pe.sync && len(pe.closed) == 0 && len(pe.retired) == 0
}

// Propagator tracks, per peer and epoch, the state not yet acknowledged
type Propagator struct {
	self      topology.NodeID
	messenger transport.Messenger
	resolver  EndpointResolver
	exec      Executor
	listener  Listener
	config    Config
	logger    *logging.Logger

	mu      sync.Mutex
	pending map[topology.NodeID]map[uint64]*pendingEpoch
	stopped bool
}

// New creates a propagator sending as self
func New(
	self topology.NodeID,
	messenger transport.Messenger,
	resolver EndpointResolver,
	exec Executor,
	listener Listener,
	config Config,
	logger *logging.Logger,
) *Propagator {
	if config.RetryInterval <= 0 {
		config.RetryInterval = time.Second
	}
	if config.MaxInterval < config.RetryInterval {
		config.MaxInterval = 30 * time.Second
	}

	return &Propagator{
		self:      self,
		messenger: messenger,
		resolver:  resolver,
		exec:      exec,
		listener:  listener,
		config:    config,
		logger:    logger,
	}
}

// Notify tells every peer that this node finished applying epoch.
// The sender itself is never notified; notifying an epoch with no
// remote peers completes immediately. Renotifying an epoch whose sync
// is still pending on a peer does not resend.
func (p *Propagator) Notify(epoch uint64, peers []topology.NodeID) {
	hasRemote := false
	for _, peer := range peers {
		if peer != p.self {
			hasRemote = true
			break
		}
	}
	if !hasRemote {
		p.mu.Lock()
		stopped := p.stopped
		p.mu.Unlock()
		if !stopped {
			p.logger.Debug("No remote peers to notify", "epoch", epoch)
			p.listener.OnComplete(epoch)
		}
		return
	}

	p.logger.Info("Propagating sync complete",
		"epoch", epoch,
		"peers", len(peers)-1)

	p.report(epoch, peers, func(pe *pendingEpoch) *Notification {
		if pe.sync {
			return nil
		}
		pe.sync = true
		return &Notification{Node: p.self, Epoch: epoch, SyncComplete: true}
	})
}

// NotifyClosed tells every peer that ranges closed as of epoch. Ranges
// a peer has not yet acknowledged accumulate in its ledger; only the
// delta it has never been sent rides on the wire.
func (p *Propagator) NotifyClosed(epoch uint64, peers []topology.NodeID, ranges topology.Ranges) {
	if len(ranges) == 0 {
		return
	}
	p.report(epoch, peers, func(pe *pendingEpoch) *Notification {
		delta := ranges.Without(pe.closed)
		if len(delta) == 0 {
			return nil
		}
		pe.closed = pe.closed.With(delta)
		return &Notification{Node: p.self, Epoch: epoch, Closed: delta}
	})
}

// NotifyRetired tells every peer that ranges retired as of epoch
func (p *Propagator) NotifyRetired(epoch uint64, peers []topology.NodeID, ranges topology.Ranges) {
	if len(ranges) == 0 {
		return
	}
	p.report(epoch, peers, func(pe *pendingEpoch) *Notification {
		delta := ranges.Without(pe.retired)
		if len(delta) == 0 {
			return nil
		}
		pe.retired = pe.retired.With(delta)
		return &Notification{Node: p.self, Epoch: epoch, Retired: delta}
	})
}

// report runs fn against each remote peer's ledger entry for epoch and
// sends whatever notifications fn produced. fn returning nil means the
// peer already has that state pending and nothing new goes out.
func (p *Propagator) report(epoch uint64, peers []topology.NodeID, fn func(pe *pendingEpoch) *Notification) {
	type send struct {
		peer topology.NodeID
		n    Notification
	}
	var sends []send

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	if p.pending == nil {
		p.pending = make(map[topology.NodeID]map[uint64]*pendingEpoch)
	}
	for _, peer := range peers {
		if peer == p.self {
			continue
		}
		byEpoch := p.pending[peer]
		if byEpoch == nil {
			byEpoch = make(map[uint64]*pendingEpoch)
			p.pending[peer] = byEpoch
		}
		pe := byEpoch[epoch]
		if pe == nil {
			pe = &pendingEpoch{}
			byEpoch[epoch] = pe
		}
		if n := fn(pe); n != nil {
			sends = append(sends, send{peer: peer, n: *n})
		}
		if pe.empty() {
			delete(byEpoch, epoch)
			if len(byEpoch) == 0 {
				delete(p.pending, peer)
			}
		}
	}
	metrics.PendingNotifications.Set(float64(p.pendingCountLocked()))
	p.mu.Unlock()

	for _, s := range sends {
		s := s
		p.exec.Submit(func() {
			p.sendOne(s.peer, s.n, p.config.RetryInterval)
		})
	}
}

// sendOne delivers one notification and reschedules itself with a
// doubled delay until the peer acks or stops being pending
func (p *Propagator) sendOne(peer topology.NodeID, n Notification, nextDelay time.Duration) {
	if !p.isPending(peer, n.Epoch) {
		return
	}

	address, ok := p.resolver(peer)
	if !ok {
		p.logger.Debug("No address for peer, will retry",
			"peer", peer,
			"epoch", n.Epoch)
		p.scheduleRetry(peer, n, nextDelay)
		return
	}

	_, err := p.messenger.Send(context.Background(), address, transport.VerbSyncComplete, n.Encode())
	if err != nil {
		p.logger.Debug("Notification failed, will retry",
			"peer", peer,
			"epoch", n.Epoch,
			"retry_in", nextDelay,
			"error", err)
		p.scheduleRetry(peer, n, nextDelay)
		return
	}

	p.ack(peer, n)
}

func (p *Propagator) scheduleRetry(peer topology.NodeID, n Notification, delay time.Duration) {
	metrics.SyncNotifications.WithLabelValues("retried").Inc()
	next := delay * 2
	if next > p.config.MaxInterval {
		next = p.config.MaxInterval
	}
	p.exec.Schedule(delay, func() {
		p.sendOne(peer, n, next)
	})
}

func (p *Propagator) isPending(peer topology.NodeID, epoch uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return false
	}
	pe := p.pending[peer][epoch]
	return pe != nil && !pe.empty()
}

// ack clears the acknowledged notification from the peer's ledger and
// completes the epoch when it carried sync completion and no other
// peer still owes a sync ack
func (p *Propagator) ack(peer topology.NodeID, n Notification) {
	p.mu.Lock()
	byEpoch := p.pending[peer]
	pe := byEpoch[n.Epoch]
	if pe == nil {
		p.mu.Unlock()
		return
	}
	if n.SyncComplete {
		pe.sync = false
	}
	pe.closed = pe.closed.Without(n.Closed)
	pe.retired = pe.retired.Without(n.Retired)
	if pe.empty() {
		delete(byEpoch, n.Epoch)
		if len(byEpoch) == 0 {
			delete(p.pending, peer)
		}
	}
	completed := n.SyncComplete && !p.syncPendingLocked(n.Epoch)
	metrics.PendingNotifications.Set(float64(p.pendingCountLocked()))
	p.mu.Unlock()

	metrics.SyncNotifications.WithLabelValues("acked").Inc()
	p.listener.OnEndpointAck(peer, n.Epoch)
	if completed {
		p.logger.Info("Sync propagation complete", "epoch", n.Epoch)
		p.listener.OnComplete(n.Epoch)
	}
}

// syncPendingLocked reports whether any peer still owes a sync ack for
// epoch. Caller holds p.mu.
func (p *Propagator) syncPendingLocked(epoch uint64) bool {
	for _, byEpoch := range p.pending {
		if pe := byEpoch[epoch]; pe != nil && pe.sync {
			return true
		}
	}
	return false
}

// pendingCountLocked counts (peer, epoch) ledger entries. Caller holds
// p.mu.
func (p *Propagator) pendingCountLocked() int {
	count := 0
	for _, byEpoch := range p.pending {
		count += len(byEpoch)
	}
	return count
}

// OnNodesRemoved drops removed nodes' ledgers entirely. Epochs whose
// last pending sync ack belonged to a removed node complete without it.
func (p *Propagator) OnNodesRemoved(removed []topology.NodeID) {
	if len(removed) == 0 {
		return
	}

	type dropped struct {
		node  topology.NodeID
		epoch uint64
		sync  bool
	}
	var acked []dropped

	p.mu.Lock()
	for _, node := range removed {
		byEpoch := p.pending[node]
		if byEpoch == nil {
			continue
		}
		delete(p.pending, node)
		for e, pe := range byEpoch {
			acked = append(acked, dropped{node: node, epoch: e, sync: pe.sync})
		}
	}
	var completed []uint64
	for _, d := range acked {
		if d.sync && !p.syncPendingLocked(d.epoch) {
			completed = append(completed, d.epoch)
		}
	}
	metrics.PendingNotifications.Set(float64(p.pendingCountLocked()))
	p.mu.Unlock()

	for _, d := range acked {
		p.listener.OnEndpointAck(d.node, d.epoch)
	}
	for _, e := range completed {
		p.logger.Info("Sync propagation complete after node removal", "epoch", e)
		p.listener.OnComplete(e)
	}
}

// HasPending reports whether any peer still owes an ack for epoch
func (p *Propagator) HasPending(epoch uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, byEpoch := range p.pending {
		if pe := byEpoch[epoch]; pe != nil && !pe.empty() {
			return true
		}
	}
	return false
}

// PendingPeers returns the peers still pending for epoch, sorted order
// not guaranteed
func (p *Propagator) PendingPeers(epoch uint64) []topology.NodeID {
	p.mu.Lock()
	defer p.mu.Unlock()
	var peers []topology.NodeID
	for peer, byEpoch := range p.pending {
		if pe := byEpoch[epoch]; pe != nil && !pe.empty() {
			peers = append(peers, peer)
		}
	}
	return peers
}

// Stop prevents any further sends and retries
func (p *Propagator) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	p.pending = nil
}

// Receiver applies notification contents pushed by a peer
type Receiver interface {
	// ReceiveRemoteSyncComplete records that node finished syncing epoch
	ReceiveRemoteSyncComplete(node topology.NodeID, epoch uint64)

	// ReceiveClosed records ranges closed as of epoch
	ReceiveClosed(ranges topology.Ranges, epoch uint64)

	// ReceiveRetired records ranges retired as of epoch
	ReceiveRetired(ranges topology.Ranges, epoch uint64)
}

// Handler receives notifications from peers and forwards their contents
// to the receiver. The unary reply is the acknowledgement.
func Handler(receiver Receiver) transport.Handler {
	return func(ctx context.Context, from topology.NodeID, payload []byte) ([]byte, error) {
		n, err := DecodeNotification(payload)
		if err != nil {
			return nil, err
		}
		if len(n.Closed) > 0 {
			receiver.ReceiveClosed(n.Closed, n.Epoch)
		}
		if len(n.Retired) > 0 {
			receiver.ReceiveRetired(n.Retired, n.Epoch)
		}
		if n.SyncComplete {
			receiver.ReceiveRemoteSyncComplete(n.Node, n.Epoch)
		}
		return nil, nil
	}
}
