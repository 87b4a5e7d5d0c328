// Package confservice is the topology configuration service: it owns
// the epoch history and endpoint mapping for the local node, accepts
// topology reports from the membership directory, drives local-sync
// notification through the sync propagator, and repairs gaps in epoch
// knowledge by fetching missing topologies from peers.
package confservice

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/iamqiss/Pixelle-sub004/internal/epoch"
	"github.com/iamqiss/Pixelle-sub004/internal/fetch"
	"github.com/iamqiss/Pixelle-sub004/internal/logging"
	"github.com/iamqiss/Pixelle-sub004/internal/metrics"
	"github.com/iamqiss/Pixelle-sub004/internal/topology"
)

var (
	// ErrNotStarted means a mutating operation arrived before Start.
	ErrNotStarted = errors.New("service not started")

	// ErrAlreadyShutdown means the service has been shut down.
	ErrAlreadyShutdown = errors.New("service already shutdown")
)

// Lifecycle is the service lifecycle state. Transitions are linear:
// Initialized -> Started -> Shutdown.
type Lifecycle int

const (
	Initialized Lifecycle = iota
	Started
	Shutdown
)

func (l Lifecycle) String() string {
	switch l {
	case Initialized:
		return "initialized"
	case Started:
		return "started"
	case Shutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Directory is the authoritative membership source of truth.
type Directory interface {
	CurrentEpoch(ctx context.Context) (uint64, error)
	TopologyAt(ctx context.Context, epoch uint64) (topology.Topology, error)
}

// Propagator delivers notifications to peer nodes.
type Propagator interface {
	// NotifySyncComplete tells every member of epoch's topology that
	// this node finished applying it.
	NotifySyncComplete(epoch uint64, members []topology.NodeID)

	// NotifyNodesRemoved clears removed nodes from pending delivery.
	NotifyNodesRemoved(removed []topology.NodeID)

	// NotifyClosed pushes ranges closed as of epoch to peers.
	NotifyClosed(epoch uint64, peers []topology.NodeID, ranges topology.Ranges)

	// NotifyRetired pushes ranges retired as of epoch to peers.
	NotifyRetired(epoch uint64, peers []topology.NodeID, ranges topology.Ranges)
}

// Fetcher pulls topology windows from candidate peers.
type Fetcher interface {
	FetchEpochs(ctx context.Context, candidates []string, minEpoch, maxEpoch uint64) (fetch.Response, error)
}

// Executor runs continuations off the service lock.
type Executor interface {
	Submit(task func()) bool
}

// LivenessPredicate reports whether a node is believed reachable. Used
// to suppress removal handling for nodes that are gone from the
// topology but still transiently alive.
type LivenessPredicate func(node topology.NodeID) bool

// AddressResolver maps a node id to its dialable address.
type AddressResolver func(node topology.NodeID) (string, bool)

// TopologyListener observes applied topologies. Callbacks run on the
// executor, never under the service lock.
type TopologyListener interface {
	OnTopologyUpdate(t topology.Topology)
}

// Config tunes the service.
type Config struct {
	// Self is the local node id.
	Self topology.NodeID

	// FetchTimeout bounds one remote fetch attempt.
	FetchTimeout time.Duration

	// FetchAttempts bounds retries for one missing epoch.
	FetchAttempts int
}

// pendingFetch is the registration for one in-flight epoch fetch.
// Deduplication compares registrations by identity: the worker that
// registered a fetch is the only one allowed to deregister it.
type pendingFetch struct {
	epoch uint64
}

// Service orchestrates epoch-scoped topology state for the local node.
type Service struct {
	config     Config
	directory  Directory
	propagator Propagator
	fetcher    Fetcher
	exec       Executor
	isAlive    LivenessPredicate
	resolve    AddressResolver
	logger     *logging.Logger

	mu        sync.Mutex
	lifecycle Lifecycle
	mapping   *EndpointMapping
	listeners []TopologyListener

	history *epoch.History
	pending *xsync.Map[uint64, *pendingFetch]
}

// New creates a service in the Initialized state.
func New(
	config Config,
	directory Directory,
	propagator Propagator,
	fetcher Fetcher,
	exec Executor,
	isAlive LivenessPredicate,
	resolve AddressResolver,
	logger *logging.Logger,
) *Service {
	if config.FetchTimeout <= 0 {
		config.FetchTimeout = 2 * time.Second
	}
	if config.FetchAttempts <= 0 {
		config.FetchAttempts = 3
	}

	return &Service{
		config:     config,
		directory:  directory,
		propagator: propagator,
		fetcher:    fetcher,
		exec:       exec,
		isAlive:    isAlive,
		resolve:    resolve,
		logger:     logger,
		mapping:    NewEndpointMapping(),
		history:    epoch.NewHistory(),
		pending:    xsync.NewMap[uint64, *pendingFetch](),
	}
}

// Lifecycle returns the current lifecycle state.
func (s *Service) Lifecycle() Lifecycle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lifecycle
}

// Start moves the service to Started. Nodes already recorded removed in
// the endpoint mapping get a synthesized removal event so that epochs
// waiting on a departed peer's acknowledgement are not stuck forever.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	switch s.lifecycle {
	case Started:
		s.mu.Unlock()
		return nil
	case Shutdown:
		s.mu.Unlock()
		return ErrAlreadyShutdown
	}
	s.lifecycle = Started
	removed := s.mapping.Removed()
	s.mu.Unlock()

	s.logger.Info("Topology service started",
		"node", s.config.Self,
		"min_epoch", s.history.MinEpoch(),
		"max_epoch", s.history.MaxEpoch())

	maxEpoch := s.history.MaxEpoch()
	current := s.history.TopologyAt(maxEpoch)
	for node := range removed {
		if s.isAlive(node) {
			continue
		}
		var t topology.Topology
		if current != nil {
			t = *current
		}
		s.OnNodeRemoved(maxEpoch, t, node)
	}
	return nil
}

// Shutdown moves the service to Shutdown. Pending fetch registrations
// are dropped; in-flight fetch workers become no-ops on completion.
func (s *Service) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lifecycle == Shutdown {
		return
	}
	s.lifecycle = Shutdown
	s.pending.Clear()
	s.logger.Info("Topology service shutdown", "node", s.config.Self)
}

// requireRunning enforces the lifecycle gate. Load reports are the one
// mutating operation permitted before Start, because bootstrap replays
// persisted topologies into a not-yet-started service.
func (s *Service) requireRunning(isLoad bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.lifecycle {
	case Shutdown:
		return ErrAlreadyShutdown
	case Initialized:
		if !isLoad {
			return ErrNotStarted
		}
	}
	return nil
}

// ReportTopology accepts a topology for its epoch. A topology can never
// be ahead of the directory's ground truth; violating that indicates
// control-plane corruption and panics rather than returning an error.
// Reporting an already-applied or truncated epoch is a no-op.
func (s *Service) ReportTopology(ctx context.Context, t topology.Topology, isLoad, startSync bool) error {
	if t.Epoch == 0 {
		return fmt.Errorf("invalid topology: epoch 0")
	}
	if err := s.requireRunning(isLoad); err != nil {
		return err
	}

	dirEpoch, err := s.directory.CurrentEpoch(ctx)
	if err != nil {
		return fmt.Errorf("report topology epoch %d: %w", t.Epoch, err)
	}
	if t.Epoch > dirEpoch {
		panic(fmt.Sprintf("topology epoch %d ahead of directory epoch %d", t.Epoch, dirEpoch))
	}

	s.mu.Lock()
	var prev *topology.Topology
	if t.Epoch > 1 {
		prev = s.history.TopologyAt(t.Epoch - 1)
	}
	applied, err := s.history.ApplyTopology(t)
	if err != nil {
		s.mu.Unlock()
		if errors.Is(err, epoch.ErrOutOfRange) {
			// Truncated epoch: permanently resolved, nothing to do.
			return nil
		}
		return err
	}
	if !applied {
		s.mu.Unlock()
		metrics.TopologiesReported.WithLabelValues("duplicate").Inc()
		return nil
	}

	endpoints := make(map[topology.NodeID]string)
	for _, node := range t.Nodes() {
		if addr, ok := s.resolve(node); ok {
			endpoints[node] = addr
		}
	}
	s.mapping.Update(t.Epoch, endpoints, t.RemovedIDs)

	listeners := append([]TopologyListener(nil), s.listeners...)
	started := s.lifecycle == Started
	s.mu.Unlock()

	metrics.TopologiesReported.WithLabelValues("applied").Inc()
	metrics.CurrentEpoch.Set(float64(s.history.MaxEpoch()))

	s.logger.Info("Topology applied",
		"epoch", t.Epoch,
		"shards", len(t.Shards),
		"is_load", isLoad)

	if prev != nil {
		s.detectRemovals(*prev, t)
	}

	if started && startSync && t.Contains(s.config.Self) {
		if err := s.LocalSyncComplete(t, true); err != nil {
			s.logger.Warn("Local sync notification failed",
				"epoch", t.Epoch,
				"error", err)
		}
	}

	for _, l := range listeners {
		l := l
		s.exec.Submit(func() { l.OnTopologyUpdate(t) })
	}
	return nil
}

// detectRemovals computes the nodes that left between prev and next and
// synthesizes removal events for those not independently known alive.
// The directory and topology updates can race, so a node gone from the
// topology but still reachable is left alone.
func (s *Service) detectRemovals(prev, next topology.Topology) {
	removed := topology.SubtractNodes(prev.Nodes(), next.Nodes())
	if len(removed) == 0 {
		return
	}

	var gone []topology.NodeID
	for _, node := range removed {
		if s.isAlive(node) {
			continue
		}
		gone = append(gone, node)
	}
	if len(gone) == 0 {
		return
	}

	s.logger.Info("Nodes removed from topology",
		"epoch", next.Epoch,
		"removed", gone)
	metrics.NodesRemoved.Add(float64(len(gone)))

	for _, node := range gone {
		s.OnNodeRemoved(next.Epoch, next, node)
	}
}

// LocalSyncComplete enters the local-sync state machine for t's epoch.
// Only the first call per epoch transitions NotStarted -> Notifying;
// later calls are silent no-ops. When startSync is set the propagator
// is instructed to notify every topology member except the local node.
func (s *Service) LocalSyncComplete(t topology.Topology, startSync bool) error {
	begun, err := s.history.BeginNotify(t.Epoch)
	if err != nil {
		if errors.Is(err, epoch.ErrOutOfRange) {
			return nil
		}
		return err
	}
	if !begun || !startSync {
		return nil
	}

	s.logger.Debug("Starting sync notification", "epoch", t.Epoch)
	s.propagator.NotifySyncComplete(t.Epoch, t.Nodes())
	return nil
}

// OnComplete marks epoch's sync Completed once all required peers have
// acknowledged. No-op for truncated epochs and repeat calls.
func (s *Service) OnComplete(e uint64) {
	if s.history.WasTruncated(e) {
		return
	}
	if err := s.history.Complete(e); err != nil && !errors.Is(err, epoch.ErrOutOfRange) {
		s.logger.Error("Failed to complete epoch", "epoch", e, "error", err)
		return
	}
	s.logger.Info("Epoch sync completed", "epoch", e)
}

// ReceiveRemoteSyncComplete records that node finished syncing epoch e,
// reporting whether the observation was new. Truncated epochs are
// treated as already resolved.
func (s *Service) ReceiveRemoteSyncComplete(node topology.NodeID, e uint64) bool {
	marked, err := s.history.MarkRemoteSynced(node, e)
	if err != nil {
		if !errors.Is(err, epoch.ErrOutOfRange) {
			s.logger.Error("Failed to record remote sync",
				"node", node,
				"epoch", e,
				"error", err)
		}
		return false
	}
	return marked
}

// OnNodeRemoved synthesizes a remote-sync-complete from removed for
// every non-completed epoch at or below e. A departed node will never
// acknowledge on its own; this is what unsticks epochs waiting on it.
func (s *Service) OnNodeRemoved(e uint64, current topology.Topology, removed topology.NodeID) {
	for _, pending := range s.history.NonCompletedBefore(e) {
		s.ReceiveRemoteSyncComplete(removed, pending)
	}
	s.propagator.NotifyNodesRemoved([]topology.NodeID{removed})
}

// ReportEpochClosed pushes a locally observed range closure to every
// mapped node via the propagator once the epoch is within the retained
// window. Truncated epochs are silently ignored.
func (s *Service) ReportEpochClosed(ranges topology.Ranges, e uint64) error {
	if err := s.requireRunning(false); err != nil {
		return err
	}
	if s.history.WasTruncated(e) {
		return nil
	}
	if err := s.history.GetOrCreate(e); err != nil {
		if errors.Is(err, epoch.ErrOutOfRange) {
			return nil
		}
		return err
	}
	s.propagator.NotifyClosed(e, s.mappingNodes(), ranges)
	return nil
}

// ReportEpochRetired pushes a locally observed range retirement to
// every mapped node via the propagator once the epoch is within the
// retained window. Truncated epochs are silently ignored.
func (s *Service) ReportEpochRetired(ranges topology.Ranges, e uint64) error {
	if err := s.requireRunning(false); err != nil {
		return err
	}
	if s.history.WasTruncated(e) {
		return nil
	}
	if err := s.history.GetOrCreate(e); err != nil {
		if errors.Is(err, epoch.ErrOutOfRange) {
			return nil
		}
		return err
	}
	s.propagator.NotifyRetired(e, s.mappingNodes(), ranges)
	return nil
}

// ReceiveClosed records a closure learned from a peer. Unlike
// ReportEpochClosed it never pushes back out, so peer notifications and
// gossip cannot echo.
func (s *Service) ReceiveClosed(ranges topology.Ranges, e uint64) error {
	return s.trackEpoch(e)
}

// ReceiveRetired records a retirement learned from a peer.
func (s *Service) ReceiveRetired(ranges topology.Ranges, e uint64) error {
	return s.trackEpoch(e)
}

// trackEpoch ensures e has epoch state within the retained window.
func (s *Service) trackEpoch(e uint64) error {
	if err := s.requireRunning(false); err != nil {
		return err
	}
	if s.history.WasTruncated(e) {
		return nil
	}
	if err := s.history.GetOrCreate(e); err != nil {
		if errors.Is(err, epoch.ErrOutOfRange) {
			return nil
		}
		return err
	}
	return nil
}

// ReceiveSyncedWatermark records node as synced for every retained
// epoch up to and including e. A synced watermark learned through
// gossip carries only the high-water epoch, so the epochs below it must
// be back-filled or they would stay stuck waiting for a sync message
// that already happened.
func (s *Service) ReceiveSyncedWatermark(node topology.NodeID, e uint64) {
	for pending := s.history.MinEpoch(); pending != 0 && pending <= e; pending++ {
		s.ReceiveRemoteSyncComplete(node, pending)
	}
}

func (s *Service) mappingNodes() []topology.NodeID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mapping.Nodes()
}

// ReportEpochRemoved truncates the epoch history up to e. Idempotent;
// the floor never moves backward.
func (s *Service) ReportEpochRemoved(e uint64) error {
	if err := s.requireRunning(false); err != nil {
		return err
	}
	s.history.TruncateUntil(e)
	metrics.Truncations.Inc()
	metrics.MinEpoch.Set(float64(s.history.MinEpoch()))
	s.logger.Info("Epoch history truncated", "floor", e)
	return nil
}

// FetchTopologyForEpoch schedules background fetches for every epoch in
// (maxKnown, target] not yet known locally. Concurrent calls for the
// same epoch share one in-flight attempt.
func (s *Service) FetchTopologyForEpoch(target uint64) error {
	if target == 0 {
		return fmt.Errorf("invalid fetch target: epoch 0")
	}
	if err := s.requireRunning(false); err != nil {
		return err
	}

	from := s.history.MaxEpoch() + 1
	for e := from; e <= target; e++ {
		s.ensureFetch(e)
	}
	return nil
}

// ensureFetch registers a fetch for e unless one is already in flight.
func (s *Service) ensureFetch(e uint64) {
	f := &pendingFetch{epoch: e}
	if _, loaded := s.pending.LoadOrStore(e, f); loaded {
		return
	}
	if !s.exec.Submit(func() { s.runFetch(f) }) {
		s.logger.Warn("Executor rejected fetch", "epoch", e)
		s.finishFetch(f)
	}
}

// runFetch tries candidate peers until one supplies the topology or the
// attempt budget runs out. A topology reported by someone else while we
// were fetching supersedes the fetch; its eventual result is dropped.
func (s *Service) runFetch(f *pendingFetch) {
	defer s.finishFetch(f)

	for attempt := 0; attempt < s.config.FetchAttempts; attempt++ {
		if s.history.TopologyAt(f.epoch) != nil {
			metrics.FetchAttempts.WithLabelValues("superseded").Inc()
			return
		}
		if s.Lifecycle() != Started {
			return
		}

		candidates := s.fetchCandidates()
		if len(candidates) == 0 {
			s.logger.Warn("No candidate peers for fetch", "epoch", f.epoch)
			metrics.FetchAttempts.WithLabelValues("failure").Inc()
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.config.FetchTimeout)
		resp, err := s.fetcher.FetchEpochs(ctx, candidates, f.epoch, f.epoch)
		cancel()
		if err != nil {
			s.logger.Debug("Topology fetch attempt failed",
				"epoch", f.epoch,
				"attempt", attempt+1,
				"error", err)
			metrics.FetchAttempts.WithLabelValues("failure").Inc()
			continue
		}

		for _, t := range resp.Topologies {
			if t.Epoch != f.epoch {
				continue
			}
			metrics.FetchAttempts.WithLabelValues("success").Inc()
			if err := s.ReportTopology(context.Background(), t, false, true); err != nil {
				s.logger.Error("Failed to apply fetched topology",
					"epoch", f.epoch,
					"error", err)
			}
			return
		}

		// The peer answered but does not hold the epoch yet.
		metrics.FetchAttempts.WithLabelValues("failure").Inc()
	}

	s.logger.Warn("Gave up fetching epoch", "epoch", f.epoch)
}

// finishFetch deregisters f. The registration being held by anything
// other than f itself means two workers raced for one epoch, which the
// dedup in ensureFetch is supposed to make impossible.
func (s *Service) finishFetch(f *pendingFetch) {
	if cur, ok := s.pending.Load(f.epoch); ok {
		if cur != f {
			panic(fmt.Sprintf("pending fetch for epoch %d replaced while in flight", f.epoch))
		}
		s.pending.LoadAndDelete(f.epoch)
	}
}

// fetchCandidates returns peer addresses ordered with reachable nodes
// first. Liveness is probed once per candidate; the predicate can be a
// directory round-trip and must not run inside the sort comparator.
func (s *Service) fetchCandidates() []string {
	s.mu.Lock()
	type candidate struct {
		node  topology.NodeID
		addr  string
		alive bool
	}
	candidates := make([]candidate, 0, len(s.mapping.byNode))
	for node, addr := range s.mapping.byNode {
		if node != s.config.Self {
			candidates = append(candidates, candidate{node: node, addr: addr})
		}
	}
	s.mu.Unlock()

	for i := range candidates {
		candidates[i].alive = s.isAlive(candidates[i].node)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].alive != candidates[j].alive {
			return candidates[i].alive
		}
		return candidates[i].node < candidates[j].node
	})

	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.addr
	}
	return out
}

// AddListener registers a topology listener. Listeners added after
// topologies were applied do not see past updates.
func (s *Service) AddListener(l TopologyListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// MinEpoch returns the lowest retained epoch.
func (s *Service) MinEpoch() uint64 { return s.history.MinEpoch() }

// MaxEpoch returns the highest known epoch.
func (s *Service) MaxEpoch() uint64 { return s.history.MaxEpoch() }

// TopologyAt returns the applied topology for e, or nil.
func (s *Service) TopologyAt(e uint64) *topology.Topology {
	return s.history.TopologyAt(e)
}

// SyncStatus returns e's sync status and whether e is known.
func (s *Service) SyncStatus(e uint64) (epoch.SyncStatus, bool) {
	return s.history.Status(e)
}

// EpochSnapshot returns the diagnostic view of e.
func (s *Service) EpochSnapshot(e uint64) (epoch.View, bool) {
	return s.history.ViewOf(e)
}

// ReceivedFuture returns the signal resolved when e's topology arrives.
func (s *Service) ReceivedFuture(e uint64) *epoch.Promise {
	return s.history.ReceivedFuture(e)
}

// AcknowledgedFuture returns the signal resolved when peers acknowledge
// e's sync notification.
func (s *Service) AcknowledgedFuture(e uint64) *epoch.Promise {
	return s.history.AcknowledgedFuture(e)
}

// ReadsFuture returns the signal resolved when reads against e's prior
// epoch are safe.
func (s *Service) ReadsFuture(e uint64) *epoch.Promise {
	return s.history.ReadsFuture(e)
}

// MappingEpoch returns the epoch of the held endpoint mapping.
func (s *Service) MappingEpoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mapping.Epoch()
}

// AddressOf returns the mapped address for node, if known.
func (s *Service) AddressOf(node topology.NodeID) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mapping.AddressOf(node)
}

// PeerAddresses returns the mapped addresses of every node but self.
func (s *Service) PeerAddresses() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mapping.Addresses(s.config.Self)
}
