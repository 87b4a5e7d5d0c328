package watermark

import (
	"context"
	"sort"
	"sync"

	"github.com/iamqiss/Pixelle-sub004/internal/logging"
	"github.com/iamqiss/Pixelle-sub004/internal/metrics"
	"github.com/iamqiss/Pixelle-sub004/internal/topology"
	"github.com/iamqiss/Pixelle-sub004/internal/transport"
)

// Listener observes watermark advancement. Callbacks run on the
// reporting goroutine after the collector lock is released, so they may
// call back into the collector but should stay short.
type Listener interface {
	// OnRangesClosed fires when ranges become closed as of epoch
	OnRangesClosed(ranges topology.Ranges, epoch uint64)

	// OnRangesRetired fires when ranges become retired as of epoch
	OnRangesRetired(ranges topology.Ranges, epoch uint64)

	// OnNodeSynced fires when a node's synced watermark advances to epoch
	OnNodeSynced(node topology.NodeID, epoch uint64)
}

// advance records what changed during one locked mutation
type advance struct {
	closed  map[uint64][]topology.Range
	retired map[uint64][]topology.Range
	synced  map[topology.NodeID]uint64
}

func (a *advance) noteClosed(r topology.Range, epoch uint64) {
	if a.closed == nil {
		a.closed = make(map[uint64][]topology.Range)
	}
	a.closed[epoch] = append(a.closed[epoch], r)
}

func (a *advance) noteRetired(r topology.Range, epoch uint64) {
	if a.retired == nil {
		a.retired = make(map[uint64][]topology.Range)
	}
	a.retired[epoch] = append(a.retired[epoch], r)
}

func (a *advance) noteSynced(n topology.NodeID, epoch uint64) {
	if a.synced == nil {
		a.synced = make(map[topology.NodeID]uint64)
	}
	if epoch > a.synced[n] {
		a.synced[n] = epoch
	}
}

func (a *advance) empty() bool {
	return len(a.closed) == 0 && len(a.retired) == 0 && len(a.synced) == 0
}

// Collector owns this node's watermark snapshot and folds in reports
// from local callers and remote peers
type Collector struct {
	mu   sync.Mutex
	snap Snapshot

	listener Listener
	logger   *logging.Logger
}

// NewCollector creates an empty collector
func NewCollector(logger *logging.Logger) *Collector {
	return &Collector{
		snap:   NewSnapshot(),
		logger: logger,
	}
}

// SetListener installs the advancement listener. Must be called before
// the collector starts receiving reports.
func (c *Collector) SetListener(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listener = l
}

// ReportClosed records that ranges are closed as of epoch.
// Returns true if any watermark advanced.
func (c *Collector) ReportClosed(ranges topology.Ranges, epoch uint64) bool {
	var adv advance

	c.mu.Lock()
	for _, r := range ranges {
		if epoch > c.snap.Closed[r] {
			c.snap.Closed[r] = epoch
			adv.noteClosed(r, epoch)
		}
	}
	listener := c.listener
	c.mu.Unlock()

	c.notify(listener, adv)
	return !adv.empty()
}

// ReportRetired records that ranges are retired as of epoch. Retiring
// a range closes it at the same epoch if it was not already.
func (c *Collector) ReportRetired(ranges topology.Ranges, epoch uint64) bool {
	var adv advance

	c.mu.Lock()
	for _, r := range ranges {
		if epoch > c.snap.Closed[r] {
			c.snap.Closed[r] = epoch
			adv.noteClosed(r, epoch)
		}
		if epoch > c.snap.Retired[r] {
			c.snap.Retired[r] = epoch
			adv.noteRetired(r, epoch)
		}
	}
	listener := c.listener
	c.mu.Unlock()

	c.notify(listener, adv)
	return !adv.empty()
}

// ReportSynced records that node has finished syncing through epoch
func (c *Collector) ReportSynced(node topology.NodeID, epoch uint64) bool {
	var adv advance

	c.mu.Lock()
	if epoch > c.snap.Synced[node] {
		c.snap.Synced[node] = epoch
		adv.noteSynced(node, epoch)
	}
	listener := c.listener
	c.mu.Unlock()

	c.notify(listener, adv)
	return !adv.empty()
}

// Merge folds a peer snapshot into this collector's view
func (c *Collector) Merge(other Snapshot) bool {
	var adv advance

	c.mu.Lock()
	for r, e := range other.Closed {
		if e > c.snap.Closed[r] {
			c.snap.Closed[r] = e
			adv.noteClosed(r, e)
		}
	}
	for r, e := range other.Retired {
		if e > c.snap.Retired[r] {
			c.snap.Retired[r] = e
			adv.noteRetired(r, e)
		}
	}
	for n, e := range other.Synced {
		if e > c.snap.Synced[n] {
			c.snap.Synced[n] = e
			adv.noteSynced(n, e)
		}
	}
	listener := c.listener
	c.mu.Unlock()

	if !adv.empty() {
		metrics.WatermarkMerges.Inc()
	}
	c.notify(listener, adv)
	return !adv.empty()
}

// notify delivers advancement callbacks in ascending epoch order
func (c *Collector) notify(listener Listener, adv advance) {
	if listener == nil || adv.empty() {
		return
	}

	for _, epoch := range sortedEpochs(adv.closed) {
		listener.OnRangesClosed(topology.NewRanges(adv.closed[epoch]...), epoch)
	}
	for _, epoch := range sortedEpochs(adv.retired) {
		listener.OnRangesRetired(topology.NewRanges(adv.retired[epoch]...), epoch)
	}

	nodes := make([]topology.NodeID, 0, len(adv.synced))
	for n := range adv.synced {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })
	for _, n := range nodes {
		listener.OnNodeSynced(n, adv.synced[n])
	}
}

func sortedEpochs(m map[uint64][]topology.Range) []uint64 {
	epochs := make([]uint64, 0, len(m))
	for e := range m {
		epochs = append(epochs, e)
	}
	sort.Slice(epochs, func(i, j int) bool { return epochs[i] < epochs[j] })
	return epochs
}

// Snapshot returns a deep copy of the current watermarks
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap.Clone()
}

// SyncedEpoch returns the epoch node has synced through, or 0
func (c *Collector) SyncedEpoch(node topology.NodeID) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap.Synced[node]
}

// ForEachEpoch walks the watermarks grouped by epoch in ascending
// order. Each invocation sees the ranges closed at exactly that epoch,
// the ranges retired at exactly that epoch, and the nodes whose synced
// watermark is exactly that epoch.
func (c *Collector) ForEachEpoch(fn func(epoch uint64, closed, retired topology.Ranges, synced []topology.NodeID)) {
	snap := c.Snapshot()

	closedAt := make(map[uint64][]topology.Range)
	retiredAt := make(map[uint64][]topology.Range)
	syncedAt := make(map[uint64][]topology.NodeID)
	epochSet := make(map[uint64]struct{})

	for r, e := range snap.Closed {
		closedAt[e] = append(closedAt[e], r)
		epochSet[e] = struct{}{}
	}
	for r, e := range snap.Retired {
		retiredAt[e] = append(retiredAt[e], r)
		epochSet[e] = struct{}{}
	}
	for n, e := range snap.Synced {
		syncedAt[e] = append(syncedAt[e], n)
		epochSet[e] = struct{}{}
	}

	epochs := make([]uint64, 0, len(epochSet))
	for e := range epochSet {
		epochs = append(epochs, e)
	}
	sort.Slice(epochs, func(i, j int) bool { return epochs[i] < epochs[j] })

	for _, e := range epochs {
		synced := syncedAt[e]
		sort.Slice(synced, func(i, j int) bool { return synced[i] < synced[j] })
		fn(e, topology.NewRanges(closedAt[e]...), topology.NewRanges(retiredAt[e]...), synced)
	}
}

// Handler serves this collector over the messenger. The caller's
// snapshot rides in the request payload and is merged locally, and the
// reply carries our snapshot back, so one exchange synchronizes both
// sides.
func (c *Collector) Handler() transport.Handler {
	return func(ctx context.Context, from topology.NodeID, payload []byte) ([]byte, error) {
		if len(payload) > 0 {
			remote, err := DecodeSnapshot(payload)
			if err != nil {
				return nil, err
			}
			if c.Merge(remote) {
				c.logger.Debug("Merged watermarks from peer", "from", from)
			}
		}
		return c.Snapshot().Encode(), nil
	}
}

// FetchAndMerge exchanges watermarks with the first reachable
// candidate peer and folds its snapshot into ours
func (c *Collector) FetchAndMerge(ctx context.Context, messenger transport.Messenger, candidates []string) error {
	payload := c.Snapshot().Encode()

	reply, err := messenger.SendAny(ctx, candidates, transport.VerbWatermarks, payload)
	if err != nil {
		return err
	}

	remote, err := DecodeSnapshot(reply)
	if err != nil {
		return err
	}

	if c.Merge(remote) {
		c.logger.Info("Watermarks advanced from peer exchange")
	}
	return nil
}
