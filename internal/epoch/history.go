package epoch

import (
	"errors"
	"fmt"
	"sync"

	"github.com/iamqiss/Pixelle-sub004/internal/topology"
)

var (
	// ErrOutOfRange means the epoch was discarded by truncation. Callers
	// must treat the epoch as permanently resolved.
	ErrOutOfRange = errors.New("epoch out of range")

	// ErrUnknownEpoch means no state exists for the epoch.
	ErrUnknownEpoch = errors.New("unknown epoch")

	// ErrStatusRegression means a sync status transition was not forward.
	ErrStatusRegression = errors.New("sync status regression")
)

// History is the ordered table of epoch states keyed by epoch number,
// with a movable low-water-mark. Within [MinEpoch, MaxEpoch] every epoch
// has a state; epochs below the truncation floor are gone and are never
// recreated.
type History struct {
	mu     sync.Mutex
	min    uint64
	max    uint64
	floor  uint64 // truncation floor; 0 when no truncation has happened
	states map[uint64]*State
}

// NewHistory returns an empty history.
func NewHistory() *History {
	return &History{states: make(map[uint64]*State)}
}

// MinEpoch returns the lowest retained epoch, or 0 if empty.
func (h *History) MinEpoch() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.min
}

// MaxEpoch returns the highest known epoch, or 0 if empty.
func (h *History) MaxEpoch() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.max
}

// IsEmpty reports whether no epoch has ever been recorded.
func (h *History) IsEmpty() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.max == 0
}

// WasTruncated reports whether the epoch has been discarded.
func (h *History) WasTruncated(e uint64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.wasTruncatedLocked(e)
}

func (h *History) wasTruncatedLocked(e uint64) bool {
	return h.floor != 0 && e < h.floor
}

// getOrCreateLocked returns the state for e, creating it and any states
// needed to keep [min, max] dense. Fails with ErrOutOfRange for epochs
// below the truncation floor.
func (h *History) getOrCreateLocked(e uint64) (*State, error) {
	if e == 0 {
		return nil, fmt.Errorf("%w: epoch 0 is never valid", ErrOutOfRange)
	}
	if h.wasTruncatedLocked(e) {
		return nil, fmt.Errorf("%w: epoch %d below truncation floor %d", ErrOutOfRange, e, h.floor)
	}
	if s, ok := h.states[e]; ok {
		return s, nil
	}
	if h.max == 0 {
		h.min, h.max = e, e
		s := newState(e)
		h.states[e] = s
		return s, nil
	}
	// Backfill so the retained window stays hole-free.
	for e > h.max {
		h.max++
		h.states[h.max] = newState(h.max)
	}
	for e < h.min {
		h.min--
		h.states[h.min] = newState(h.min)
	}
	return h.states[e], nil
}

// GetOrCreate ensures a state exists for e, extending the known window
// if needed.
func (h *History) GetOrCreate(e uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.getOrCreateLocked(e)
	return err
}

// ApplyTopology records t as the topology for its epoch. It reports
// whether the topology was newly applied; reporting the same epoch twice
// is a no-op.
func (h *History) ApplyTopology(t topology.Topology) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, err := h.getOrCreateLocked(t.Epoch)
	if err != nil {
		return false, err
	}
	if s.topology != nil {
		return false, nil
	}
	s.topology = &t
	s.received.TrySuccess()
	h.resolveReadsLocked(s)
	return true, nil
}

// TopologyAt returns the applied topology for e, or nil if unknown.
func (h *History) TopologyAt(e uint64) *topology.Topology {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.states[e]; ok {
		return s.topology
	}
	return nil
}

// SetSyncStatus applies a forward sync status transition for e.
func (h *History) SetSyncStatus(e uint64, status SyncStatus) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, err := h.getOrCreateLocked(e)
	if err != nil {
		return err
	}
	return s.setSyncStatus(status)
}

// BeginNotify moves e from NotStarted to Notifying. It reports false,
// without error, if notification already started or completed.
func (h *History) BeginNotify(e uint64) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, err := h.getOrCreateLocked(e)
	if err != nil {
		return false, err
	}
	if s.syncStatus != SyncNotStarted {
		return false, nil
	}
	return true, s.setSyncStatus(SyncNotifying)
}

// Complete marks e's sync Completed and resolves its acknowledged
// future. Repeated calls are no-ops.
func (h *History) Complete(e uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, err := h.getOrCreateLocked(e)
	if err != nil {
		return err
	}
	if s.syncStatus == SyncCompleted {
		return nil
	}
	if s.syncStatus == SyncNotStarted {
		// Peers can ack before the local notify observed the transition;
		// walk forward through Notifying rather than skipping an edge.
		if err := s.setSyncStatus(SyncNotifying); err != nil {
			return err
		}
	}
	if err := s.setSyncStatus(SyncCompleted); err != nil {
		return err
	}
	s.acknowledged.TrySuccess()
	return nil
}

// MarkRemoteSynced records a remote-sync-complete for node at e,
// reporting whether the observation was new.
func (h *History) MarkRemoteSynced(node topology.NodeID, e uint64) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, err := h.getOrCreateLocked(e)
	if err != nil {
		return false, err
	}
	if !s.markSynced(node) {
		return false, nil
	}
	h.resolveReadsLocked(s)
	return true, nil
}

// resolveReadsLocked resolves the reads future once remote syncs cover
// every member of the epoch's topology.
func (h *History) resolveReadsLocked(s *State) {
	if s.topology == nil {
		return
	}
	if s.syncedCovers(s.topology.Nodes()) {
		s.reads.TrySuccess()
	}
}

// Status returns the sync status for e and whether e is known.
func (h *History) Status(e uint64) (SyncStatus, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.states[e]
	if !ok {
		return SyncNotStarted, false
	}
	return s.syncStatus, true
}

// TruncateUntil advances the low-water-mark to e, discarding all states
// strictly below it. Idempotent; never moves the floor backward.
func (h *History) TruncateUntil(e uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if e <= h.floor {
		return
	}
	h.floor = e
	if h.max == 0 {
		return
	}
	for epoch := h.min; epoch < e && epoch <= h.max; epoch++ {
		delete(h.states, epoch)
	}
	if e > h.min {
		h.min = e
	}
	if h.min > h.max {
		h.max = h.min
	}
	if _, ok := h.states[h.min]; !ok {
		// Keep the window dense: the new floor epoch is retained.
		h.states[h.min] = newState(h.min)
	}
}

// NonCompletedBefore returns, in ascending order, the known epochs at or
// below max whose sync has not completed.
func (h *History) NonCompletedBefore(max uint64) []uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []uint64
	if h.max == 0 {
		return out
	}
	for e := h.min; e <= max && e <= h.max; e++ {
		if s, ok := h.states[e]; ok && s.syncStatus != SyncCompleted {
			out = append(out, e)
		}
	}
	return out
}

// ReceivedFuture returns the received signal for e, or an already-failed
// promise if e is unknown.
func (h *History) ReceivedFuture(e uint64) *Promise {
	return h.future(e, func(s *State) *Promise { return s.received })
}

// AcknowledgedFuture returns the acknowledged signal for e, or an
// already-failed promise if e is unknown.
func (h *History) AcknowledgedFuture(e uint64) *Promise {
	return h.future(e, func(s *State) *Promise { return s.acknowledged })
}

// ReadsFuture returns the reads signal for e, or an already-failed
// promise if e is unknown.
func (h *History) ReadsFuture(e uint64) *Promise {
	return h.future(e, func(s *State) *Promise { return s.reads })
}

// LocalSyncNotified returns the signal resolved when e's sync completes,
// or an already-failed promise if e is unknown.
func (h *History) LocalSyncNotified(e uint64) *Promise {
	return h.future(e, func(s *State) *Promise { return s.localSyncNotified })
}

func (h *History) future(e uint64, pick func(*State) *Promise) *Promise {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.states[e]
	if !ok {
		return FailedPromise(fmt.Errorf("%w: epoch %d", ErrUnknownEpoch, e))
	}
	return pick(s)
}

// View is a point-in-time diagnostic snapshot of one epoch's state.
type View struct {
	Epoch        uint64       `json:"epoch"`
	SyncStatus   SyncStatus   `json:"sync_status"`
	Received     ResultStatus `json:"received"`
	Acknowledged ResultStatus `json:"acknowledged"`
	Reads        ResultStatus `json:"reads"`
}

// ViewOf returns a consistent snapshot of e, or false if e is outside
// the retained window.
func (h *History) ViewOf(e uint64) (View, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.max == 0 || e < h.min || e > h.max {
		return View{}, false
	}
	s, ok := h.states[e]
	if !ok {
		return View{}, false
	}
	return View{
		Epoch:        e,
		SyncStatus:   s.syncStatus,
		Received:     s.received.Status(),
		Acknowledged: s.acknowledged.Status(),
		Reads:        s.reads.Status(),
	}, true
}
