package epoch

import (
	"fmt"

	"github.com/iamqiss/Pixelle-sub004/internal/topology"
)

// SyncStatus tracks local-sync notification progress for one epoch.
// Transitions are linear: NotStarted -> Notifying -> Completed, and
// Completed is terminal.
type SyncStatus int

const (
	SyncNotStarted SyncStatus = iota
	SyncNotifying
	SyncCompleted
)

func (s SyncStatus) String() string {
	switch s {
	case SyncNotStarted:
		return "not_started"
	case SyncNotifying:
		return "notifying"
	case SyncCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// validTransition accepts only the forward edges of the status machine.
// Repeating the current status is a no-op, not a violation.
func validTransition(from, to SyncStatus) bool {
	return to == from || to == from+1
}

// State is the per-epoch record of synchronization progress.
//
// The containing History serializes all mutation; State carries no lock
// of its own beyond what the promises provide.
type State struct {
	epoch uint64

	syncStatus SyncStatus

	// topology is set once the topology for this epoch has been applied
	// locally; nil until then.
	topology *topology.Topology

	// syncedNodes records the nodes whose remote-sync-complete for this
	// epoch has been observed.
	syncedNodes map[topology.NodeID]struct{}

	received          *Promise // topology applied locally
	acknowledged      *Promise // peers acknowledged our sync notification
	reads             *Promise // reads against the prior epoch are safe
	localSyncNotified *Promise // fires when syncStatus reaches Completed
}

func newState(e uint64) *State {
	return &State{
		epoch:             e,
		syncedNodes:       make(map[topology.NodeID]struct{}),
		received:          NewPromise(),
		acknowledged:      NewPromise(),
		reads:             NewPromise(),
		localSyncNotified: NewPromise(),
	}
}

// Epoch returns the immutable epoch identity.
func (s *State) Epoch() uint64 { return s.epoch }

// SyncStatus returns the current sync status.
func (s *State) SyncStatus() SyncStatus { return s.syncStatus }

// Topology returns the applied topology, or nil if not yet received.
func (s *State) Topology() *topology.Topology { return s.topology }

// Received is resolved once the epoch's topology has been applied locally.
func (s *State) Received() *Promise { return s.received }

// Acknowledged is resolved once all notified peers acknowledged the
// local sync for this epoch.
func (s *State) Acknowledged() *Promise { return s.acknowledged }

// Reads is resolved once reads against the prior epoch are known safe.
func (s *State) Reads() *Promise { return s.reads }

// LocalSyncNotified is resolved exactly when SyncStatus reaches Completed.
func (s *State) LocalSyncNotified() *Promise { return s.localSyncNotified }

// setSyncStatus applies a forward transition, resolving localSyncNotified
// on Completed. Regressions are rejected. Callers hold the History lock.
func (s *State) setSyncStatus(next SyncStatus) error {
	if !validTransition(s.syncStatus, next) {
		return fmt.Errorf("%w: epoch %d cannot move %s -> %s",
			ErrStatusRegression, s.epoch, s.syncStatus, next)
	}
	s.syncStatus = next
	if next == SyncCompleted {
		s.localSyncNotified.TrySuccess()
	}
	return nil
}

// markSynced records a remote-sync-complete observation and reports
// whether it was newly observed. Callers hold the History lock.
func (s *State) markSynced(node topology.NodeID) bool {
	if _, ok := s.syncedNodes[node]; ok {
		return false
	}
	s.syncedNodes[node] = struct{}{}
	return true
}

// syncedCovers reports whether remote-sync-complete has been observed
// from every given node. Callers hold the History lock.
func (s *State) syncedCovers(nodes []topology.NodeID) bool {
	for _, n := range nodes {
		if _, ok := s.syncedNodes[n]; !ok {
			return false
		}
	}
	return true
}
