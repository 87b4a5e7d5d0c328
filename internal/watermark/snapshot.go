// Package watermark tracks durability watermarks for the epoch window:
// which ranges have been closed or retired as of which epoch, and
// through which epoch each node has completed sync. A snapshot merges
// with any peer's snapshot by taking the point-wise maximum, so gossip
// in any order converges on the same result.
package watermark

import (
	"sort"

	"github.com/iamqiss/Pixelle-sub004/internal/codec"
	"github.com/iamqiss/Pixelle-sub004/internal/topology"
)

// Snapshot is one node's view of the cluster watermarks
type Snapshot struct {
	// Closed maps a range to the highest epoch it is closed for
	Closed map[topology.Range]uint64

	// Retired maps a range to the highest epoch it is retired for.
	// A retired range is always closed at the same or higher epoch.
	Retired map[topology.Range]uint64

	// Synced maps a node to the highest epoch it has finished syncing
	Synced map[topology.NodeID]uint64
}

// NewSnapshot returns an empty snapshot
func NewSnapshot() Snapshot {
	return Snapshot{
		Closed:  make(map[topology.Range]uint64),
		Retired: make(map[topology.Range]uint64),
		Synced:  make(map[topology.NodeID]uint64),
	}
}

// Clone returns a deep copy of the snapshot
func (s Snapshot) Clone() Snapshot {
	out := NewSnapshot()
	for r, e := range s.Closed {
		out.Closed[r] = e
	}
	for r, e := range s.Retired {
		out.Retired[r] = e
	}
	for n, e := range s.Synced {
		out.Synced[n] = e
	}
	return out
}

// IsEmpty reports whether the snapshot carries no watermarks
func (s Snapshot) IsEmpty() bool {
	return len(s.Closed) == 0 && len(s.Retired) == 0 && len(s.Synced) == 0
}

// Merge folds other into s, keeping the maximum epoch per entry.
// Returns true if anything in s advanced.
func (s Snapshot) Merge(other Snapshot) bool {
	changed := false
	for r, e := range other.Closed {
		if e > s.Closed[r] {
			s.Closed[r] = e
			changed = true
		}
	}
	for r, e := range other.Retired {
		if e > s.Retired[r] {
			s.Retired[r] = e
			changed = true
		}
	}
	for n, e := range other.Synced {
		if e > s.Synced[n] {
			s.Synced[n] = e
			changed = true
		}
	}
	return changed
}

// Equal reports whether two snapshots carry identical watermarks
func (s Snapshot) Equal(other Snapshot) bool {
	if len(s.Closed) != len(other.Closed) ||
		len(s.Retired) != len(other.Retired) ||
		len(s.Synced) != len(other.Synced) {
		return false
	}
	for r, e := range s.Closed {
		if other.Closed[r] != e {
			return false
		}
	}
	for r, e := range s.Retired {
		if other.Retired[r] != e {
			return false
		}
	}
	for n, e := range s.Synced {
		if other.Synced[n] != e {
			return false
		}
	}
	return true
}

// sortedRangeKeys returns the map's ranges in canonical order
func sortedRangeKeys(m map[topology.Range]uint64) []topology.Range {
	keys := make([]topology.Range, 0, len(m))
	for r := range m {
		keys = append(keys, r)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Compare(keys[j]) < 0 })
	return keys
}

// Encode serializes the snapshot deterministically
func (s Snapshot) Encode() []byte {
	buf := codec.AppendUvarint(nil, uint64(len(s.Closed)))
	for _, r := range sortedRangeKeys(s.Closed) {
		buf = codec.AppendRange(buf, r)
		buf = codec.AppendUvarint(buf, s.Closed[r])
	}

	buf = codec.AppendUvarint(buf, uint64(len(s.Retired)))
	for _, r := range sortedRangeKeys(s.Retired) {
		buf = codec.AppendRange(buf, r)
		buf = codec.AppendUvarint(buf, s.Retired[r])
	}

	nodes := make([]topology.NodeID, 0, len(s.Synced))
	for n := range s.Synced {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })

	buf = codec.AppendUvarint(buf, uint64(len(nodes)))
	for _, n := range nodes {
		buf = codec.AppendNodeID(buf, n)
		buf = codec.AppendUvarint(buf, s.Synced[n])
	}

	return buf
}

// DecodeSnapshot parses a snapshot produced by Encode
func DecodeSnapshot(data []byte) (Snapshot, error) {
	r := codec.NewReader(data)
	s := NewSnapshot()

	closedCount := r.Count()
	for i := 0; i < closedCount; i++ {
		rng := codec.ReadRange(r)
		epoch := r.Uvarint()
		if r.Err() != nil {
			return Snapshot{}, r.Err()
		}
		s.Closed[rng] = epoch
	}

	retiredCount := r.Count()
	for i := 0; i < retiredCount; i++ {
		rng := codec.ReadRange(r)
		epoch := r.Uvarint()
		if r.Err() != nil {
			return Snapshot{}, r.Err()
		}
		s.Retired[rng] = epoch
	}

	syncedCount := r.Count()
	for i := 0; i < syncedCount; i++ {
		node := codec.ReadNodeID(r)
		epoch := r.Uvarint()
		if r.Err() != nil {
			return Snapshot{}, r.Err()
		}
		s.Synced[node] = epoch
	}

	if err := r.Finish(); err != nil {
		return Snapshot{}, err
	}
	return s, nil
}
