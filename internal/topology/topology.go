package topology

import (
	"fmt"
	"sort"
)

// NodeID identifies a node participating in the cluster.
type NodeID int32

func (id NodeID) String() string {
	return fmt.Sprintf("node-%d", int32(id))
}

// Shard assigns one key range to a replica set.
type Shard struct {
	Range Range
	Nodes []NodeID // sorted ascending
}

// Contains reports whether the shard's replica set includes id.
func (s Shard) Contains(id NodeID) bool {
	for _, n := range s.Nodes {
		if n == id {
			return true
		}
	}
	return false
}

// Topology is the shard-to-node assignment valid for one epoch.
// It is an immutable value: never mutate a Topology after construction.
type Topology struct {
	Epoch      uint64
	Shards     []Shard
	RemovedIDs []NodeID // nodes removed as of this epoch, sorted
	StaleIDs   []NodeID // nodes marked stale as of this epoch, sorted
}

// New builds a Topology with canonical (sorted) ordering so that
// equality is structural.
func New(epoch uint64, shards []Shard, removed, stale []NodeID) Topology {
	canonical := make([]Shard, len(shards))
	for i, s := range shards {
		nodes := append([]NodeID(nil), s.Nodes...)
		sortNodeIDs(nodes)
		canonical[i] = Shard{Range: s.Range, Nodes: nodes}
	}
	sort.Slice(canonical, func(i, j int) bool {
		return canonical[i].Range.Compare(canonical[j].Range) < 0
	})
	return Topology{
		Epoch:      epoch,
		Shards:     canonical,
		RemovedIDs: sortedCopy(removed),
		StaleIDs:   sortedCopy(stale),
	}
}

// IsEmpty reports whether the topology assigns no shards.
func (t Topology) IsEmpty() bool {
	return len(t.Shards) == 0
}

// Nodes returns the sorted set of all nodes appearing in any shard.
func (t Topology) Nodes() []NodeID {
	seen := make(map[NodeID]struct{})
	for _, s := range t.Shards {
		for _, n := range s.Nodes {
			seen[n] = struct{}{}
		}
	}
	out := make([]NodeID, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sortNodeIDs(out)
	return out
}

// Contains reports whether id is a member of any shard in the topology.
func (t Topology) Contains(id NodeID) bool {
	for _, s := range t.Shards {
		if s.Contains(id) {
			return true
		}
	}
	return false
}

// Ranges returns the sorted set of all shard ranges.
func (t Topology) Ranges() Ranges {
	rs := make(Ranges, 0, len(t.Shards))
	for _, s := range t.Shards {
		rs = append(rs, s.Range)
	}
	return NewRanges(rs...)
}

// Equal reports structural equality of two topologies.
func (t Topology) Equal(o Topology) bool {
	if t.Epoch != o.Epoch || len(t.Shards) != len(o.Shards) {
		return false
	}
	if !nodeIDsEqual(t.RemovedIDs, o.RemovedIDs) || !nodeIDsEqual(t.StaleIDs, o.StaleIDs) {
		return false
	}
	for i, s := range t.Shards {
		os := o.Shards[i]
		if s.Range != os.Range || !nodeIDsEqual(s.Nodes, os.Nodes) {
			return false
		}
	}
	return true
}

func (t Topology) String() string {
	return fmt.Sprintf("Topology{epoch=%d, shards=%d, removed=%v, stale=%v}",
		t.Epoch, len(t.Shards), t.RemovedIDs, t.StaleIDs)
}

func sortNodeIDs(ids []NodeID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

func sortedCopy(ids []NodeID) []NodeID {
	out := append([]NodeID(nil), ids...)
	sortNodeIDs(out)
	return out
}

func nodeIDsEqual(a, b []NodeID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// SubtractNodes returns the members of a that are not members of b.
func SubtractNodes(a, b []NodeID) []NodeID {
	inB := make(map[NodeID]struct{}, len(b))
	for _, n := range b {
		inB[n] = struct{}{}
	}
	var out []NodeID
	for _, n := range a {
		if _, ok := inB[n]; !ok {
			out = append(out, n)
		}
	}
	return out
}
