package codec

import (
	"fmt"
	"sort"

	"github.com/iamqiss/Pixelle-sub004/internal/topology"
)

// Wire layout, standard topology encoding:
//
//	epoch       uvarint
//	shardCount  uvarint
//	shards[]    range, nodeCount uvarint, nodeIDs[]
//	removedIDs  uvarint count, nodeIDs[]
//	staleIDs    uvarint count, nodeIDs[]
//
// The compact encoding additionally deduplicates shared ranges across
// shards through an index table. Both round-trip exactly.

// AppendNodeID appends one node id.
func AppendNodeID(buf []byte, id topology.NodeID) []byte {
	return AppendUvarint(buf, uint64(uint32(id)))
}

// ReadNodeID reads one node id.
func ReadNodeID(r *Reader) topology.NodeID {
	return topology.NodeID(uint32(r.Uvarint()))
}

// AppendNodeIDs appends a counted node id list.
func AppendNodeIDs(buf []byte, ids []topology.NodeID) []byte {
	buf = AppendUvarint(buf, uint64(len(ids)))
	for _, id := range ids {
		buf = AppendNodeID(buf, id)
	}
	return buf
}

// ReadNodeIDs reads a counted node id list.
func ReadNodeIDs(r *Reader) []topology.NodeID {
	n := r.Count()
	if n == 0 {
		return nil
	}
	ids := make([]topology.NodeID, 0, n)
	for i := 0; i < n; i++ {
		ids = append(ids, ReadNodeID(r))
	}
	return ids
}

// AppendRange appends one key range.
func AppendRange(buf []byte, rng topology.Range) []byte {
	buf = AppendString(buf, rng.Start)
	return AppendString(buf, rng.End)
}

// ReadRange reads one key range.
func ReadRange(r *Reader) topology.Range {
	start := r.String()
	end := r.String()
	return topology.Range{Start: start, End: end}
}

// AppendRanges appends a counted range list.
func AppendRanges(buf []byte, rs topology.Ranges) []byte {
	buf = AppendUvarint(buf, uint64(len(rs)))
	for _, rng := range rs {
		buf = AppendRange(buf, rng)
	}
	return buf
}

// ReadRanges reads a counted range list.
func ReadRanges(r *Reader) topology.Ranges {
	n := r.Count()
	if n == 0 {
		return nil
	}
	rs := make(topology.Ranges, 0, n)
	for i := 0; i < n; i++ {
		rs = append(rs, ReadRange(r))
	}
	return rs
}

// AppendTopology appends t in the standard encoding.
func AppendTopology(buf []byte, t topology.Topology) []byte {
	buf = AppendUvarint(buf, t.Epoch)
	buf = AppendUvarint(buf, uint64(len(t.Shards)))
	for _, s := range t.Shards {
		buf = AppendRange(buf, s.Range)
		buf = AppendNodeIDs(buf, s.Nodes)
	}
	buf = AppendNodeIDs(buf, t.RemovedIDs)
	return AppendNodeIDs(buf, t.StaleIDs)
}

// ReadTopology reads one topology in the standard encoding.
func ReadTopology(r *Reader) topology.Topology {
	e := r.Uvarint()
	shardCount := r.Count()
	shards := make([]topology.Shard, 0, shardCount)
	for i := 0; i < shardCount; i++ {
		rng := ReadRange(r)
		nodes := ReadNodeIDs(r)
		shards = append(shards, topology.Shard{Range: rng, Nodes: nodes})
	}
	removed := ReadNodeIDs(r)
	stale := ReadNodeIDs(r)
	if r.Err() != nil {
		return topology.Topology{}
	}
	return topology.New(e, shards, removed, stale)
}

// EncodeTopology serializes t in the standard encoding.
func EncodeTopology(t topology.Topology) []byte {
	return AppendTopology(nil, t)
}

// DecodeTopology deserializes a standard-encoded topology.
func DecodeTopology(buf []byte) (topology.Topology, error) {
	r := NewReader(buf)
	t := ReadTopology(r)
	if err := r.Finish(); err != nil {
		return topology.Topology{}, err
	}
	return t, nil
}

// EncodeTopologyCompact serializes t with a range index table so that
// ranges shared across shards are written once.
func EncodeTopologyCompact(t topology.Topology) []byte {
	buf := AppendUvarint(nil, t.Epoch)
	buf = AppendNodeIDs(buf, t.RemovedIDs)
	buf = AppendNodeIDs(buf, t.StaleIDs)

	// Collect distinct ranges in deterministic order.
	index := make(map[topology.Range]int)
	var table []topology.Range
	for _, s := range t.Shards {
		if _, ok := index[s.Range]; !ok {
			index[s.Range] = 0
			table = append(table, s.Range)
		}
	}
	sort.Slice(table, func(i, j int) bool { return table[i].Compare(table[j]) < 0 })
	for i, rng := range table {
		index[rng] = i
	}

	buf = AppendUvarint(buf, uint64(len(table)))
	for _, rng := range table {
		buf = AppendRange(buf, rng)
	}

	buf = AppendUvarint(buf, uint64(len(t.Shards)))
	for _, s := range t.Shards {
		buf = AppendUvarint(buf, uint64(index[s.Range]))
		buf = AppendNodeIDs(buf, s.Nodes)
	}
	return buf
}

// DecodeTopologyCompact deserializes a compact-encoded topology.
func DecodeTopologyCompact(buf []byte) (topology.Topology, error) {
	r := NewReader(buf)
	e := r.Uvarint()
	removed := ReadNodeIDs(r)
	stale := ReadNodeIDs(r)

	tableLen := r.Count()
	table := make([]topology.Range, 0, tableLen)
	for i := 0; i < tableLen; i++ {
		table = append(table, ReadRange(r))
	}

	shardCount := r.Count()
	shards := make([]topology.Shard, 0, shardCount)
	for i := 0; i < shardCount; i++ {
		idx := r.Uvarint()
		if r.Err() == nil && idx >= uint64(len(table)) {
			return topology.Topology{}, fmt.Errorf("%w: range index %d out of %d", ErrCorrupt, idx, len(table))
		}
		nodes := ReadNodeIDs(r)
		if r.Err() != nil {
			break
		}
		shards = append(shards, topology.Shard{Range: table[idx], Nodes: nodes})
	}
	if err := r.Finish(); err != nil {
		return topology.Topology{}, err
	}
	return topology.New(e, shards, removed, stale), nil
}
