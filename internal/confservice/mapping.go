package confservice

import (
	"github.com/iamqiss/Pixelle-sub004/internal/topology"
)

// EndpointMapping is the epoch-versioned bidirectional map between node
// ids and network addresses, plus the set of nodes known removed with
// the epoch at which their removal was first seen.
//
// The mapping is owned by the Service and mutated only under its lock.
type EndpointMapping struct {
	epoch   uint64
	byNode  map[topology.NodeID]string
	byAddr  map[string]topology.NodeID
	removed map[topology.NodeID]uint64
}

// NewEndpointMapping returns an empty mapping at epoch 0.
func NewEndpointMapping() *EndpointMapping {
	return &EndpointMapping{
		byNode:  make(map[topology.NodeID]string),
		byAddr:  make(map[string]topology.NodeID),
		removed: make(map[topology.NodeID]uint64),
	}
}

// Epoch returns the epoch of the mapping currently held.
func (m *EndpointMapping) Epoch() uint64 {
	return m.epoch
}

// Update replaces the address maps with a newer mapping. Updates carry
// the epoch they were produced at; anything not strictly newer than the
// held mapping is rejected. Removal records accumulate and keep the
// epoch at which the removal was first seen.
func (m *EndpointMapping) Update(epoch uint64, endpoints map[topology.NodeID]string, removed []topology.NodeID) bool {
	if epoch <= m.epoch {
		return false
	}

	m.epoch = epoch
	m.byNode = make(map[topology.NodeID]string, len(endpoints))
	m.byAddr = make(map[string]topology.NodeID, len(endpoints))
	for node, addr := range endpoints {
		m.byNode[node] = addr
		m.byAddr[addr] = node
	}
	for _, node := range removed {
		if _, seen := m.removed[node]; !seen {
			m.removed[node] = epoch
		}
	}
	return true
}

// AddressOf returns the address for node, if known.
func (m *EndpointMapping) AddressOf(node topology.NodeID) (string, bool) {
	addr, ok := m.byNode[node]
	return addr, ok
}

// NodeAt returns the node registered at addr, if known.
func (m *EndpointMapping) NodeAt(addr string) (topology.NodeID, bool) {
	node, ok := m.byAddr[addr]
	return node, ok
}

// IsRemoved reports whether node is known removed.
func (m *EndpointMapping) IsRemoved(node topology.NodeID) bool {
	_, ok := m.removed[node]
	return ok
}

// Removed returns a copy of the removed-node records (node -> epoch of
// removal).
func (m *EndpointMapping) Removed() map[topology.NodeID]uint64 {
	out := make(map[topology.NodeID]uint64, len(m.removed))
	for node, e := range m.removed {
		out[node] = e
	}
	return out
}

// Nodes returns the ids of every mapped node.
func (m *EndpointMapping) Nodes() []topology.NodeID {
	out := make([]topology.NodeID, 0, len(m.byNode))
	for node := range m.byNode {
		out = append(out, node)
	}
	return out
}

// Addresses returns the addresses of every mapped node except self.
func (m *EndpointMapping) Addresses(self topology.NodeID) []string {
	out := make([]string, 0, len(m.byNode))
	for node, addr := range m.byNode {
		if node != self {
			out = append(out, addr)
		}
	}
	return out
}
