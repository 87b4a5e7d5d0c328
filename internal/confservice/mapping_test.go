package confservice

import (
	"testing"

	"github.com/iamqiss/Pixelle-sub004/internal/topology"
)

func TestEndpointMapping_UpdateRequiresNewerEpoch(t *testing.T) {
	m := NewEndpointMapping()

	ok := m.Update(2, map[topology.NodeID]string{1: "a:1", 2: "b:1"}, nil)
	if !ok {
		t.Fatal("first update should be accepted")
	}
	if m.Epoch() != 2 {
		t.Fatalf("expected mapping epoch 2, got %d", m.Epoch())
	}

	if m.Update(2, map[topology.NodeID]string{1: "x:1"}, nil) {
		t.Error("same-epoch update should be rejected")
	}
	if m.Update(1, map[topology.NodeID]string{1: "x:1"}, nil) {
		t.Error("older-epoch update should be rejected")
	}

	if addr, _ := m.AddressOf(1); addr != "a:1" {
		t.Errorf("expected address a:1 after rejected updates, got %s", addr)
	}

	if !m.Update(3, map[topology.NodeID]string{1: "x:1"}, nil) {
		t.Error("newer-epoch update should be accepted")
	}
	if addr, _ := m.AddressOf(1); addr != "x:1" {
		t.Errorf("expected address x:1, got %s", addr)
	}
	if _, ok := m.AddressOf(2); ok {
		t.Error("node 2 should be gone after replacement update")
	}
}

func TestEndpointMapping_BidirectionalLookup(t *testing.T) {
	m := NewEndpointMapping()
	m.Update(1, map[topology.NodeID]string{1: "a:1", 2: "b:1"}, nil)

	if node, ok := m.NodeAt("b:1"); !ok || node != 2 {
		t.Errorf("expected node 2 at b:1, got %d (ok=%v)", node, ok)
	}
	if _, ok := m.NodeAt("missing:1"); ok {
		t.Error("unknown address should not resolve")
	}
}

func TestEndpointMapping_RemovalKeepsFirstEpoch(t *testing.T) {
	m := NewEndpointMapping()

	m.Update(5, map[topology.NodeID]string{1: "a:1"}, []topology.NodeID{9})
	m.Update(8, map[topology.NodeID]string{1: "a:1"}, []topology.NodeID{9, 10})

	removed := m.Removed()
	if removed[9] != 5 {
		t.Errorf("node 9 removal epoch should stay 5, got %d", removed[9])
	}
	if removed[10] != 8 {
		t.Errorf("node 10 removal epoch should be 8, got %d", removed[10])
	}
	if !m.IsRemoved(9) || !m.IsRemoved(10) {
		t.Error("both nodes should be recorded removed")
	}
	if m.IsRemoved(1) {
		t.Error("node 1 should not be recorded removed")
	}
}

func TestEndpointMapping_Addresses(t *testing.T) {
	m := NewEndpointMapping()
	m.Update(1, map[topology.NodeID]string{1: "a:1", 2: "b:1", 3: "c:1"}, nil)

	addrs := m.Addresses(2)
	if len(addrs) != 2 {
		t.Fatalf("expected 2 peer addresses, got %d", len(addrs))
	}
	for _, a := range addrs {
		if a == "b:1" {
			t.Error("self address should be excluded")
		}
	}
}
