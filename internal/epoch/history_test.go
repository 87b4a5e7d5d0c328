package epoch

import (
	"errors"
	"testing"

	"github.com/iamqiss/Pixelle-sub004/internal/topology"
)

func testTopology(e uint64, nodes ...topology.NodeID) topology.Topology {
	return topology.New(e, []topology.Shard{
		{Range: topology.Range{Start: "a", End: "z"}, Nodes: nodes},
	}, nil, nil)
}

func TestHistory_WindowStaysDense(t *testing.T) {
	h := NewHistory()

	if !h.IsEmpty() {
		t.Fatal("Expected new history to be empty")
	}

	if err := h.GetOrCreate(5); err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}

	if h.MinEpoch() != 5 || h.MaxEpoch() != 5 {
		t.Errorf("Expected window [5,5], got [%d,%d]", h.MinEpoch(), h.MaxEpoch())
	}

	// Jumping ahead backfills the gap
	if err := h.GetOrCreate(8); err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}

	if h.MinEpoch() != 5 || h.MaxEpoch() != 8 {
		t.Errorf("Expected window [5,8], got [%d,%d]", h.MinEpoch(), h.MaxEpoch())
	}

	for e := uint64(5); e <= 8; e++ {
		if _, ok := h.Status(e); !ok {
			t.Errorf("Expected state for epoch %d", e)
		}
	}

	// Extending downward backfills too
	if err := h.GetOrCreate(3); err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}

	if h.MinEpoch() != 3 {
		t.Errorf("Expected min epoch 3, got %d", h.MinEpoch())
	}
}

func TestHistory_EpochZeroRejected(t *testing.T) {
	h := NewHistory()

	err := h.GetOrCreate(0)
	if !errors.Is(err, ErrOutOfRange) {
		t.Errorf("Expected ErrOutOfRange for epoch 0, got %v", err)
	}
}

func TestHistory_ApplyTopology(t *testing.T) {
	h := NewHistory()

	applied, err := h.ApplyTopology(testTopology(2, 1, 2))
	if err != nil {
		t.Fatalf("ApplyTopology failed: %v", err)
	}
	if !applied {
		t.Error("Expected first apply to report true")
	}

	if h.ReceivedFuture(2).Status() != ResultSuccess {
		t.Error("Expected received future resolved after apply")
	}

	// Second apply for the same epoch is a no-op
	applied, err = h.ApplyTopology(testTopology(2, 1, 2, 3))
	if err != nil {
		t.Fatalf("ApplyTopology failed: %v", err)
	}
	if applied {
		t.Error("Expected duplicate apply to report false")
	}

	got := h.TopologyAt(2)
	if got == nil || len(got.Nodes()) != 2 {
		t.Errorf("Expected original topology retained, got %v", got)
	}
}

func TestHistory_SyncStatusForwardOnly(t *testing.T) {
	h := NewHistory()

	begun, err := h.BeginNotify(3)
	if err != nil || !begun {
		t.Fatalf("Expected BeginNotify to succeed, got begun=%v err=%v", begun, err)
	}

	// Second begin is a no-op, not an error
	begun, err = h.BeginNotify(3)
	if err != nil {
		t.Fatalf("BeginNotify failed: %v", err)
	}
	if begun {
		t.Error("Expected repeated BeginNotify to report false")
	}

	if err := h.Complete(3); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	status, ok := h.Status(3)
	if !ok || status != SyncCompleted {
		t.Errorf("Expected completed status, got %v (known=%v)", status, ok)
	}

	if h.AcknowledgedFuture(3).Status() != ResultSuccess {
		t.Error("Expected acknowledged future resolved after complete")
	}

	if h.LocalSyncNotified(3).Status() != ResultSuccess {
		t.Error("Expected local-sync-notified future resolved after complete")
	}

	// Completing again stays a no-op
	if err := h.Complete(3); err != nil {
		t.Fatalf("Repeated Complete failed: %v", err)
	}

	// Notification cannot restart after completion
	begun, err = h.BeginNotify(3)
	if err != nil || begun {
		t.Errorf("Expected BeginNotify after completion to be a silent no-op, got begun=%v err=%v", begun, err)
	}
}

func TestHistory_CompleteWalksFromNotStarted(t *testing.T) {
	h := NewHistory()

	// A peer ack can land before the local notify transition
	if err := h.Complete(4); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	status, _ := h.Status(4)
	if status != SyncCompleted {
		t.Errorf("Expected completed status, got %v", status)
	}
}

func TestHistory_ReadsResolveWhenMembersCovered(t *testing.T) {
	h := NewHistory()

	if _, err := h.ApplyTopology(testTopology(2, 1, 2, 3)); err != nil {
		t.Fatalf("ApplyTopology failed: %v", err)
	}

	if h.ReadsFuture(2).Status() != ResultPending {
		t.Fatal("Expected reads pending before any remote sync")
	}

	for _, node := range []topology.NodeID{1, 2} {
		if _, err := h.MarkRemoteSynced(node, 2); err != nil {
			t.Fatalf("MarkRemoteSynced failed: %v", err)
		}
	}

	if h.ReadsFuture(2).Status() != ResultPending {
		t.Fatal("Expected reads pending while one member remains")
	}

	// Duplicate observation reports false and changes nothing
	fresh, err := h.MarkRemoteSynced(1, 2)
	if err != nil {
		t.Fatalf("MarkRemoteSynced failed: %v", err)
	}
	if fresh {
		t.Error("Expected duplicate observation to report false")
	}

	if _, err := h.MarkRemoteSynced(3, 2); err != nil {
		t.Fatalf("MarkRemoteSynced failed: %v", err)
	}

	if h.ReadsFuture(2).Status() != ResultSuccess {
		t.Error("Expected reads resolved once every member synced")
	}
}

func TestHistory_SyncsBeforeTopologyCount(t *testing.T) {
	h := NewHistory()

	// Remote syncs can arrive before the topology does
	if _, err := h.MarkRemoteSynced(1, 2); err != nil {
		t.Fatalf("MarkRemoteSynced failed: %v", err)
	}
	if _, err := h.MarkRemoteSynced(2, 2); err != nil {
		t.Fatalf("MarkRemoteSynced failed: %v", err)
	}

	if _, err := h.ApplyTopology(testTopology(2, 1, 2)); err != nil {
		t.Fatalf("ApplyTopology failed: %v", err)
	}

	if h.ReadsFuture(2).Status() != ResultSuccess {
		t.Error("Expected reads resolved using syncs observed before apply")
	}
}

func TestHistory_TruncateUntil(t *testing.T) {
	h := NewHistory()

	for e := uint64(1); e <= 5; e++ {
		if _, err := h.ApplyTopology(testTopology(e, 1)); err != nil {
			t.Fatalf("ApplyTopology failed: %v", err)
		}
	}

	h.TruncateUntil(3)

	if h.MinEpoch() != 3 || h.MaxEpoch() != 5 {
		t.Errorf("Expected window [3,5], got [%d,%d]", h.MinEpoch(), h.MaxEpoch())
	}

	if !h.WasTruncated(2) {
		t.Error("Expected epoch 2 to be truncated")
	}
	if h.WasTruncated(3) {
		t.Error("Expected floor epoch 3 to be retained")
	}

	// Truncated epochs never come back
	_, err := h.ApplyTopology(testTopology(2, 1))
	if !errors.Is(err, ErrOutOfRange) {
		t.Errorf("Expected ErrOutOfRange for truncated epoch, got %v", err)
	}

	// The floor never moves backward
	h.TruncateUntil(1)
	if h.MinEpoch() != 3 {
		t.Errorf("Expected min epoch 3 after backward truncate, got %d", h.MinEpoch())
	}
}

func TestHistory_NonCompletedBefore(t *testing.T) {
	h := NewHistory()

	for e := uint64(1); e <= 4; e++ {
		if err := h.GetOrCreate(e); err != nil {
			t.Fatalf("GetOrCreate failed: %v", err)
		}
	}
	if err := h.Complete(2); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	got := h.NonCompletedBefore(3)
	want := []uint64{1, 3}
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Expected %v, got %v", want, got)
		}
	}
}

func TestHistory_FuturesForUnknownEpochFail(t *testing.T) {
	h := NewHistory()

	p := h.ReceivedFuture(9)
	if p.Status() != ResultFailure {
		t.Errorf("Expected failed promise for unknown epoch, got %v", p.Status())
	}
	if !errors.Is(p.Err(), ErrUnknownEpoch) {
		t.Errorf("Expected ErrUnknownEpoch, got %v", p.Err())
	}
}

func TestHistory_ViewOf(t *testing.T) {
	h := NewHistory()

	if _, err := h.ApplyTopology(testTopology(2, 1)); err != nil {
		t.Fatalf("ApplyTopology failed: %v", err)
	}

	view, ok := h.ViewOf(2)
	if !ok {
		t.Fatal("Expected view for known epoch")
	}
	if view.Epoch != 2 || view.Received != ResultSuccess || view.SyncStatus != SyncNotStarted {
		t.Errorf("Unexpected view: %+v", view)
	}

	if _, ok := h.ViewOf(7); ok {
		t.Error("Expected no view outside the window")
	}
}

func TestPromise_OneShot(t *testing.T) {
	p := NewPromise()

	var calls int
	p.SubscribeSuccess(func() { calls++ })

	if !p.TrySuccess() {
		t.Error("Expected first resolve to succeed")
	}
	if p.TrySuccess() {
		t.Error("Expected second resolve to report false")
	}
	if p.TryFailure(errors.New("late")) {
		t.Error("Expected failure after success to report false")
	}

	if calls != 1 {
		t.Errorf("Expected exactly one callback, got %d", calls)
	}

	// Subscribing after resolution runs immediately
	p.SubscribeSuccess(func() { calls++ })
	if calls != 2 {
		t.Errorf("Expected immediate callback, got %d calls", calls)
	}

	select {
	case <-p.Done():
	default:
		t.Error("Expected done channel closed")
	}
}
