package propagator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/iamqiss/Pixelle-sub004/internal/logging"
	"github.com/iamqiss/Pixelle-sub004/internal/topology"
	"github.com/iamqiss/Pixelle-sub004/internal/transport"
)

// inlineExecutor runs tasks synchronously; scheduled tasks run inline
// immediately so retries are deterministic in tests
type inlineExecutor struct {
	mu        sync.Mutex
	scheduled []func()
}

func (e *inlineExecutor) Submit(task func()) bool {
	task()
	return true
}

func (e *inlineExecutor) Schedule(delay time.Duration, task func()) *time.Timer {
	e.mu.Lock()
	e.scheduled = append(e.scheduled, task)
	e.mu.Unlock()
	return time.NewTimer(time.Hour)
}

// runScheduled drains and runs everything scheduled so far
func (e *inlineExecutor) runScheduled() {
	e.mu.Lock()
	tasks := e.scheduled
	e.scheduled = nil
	e.mu.Unlock()
	for _, task := range tasks {
		task()
	}
}

// fakeMessenger records decoded notifications per address and fails
// selected peers
type fakeMessenger struct {
	mu      sync.Mutex
	sends   map[string][]Notification
	failing map[string]bool
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{
		sends:   make(map[string][]Notification),
		failing: make(map[string]bool),
	}
}

func (m *fakeMessenger) Send(ctx context.Context, address string, verb transport.Verb, payload []byte) ([]byte, error) {
	n, err := DecodeNotification(payload)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sends[address] = append(m.sends[address], n)
	if m.failing[address] {
		return nil, errors.New("unreachable")
	}
	return nil, nil
}

func (m *fakeMessenger) SendAny(ctx context.Context, candidates []string, verb transport.Verb, payload []byte) ([]byte, error) {
	return nil, errors.New("not used")
}

func (m *fakeMessenger) sendCount(address string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sends[address])
}

func (m *fakeMessenger) sent(address string) []Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Notification(nil), m.sends[address]...)
}

// recordingListener captures acks and completions
type recordingListener struct {
	mu        sync.Mutex
	acks      []topology.NodeID
	completed []uint64
}

func (l *recordingListener) OnEndpointAck(node topology.NodeID, epoch uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.acks = append(l.acks, node)
}

func (l *recordingListener) OnComplete(epoch uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.completed = append(l.completed, epoch)
}

func (l *recordingListener) completedEpochs() []uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]uint64(nil), l.completed...)
}

func addressResolver(addrs map[topology.NodeID]string) EndpointResolver {
	return func(node topology.NodeID) (string, bool) {
		addr, ok := addrs[node]
		return addr, ok
	}
}

func newTestPropagator(m transport.Messenger, exec Executor, l Listener, addrs map[topology.NodeID]string) *Propagator {
	return New(1, m, addressResolver(addrs), exec, l, DefaultConfig(), logging.NewDevelopment())
}

func ranges(pairs ...string) topology.Ranges {
	rs := make([]topology.Range, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		rs = append(rs, topology.Range{Start: pairs[i], End: pairs[i+1]})
	}
	return topology.NewRanges(rs...)
}

func TestNotificationRoundTrip(t *testing.T) {
	n := Notification{
		Node:         4,
		Epoch:        17,
		SyncComplete: true,
		Closed:       ranges("a", "m"),
		Retired:      ranges("m", "z"),
	}
	decoded, err := DecodeNotification(n.Encode())
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded.Node != n.Node || decoded.Epoch != n.Epoch || decoded.SyncComplete != n.SyncComplete {
		t.Errorf("round trip mismatch: %+v vs %+v", decoded, n)
	}
	if !decoded.Closed.Equal(n.Closed) || !decoded.Retired.Equal(n.Retired) {
		t.Errorf("ranges mismatch: %+v vs %+v", decoded, n)
	}
}

func TestNotificationRoundTrip_SyncOnly(t *testing.T) {
	n := Notification{Node: 2, Epoch: 3, SyncComplete: true}
	decoded, err := DecodeNotification(n.Encode())
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded.Node != 2 || decoded.Epoch != 3 || !decoded.SyncComplete {
		t.Errorf("round trip mismatch: %+v", decoded)
	}
	if len(decoded.Closed) != 0 || len(decoded.Retired) != 0 {
		t.Errorf("expected empty ranges, got %+v", decoded)
	}
}

func TestNotifyAcksAndCompletes(t *testing.T) {
	messenger := newFakeMessenger()
	exec := &inlineExecutor{}
	listener := &recordingListener{}

	p := newTestPropagator(messenger, exec, listener, map[topology.NodeID]string{
		2: "n2:7071",
		3: "n3:7071",
	})

	p.Notify(5, []topology.NodeID{1, 2, 3})

	if len(listener.acks) != 2 {
		t.Errorf("expected 2 acks, got %d", len(listener.acks))
	}
	if got := listener.completedEpochs(); len(got) != 1 || got[0] != 5 {
		t.Errorf("expected completion of epoch 5, got %v", got)
	}
	if p.HasPending(5) {
		t.Error("epoch 5 should no longer be pending")
	}
}

func TestNotifySelfOnlyCompletesImmediately(t *testing.T) {
	listener := &recordingListener{}
	p := newTestPropagator(newFakeMessenger(), &inlineExecutor{}, listener, nil)

	p.Notify(3, []topology.NodeID{1})

	if got := listener.completedEpochs(); len(got) != 1 || got[0] != 3 {
		t.Errorf("expected immediate completion, got %v", got)
	}
}

func TestNotifyRetriesUntilPeerRecovers(t *testing.T) {
	messenger := newFakeMessenger()
	messenger.failing["n2:7071"] = true

	exec := &inlineExecutor{}
	listener := &recordingListener{}

	p := newTestPropagator(messenger, exec, listener, map[topology.NodeID]string{2: "n2:7071"})

	p.Notify(7, []topology.NodeID{1, 2})

	if len(listener.completedEpochs()) != 0 {
		t.Fatal("epoch must not complete while peer is unreachable")
	}
	if !p.HasPending(7) {
		t.Fatal("epoch 7 should still be pending")
	}

	// Peer recovers; the scheduled retry succeeds
	messenger.mu.Lock()
	messenger.failing["n2:7071"] = false
	messenger.mu.Unlock()

	exec.runScheduled()

	if got := listener.completedEpochs(); len(got) != 1 || got[0] != 7 {
		t.Errorf("expected completion after retry, got %v", got)
	}
	if messenger.sendCount("n2:7071") != 2 {
		t.Errorf("expected 2 send attempts, got %d", messenger.sendCount("n2:7071"))
	}
}

func TestNodeRemovalCompletesStuckEpoch(t *testing.T) {
	messenger := newFakeMessenger()
	messenger.failing["n9:7071"] = true

	exec := &inlineExecutor{}
	listener := &recordingListener{}

	p := newTestPropagator(messenger, exec, listener, map[topology.NodeID]string{9: "n9:7071"})

	p.Notify(2, []topology.NodeID{1, 9})

	if !p.HasPending(2) {
		t.Fatal("epoch 2 should be pending on the dead peer")
	}

	p.OnNodesRemoved([]topology.NodeID{9})

	if got := listener.completedEpochs(); len(got) != 1 || got[0] != 2 {
		t.Errorf("expected completion after removal, got %v", got)
	}

	// Stale retries for the removed peer become no-ops
	exec.runScheduled()
	if got := listener.completedEpochs(); len(got) != 1 {
		t.Errorf("stale retry must not re-complete, got %v", got)
	}
}

func TestNodeRemovalWithOnlyClosedPendingDoesNotComplete(t *testing.T) {
	messenger := newFakeMessenger()
	messenger.failing["n9:7071"] = true

	exec := &inlineExecutor{}
	listener := &recordingListener{}

	p := newTestPropagator(messenger, exec, listener, map[topology.NodeID]string{9: "n9:7071"})

	p.NotifyClosed(2, []topology.NodeID{9}, ranges("a", "m"))
	p.OnNodesRemoved([]topology.NodeID{9})

	if got := listener.completedEpochs(); len(got) != 0 {
		t.Errorf("closed-only ledger must not complete the epoch, got %v", got)
	}
	if p.HasPending(2) {
		t.Error("removed node's ledger should be dropped")
	}
}

func TestNotifyIdempotentPerEpoch(t *testing.T) {
	messenger := newFakeMessenger()
	messenger.failing["n2:7071"] = true
	exec := &inlineExecutor{}
	listener := &recordingListener{}

	p := newTestPropagator(messenger, exec, listener, map[topology.NodeID]string{2: "n2:7071"})

	p.Notify(4, []topology.NodeID{2})
	first := messenger.sendCount("n2:7071")

	p.Notify(4, []topology.NodeID{2})
	if messenger.sendCount("n2:7071") != first {
		t.Error("renotifying an in-flight epoch must not resend")
	}
}

func TestNotifyClosedSendsOnlyNewRanges(t *testing.T) {
	messenger := newFakeMessenger()
	messenger.failing["n2:7071"] = true
	exec := &inlineExecutor{}
	listener := &recordingListener{}

	p := newTestPropagator(messenger, exec, listener, map[topology.NodeID]string{2: "n2:7071"})

	p.NotifyClosed(3, []topology.NodeID{2}, ranges("a", "m"))
	p.NotifyClosed(3, []topology.NodeID{2}, ranges("a", "m", "m", "z"))
	// Everything already pending: nothing new to send
	p.NotifyClosed(3, []topology.NodeID{2}, ranges("a", "m"))

	sent := messenger.sent("n2:7071")
	if len(sent) != 2 {
		t.Fatalf("expected 2 sends, got %d", len(sent))
	}
	if !sent[0].Closed.Equal(ranges("a", "m")) {
		t.Errorf("first send should carry a-m, got %+v", sent[0].Closed)
	}
	if !sent[1].Closed.Equal(ranges("m", "z")) {
		t.Errorf("second send should carry only the delta m-z, got %+v", sent[1].Closed)
	}
}

func TestNotifyClosedRetriesUntilAcked(t *testing.T) {
	messenger := newFakeMessenger()
	messenger.failing["n2:7071"] = true
	exec := &inlineExecutor{}
	listener := &recordingListener{}

	p := newTestPropagator(messenger, exec, listener, map[topology.NodeID]string{2: "n2:7071"})

	p.NotifyClosed(3, []topology.NodeID{2}, ranges("a", "m"))
	if !p.HasPending(3) {
		t.Fatal("closed ranges should be pending on the unreachable peer")
	}

	messenger.mu.Lock()
	messenger.failing["n2:7071"] = false
	messenger.mu.Unlock()
	exec.runScheduled()

	if p.HasPending(3) {
		t.Error("ack should clear the closed ledger")
	}
	if messenger.sendCount("n2:7071") != 2 {
		t.Errorf("expected 2 send attempts, got %d", messenger.sendCount("n2:7071"))
	}
	// Closed acks never complete an epoch
	if got := listener.completedEpochs(); len(got) != 0 {
		t.Errorf("closed ack must not fire completion, got %v", got)
	}
	// Acked ranges can be resent if reported again
	p.NotifyClosed(3, []topology.NodeID{2}, ranges("a", "m"))
	if messenger.sendCount("n2:7071") != 3 {
		t.Errorf("re-reported ranges after ack should resend, got %d sends", messenger.sendCount("n2:7071"))
	}
}

func TestNotifyRetiredReachesPeers(t *testing.T) {
	messenger := newFakeMessenger()
	exec := &inlineExecutor{}
	listener := &recordingListener{}

	p := newTestPropagator(messenger, exec, listener, map[topology.NodeID]string{
		2: "n2:7071",
		3: "n3:7071",
	})

	p.NotifyRetired(4, []topology.NodeID{1, 2, 3}, ranges("a", "m"))

	for _, addr := range []string{"n2:7071", "n3:7071"} {
		sent := messenger.sent(addr)
		if len(sent) != 1 {
			t.Fatalf("expected 1 send to %s, got %d", addr, len(sent))
		}
		if !sent[0].Retired.Equal(ranges("a", "m")) {
			t.Errorf("retired ranges not carried to %s: %+v", addr, sent[0])
		}
		if sent[0].SyncComplete {
			t.Errorf("retired notification must not claim sync completion")
		}
	}
	if p.HasPending(4) {
		t.Error("acked retirement should clear the ledger")
	}
}

func TestSyncCompletionSurvivesClosedTraffic(t *testing.T) {
	messenger := newFakeMessenger()
	messenger.failing["n2:7071"] = true
	exec := &inlineExecutor{}
	listener := &recordingListener{}

	p := newTestPropagator(messenger, exec, listener, map[topology.NodeID]string{2: "n2:7071"})

	p.Notify(5, []topology.NodeID{1, 2})
	p.NotifyClosed(5, []topology.NodeID{2}, ranges("a", "m"))

	messenger.mu.Lock()
	messenger.failing["n2:7071"] = false
	messenger.mu.Unlock()
	exec.runScheduled()

	if got := listener.completedEpochs(); len(got) != 1 || got[0] != 5 {
		t.Errorf("sync completion should survive interleaved closed traffic, got %v", got)
	}
	if p.HasPending(5) {
		t.Error("both ledgers should be clear after acks")
	}
}

// receiverFuncs adapts test closures to the Receiver interface
type receiverFuncs struct {
	onSync    func(node topology.NodeID, epoch uint64)
	onClosed  func(ranges topology.Ranges, epoch uint64)
	onRetired func(ranges topology.Ranges, epoch uint64)
}

func (r *receiverFuncs) ReceiveRemoteSyncComplete(node topology.NodeID, epoch uint64) {
	if r.onSync != nil {
		r.onSync(node, epoch)
	}
}

func (r *receiverFuncs) ReceiveClosed(ranges topology.Ranges, epoch uint64) {
	if r.onClosed != nil {
		r.onClosed(ranges, epoch)
	}
}

func (r *receiverFuncs) ReceiveRetired(ranges topology.Ranges, epoch uint64) {
	if r.onRetired != nil {
		r.onRetired(ranges, epoch)
	}
}

func TestHandlerForwardsNotification(t *testing.T) {
	var gotNode topology.NodeID
	var gotEpoch uint64
	var gotClosed, gotRetired topology.Ranges

	h := Handler(&receiverFuncs{
		onSync: func(node topology.NodeID, epoch uint64) {
			gotNode = node
			gotEpoch = epoch
		},
		onClosed:  func(rs topology.Ranges, epoch uint64) { gotClosed = rs },
		onRetired: func(rs topology.Ranges, epoch uint64) { gotRetired = rs },
	})

	payload := Notification{
		Node:         6,
		Epoch:        11,
		SyncComplete: true,
		Closed:       ranges("a", "m"),
		Retired:      ranges("m", "z"),
	}.Encode()
	if _, err := h(context.Background(), 6, payload); err != nil {
		t.Fatalf("handler failed: %v", err)
	}

	if gotNode != 6 || gotEpoch != 11 {
		t.Errorf("receiver got (%d, %d)", gotNode, gotEpoch)
	}
	if !gotClosed.Equal(ranges("a", "m")) || !gotRetired.Equal(ranges("m", "z")) {
		t.Errorf("ranges not forwarded: closed=%v retired=%v", gotClosed, gotRetired)
	}
}

func TestHandlerSkipsAbsentParts(t *testing.T) {
	syncCalls, closedCalls := 0, 0
	h := Handler(&receiverFuncs{
		onSync:   func(topology.NodeID, uint64) { syncCalls++ },
		onClosed: func(topology.Ranges, uint64) { closedCalls++ },
	})

	payload := Notification{Node: 2, Epoch: 9, Closed: ranges("a", "m")}.Encode()
	if _, err := h(context.Background(), 2, payload); err != nil {
		t.Fatalf("handler failed: %v", err)
	}

	if syncCalls != 0 {
		t.Error("notification without sync completion must not report one")
	}
	if closedCalls != 1 {
		t.Errorf("expected 1 closed callback, got %d", closedCalls)
	}
}

func TestStopDropsPending(t *testing.T) {
	messenger := newFakeMessenger()
	messenger.failing["n2:7071"] = true
	exec := &inlineExecutor{}
	listener := &recordingListener{}

	p := newTestPropagator(messenger, exec, listener, map[topology.NodeID]string{2: "n2:7071"})

	p.Notify(6, []topology.NodeID{2})
	p.Stop()

	exec.runScheduled()

	if messenger.sendCount("n2:7071") != 1 {
		t.Errorf("no sends after stop, got %d", messenger.sendCount("n2:7071"))
	}
	if len(listener.completedEpochs()) != 0 {
		t.Error("stop must not fire completions")
	}
}
