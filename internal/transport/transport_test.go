package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/iamqiss/Pixelle-sub004/internal/logging"
	"github.com/iamqiss/Pixelle-sub004/internal/topology"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	payload := []byte("hello topology")
	env := NewEnvelope(topology.NodeID(7), VerbFetchTopologies, payload)

	decoded, err := DecodeEnvelope(env.Encode())
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	if decoded.ID != env.ID {
		t.Errorf("id mismatch: %s != %s", decoded.ID, env.ID)
	}
	if decoded.From != 7 {
		t.Errorf("expected from 7, got %d", decoded.From)
	}
	if decoded.Verb != VerbFetchTopologies {
		t.Errorf("verb mismatch: %s", decoded.Verb)
	}
	if !bytes.Equal(decoded.Payload, payload) {
		t.Errorf("payload mismatch")
	}
}

func TestEnvelopeLargePayloadCompression(t *testing.T) {
	// Highly repetitive payload well past the compression threshold
	payload := bytes.Repeat([]byte("epoch-topology-shard "), 200)
	env := NewEnvelope(topology.NodeID(1), VerbWatermarks, payload)

	encoded := env.Encode()
	if len(encoded) >= len(payload) {
		t.Errorf("expected compressed frame to be smaller: %d >= %d", len(encoded), len(payload))
	}

	decoded, err := DecodeEnvelope(encoded)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !bytes.Equal(decoded.Payload, payload) {
		t.Error("payload mismatch after compression round trip")
	}
}

func TestReplyRoundTrip(t *testing.T) {
	ok, err := DecodeReply(Reply{OK: true, Payload: []byte("data")}.Encode())
	if err != nil {
		t.Fatalf("decode ok reply: %v", err)
	}
	if !ok.OK || !bytes.Equal(ok.Payload, []byte("data")) {
		t.Errorf("unexpected ok reply: %+v", ok)
	}

	failed, err := DecodeReply(Reply{Error: "nope"}.Encode())
	if err != nil {
		t.Fatalf("decode failed reply: %v", err)
	}
	if failed.OK || failed.Error != "nope" {
		t.Errorf("unexpected failed reply: %+v", failed)
	}
}

func TestDecodeEnvelopeCorrupt(t *testing.T) {
	if _, err := DecodeEnvelope([]byte{0xff, 0x01}); err == nil {
		t.Error("expected error for corrupt envelope")
	}
}

// startTestServer starts a messenger server on an ephemeral port and
// returns its address and a shutdown func
func startTestServer(t *testing.T, setup func(s *Server)) (string, func()) {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	address := lis.Addr().String()
	lis.Close()

	server := NewServer(address, logging.NewDevelopment())
	setup(server)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = server.Start(ctx)
	}()

	// Wait for the listener to come up
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.Dial("tcp", address)
		if err == nil {
			conn.Close()
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	return address, func() {
		cancel()
		<-done
	}
}

func TestClientServerRoundTrip(t *testing.T) {
	address, stop := startTestServer(t, func(s *Server) {
		s.RegisterHandler(VerbWatermarks, func(ctx context.Context, from topology.NodeID, payload []byte) ([]byte, error) {
			return []byte(fmt.Sprintf("from=%d payload=%s", from, payload)), nil
		})
	})
	defer stop()

	pool := NewConnectionPool(logging.NewDevelopment())
	defer pool.Close()

	client := NewClient(topology.NodeID(3), pool, DefaultClientConfig(), logging.NewDevelopment())

	reply, err := client.Send(context.Background(), address, VerbWatermarks, []byte("ping"))
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}

	if string(reply) != "from=3 payload=ping" {
		t.Errorf("unexpected reply: %s", reply)
	}
}

func TestClientServerUnknownVerb(t *testing.T) {
	address, stop := startTestServer(t, func(s *Server) {})
	defer stop()

	pool := NewConnectionPool(logging.NewDevelopment())
	defer pool.Close()

	client := NewClient(topology.NodeID(1), pool, DefaultClientConfig(), logging.NewDevelopment())

	_, err := client.Send(context.Background(), address, VerbSyncComplete, nil)
	if err == nil {
		t.Fatal("expected error for unknown verb")
	}
	if !strings.Contains(err.Error(), "unknown verb") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestSendAnyFailsOver(t *testing.T) {
	failing, stopFailing := startTestServer(t, func(s *Server) {
		s.RegisterHandler(VerbWatermarks, func(ctx context.Context, from topology.NodeID, payload []byte) ([]byte, error) {
			return nil, errors.New("not ready")
		})
	})
	defer stopFailing()

	healthy, stopHealthy := startTestServer(t, func(s *Server) {
		s.RegisterHandler(VerbWatermarks, func(ctx context.Context, from topology.NodeID, payload []byte) ([]byte, error) {
			return []byte("ok"), nil
		})
	})
	defer stopHealthy()

	pool := NewConnectionPool(logging.NewDevelopment())
	defer pool.Close()

	cfg := ClientConfig{Timeout: time.Second, MaxElapsed: 10 * time.Second}
	client := NewClient(topology.NodeID(1), pool, cfg, logging.NewDevelopment())

	reply, err := client.SendAny(context.Background(), []string{failing, healthy}, VerbWatermarks, nil)
	if err != nil {
		t.Fatalf("expected failover to succeed: %v", err)
	}
	if string(reply) != "ok" {
		t.Errorf("unexpected reply: %s", reply)
	}
}

func TestSendAnyNoCandidates(t *testing.T) {
	pool := NewConnectionPool(logging.NewDevelopment())
	defer pool.Close()

	client := NewClient(topology.NodeID(1), pool, DefaultClientConfig(), logging.NewDevelopment())

	_, err := client.SendAny(context.Background(), nil, VerbWatermarks, nil)
	if !errors.Is(err, ErrNoCandidates) {
		t.Errorf("expected ErrNoCandidates, got %v", err)
	}
}
