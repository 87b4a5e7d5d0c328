package codec

import (
	"bytes"
	"errors"
	"testing"

	"github.com/iamqiss/Pixelle-sub004/internal/topology"
)

func TestReader_Primitives(t *testing.T) {
	buf := AppendUvarint(nil, 300)
	buf = AppendString(buf, "hello")
	buf = AppendBytes(buf, []byte{0x01, 0x02})

	r := NewReader(buf)
	if got := r.Uvarint(); got != 300 {
		t.Errorf("Expected 300, got %d", got)
	}
	if got := r.String(); got != "hello" {
		t.Errorf("Expected 'hello', got %q", got)
	}
	if got := r.Bytes(); !bytes.Equal(got, []byte{0x01, 0x02}) {
		t.Errorf("Expected [1 2], got %v", got)
	}
	if err := r.Finish(); err != nil {
		t.Errorf("Finish failed: %v", err)
	}
}

func TestReader_TruncatedPayload(t *testing.T) {
	buf := AppendString(nil, "hello")

	r := NewReader(buf[:3])
	_ = r.String()
	if !errors.Is(r.Err(), ErrCorrupt) {
		t.Errorf("Expected ErrCorrupt, got %v", r.Err())
	}

	// The first error sticks
	if got := r.Uvarint(); got != 0 {
		t.Errorf("Expected zero after sticky error, got %d", got)
	}
}

func TestReader_TrailingBytes(t *testing.T) {
	buf := AppendUvarint(nil, 7)
	buf = append(buf, 0xff)

	r := NewReader(buf)
	_ = r.Uvarint()
	if err := r.Finish(); !errors.Is(err, ErrCorrupt) {
		t.Errorf("Expected ErrCorrupt for trailing bytes, got %v", err)
	}
}

func TestReader_CountRejectsOversize(t *testing.T) {
	// A count far beyond the remaining bytes must not drive allocations
	buf := AppendUvarint(nil, 1<<40)

	r := NewReader(buf)
	if got := r.Count(); got != 0 {
		t.Errorf("Expected zero count, got %d", got)
	}
	if !errors.Is(r.Err(), ErrCorrupt) {
		t.Errorf("Expected ErrCorrupt, got %v", r.Err())
	}
}

func TestTopology_Roundtrip(t *testing.T) {
	original := topology.New(9, []topology.Shard{
		{Range: topology.Range{Start: "", End: "m"}, Nodes: []topology.NodeID{1, 2}},
		{Range: topology.Range{Start: "m", End: ""}, Nodes: []topology.NodeID{2, 3}},
	}, []topology.NodeID{4}, []topology.NodeID{5})

	decoded, err := DecodeTopology(EncodeTopology(original))
	if err != nil {
		t.Fatalf("DecodeTopology failed: %v", err)
	}

	if !decoded.Equal(original) {
		t.Errorf("Roundtrip mismatch:\n got %v\nwant %v", decoded, original)
	}
}

func TestDecodeTopology_Corrupt(t *testing.T) {
	encoded := EncodeTopology(topology.New(2, []topology.Shard{
		{Range: topology.Range{Start: "a", End: "z"}, Nodes: []topology.NodeID{1}},
	}, nil, nil))

	if _, err := DecodeTopology(encoded[:len(encoded)/2]); !errors.Is(err, ErrCorrupt) {
		t.Errorf("Expected ErrCorrupt for truncated topology, got %v", err)
	}
}

func TestFrame_SmallPayloadStaysRaw(t *testing.T) {
	payload := []byte("small payload")

	framed := Frame(payload)
	if framed[0] != frameRaw {
		t.Errorf("Expected raw frame flag, got 0x%02x", framed[0])
	}

	out, err := Unframe(framed)
	if err != nil {
		t.Fatalf("Unframe failed: %v", err)
	}
	if !bytes.Equal(out, payload) {
		t.Errorf("Roundtrip mismatch: got %q", out)
	}
}

func TestFrame_LargePayloadCompresses(t *testing.T) {
	payload := bytes.Repeat([]byte("topology"), 200)

	framed := Frame(payload)
	if framed[0] != frameSnappy {
		t.Errorf("Expected snappy frame flag, got 0x%02x", framed[0])
	}
	if len(framed) >= len(payload) {
		t.Errorf("Expected compression to shrink %d bytes, framed is %d", len(payload), len(framed))
	}

	out, err := Unframe(framed)
	if err != nil {
		t.Fatalf("Unframe failed: %v", err)
	}
	if !bytes.Equal(out, payload) {
		t.Error("Roundtrip mismatch after compression")
	}
}

func TestUnframe_Corrupt(t *testing.T) {
	if _, err := Unframe(nil); !errors.Is(err, ErrCorrupt) {
		t.Errorf("Expected ErrCorrupt for empty frame, got %v", err)
	}

	if _, err := Unframe([]byte{0x7f, 0x00}); !errors.Is(err, ErrCorrupt) {
		t.Errorf("Expected ErrCorrupt for unknown flag, got %v", err)
	}

	if _, err := Unframe([]byte{frameSnappy, 0xff, 0xff}); !errors.Is(err, ErrCorrupt) {
		t.Errorf("Expected ErrCorrupt for bad snappy body, got %v", err)
	}
}
