// Package fetch implements the topology fetch protocol: a node that is
// missing epochs asks a peer for a window of topologies and applies
// whatever slice of that window the peer still retains.
package fetch

import (
	"github.com/iamqiss/Pixelle-sub004/internal/codec"
	"github.com/iamqiss/Pixelle-sub004/internal/topology"
)

// Request asks a peer for every topology in [MinEpoch, MaxEpoch]
type Request struct {
	MinEpoch uint64
	MaxEpoch uint64
}

// Encode serializes the request
func (r Request) Encode() []byte {
	buf := codec.AppendUvarint(nil, r.MinEpoch)
	return codec.AppendUvarint(buf, r.MaxEpoch)
}

// DecodeRequest parses a request produced by Encode
func DecodeRequest(data []byte) (Request, error) {
	r := codec.NewReader(data)
	req := Request{
		MinEpoch: r.Uvarint(),
		MaxEpoch: r.Uvarint(),
	}
	if err := r.Finish(); err != nil {
		return Request{}, err
	}
	return req, nil
}

// Response carries the slice of the requested window the peer retains.
// Topologies[i] is the topology for epoch FirstEpoch+i; the slice is
// dense. MinEpoch and CurrentEpoch describe the peer's own window so
// the caller can tell truncation from absence.
type Response struct {
	// MinEpoch is the lowest epoch the peer retains
	MinEpoch uint64

	// CurrentEpoch is the peer's latest known epoch
	CurrentEpoch uint64

	// FirstEpoch is the epoch of Topologies[0], zero when empty
	FirstEpoch uint64

	Topologies []topology.Topology
}

// Encode serializes the response using the compact topology encoding
func (r Response) Encode() []byte {
	buf := codec.AppendUvarint(nil, r.MinEpoch)
	buf = codec.AppendUvarint(buf, r.CurrentEpoch)
	buf = codec.AppendUvarint(buf, r.FirstEpoch)
	buf = codec.AppendUvarint(buf, uint64(len(r.Topologies)))
	for _, t := range r.Topologies {
		buf = codec.AppendBytes(buf, codec.EncodeTopologyCompact(t))
	}
	return buf
}

// DecodeResponse parses a response produced by Encode
func DecodeResponse(data []byte) (Response, error) {
	r := codec.NewReader(data)
	resp := Response{
		MinEpoch:     r.Uvarint(),
		CurrentEpoch: r.Uvarint(),
		FirstEpoch:   r.Uvarint(),
	}

	count := r.Count()
	for i := 0; i < count; i++ {
		encoded := r.Bytes()
		if r.Err() != nil {
			return Response{}, r.Err()
		}
		t, err := codec.DecodeTopologyCompact(encoded)
		if err != nil {
			return Response{}, err
		}
		resp.Topologies = append(resp.Topologies, t)
	}

	if err := r.Finish(); err != nil {
		return Response{}, err
	}
	return resp, nil
}
