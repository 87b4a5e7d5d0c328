package fetch

import (
	"context"

	"github.com/iamqiss/Pixelle-sub004/internal/logging"
	"github.com/iamqiss/Pixelle-sub004/internal/topology"
	"github.com/iamqiss/Pixelle-sub004/internal/transport"
)

// Source exposes the local epoch window to remote fetchers
type Source interface {
	// MinEpoch is the lowest retained epoch, zero when empty
	MinEpoch() uint64

	// MaxEpoch is the latest known epoch, zero when empty
	MaxEpoch() uint64

	// TopologyAt returns the topology for a retained epoch
	TopologyAt(epoch uint64) (topology.Topology, error)
}

// Server answers fetch requests from the local epoch window
type Server struct {
	source Source
	logger *logging.Logger
}

// NewServer creates a fetch server over the given source
func NewServer(source Source, logger *logging.Logger) *Server {
	return &Server{source: source, logger: logger}
}

// Handler serves fetch requests over the messenger
func (s *Server) Handler() transport.Handler {
	return func(ctx context.Context, from topology.NodeID, payload []byte) ([]byte, error) {
		req, err := DecodeRequest(payload)
		if err != nil {
			return nil, err
		}
		resp := s.serve(req, from)
		return resp.Encode(), nil
	}
}

// serve clamps the requested window to what this node retains and
// collects the topologies. A requester asking for truncated epochs gets
// our window bounds back so it can tell what it missed.
func (s *Server) serve(req Request, from topology.NodeID) Response {
	resp := Response{
		MinEpoch:     s.source.MinEpoch(),
		CurrentEpoch: s.source.MaxEpoch(),
	}

	if resp.CurrentEpoch == 0 {
		return resp
	}

	first := req.MinEpoch
	if first < resp.MinEpoch {
		first = resp.MinEpoch
	}
	last := req.MaxEpoch
	if last > resp.CurrentEpoch {
		last = resp.CurrentEpoch
	}

	if first > last {
		return resp
	}

	for epoch := first; epoch <= last; epoch++ {
		t, err := s.source.TopologyAt(epoch)
		if err != nil {
			// A hole inside the retained window should not happen, but
			// truncate the reply rather than ship a sparse slice.
			s.logger.Warn("Missing topology inside retained window",
				"epoch", epoch,
				"from", from,
				"error", err)
			break
		}
		if resp.FirstEpoch == 0 {
			resp.FirstEpoch = epoch
		}
		resp.Topologies = append(resp.Topologies, t)
	}

	s.logger.Debug("Served topology fetch",
		"from", from,
		"requested_min", req.MinEpoch,
		"requested_max", req.MaxEpoch,
		"served", len(resp.Topologies))

	return resp
}
