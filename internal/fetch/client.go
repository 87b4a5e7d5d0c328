package fetch

import (
	"context"
	"fmt"

	"github.com/iamqiss/Pixelle-sub004/internal/logging"
	"github.com/iamqiss/Pixelle-sub004/internal/transport"
)

// Client fetches topology windows from candidate peers
type Client struct {
	messenger transport.Messenger
	logger    *logging.Logger
}

// NewClient creates a fetch client
func NewClient(messenger transport.Messenger, logger *logging.Logger) *Client {
	return &Client{messenger: messenger, logger: logger}
}

// FetchEpochs asks candidate peers for every topology in [minEpoch,
// maxEpoch], failing over until one of them answers
func (c *Client) FetchEpochs(ctx context.Context, candidates []string, minEpoch, maxEpoch uint64) (Response, error) {
	if minEpoch == 0 || maxEpoch < minEpoch {
		return Response{}, fmt.Errorf("invalid fetch window [%d, %d]", minEpoch, maxEpoch)
	}

	req := Request{MinEpoch: minEpoch, MaxEpoch: maxEpoch}

	reply, err := c.messenger.SendAny(ctx, candidates, transport.VerbFetchTopologies, req.Encode())
	if err != nil {
		return Response{}, fmt.Errorf("fetch epochs [%d, %d]: %w", minEpoch, maxEpoch, err)
	}

	resp, err := DecodeResponse(reply)
	if err != nil {
		return Response{}, fmt.Errorf("fetch epochs [%d, %d]: bad response: %w", minEpoch, maxEpoch, err)
	}

	c.logger.Debug("Fetched topologies",
		"requested_min", minEpoch,
		"requested_max", maxEpoch,
		"first", resp.FirstEpoch,
		"count", len(resp.Topologies),
		"peer_min", resp.MinEpoch,
		"peer_current", resp.CurrentEpoch)

	return resp, nil
}

// FetchOne asks candidate peers for a single epoch
func (c *Client) FetchOne(ctx context.Context, candidates []string, epoch uint64) (Response, error) {
	return c.FetchEpochs(ctx, candidates, epoch, epoch)
}
