package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"google.golang.org/grpc"

	"github.com/iamqiss/Pixelle-sub004/internal/logging"
	"github.com/iamqiss/Pixelle-sub004/internal/topology"
)

// ErrNoCandidates is returned when a retried send has no peers to try
var ErrNoCandidates = errors.New("no candidate peers")

// Messenger sends verb-addressed requests to peers
type Messenger interface {
	// Send delivers one request to the peer at address and returns the
	// reply payload
	Send(ctx context.Context, address string, verb Verb, payload []byte) ([]byte, error)

	// SendAny tries candidate peers in order with backoff until one
	// replies or the budget runs out
	SendAny(ctx context.Context, candidates []string, verb Verb, payload []byte) ([]byte, error)
}

// ClientConfig tunes per-request timeouts and the retry budget
type ClientConfig struct {
	// Timeout bounds a single request attempt
	Timeout time.Duration

	// MaxElapsed bounds a whole SendAny across all candidates
	MaxElapsed time.Duration
}

// DefaultClientConfig returns default client configuration
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:    2 * time.Second,
		MaxElapsed: 30 * time.Second,
	}
}

// Client implements Messenger over pooled gRPC connections
type Client struct {
	self   topology.NodeID
	pool   *ConnectionPool
	config ClientConfig
	logger *logging.Logger
}

// NewClient creates a messenger client sending as the given node
func NewClient(self topology.NodeID, pool *ConnectionPool, config ClientConfig, logger *logging.Logger) *Client {
	if config.Timeout <= 0 {
		config.Timeout = 2 * time.Second
	}
	if config.MaxElapsed <= 0 {
		config.MaxElapsed = 30 * time.Second
	}

	return &Client{
		self:   self,
		pool:   pool,
		config: config,
		logger: logger,
	}
}

// Send delivers one request and decodes the reply
func (c *Client) Send(ctx context.Context, address string, verb Verb, payload []byte) ([]byte, error) {
	conn, err := c.pool.GetConnection(address)
	if err != nil {
		return nil, err
	}

	env := NewEnvelope(c.self, verb, payload)

	callCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	in := &rawMessage{data: env.Encode()}
	out := new(rawMessage)

	if err := conn.Invoke(callCtx, invokeMethod, in, out, grpc.ForceCodec(rawCodec{})); err != nil {
		return nil, fmt.Errorf("send %s to %s: %w", verb, address, err)
	}

	reply, err := DecodeReply(out.data)
	if err != nil {
		return nil, fmt.Errorf("send %s to %s: bad reply: %w", verb, address, err)
	}
	if !reply.OK {
		return nil, fmt.Errorf("send %s to %s: peer error: %s", verb, address, reply.Error)
	}

	return reply.Payload, nil
}

// SendAny cycles through candidates with exponential backoff until one
// of them replies successfully
func (c *Client) SendAny(ctx context.Context, candidates []string, verb Verb, payload []byte) ([]byte, error) {
	if len(candidates) == 0 {
		return nil, ErrNoCandidates
	}

	attempt := 0
	op := func() ([]byte, error) {
		address := candidates[attempt%len(candidates)]
		attempt++

		reply, err := c.Send(ctx, address, verb, payload)
		if err != nil {
			c.logger.Debug("Send attempt failed",
				"verb", string(verb),
				"address", address,
				"attempt", attempt,
				"error", err)
			return nil, err
		}
		return reply, nil
	}

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(c.config.MaxElapsed),
	)
}
