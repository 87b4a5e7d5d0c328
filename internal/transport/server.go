package transport

import (
	"context"
	"fmt"
	"net"
	"sync"

	"google.golang.org/grpc"

	"github.com/iamqiss/Pixelle-sub004/internal/logging"
	"github.com/iamqiss/Pixelle-sub004/internal/topology"
)

// Handler processes one inbound request for a verb. The returned bytes
// become the reply payload.
type Handler func(ctx context.Context, from topology.NodeID, payload []byte) ([]byte, error)

const invokeMethod = "/topology.Messenger/Invoke"

// messengerServiceDesc registers the single Invoke method by hand. The
// wire format is fixed by the envelope layer, so there is no generated
// stub to lean on.
var messengerServiceDesc = grpc.ServiceDesc{
	ServiceName: "topology.Messenger",
	HandlerType: (*messengerService)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Invoke",
			Handler:    invokeHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "topology/messenger",
}

type messengerService interface {
	Invoke(ctx context.Context, in *rawMessage) (*rawMessage, error)
}

func invokeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(rawMessage)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(messengerService).Invoke(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: invokeMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(messengerService).Invoke(ctx, req.(*rawMessage))
	}
	return interceptor(ctx, in, info, handler)
}

// Server receives verb-addressed requests from peers and dispatches
// them to registered handlers
type Server struct {
	address    string
	grpcServer *grpc.Server
	logger     *logging.Logger

	mu       sync.RWMutex
	handlers map[Verb]Handler
}

// NewServer creates a new messenger server
func NewServer(address string, logger *logging.Logger) *Server {
	return &Server{
		address:  address,
		logger:   logger,
		handlers: make(map[Verb]Handler),
	}
}

// RegisterHandler installs the handler for a verb. Registering the same
// verb twice replaces the previous handler.
func (s *Server) RegisterHandler(verb Verb, handler Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[verb] = handler
}

// Invoke dispatches one inbound request to its verb handler
func (s *Server) Invoke(ctx context.Context, in *rawMessage) (*rawMessage, error) {
	env, err := DecodeEnvelope(in.data)
	if err != nil {
		s.logger.Warn("Dropping undecodable request", "error", err)
		return &rawMessage{data: Reply{Error: "bad envelope"}.Encode()}, nil
	}

	s.mu.RLock()
	handler, ok := s.handlers[env.Verb]
	s.mu.RUnlock()

	if !ok {
		s.logger.Warn("No handler for verb",
			"verb", string(env.Verb),
			"from", env.From,
			"request_id", env.ID)
		return &rawMessage{data: Reply{Error: fmt.Sprintf("unknown verb %s", env.Verb)}.Encode()}, nil
	}

	payload, err := handler(ctx, env.From, env.Payload)
	if err != nil {
		s.logger.Warn("Handler failed",
			"verb", string(env.Verb),
			"from", env.From,
			"request_id", env.ID,
			"error", err)
		return &rawMessage{data: Reply{Error: err.Error()}.Encode()}, nil
	}

	return &rawMessage{data: Reply{OK: true, Payload: payload}.Encode()}, nil
}

// Start starts the gRPC server and blocks until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	opts := []grpc.ServerOption{
		grpc.ForceServerCodec(rawCodec{}),
		grpc.MaxRecvMsgSize(maxMessageSize),
		grpc.MaxSendMsgSize(maxMessageSize),
	}

	s.grpcServer = grpc.NewServer(opts...)
	s.grpcServer.RegisterService(&messengerServiceDesc, s)

	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.address, err)
	}

	s.logger.Info("Messenger server starting", "address", s.address)

	go func() {
		if err := s.grpcServer.Serve(listener); err != nil {
			s.logger.Error("Messenger server error", "error", err)
		}
	}()

	<-ctx.Done()
	s.logger.Info("Shutting down messenger server")
	s.Stop()

	return nil
}

// Stop stops the gRPC server gracefully
func (s *Server) Stop() {
	if s.grpcServer != nil {
		s.grpcServer.GracefulStop()
	}
}
