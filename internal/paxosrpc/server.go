// Package paxosrpc is the peer RPC layer: it exposes an Acceptor's
// Prepare/Accept operations as net/rpc handlers, and implements
// paxos.Peer as a lazily-connected, cached client so a Proposer can
// fan requests out to remote replicas. net/rpc keeps the transport
// and serialization simple and dependency-free, matching how several
// Paxos reference implementations in this style handle peer calls.
package paxosrpc

import (
	"net"
	"net/rpc"

	"go.uber.org/zap"

	"github.com/quorum/paxos/internal/paxos"
)

// serviceName is the net/rpc registration name; remote methods are
// addressed as "Acceptor.Prepare" and "Acceptor.Accept".
const serviceName = "Acceptor"

// AcceptorServer adapts a *paxos.Acceptor to net/rpc's calling
// convention: exported methods of the shape
// func(*T) Name(args, *reply) error.
type AcceptorServer struct {
	acceptor *paxos.Acceptor
}

// NewAcceptorServer wraps acceptor for RPC exposure.
func NewAcceptorServer(acceptor *paxos.Acceptor) *AcceptorServer {
	return &AcceptorServer{acceptor: acceptor}
}

// Prepare is the RPC-facing handler for paxos.PrepareRequest/Response.
func (s *AcceptorServer) Prepare(req paxos.PrepareRequest, resp *paxos.PrepareResponse) error {
	r, err := s.acceptor.OnPrepare(req.PID)
	if err != nil {
		return err
	}
	*resp = r
	return nil
}

// Accept is the RPC-facing handler for paxos.AcceptRequest/Response.
func (s *AcceptorServer) Accept(req paxos.AcceptRequest, resp *paxos.AcceptResponse) error {
	r, err := s.acceptor.OnAccept(req.PID, req.Value)
	if err != nil {
		return err
	}
	*resp = r
	return nil
}

// Server hosts an AcceptorServer on a TCP listener, accepting
// connections for the lifetime of the replica: it never drops a
// request once accepted, it either replies or the transport closes.
type Server struct {
	listener net.Listener
	rpc      *rpc.Server
	logger   *zap.Logger

	done chan struct{}
}

// Listen binds address and starts serving acceptor's RPCs in a
// background goroutine. Call Close to stop.
func Listen(address string, acceptor *paxos.Acceptor, logger *zap.Logger) (*Server, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}

	rpcServer := rpc.NewServer()
	if err := rpcServer.RegisterName(serviceName, NewAcceptorServer(acceptor)); err != nil {
		listener.Close()
		return nil, err
	}

	s := &Server{
		listener: listener,
		rpc:      rpcServer,
		logger:   logger,
		done:     make(chan struct{}),
	}
	go s.acceptLoop()
	return s, nil
}

// Addr returns the bound listener address, useful when address was
// passed as "host:0" to pick an ephemeral port in tests.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				s.logger.Debug("accept failed", zap.Error(err))
				return
			}
		}
		go s.rpc.ServeConn(conn)
	}
}

// Close stops accepting new connections; calling it again is a no-op.
// Connections already accepted are not closed and go on being served.
func (s *Server) Close() error {
	select {
	case <-s.done:
		return nil
	default:
	}
	close(s.done)
	return s.listener.Close()
}
