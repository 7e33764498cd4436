// Package replica implements the replica façade: it owns one
// Acceptor, one Proposer and one RPC server, and exposes Propose to
// embedding callers.
package replica

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/quorum/paxos/internal/paxos"
	"github.com/quorum/paxos/internal/paxosrpc"
	"github.com/quorum/paxos/internal/paxosstore"
)

// Replica is the embedder-facing surface of this module: construct
// one per process, then call Propose to drive consensus on this
// decree.
type Replica struct {
	id      string
	address string

	acceptor *paxos.Acceptor
	proposer *paxos.Proposer
	server   *paxosrpc.Server
	logger   *zap.Logger

	// proposeMu serializes concurrent Propose calls on this replica.
	// The façade enforces it so embedders get a safe default without
	// having to know the internal detail that Proposer.nextPID is
	// otherwise unguarded.
	proposeMu sync.Mutex
}

// Config is the construction-time configuration for a Replica.
type Config struct {
	// ID names this replica for logging and for its state file name.
	ID string
	// Address is this replica's own entry in Peers, and the address
	// its RPC server binds.
	Address string
	// Peers is the full, ordered peer set including Address itself.
	Peers []string
	// StateDir is the directory the acceptor's durable record lives
	// in; the file is named "acceptor_<ID>.state" within it.
	StateDir string
	// Logger receives structured logs from every component. A no-op
	// logger is used if nil.
	Logger *zap.Logger
}

// New opens or creates the acceptor's durable state, recovers it,
// binds the RPC server, and wires a Proposer over the configured
// peer set.
func New(cfg Config) (*Replica, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if len(cfg.Peers) == 0 {
		return nil, fmt.Errorf("replica %q: peer set must include at least this replica", cfg.ID)
	}

	statePath := filepath.Join(cfg.StateDir, fmt.Sprintf("acceptor_%s.state", cfg.ID))
	store := paxosstore.NewFileStore(statePath)

	acceptor, err := paxos.NewAcceptor(store, logger.Named("acceptor"))
	if err != nil {
		return nil, fmt.Errorf("replica %q: %w", cfg.ID, err)
	}

	server, err := paxosrpc.Listen(cfg.Address, acceptor, logger.Named("rpc"))
	if err != nil {
		return nil, fmt.Errorf("replica %q: binding %s: %w", cfg.ID, cfg.Address, err)
	}

	cache := paxosrpc.NewClientCache()
	peers := make(map[string]paxos.Peer, len(cfg.Peers)-1)
	for _, addr := range cfg.Peers {
		if addr == cfg.Address {
			continue
		}
		peers[addr] = cache.Get(addr)
	}

	majority := len(cfg.Peers)/2 + 1
	proposer := paxos.NewProposer(acceptor, peers, majority, logger.Named("proposer"))

	logger.Info("replica started",
		zap.String("id", cfg.ID),
		zap.String("address", cfg.Address),
		zap.Int("peers", len(cfg.Peers)),
		zap.Int("majority", majority),
	)

	return &Replica{
		id:       cfg.ID,
		address:  cfg.Address,
		acceptor: acceptor,
		proposer: proposer,
		server:   server,
		logger:   logger,
	}, nil
}

// Propose drives the two-phase protocol for value on behalf of
// callers in this process. Concurrent calls on the same Replica are
// serialized.
func (r *Replica) Propose(ctx context.Context, value []byte) ([]byte, error) {
	r.proposeMu.Lock()
	defer r.proposeMu.Unlock()
	return r.proposer.Propose(ctx, value)
}

// State returns the local acceptor's current promised id and accepted
// value, for diagnostics.
func (r *Replica) State() (paxos.PID, *paxos.AcceptedValue) {
	return r.acceptor.State()
}

// Addr returns the RPC server's bound address.
func (r *Replica) Addr() string {
	return r.server.Addr()
}

// Close stops the RPC server from accepting new connections; peer
// connections it already accepted are still served. It does not
// affect any in-flight Propose call.
func (r *Replica) Close() error {
	return r.server.Close()
}
