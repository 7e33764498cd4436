package paxosrpc

import (
	"context"
	"net"
	"net/rpc"
	"sync"
	"time"

	"github.com/quorum/paxos/internal/paxos"
)

// dialTimeout bounds how long establishing a new connection to a peer
// may take; it is independent of the per-call context deadline.
const dialTimeout = 5 * time.Second

// Client is a lazily-connected, reusable handle to one peer's
// AcceptorServer. It implements paxos.Peer. A transport error does not
// evict or reset the underlying connection; reconnection on failure
// is an acknowledged limitation of this client, not something callers
// should rely on.
type Client struct {
	address string

	mu   sync.Mutex
	conn *rpc.Client
}

// NewClient returns a client for address. It does not dial until the
// first Prepare or Accept call.
func NewClient(address string) *Client {
	return &Client{address: address}
}

func (c *Client) ensureConnected() (*rpc.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return c.conn, nil
	}

	conn, err := net.DialTimeout("tcp", c.address, dialTimeout)
	if err != nil {
		return nil, err
	}

	c.conn = rpc.NewClient(conn)
	return c.conn, nil
}

// Prepare implements paxos.Peer.
func (c *Client) Prepare(ctx context.Context, req paxos.PrepareRequest) (paxos.PrepareResponse, error) {
	conn, err := c.ensureConnected()
	if err != nil {
		return paxos.PrepareResponse{}, err
	}

	var resp paxos.PrepareResponse
	call := conn.Go(serviceName+".Prepare", req, &resp, make(chan *rpc.Call, 1))
	select {
	case <-ctx.Done():
		return paxos.PrepareResponse{}, ctx.Err()
	case res := <-call.Done:
		if res.Error != nil {
			return paxos.PrepareResponse{}, res.Error
		}
		return resp, nil
	}
}

// Accept implements paxos.Peer.
func (c *Client) Accept(ctx context.Context, req paxos.AcceptRequest) (paxos.AcceptResponse, error) {
	conn, err := c.ensureConnected()
	if err != nil {
		return paxos.AcceptResponse{}, err
	}

	var resp paxos.AcceptResponse
	call := conn.Go(serviceName+".Accept", req, &resp, make(chan *rpc.Call, 1))
	select {
	case <-ctx.Done():
		return paxos.AcceptResponse{}, ctx.Err()
	case res := <-call.Done:
		if res.Error != nil {
			return paxos.AcceptResponse{}, res.Error
		}
		return resp, nil
	}
}

// Close releases the underlying connection, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// ClientCache is a per-peer client cache: a mapping from address to
// client handle, created lazily on first use and reused for every
// subsequent call. There is no eviction.
type ClientCache struct {
	mu      sync.Mutex
	clients map[string]*Client
}

// NewClientCache returns an empty cache.
func NewClientCache() *ClientCache {
	return &ClientCache{clients: make(map[string]*Client)}
}

// Get returns the cached client for address, creating one if this is
// the first time address has been requested. The returned client is
// not yet connected; connection happens lazily on first RPC.
func (c *ClientCache) Get(address string) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cl, ok := c.clients[address]; ok {
		return cl
	}
	cl := NewClient(address)
	c.clients[address] = cl
	return cl
}
