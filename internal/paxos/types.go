// Package paxos implements the acceptor and proposer halves of a
// single-decree Paxos replica: the promise/accept state machine that
// votes on proposals, and the two-phase driver that pushes a value
// toward being chosen across a quorum of peers.
package paxos

import (
	"context"
	"fmt"
)

// PID is a proposal identifier. Within one proposer it is strictly
// increasing; across proposers it need only be totally ordered and
// (in a real deployment) unique, typically by encoding a replica
// ordinal in the low bits. This core only relies on total order.
type PID uint64

func (p PID) String() string {
	return fmt.Sprintf("%d", uint64(p))
}

// AcceptedValue is the (pid, value) pair an acceptor has voted for.
type AcceptedValue struct {
	PID   PID
	Value []byte
}

// PrepareRequest is Phase 1's request: "I want to propose under pid."
type PrepareRequest struct {
	PID PID
}

// PrepareResponse is Phase 1's reply. PromisedID is the acceptor's
// promised id after processing the request (unchanged if the request
// was not high enough to raise it). Accepted, if non-nil, is the
// highest-numbered value the acceptor has ever accepted, which the
// proposer must adopt if it reaches Phase 2.
type PrepareResponse struct {
	PromisedID PID
	Accepted   *AcceptedValue
}

// AcceptRequest is Phase 2's request: "accept value under pid."
type AcceptRequest struct {
	PID   PID
	Value []byte
}

// AcceptResponse is Phase 2's reply. Accepted is true when the
// request's pid was at least the acceptor's promised id and the vote
// was durably recorded. When false, the request was outbid;
// AcceptedValue (if any) carries what the acceptor currently holds so
// the proposer can tell it has been preempted.
//
// An earlier draft of this type overloaded a single optional-value
// field (nil meaning "your value was accepted"); an explicit success
// flag reads more clearly at every call site, so this type uses that
// instead.
type AcceptResponse struct {
	PromisedID    PID
	Accepted      bool
	AcceptedValue *AcceptedValue
}

// Peer is the proposer's view of one remote acceptor: a Prepare/Accept
// round trip that may fail with a transport-level error. Production
// implementations live in internal/paxosrpc; tests commonly supply an
// in-process fake.
type Peer interface {
	Prepare(ctx context.Context, req PrepareRequest) (PrepareResponse, error)
	Accept(ctx context.Context, req AcceptRequest) (AcceptResponse, error)
}
