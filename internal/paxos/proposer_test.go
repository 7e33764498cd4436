package paxos

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quorum/paxos/internal/paxosstore"
)

// acceptorPeer adapts an in-process *Acceptor to the Peer interface,
// standing in for a remote replica reached over paxosrpc without
// actually opening a socket.
type acceptorPeer struct {
	acceptor *Acceptor
}

func (p *acceptorPeer) Prepare(_ context.Context, req PrepareRequest) (PrepareResponse, error) {
	return p.acceptor.OnPrepare(req.PID)
}

func (p *acceptorPeer) Accept(_ context.Context, req AcceptRequest) (AcceptResponse, error) {
	return p.acceptor.OnAccept(req.PID, req.Value)
}

// unreachablePeer simulates a partitioned or crashed peer: every call
// fails at the transport level.
type unreachablePeer struct{}

func (unreachablePeer) Prepare(context.Context, PrepareRequest) (PrepareResponse, error) {
	return PrepareResponse{}, errors.New("connection refused")
}

func (unreachablePeer) Accept(context.Context, AcceptRequest) (AcceptResponse, error) {
	return AcceptResponse{}, errors.New("connection refused")
}

func newClusterAcceptor(t *testing.T, name string) *Acceptor {
	t.Helper()
	store := paxosstore.NewFileStore(filepath.Join(t.TempDir(), "acceptor_"+name+".state"))
	a, err := NewAcceptor(store, zap.NewNop())
	require.NoError(t, err)
	return a
}

// threeNodeCluster returns a Proposer local to "A" plus direct handles
// to B and C's acceptors, wired as peers of A.
func threeNodeCluster(t *testing.T) (proposerA *Proposer, a, b, c *Acceptor) {
	t.Helper()
	a = newClusterAcceptor(t, "a")
	b = newClusterAcceptor(t, "b")
	c = newClusterAcceptor(t, "c")

	peers := map[string]Peer{
		"b": &acceptorPeer{acceptor: b},
		"c": &acceptorPeer{acceptor: c},
	}
	proposerA = NewProposer(a, peers, 2, zap.NewNop())
	return proposerA, a, b, c
}

func TestPropose_FreshClusterOfThree_Agrees(t *testing.T) {
	proposerA, a, b, c := threeNodeCluster(t)

	chosen, err := proposerA.Propose(context.Background(), []byte("x"))
	require.NoError(t, err)
	require.Equal(t, []byte("x"), chosen)

	for _, acc := range []*Acceptor{a, b, c} {
		_, accepted := acc.State()
		require.NotNil(t, accepted)
		require.Equal(t, []byte("x"), accepted.Value)
	}
}

func TestPropose_SecondProposer_AdoptsChosenValue(t *testing.T) {
	proposerA, a, b, c := threeNodeCluster(t)

	_, err := proposerA.Propose(context.Background(), []byte("x"))
	require.NoError(t, err)

	peersForB := map[string]Peer{
		"a": &acceptorPeer{acceptor: a},
		"c": &acceptorPeer{acceptor: c},
	}
	proposerB := NewProposer(b, peersForB, 2, zap.NewNop())

	_, err = proposerB.Propose(context.Background(), []byte("y"))
	require.Error(t, err)

	var pe *ProposeError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, ValueAlreadyChosen, pe.Kind)
	require.Equal(t, []byte("x"), pe.Value)

	for _, acc := range []*Acceptor{a, b, c} {
		_, accepted := acc.State()
		require.Equal(t, []byte("x"), accepted.Value, "y must never be chosen once x is")
	}
}

func TestPropose_N1_SucceedsWithoutPeers(t *testing.T) {
	a := newClusterAcceptor(t, "solo")
	proposer := NewProposer(a, map[string]Peer{}, 1, zap.NewNop())

	chosen, err := proposer.Propose(context.Background(), []byte("alone"))
	require.NoError(t, err)
	require.Equal(t, []byte("alone"), chosen)
}

func TestPropose_QuorumUnavailable_WhenOnlyLocalResponds(t *testing.T) {
	a := newClusterAcceptor(t, "a")
	peers := map[string]Peer{
		"b": unreachablePeer{},
		"c": unreachablePeer{},
	}
	// N=3, majority=2: local alone is not enough.
	proposer := NewProposer(a, peers, 2, zap.NewNop())

	_, err := proposer.Propose(context.Background(), []byte("x"))
	require.ErrorIs(t, err, ErrQuorumUnavailable)
}

func TestPropose_N5_MinorityPartition_StillSucceeds(t *testing.T) {
	a := newClusterAcceptor(t, "a")
	b := newClusterAcceptor(t, "b")
	c := newClusterAcceptor(t, "c")
	peers := map[string]Peer{
		"b": &acceptorPeer{acceptor: b},
		"c": &acceptorPeer{acceptor: c},
		"d": unreachablePeer{},
		"e": unreachablePeer{},
	}
	proposer := NewProposer(a, peers, 3, zap.NewNop()) // floor(5/2)+1 = 3

	chosen, err := proposer.Propose(context.Background(), []byte("quorum"))
	require.NoError(t, err)
	require.Equal(t, []byte("quorum"), chosen)
}

func TestPropose_Preempted_WhenPeerHasSeenHigherPID(t *testing.T) {
	proposerA, _, _, c := threeNodeCluster(t)

	// C independently promises a much higher pid than A is about to
	// use, simulating a concurrent higher-numbered proposer that has
	// already run Phase 1 against C.
	_, err := c.OnPrepare(1000)
	require.NoError(t, err)

	_, err = proposerA.Propose(context.Background(), []byte("x"))
	require.ErrorIs(t, err, ErrPreempted)
}

func TestPropose_AdoptsHighestPIDAcceptedValue_NotJustLastSeen(t *testing.T) {
	proposerA, _, b, c := threeNodeCluster(t)

	// B accepted an older value at a lower pid; C accepted a newer
	// value at a higher pid. The correct rule adopts C's value.
	_, err := b.OnAccept(2, []byte("older"))
	require.NoError(t, err)
	_, err = c.OnAccept(4, []byte("newer"))
	require.NoError(t, err)

	// Advance past both promises so this round's Phase 2 is not itself
	// rejected as preempted; the point of this test is adoption, not
	// preemption.
	proposerA.nextPID = 10

	_, err = proposerA.Propose(context.Background(), []byte("mine"))
	require.Error(t, err)

	var pe *ProposeError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, ValueAlreadyChosen, pe.Kind)
	require.Equal(t, []byte("newer"), pe.Value)
}

func TestPropose_NextPIDAdvancesPastHighestSeenPromise(t *testing.T) {
	proposerA, _, _, c := threeNodeCluster(t)

	_, err := c.OnPrepare(50)
	require.NoError(t, err)

	_, err = proposerA.Propose(context.Background(), []byte("x"))
	require.ErrorIs(t, err, ErrPreempted)

	require.GreaterOrEqual(t, uint64(proposerA.nextPID), uint64(50))
}
