package paxos

import (
	"bytes"
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Proposer drives the two-phase Paxos protocol on behalf of a caller
// that wants this replica to choose value.
//
// Propose mutates nextPID and is not internally serialized: that is
// left to the caller (or an outer lock in the façade that embeds this
// type). Calling Propose concurrently from multiple goroutines on the
// same Proposer is a caller bug, not a protocol one.
type Proposer struct {
	local    *Acceptor
	peers    map[string]Peer // remote peers only, keyed by address; excludes self
	majority int             // floor(N/2)+1 over the full peer set, self included

	nextPID PID
	logger  *zap.Logger
}

// NewProposer builds a Proposer that drives local directly (no RPC)
// and fans out to peers (which must not include local's own address)
// for the remainder of the configured peer set. majority is
// floor(N/2)+1 where N counts every replica, including this one.
func NewProposer(local *Acceptor, peers map[string]Peer, majority int, logger *zap.Logger) *Proposer {
	return &Proposer{
		local:    local,
		peers:    peers,
		majority: majority,
		logger:   logger,
	}
}

// Propose runs Phase 1 (Prepare) and, if a quorum promises, Phase 2
// (Accept) for value. It returns value itself (success) if value was
// the one chosen, or a *ProposeError: kind ValueAlreadyChosen if a
// previously accepted value had to be adopted instead, Preempted if a
// higher-numbered proposer intervened, QuorumUnavailable if fewer
// than a majority responded in either phase, or an Internal error if
// the local acceptor's own durability failed.
func (p *Proposer) Propose(ctx context.Context, value []byte) ([]byte, error) {
	p.nextPID++
	pid := p.nextPID

	p.logger.Info("proposing", zap.Uint64("pid", uint64(pid)), zap.Int("value_len", len(value)))

	adopted, err := p.runPhase1(ctx, pid)
	if err != nil {
		return nil, err
	}

	chosen := value
	wasAdopted := false
	if adopted != nil {
		chosen = adopted.Value
		wasAdopted = true
	}

	if err := p.runPhase2(ctx, pid, chosen); err != nil {
		return nil, err
	}

	if wasAdopted {
		p.logger.Info("phase 2 succeeded with an adopted value; caller's value was not chosen",
			zap.Uint64("pid", uint64(pid)))
		return nil, &ProposeError{Kind: ValueAlreadyChosen, Value: chosen}
	}

	p.logger.Info("value chosen", zap.Uint64("pid", uint64(pid)))
	return chosen, nil
}

// runPhase1 fans Prepare(pid) out to every peer plus the local
// acceptor, tallies responses, and returns the value to adopt (if
// any accepted value was observed in the quorum).
func (p *Proposer) runPhase1(ctx context.Context, pid PID) (*AcceptedValue, error) {
	replies := p.fanOutPrepare(ctx, pid)

	localResp, err := p.local.OnPrepare(pid)
	if err != nil {
		return nil, &ProposeError{Kind: Internal, Err: err}
	}

	successCount := 1 // local always counts toward its own quorum
	maxPromised := localResp.PromisedID
	var adopted *AcceptedValue
	if localResp.Accepted != nil {
		adopted = localResp.Accepted
	}

	for _, resp := range replies {
		if resp == nil {
			continue // transport error or skipped peer: no contribution
		}
		successCount++
		if resp.PromisedID > maxPromised {
			maxPromised = resp.PromisedID
		}
		if resp.Accepted != nil && (adopted == nil || resp.Accepted.PID > adopted.PID) {
			adopted = resp.Accepted
		}
	}

	if successCount < p.majority {
		p.logger.Warn("phase 1 quorum unavailable",
			zap.Uint64("pid", uint64(pid)), zap.Int("responses", successCount), zap.Int("majority", p.majority))
		return nil, &ProposeError{Kind: QuorumUnavailable}
	}

	// A future proposal must outbid the highest promise we've now
	// observed, even though this in-flight proposal keeps using pid.
	if maxPromised > p.nextPID {
		p.nextPID = maxPromised
	}

	return adopted, nil
}

// runPhase2 fans Accept(pid, value) out to every peer plus the local
// acceptor and tallies responses.
func (p *Proposer) runPhase2(ctx context.Context, pid PID, value []byte) error {
	replies := p.fanOutAccept(ctx, pid, value)

	localResp, err := p.local.OnAccept(pid, value)
	if err != nil {
		return &ProposeError{Kind: Internal, Err: err}
	}
	// The local reply is tallied like any remote one: a local promise
	// above pid (held before Phase 1, or raised by another proposer's
	// Prepare since) means this proposal has been preempted.
	if localResp.PromisedID > pid {
		p.logger.Warn("preempted by higher-numbered proposer",
			zap.Uint64("pid", uint64(pid)), zap.Uint64("seen", uint64(localResp.PromisedID)))
		return &ProposeError{Kind: Preempted}
	}
	successCount := 1

	for _, resp := range replies {
		if resp == nil {
			continue
		}
		if resp.PromisedID > pid {
			p.logger.Warn("preempted by higher-numbered proposer",
				zap.Uint64("pid", uint64(pid)), zap.Uint64("seen", uint64(resp.PromisedID)))
			return &ProposeError{Kind: Preempted}
		}
		successCount++
	}

	if successCount < p.majority {
		p.logger.Warn("phase 2 quorum unavailable",
			zap.Uint64("pid", uint64(pid)), zap.Int("responses", successCount), zap.Int("majority", p.majority))
		return &ProposeError{Kind: QuorumUnavailable}
	}

	return nil
}

// fanOutPrepare issues Prepare(pid) to every remote peer concurrently
// and waits for all of them; a peer that errors or times out
// contributes a nil entry, never aborting the others.
func (p *Proposer) fanOutPrepare(ctx context.Context, pid PID) []*PrepareResponse {
	addrs := make([]string, 0, len(p.peers))
	for addr := range p.peers {
		addrs = append(addrs, addr)
	}

	results := make([]*PrepareResponse, len(addrs))
	g, gctx := errgroup.WithContext(ctx)
	for i, addr := range addrs {
		i, addr := i, addr
		peer := p.peers[addr]
		g.Go(func() error {
			resp, err := peer.Prepare(gctx, PrepareRequest{PID: pid})
			if err != nil {
				p.logger.Debug("prepare rpc failed", zap.String("peer", addr), zap.Error(err))
				return nil
			}
			results[i] = &resp
			return nil
		})
	}
	_ = g.Wait() // inner goroutines never return a non-nil error
	return results
}

// fanOutAccept issues Accept(pid, value) to every remote peer
// concurrently and waits for all of them, with the same
// no-abort-on-error discipline as fanOutPrepare.
func (p *Proposer) fanOutAccept(ctx context.Context, pid PID, value []byte) []*AcceptResponse {
	addrs := make([]string, 0, len(p.peers))
	for addr := range p.peers {
		addrs = append(addrs, addr)
	}

	results := make([]*AcceptResponse, len(addrs))
	g, gctx := errgroup.WithContext(ctx)
	for i, addr := range addrs {
		i, addr := i, addr
		peer := p.peers[addr]
		g.Go(func() error {
			resp, err := peer.Accept(gctx, AcceptRequest{PID: pid, Value: bytes.Clone(value)})
			if err != nil {
				p.logger.Debug("accept rpc failed", zap.String("peer", addr), zap.Error(err))
				return nil
			}
			results[i] = &resp
			return nil
		})
	}
	_ = g.Wait()
	return results
}
