package paxos

import (
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/quorum/paxos/internal/paxosstore"
)

// Acceptor is the voting half of a Paxos replica: the promise/accept
// state machine that decides whether to promise a proposal number and
// whether to accept a value. It owns the in-memory copy
// of the durable record and serializes every Prepare/Accept behind a
// single mutex held across the durability barrier, so that a Prepare
// and an Accept racing on the same replica always observe one
// consistent promised id.
type Acceptor struct {
	mu sync.Mutex

	promisedID PID
	accepted   *AcceptedValue

	store  paxosstore.Store
	logger *zap.Logger
}

// NewAcceptor loads any existing durable record from store and
// returns a ready Acceptor. A fresh store (no prior record) yields an
// Acceptor with promisedID 0 and no accepted value.
func NewAcceptor(store paxosstore.Store, logger *zap.Logger) (*Acceptor, error) {
	rec, err := store.Load()
	if err != nil {
		return nil, errors.Wrap(err, "loading acceptor durable state")
	}

	a := &Acceptor{store: store, logger: logger}
	if rec != nil {
		a.promisedID = PID(rec.PromisedID)
		if rec.Accepted != nil {
			a.accepted = &AcceptedValue{PID: PID(rec.Accepted.PID), Value: rec.Accepted.Value}
		}
	}
	return a, nil
}

// OnPrepare is the Prepare handler. A request with
// a strictly higher pid than the current promise raises the promise
// and persists it before replying; a request at or below the current
// promise is a no-op (in particular req_pid == promisedID is treated
// as already-promised, not re-persisted). The reply always carries
// the acceptor's current state, including any accepted value, so the
// proposer can adopt it.
func (a *Acceptor) OnPrepare(pid PID) (PrepareResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if pid > a.promisedID {
		if err := a.store.StorePromise(uint64(pid)); err != nil {
			a.logger.Error("failed to persist promise",
				zap.Uint64("pid", uint64(pid)), zap.Error(err))
			return PrepareResponse{}, errors.Wrap(err, "persisting promise")
		}
		a.promisedID = pid
		a.logger.Debug("promised", zap.Uint64("pid", uint64(pid)))
	}

	return PrepareResponse{
		PromisedID: a.promisedID,
		Accepted:   a.accepted,
	}, nil
}

// OnAccept is the Accept handler. A request whose
// pid is at least the current promise wins: the promise and the
// accepted value both move to pid, durably, before the reply is
// sent. A request below the current promise is rejected without any
// mutation; the reply carries the current promise and accepted value
// so the proposer learns it has been outbid.
func (a *Acceptor) OnAccept(pid PID, value []byte) (AcceptResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if pid < a.promisedID {
		return AcceptResponse{
			PromisedID:    a.promisedID,
			Accepted:      false,
			AcceptedValue: a.accepted,
		}, nil
	}

	if err := a.store.StoreAccept(uint64(pid), value); err != nil {
		a.logger.Error("failed to persist accept",
			zap.Uint64("pid", uint64(pid)), zap.Error(err))
		return AcceptResponse{}, errors.Wrap(err, "persisting accept")
	}

	a.promisedID = pid
	a.accepted = &AcceptedValue{PID: pid, Value: value}
	a.logger.Debug("accepted", zap.Uint64("pid", uint64(pid)), zap.Int("value_len", len(value)))

	return AcceptResponse{
		PromisedID: pid,
		Accepted:   true,
	}, nil
}

// State returns the acceptor's current promised id and accepted value
// for diagnostics and tests; it takes the same lock as OnPrepare and
// OnAccept so callers see a consistent snapshot.
func (a *Acceptor) State() (PID, *AcceptedValue) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.promisedID, a.accepted
}
