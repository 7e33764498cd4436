package paxos

import "fmt"

// ProposeErrorKind enumerates the ways Propose can fail.
type ProposeErrorKind int

const (
	// QuorumUnavailable: fewer than a majority of peers responded
	// successfully in Phase 1 or Phase 2.
	QuorumUnavailable ProposeErrorKind = iota + 1

	// Preempted: a Phase 2 reply carried a promised id higher than
	// this proposal's, meaning another proposer has intervened.
	Preempted

	// ValueAlreadyChosen: Phase 2 succeeded, but with a value adopted
	// from a prior acceptor state rather than the caller's value.
	ValueAlreadyChosen

	// Internal: a local durability failure prevented progress on this
	// proposal. The replica itself may still be usable.
	Internal
)

func (k ProposeErrorKind) String() string {
	switch k {
	case QuorumUnavailable:
		return "quorum unavailable"
	case Preempted:
		return "preempted"
	case ValueAlreadyChosen:
		return "value already chosen"
	case Internal:
		return "internal error"
	default:
		return "unknown"
	}
}

// ProposeError is the error type returned by Proposer.Propose and,
// transitively, Replica.Propose. Callers that care which kind of
// failure occurred should use errors.As, or compare against the
// package-level sentinels below with errors.Is.
type ProposeError struct {
	Kind ProposeErrorKind

	// Value is populated when Kind == ValueAlreadyChosen: the value
	// that was actually chosen for this decree.
	Value []byte

	// Err is populated when Kind == Internal: the underlying cause.
	Err error
}

func (e *ProposeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("propose failed: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("propose failed: %s", e.Kind)
}

func (e *ProposeError) Unwrap() error { return e.Err }

// Is reports whether target is a *ProposeError with the same Kind,
// so that errors.Is(err, paxos.ErrQuorumUnavailable) works regardless
// of the Value/Err payload attached to err.
func (e *ProposeError) Is(target error) bool {
	other, ok := target.(*ProposeError)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

// Sentinels for errors.Is comparisons; their Value/Err fields are
// always empty and exist only to carry a Kind.
var (
	ErrQuorumUnavailable = &ProposeError{Kind: QuorumUnavailable}
	ErrPreempted         = &ProposeError{Kind: Preempted}
	ErrValueAlreadyChosen = &ProposeError{Kind: ValueAlreadyChosen}
	ErrInternal          = &ProposeError{Kind: Internal}
)
