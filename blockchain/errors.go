package blockchain

import "fmt"

// ErrKind classifies a failure the way the control plane and peer
// handler need to react to it: recover locally, disconnect a peer, or
// abort the process.
type ErrKind int

const (
	// KindStorage is fatal: the process must abort rather than risk a
	// split-brain view of committed state.
	KindStorage ErrKind = iota
	// KindCrypto rejects only the offending item (signature or hash
	// mismatch).
	KindCrypto
	// KindProtocol means a peer sent a malformed frame or an out-of-
	// protocol message; the peer handler disconnects.
	KindProtocol
	// KindValidation means a block or transaction was rejected; report
	// to the caller, do not propagate.
	KindValidation
	// KindCapacity means a bounded buffer is full; the caller applies
	// its documented eviction policy.
	KindCapacity
	// KindTimeout means a sync step failed; retry against another peer.
	KindTimeout
)

func (k ErrKind) String() string {
	switch k {
	case KindStorage:
		return "storage"
	case KindCrypto:
		return "crypto"
	case KindProtocol:
		return "protocol"
	case KindValidation:
		return "validation"
	case KindCapacity:
		return "capacity"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Error pairs a Kind with a message, the structured result shape the
// control plane exposes to the wallet.
type Error struct {
	Kind    ErrKind
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Kind, e.Message) }

func newError(kind ErrKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// NewError is newError exported for sibling packages (txpool, work,
// networks/p2p) that need to report failures tagged with the same
// ErrKind taxonomy without duplicating it.
func NewError(kind ErrKind, format string, args ...interface{}) *Error {
	return newError(kind, format, args...)
}

// InsertResult classifies what InsertBlock did with a block.
type InsertResult int

const (
	Accepted InsertResult = iota
	AlreadyKnown
	Orphan
	Invalid
)

func (r InsertResult) String() string {
	switch r {
	case Accepted:
		return "Accepted"
	case AlreadyKnown:
		return "AlreadyKnown"
	case Orphan:
		return "Orphan"
	case Invalid:
		return "Invalid"
	default:
		return "Unknown"
	}
}
