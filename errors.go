package ports

import "errors"

// Sentinel errors returned by Node's public API. Callers should compare
// with errors.Is rather than switching on these directly, since future
// revisions may wrap them with additional context.
var (
	// ErrPortUnknown means the given PortName is not in this node's
	// registry — it was never created here, or has already been erased.
	ErrPortUnknown = errors.New("ports: unknown port")

	// ErrPortExists means the port registry was asked to add a name
	// already present in it. In practice this only happens if
	// a delegate's random name generator produces a collision.
	ErrPortExists = errors.New("ports: port already exists")

	// ErrPortStateUnexpected means the requested operation does not make
	// sense for the port's current PortState (e.g. sending through a
	// Closed port, or initializing a port that is not Uninitialized).
	ErrPortStateUnexpected = errors.New("ports: port in unexpected state")

	// ErrPortCannotSendSelf means a message tried to carry the very port
	// it is being sent from.
	ErrPortCannotSendSelf = errors.New("ports: cannot send a port to itself")

	// ErrPortPeerClosed means the port's peer has closed and every
	// message it could still send has already been delivered.
	ErrPortPeerClosed = errors.New("ports: port peer closed")

	// ErrPortCannotSendPeer means a message attempted to transfer the
	// sending port's own peer — the port the message is addressed to —
	// which would create a self-loop.
	ErrPortCannotSendPeer = errors.New("ports: cannot send a port to its own peer")

	// ErrNotImplemented means a Message carried an EventType this node's
	// AcceptMessage does not recognize. Seeing it indicates a protocol
	// version mismatch between nodes.
	ErrNotImplemented = errors.New("ports: event type not implemented")
)
