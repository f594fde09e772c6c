package ports

// NodeDelegate is the set of callbacks a Node needs from its embedder: a
// way to hand events to other nodes, a way to mint unguessable port names,
// and a way to learn that a port now has something to say. The core never
// touches a network socket, a goroutine, or a clock — all of that lives on
// the other side of this interface, grounded in whatever transport the
// embedder chooses (see the simnet package for an in-process one, and
// cmd/netdemo for a TCP one).
//
// Every method may be called while Node holds an internal lock over a
// single Port, so implementations must not call back into the same Node
// synchronously; forward events asynchronously (a channel, a goroutine, a
// socket write) instead.
type NodeDelegate interface {
	// GeneratePortName returns a fresh, effectively-unguessable PortName.
	// Called whenever a new port identity is needed, including the one
	// issued for the destination side of a transferred port.
	GeneratePortName() PortName

	// ForwardMessage hands msg to the node named by node for delivery to
	// msg.PortName on that node's Node.AcceptMessage. node may be this
	// node's own name; that delivery falls under the same rule as any
	// other and must not re-enter the Node synchronously.
	ForwardMessage(node NodeName, msg *Message) error

	// PortStatusChanged is called after a port's queue gains a new
	// in-order message, or after its peer closes, so the application can
	// wake up whatever is waiting on GetMessage for that port. It is
	// always called outside of any Node-internal lock.
	PortStatusChanged(port PortRef)
}
