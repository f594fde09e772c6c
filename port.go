package ports

import "sync"

// PortState is the lifecycle stage of a Port.
type PortState int

const (
	// PortStateUninitialized is the state of a port created by
	// CreateUninitializedPort before its peer is known. It can only send
	// messages, which are buffered locally until InitializePort runs.
	PortStateUninitialized PortState = iota

	// PortStateReceiving is the normal state of a port with a known peer.
	// It can send and receive messages.
	PortStateReceiving

	// PortStateBuffering is a brief transitional state entered when this
	// port is sent to another node: it keeps accepting incoming messages
	// but can no longer forward them until the destination node confirms
	// the transfer with a PortAccepted event.
	PortStateBuffering

	// PortStateProxying means ownership has moved to another node and this
	// record now exists only to relay any messages still in flight to the
	// old address, forwarding each to the new owner and retiring itself
	// once ObserveProxy/ObserveProxyAck has run its course.
	PortStateProxying

	// PortStateClosed means the port has been erased from its node's
	// registry. Any Port value in this state is an orphan no longer
	// reachable through the registry.
	PortStateClosed
)

func (s PortState) String() string {
	switch s {
	case PortStateUninitialized:
		return "Uninitialized"
	case PortStateReceiving:
		return "Receiving"
	case PortStateBuffering:
		return "Buffering"
	case PortStateProxying:
		return "Proxying"
	case PortStateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// pendingProxyRemoval remembers an ObserveProxyAck this port owes another
// proxy that raced it with an ObserveProxy of its own. It is sent only once
// this port itself retires, never eagerly, to avoid two retiring proxies
// bouncing ObserveProxy back and forth.
type pendingProxyRemoval struct {
	nodeName NodeName
	message  *Message
}

// Port is the core per-endpoint record a Node keeps in its registry. All
// access to its mutable fields must hold mu. Node holds more than one
// Port's mu at a time in two places: willSendPortsLocked, which takes the
// carried ports' locks under the node's sendWithPortsMu in the order ports
// appear in the message being sent — this, not a secondary sort, is what
// rules out AB-BA deadlock (see Node.sendWithPortsMu) — and
// flushOutgoingMessagesLocked, which locks each port an Uninitialized port
// sent while holding that port's own mu.
type Port struct {
	mu sync.Mutex

	state PortState

	peerNodeName NodeName
	peerPortName PortName

	nextSequenceNumToSend uint64

	// lastSequenceNumToReceive is only meaningful once peerClosed or
	// removeProxyOnLastMessage is set; it is the sequence number of the
	// last message this port's peer will ever send.
	lastSequenceNumToReceive uint64

	queue *MessageQueue

	// removeProxyOnLastMessage, once set on a Proxying port, means this
	// port should be erased as soon as it has relayed every message up
	// to lastSequenceNumToReceive.
	removeProxyOnLastMessage bool

	// peerClosed means ClosePort or LostConnectionToNode has been
	// observed for this port's peer. Once set alongside
	// lastSequenceNumToReceive, CanAcceptMoreMessages governs how much
	// longer the backlog already in flight stays deliverable.
	peerClosed bool

	// sendOnProxyRemoval holds a deferred ObserveProxyAck this port must
	// forward once it itself retires (see OnObserveProxy's defer branch).
	sendOnProxyRemoval *pendingProxyRemoval

	// outgoingMessages and outgoingPorts buffer SendMessage calls made
	// while this port is still Uninitialized — no peer is known yet, so
	// nothing can be forwarded. InitializePort flushes both in order.
	outgoingMessages []*Message
	outgoingPorts    []PortName

	userData any
}

func newUninitializedPort() *Port {
	return &Port{
		state:                 PortStateUninitialized,
		nextSequenceNumToSend: kInitialSequenceNum,
		queue:                 NewMessageQueue(kInitialSequenceNum),
	}
}

// canAcceptMoreMessages reports whether this port could still receive
// messages beyond what is already queued, given what is known about its
// peer's remaining lifetime. Call with mu held.
func (p *Port) canAcceptMoreMessages() bool {
	nextSeq := p.queue.NextSequenceNum()
	if p.peerClosed || p.removeProxyOnLastMessage {
		if p.lastSequenceNumToReceive == nextSeq-1 {
			return false
		}
	}
	return true
}

// PortStatus summarizes a Receiving port's state for the application.
type PortStatus struct {
	HasMessages bool
	PeerClosed  bool
}
