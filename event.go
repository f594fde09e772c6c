package ports

// EventType identifies the kind of internal event carried between nodes.
// A Message is always addressed to a specific PortName on the receiving
// node; the EventType tells that node's AcceptMessage how to interpret it.
type EventType int

const (
	// EventTypeUser carries an application payload plus, optionally, other
	// ports being transferred to the destination port's node.
	EventTypeUser EventType = iota

	// EventTypePortAccepted notifies the node that referred a transferred
	// port that the receiving node has taken ownership of it and the
	// referring port may now forward its buffered backlog.
	EventTypePortAccepted

	// EventTypeObserveProxy asks the port that is the peer of a new proxy
	// to either start routing around it or, if that port is itself a
	// proxy, to defer the same observation until it retires.
	EventTypeObserveProxy

	// EventTypeObserveProxyAck is the reply to EventTypeObserveProxy,
	// carrying the last sequence number the acking port will ever send
	// (or kInvalidSequenceNum to request a re-send).
	EventTypeObserveProxyAck

	// EventTypeObserveClosure propagates a peer's closure, and its final
	// sequence number, along a proxy chain toward the true peer.
	EventTypeObserveClosure
)

func (t EventType) String() string {
	switch t {
	case EventTypeUser:
		return "User"
	case EventTypePortAccepted:
		return "PortAccepted"
	case EventTypeObserveProxy:
		return "ObserveProxy"
	case EventTypeObserveProxyAck:
		return "ObserveProxyAck"
	case EventTypeObserveClosure:
		return "ObserveClosure"
	default:
		return "Unknown"
	}
}

// kInitialSequenceNum is the sequence number assigned to the first message
// a freshly created port will ever send or receive.
const kInitialSequenceNum uint64 = 1

// kInvalidSequenceNum is a sentinel meaning "no sequence number" — used in
// ObserveProxyAck to request that the peer re-send its ObserveProxy rather
// than committing to a final count.
const kInvalidSequenceNum uint64 = ^uint64(0)

// PortDescriptor is carried inside a Message for every PortName being
// transferred to a new node. It tells the receiving node everything it
// needs to instantiate a live Port record bound to the new owner.
type PortDescriptor struct {
	PeerNodeName NodeName
	PeerPortName PortName

	ReferringNodeName NodeName
	ReferringPortName PortName

	NextSequenceNumToSend    uint64
	NextSequenceNumToReceive uint64
}

// ObserveProxyEventData is the payload of an EventTypeObserveProxy message.
// Exported so a NodeDelegate that serializes Message across a real wire
// (see internal/netdelegate) can encode it without reaching into package
// internals.
type ObserveProxyEventData struct {
	ProxyNodeName   NodeName
	ProxyPortName   PortName
	ProxyToNodeName NodeName
	ProxyToPortName PortName
}

// Message is the unit of transport between nodes. It is addressed to a
// single PortName; its meaning is determined by Type. A kUser message may
// carry a Payload plus zero or more Ports being transferred to the
// destination's node, each described by the matching entry in Descriptors.
//
// Unlike the packed byte layout of the system this is grounded on, Message
// here is a plain tagged struct — there is no wire format to parse because
// encoding across an actual byte-level transport is left to a NodeDelegate
// implementation (see delegate.go and simnet).
type Message struct {
	Type EventType

	// PortName is the destination port on the receiving node.
	PortName PortName

	// SequenceNum is 0 until SendMessage stamps it; a forwarded proxy
	// message already carries a nonzero stamp and is never re-stamped.
	SequenceNum uint64

	// Payload is the opaque application data of a kUser message.
	Payload []byte

	// Ports names the ports being transferred with a kUser message, and
	// Descriptors carries the matching per-port transfer metadata filled
	// in by willSendPortLocked. WithPorts sets only Ports; both slices have
	// equal length once SendMessage has filled in Descriptors.
	Ports       []PortName
	Descriptors []PortDescriptor

	// ObserveProxy carries the payload of an EventTypeObserveProxy message;
	// nil for every other Type.
	ObserveProxy *ObserveProxyEventData

	// LastSequenceNum carries the payload of an EventTypeObserveProxyAck or
	// EventTypeObserveClosure message (the two never overlap, since a
	// Message has exactly one Type); meaningless for every other Type.
	LastSequenceNum uint64
}

// NewUserMessage allocates a kUser message addressed to destination,
// carrying payload and no transferred ports. Use WithPorts to attach ports
// taken from the sender before calling Node.SendMessage.
func NewUserMessage(destination PortName, payload []byte) *Message {
	return &Message{
		Type:     EventTypeUser,
		PortName: destination,
		Payload:  payload,
	}
}

// WithPorts attaches ports to a kUser message being built, returning the
// same Message for chaining. The ports must belong to the sending node and
// must not include the port the message is sent from.
func (m *Message) WithPorts(ports ...PortName) *Message {
	m.Ports = append(m.Ports, ports...)
	return m
}

func newInternalMessage(destination PortName, t EventType) *Message {
	return &Message{Type: t, PortName: destination}
}

func newObserveProxyMessage(destination PortName, data ObserveProxyEventData) *Message {
	m := newInternalMessage(destination, EventTypeObserveProxy)
	m.ObserveProxy = &data
	return m
}

func newObserveProxyAckMessage(destination PortName, lastSequenceNum uint64) *Message {
	m := newInternalMessage(destination, EventTypeObserveProxyAck)
	m.LastSequenceNum = lastSequenceNum
	return m
}

func newObserveClosureMessage(destination PortName, lastSequenceNum uint64) *Message {
	m := newInternalMessage(destination, EventTypeObserveClosure)
	m.LastSequenceNum = lastSequenceNum
	return m
}
