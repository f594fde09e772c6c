package ports

import (
	"log/slog"
	"sync"
)

// Node is the routing core for one participant in a ports graph. It owns
// no threads and no sockets: every method runs synchronously on the
// caller's goroutine, and every cross-node effect is handed to delegate.
// A Node's only state is its own port registry and the bookkeeping needed
// to serialize same-node deliveries without recursing through the caller's
// stack (see sendMessageLocal).
type Node struct {
	name     NodeName
	delegate NodeDelegate
	registry *portRegistry

	// sendWithPortsMu is the single global lock willSendMessageLocked
	// takes before locking any of the ports a message is transferring.
	// It plays the same role send_with_ports_lock_ does in the algorithm
	// this is grounded on: because every caller that needs to lock more
	// than one port takes this first, two SendMessage calls transferring
	// overlapping sets of ports can never deadlock against each other no
	// matter what order their message's Ports slices list those ports in.
	sendWithPortsMu sync.Mutex

	localMu                   sync.Mutex
	isDeliveringLocalMessages bool
	localMessages             []*Message

	log     *slog.Logger
	metrics *Metrics
	cfg     nodeConfig
}

// NewNode creates a routing core identified by name, using delegate for
// cross-node effects. The returned Node is ready to use immediately.
func NewNode(name NodeName, delegate NodeDelegate, opts ...NodeOption) *Node {
	cfg := defaultNodeConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	n := &Node{
		name:     name,
		delegate: delegate,
		registry: newPortRegistry(),
		log:      cfg.logger,
		metrics:  cfg.metrics,
		cfg:      cfg,
	}
	if n.metrics == nil {
		n.metrics = NewMetrics(n.registry.count)
	}
	return n
}

// Name returns this node's own identity.
func (n *Node) Name() NodeName { return n.name }

// Metrics returns the Metrics instance this node publishes counters to,
// either the one supplied via WithMetrics or one created automatically.
func (n *Node) Metrics() *Metrics { return n.metrics }

// GetPort returns a PortRef for name if this node knows it, or the zero
// PortRef if not.
func (n *Node) GetPort(name PortName) PortRef {
	p := n.registry.get(name)
	if p == nil {
		return PortRef{}
	}
	return newPortRef(name, p)
}

// CreateUninitializedPort creates a new port with no known peer. It can
// only be used to send messages, which are buffered until InitializePort
// supplies the peer; it cannot yet receive anything. Most callers want
// CreatePortPair instead — this exists for the case where a port is
// handed to a peer before that peer's identity is known, such as the
// first port of a brand new connection.
func (n *Node) CreateUninitializedPort() (PortRef, error) {
	name := n.delegate.GeneratePortName()
	port := newUninitializedPort()

	if err := n.registry.add(name, port); err != nil {
		return PortRef{}, err
	}
	n.metrics.PortsCreated.Inc()
	return newPortRef(name, port), nil
}

// InitializePort supplies the peer for a port created by
// CreateUninitializedPort, transitioning it to Receiving and flushing any
// messages queued against it in the meantime.
func (n *Node) InitializePort(ref PortRef, peerNode NodeName, peerPort PortName) error {
	port := n.registry.get(ref.Name())
	if port == nil {
		return ErrPortUnknown
	}

	port.mu.Lock()
	if port.state != PortStateUninitialized {
		port.mu.Unlock()
		return ErrPortStateUnexpected
	}
	port.state = PortStateReceiving
	port.peerNodeName = peerNode
	port.peerPortName = peerPort

	n.flushOutgoingMessagesLocked(port)
	port.mu.Unlock()

	n.delegate.PortStatusChanged(ref)
	return nil
}

// CreatePortPair creates two ports on this node, each the other's peer,
// both already Receiving. This is the usual way to obtain a fresh
// entangled pair: keep one end locally and send the other's PortRef
// across an existing port to whoever should hold it.
func (n *Node) CreatePortPair() (PortRef, PortRef, error) {
	aRef, err := n.CreateUninitializedPort()
	if err != nil {
		return PortRef{}, PortRef{}, err
	}
	bRef, err := n.CreateUninitializedPort()
	if err != nil {
		n.registry.erase(aRef.Name())
		return PortRef{}, PortRef{}, err
	}

	if err := n.InitializePort(aRef, n.name, bRef.Name()); err != nil {
		return PortRef{}, PortRef{}, err
	}
	if err := n.InitializePort(bRef, n.name, aRef.Name()); err != nil {
		return PortRef{}, PortRef{}, err
	}
	return aRef, bRef, nil
}

// SetUserData attaches an arbitrary value to a port, retrievable with
// GetUserData. The core never inspects it.
func (n *Node) SetUserData(ref PortRef, data any) error {
	port := n.registry.get(ref.Name())
	if port == nil {
		return ErrPortUnknown
	}
	port.mu.Lock()
	port.userData = data
	port.mu.Unlock()
	return nil
}

// GetUserData returns the value last attached with SetUserData, or nil.
func (n *Node) GetUserData(ref PortRef) (any, error) {
	port := n.registry.get(ref.Name())
	if port == nil {
		return nil, ErrPortUnknown
	}
	port.mu.Lock()
	data := port.userData
	port.mu.Unlock()
	return data, nil
}

// GetStatus reports whether ref has a message ready and whether its peer
// has closed.
func (n *Node) GetStatus(ref PortRef) (PortStatus, error) {
	port := n.registry.get(ref.Name())
	if port == nil {
		return PortStatus{}, ErrPortUnknown
	}
	port.mu.Lock()
	defer port.mu.Unlock()

	if port.state != PortStateReceiving {
		return PortStatus{}, ErrPortStateUnexpected
	}
	return PortStatus{
		HasMessages: port.queue.HasNextMessage(),
		PeerClosed:  port.peerClosed,
	}, nil
}

// GetMessage returns and removes the next in-order message queued for
// ref, or nil if none has arrived yet. It never blocks; callers wanting to
// wait should do so via NodeDelegate.PortStatusChanged notifications.
func (n *Node) GetMessage(ref PortRef) (*Message, error) {
	return n.GetMessageIf(ref, nil)
}

// GetMessageIf is GetMessage with a selector: the next in-order message is
// only taken if selector returns true for it. Used to peek at a message's
// metadata without consuming it: a rejected message stays queued, and no
// later message is considered in its place.
func (n *Node) GetMessageIf(ref PortRef, selector MessageSelector) (*Message, error) {
	port := n.registry.get(ref.Name())
	if port == nil {
		return nil, ErrPortUnknown
	}

	port.mu.Lock()
	if port.state != PortStateReceiving {
		port.mu.Unlock()
		return nil, ErrPortStateUnexpected
	}
	if !port.canAcceptMoreMessages() {
		port.mu.Unlock()
		return nil, ErrPortPeerClosed
	}
	msg := port.queue.GetNextMessageIf(selector)
	port.mu.Unlock()

	if msg == nil {
		return nil, nil
	}

	// Newly transferred ports carried by this message are not signalable
	// until their carrying message has actually been handed to the
	// application — lift the suppression now.
	for _, carried := range msg.Ports {
		if cp := n.registry.get(carried); cp != nil {
			cp.mu.Lock()
			cp.queue.SetSignalable(true)
			cp.mu.Unlock()
		}
	}
	n.metrics.MessagesDelivered.Inc()
	return msg, nil
}

// ClosePort closes ref. Any message already queued for it is discarded;
// its peer, if any, is notified via an ObserveClosure event so it can stop
// expecting further replies and retire any proxy standing in for this
// port.
func (n *Node) ClosePort(ref PortRef) error {
	port := n.registry.get(ref.Name())
	if port == nil {
		return ErrPortUnknown
	}

	port.mu.Lock()
	if port.state != PortStateReceiving {
		port.mu.Unlock()
		return ErrPortStateUnexpected
	}
	port.state = PortStateClosed
	lastSequenceNum := port.nextSequenceNumToSend - 1
	peerNode := port.peerNodeName
	peerPort := port.peerPortName
	port.mu.Unlock()

	n.registry.erase(ref.Name())
	n.metrics.PortsClosed.Inc()

	if peerNode.IsValid() {
		msg := newObserveClosureMessage(peerPort, lastSequenceNum)
		n.metrics.ObserveClosureSent.Inc()
		if err := n.delegate.ForwardMessage(peerNode, msg); err != nil {
			n.log.Warn("close port: forward observe closure failed", "port", ref.Name(), "err", err)
		}
	}
	return nil
}

// LostConnectionToNode marks every port whose peer lives on node as
// closed, as if each had individually observed its peer's closure. Call
// this when a transport to a peer node is known to have failed
// permanently — there is no way to learn that peer's true last sequence
// number, so affected ports get lastSequenceNumToReceive set to the last
// sequence number already taken from the queue (queue.NextSequenceNum()-1),
// which is zero if nothing has been; any message stamped beyond that
// point, including one already queued but not yet taken, is declared lost
// rather than assumed still in flight. Combined with peerClosed, an
// affected Receiving port therefore reports PortPeerClosed immediately,
// including the all-zero case where nothing had arrived at all.
func (n *Node) LostConnectionToNode(node NodeName) {
	type toNotify struct {
		ref PortRef
	}
	var notify []toNotify

	for name, port := range n.registry.snapshot() {
		port.mu.Lock()
		if port.peerNodeName != node {
			port.mu.Unlock()
			continue
		}
		if !port.peerClosed {
			port.peerClosed = true
			port.lastSequenceNumToReceive = port.queue.NextSequenceNum() - 1
			if port.state == PortStateReceiving {
				notify = append(notify, toNotify{ref: newPortRef(name, port)})
			}
		}
		shouldErase := port.state != PortStateReceiving
		port.mu.Unlock()

		if shouldErase {
			n.registry.erase(name)
		}
	}

	for _, t := range notify {
		n.delegate.PortStatusChanged(t.ref)
	}
}

func (n *Node) flushOutgoingMessagesLocked(port *Port) {
	for i := range port.outgoingPorts {
		if op := n.registry.get(port.outgoingPorts[i]); op != nil {
			op.mu.Lock()
			op.peerNodeName = port.peerNodeName
			op.mu.Unlock()
		}
	}
	port.outgoingPorts = nil

	pending := port.outgoingMessages
	port.outgoingMessages = nil
	peerNode := port.peerNodeName
	peerPort := port.peerPortName

	for _, msg := range pending {
		msg.PortName = peerPort
		if err := n.delegate.ForwardMessage(peerNode, msg); err != nil {
			n.log.Warn("flush outgoing messages: forward failed", "err", err)
		}
	}
}
