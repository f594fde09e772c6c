package ports

// AcceptMessage dispatches an incoming event to the right handler based on
// its Type. Delegates call this from whatever goroutine receives the
// message off their transport. It calls back into the delegate only via
// ForwardMessage and PortStatusChanged: PortStatusChanged is always called
// with no Port lock held, while ForwardMessage may be called with the
// target Port's lock held.
func (n *Node) AcceptMessage(msg *Message) error {
	switch msg.Type {
	case EventTypeUser:
		return n.onUserMessage(msg)
	case EventTypePortAccepted:
		return n.onPortAccepted(msg.PortName)
	case EventTypeObserveProxy:
		return n.onObserveProxy(msg.PortName, *msg.ObserveProxy)
	case EventTypeObserveProxyAck:
		return n.onObserveProxyAck(msg.PortName, msg.LastSequenceNum)
	case EventTypeObserveClosure:
		return n.onObserveClosure(msg.PortName, msg.LastSequenceNum)
	default:
		return ErrNotImplemented
	}
}

// onUserMessage binds every port the message carries to this node before
// even checking whether the destination port exists, since those carried
// ports must become this node's responsibility regardless of whether the
// message itself is ultimately deliverable — an orphaned carried port is
// closed explicitly below rather than silently dropped.
func (n *Node) onUserMessage(msg *Message) error {
	for i, name := range msg.Ports {
		if err := n.acceptPort(name, msg.Descriptors[i]); err != nil {
			n.log.Error("accept carried port failed", "port", name, "err", err)
		}
	}

	port := n.registry.get(msg.PortName)
	if port == nil {
		n.closeOrphanedPorts(msg.Ports)
		n.metrics.MessagesDropped.Inc()
		return nil
	}

	port.mu.Lock()
	if !port.canAcceptMoreMessages() {
		port.mu.Unlock()
		n.closeOrphanedPorts(msg.Ports)
		n.metrics.MessagesDropped.Inc()
		return nil
	}

	portName := msg.PortName
	hasNextMessage := port.queue.AcceptMessage(msg)
	queueDepth := port.queue.Len()

	removed := false
	switch port.state {
	case PortStateBuffering:
		hasNextMessage = false
	case PortStateProxying:
		hasNextMessage = false
		n.forwardMessagesLocked(port, portName)
		removed = n.maybeRemoveProxyLocked(port, portName)
	}
	shouldNotify := hasNextMessage && port.state == PortStateReceiving
	port.mu.Unlock()

	if removed {
		n.registry.erase(portName)
	}

	if n.cfg.portQueueWarnThreshold > 0 && queueDepth > n.cfg.portQueueWarnThreshold {
		n.log.Warn("port queue depth above warn threshold", "port", portName, "depth", queueDepth)
	}

	if shouldNotify {
		n.delegate.PortStatusChanged(newPortRef(portName, port))
	}
	return nil
}

func (n *Node) closeOrphanedPorts(names []PortName) {
	for _, name := range names {
		if p := n.registry.get(name); p != nil {
			_ = n.ClosePort(newPortRef(name, p))
		}
	}
}

// onPortAccepted is delivered to the referring port once the destination
// node has taken ownership of a transferred port, releasing that
// transferred port's buffered backlog.
func (n *Node) onPortAccepted(portName PortName) error {
	port := n.registry.get(portName)
	if port == nil {
		n.log.Error("port accepted for unknown port", "port", portName)
		return ErrPortUnknown
	}

	port.mu.Lock()
	if port.state != PortStateBuffering {
		port.mu.Unlock()
		n.log.Error("port accepted in unexpected state", "port", portName, "state", port.state)
		return ErrPortStateUnexpected
	}
	port.state = PortStateProxying
	n.forwardMessagesLocked(port, portName)

	alreadyRemovable := port.removeProxyOnLastMessage
	removed := false
	if alreadyRemovable {
		removed = n.maybeRemoveProxyLocked(port, portName)
	} else {
		n.initiateProxyRemovalLocked(port, portName)
	}
	port.mu.Unlock()

	if removed {
		n.registry.erase(portName)
	}
	return nil
}

// onObserveProxy is delivered to the port whose peer has just become a
// proxy for some new owner. If this port is a plain receiving endpoint,
// it adopts the new owner as its peer directly and acks the proxy so it
// can retire. If this port is itself a proxy racing the same removal, the
// ack is deferred until this port retires on its own, which is what
// prevents two retiring proxies from volleying ObserveProxy forever.
func (n *Node) onObserveProxy(portName PortName, event ObserveProxyEventData) error {
	port := n.registry.get(portName)
	if port == nil {
		return nil
	}

	port.mu.Lock()
	defer port.mu.Unlock()

	if port.peerNodeName == event.ProxyNodeName && port.peerPortName == event.ProxyPortName {
		if port.state == PortStateReceiving {
			port.peerNodeName = event.ProxyToNodeName
			port.peerPortName = event.ProxyToPortName

			ack := newObserveProxyAckMessage(event.ProxyPortName, port.nextSequenceNumToSend-1)
			n.metrics.ObserveProxyAckSent.Inc()
			if err := n.delegate.ForwardMessage(event.ProxyNodeName, ack); err != nil {
				n.log.Warn("observe proxy: forward ack failed", "err", err)
			}
		} else {
			ack := newObserveProxyAckMessage(event.ProxyPortName, kInvalidSequenceNum)
			port.sendOnProxyRemoval = &pendingProxyRemoval{nodeName: event.ProxyNodeName, message: ack}
		}
		return nil
	}

	// Not the port this event is about — percolate it further down the
	// chain toward its true target.
	forwarded := newObserveProxyMessage(port.peerPortName, event)
	n.metrics.ObserveProxySent.Inc()
	if err := n.delegate.ForwardMessage(port.peerNodeName, forwarded); err != nil {
		n.log.Warn("observe proxy: forward failed", "err", err)
	}
	return nil
}

// onObserveProxyAck is delivered back to a retiring proxy, either
// committing to its final sequence number or, if lastSequenceNum is the
// invalid sentinel, asking it to resend its ObserveProxy because the
// acker wasn't in a position to adopt its downstream peer yet.
func (n *Node) onObserveProxyAck(portName PortName, lastSequenceNum uint64) error {
	port := n.registry.get(portName)
	if port == nil {
		return ErrPortUnknown
	}

	port.mu.Lock()
	if port.state != PortStateProxying {
		port.mu.Unlock()
		n.log.Error("observe proxy ack in unexpected state", "port", portName, "state", port.state)
		return ErrPortStateUnexpected
	}

	if lastSequenceNum == kInvalidSequenceNum {
		n.initiateProxyRemovalLocked(port, portName)
		port.mu.Unlock()
		return nil
	}

	port.removeProxyOnLastMessage = true
	port.lastSequenceNumToReceive = lastSequenceNum
	removed := n.maybeRemoveProxyLocked(port, portName)
	port.mu.Unlock()

	if removed {
		n.registry.erase(portName)
	}
	return nil
}

// onObserveClosure marks a port's peer closed and, if this port is itself
// a proxy in the chain toward the true peer, propagates the closure
// onward so every proxy between here and the endpoint that actually
// closed eventually retires too.
func (n *Node) onObserveClosure(portName PortName, lastSequenceNum uint64) error {
	port := n.registry.get(portName)
	if port == nil {
		return nil
	}

	port.mu.Lock()
	port.peerClosed = true
	port.lastSequenceNumToReceive = lastSequenceNum

	if port.state == PortStateReceiving {
		port.mu.Unlock()
		n.delegate.PortStatusChanged(newPortRef(portName, port))
		return nil
	}

	nextNode := port.peerNodeName
	nextPort := port.peerPortName
	port.removeProxyOnLastMessage = true
	wasProxying := port.state == PortStateProxying

	var removed bool
	if wasProxying {
		removed = n.maybeRemoveProxyLocked(port, portName)
	}
	port.mu.Unlock()

	if removed {
		n.registry.erase(portName)
	}

	if wasProxying {
		msg := newObserveClosureMessage(nextPort, lastSequenceNum)
		n.metrics.ObserveClosureSent.Inc()
		if err := n.delegate.ForwardMessage(nextNode, msg); err != nil {
			n.log.Warn("observe closure: forward failed", "err", err)
		}
	}
	return nil
}

// acceptPort instantiates a locally owned Port for a name that was just
// transferred to this node, using the descriptor the sender filled in.
// The port starts out not signalable, so a backlog riding along in the
// same message raises no PortStatusChanged until that message itself is
// delivered and lifts the suppression (see Node.GetMessageIf). GetMessage
// on the new port does not consult the flag.
func (n *Node) acceptPort(name PortName, desc PortDescriptor) error {
	port := &Port{
		state:                 PortStateReceiving,
		peerNodeName:          desc.PeerNodeName,
		peerPortName:          desc.PeerPortName,
		nextSequenceNumToSend: desc.NextSequenceNumToSend,
		queue:                 NewMessageQueue(desc.NextSequenceNumToReceive),
	}
	port.queue.SetSignalable(false)

	if err := n.registry.add(name, port); err != nil {
		return err
	}
	n.metrics.PortsAccepted.Inc()

	accepted := newInternalMessage(desc.ReferringPortName, EventTypePortAccepted)
	return n.delegate.ForwardMessage(desc.ReferringNodeName, accepted)
}
