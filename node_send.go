package ports

// SendMessage sends msg through the port named by ref. If msg carries
// other ports, ownership of each transfers to whatever node the message
// ends up delivered on — the sender must not touch them again afterward.
func (n *Node) SendMessage(ref PortRef, msg *Message) error {
	for _, carried := range msg.Ports {
		if carried == ref.Name() {
			return ErrPortCannotSendSelf
		}
	}

	port := n.registry.get(ref.Name())
	if port == nil {
		return ErrPortUnknown
	}
	return n.sendMessage(ref.Name(), port, msg)
}

func (n *Node) sendMessage(portName PortName, port *Port, msg *Message) error {
	port.mu.Lock()

	if port.state != PortStateReceiving && port.state != PortStateUninitialized {
		port.mu.Unlock()
		return ErrPortStateUnexpected
	}
	if port.state == PortStateReceiving && port.peerClosed {
		port.mu.Unlock()
		return ErrPortPeerClosed
	}

	if err := n.willSendMessageLocked(port, portName, msg); err != nil {
		port.mu.Unlock()
		return err
	}

	if port.state == PortStateUninitialized {
		port.outgoingMessages = append(port.outgoingMessages, msg)
		port.outgoingPorts = append(port.outgoingPorts, msg.Ports...)
		port.mu.Unlock()
		return nil
	}

	peerNode := port.peerNodeName
	port.mu.Unlock()

	n.metrics.MessagesSent.Inc()

	if peerNode != n.name {
		return n.delegate.ForwardMessage(peerNode, msg)
	}
	return n.sendMessageLocal(msg)
}

// sendMessageLocal delivers msg to this same node's AcceptMessage without
// recursing through the caller's stack. A port whose peer is its own
// node's port can be sent to from inside AcceptMessage itself (forwarding
// a proxied backlog, for instance); without this queue-and-drain dance
// that would mean unbounded goroutine-stack recursion for a long chain of
// local hops. Only the first caller to find the flag clear actually walks
// the queue — everyone else just appends and returns, trusting the first
// caller to deliver what they just added before it stops looping.
func (n *Node) sendMessageLocal(msg *Message) error {
	n.localMu.Lock()
	shouldDrain := !n.isDeliveringLocalMessages
	if shouldDrain {
		n.isDeliveringLocalMessages = true
	}
	n.localMessages = append(n.localMessages, msg)
	n.localMu.Unlock()

	if !shouldDrain {
		return nil
	}

	for {
		n.localMu.Lock()
		if len(n.localMessages) == 0 {
			n.isDeliveringLocalMessages = false
			n.localMu.Unlock()
			return nil
		}
		next := n.localMessages[0]
		n.localMessages = n.localMessages[1:]
		n.localMu.Unlock()

		if err := n.AcceptMessage(next); err != nil {
			n.log.Warn("local delivery failed", "err", err)
		}
	}
}

// willSendMessageLocked stamps msg with the next sequence number (unless
// it already carries one — a message forwarded by a proxy is never
// re-stamped) and, if it carries other ports, transitions each of them
// into Buffering under sendWithPortsMu. Call with port.mu held.
func (n *Node) willSendMessageLocked(port *Port, portName PortName, msg *Message) error {
	if msg.SequenceNum == 0 {
		msg.SequenceNum = port.nextSequenceNumToSend
		port.nextSequenceNumToSend++
	}

	if len(msg.Ports) > 0 {
		if err := n.willSendPortsLocked(port, portName, msg); err != nil {
			port.nextSequenceNumToSend--
			return err
		}
	}

	msg.PortName = port.peerPortName
	return nil
}

// willSendPortsLocked locks every port named in msg.Ports, in the order
// they appear, under the node-wide sendWithPortsMu — the combination that
// rules out AB-BA deadlock against a concurrent send transferring an
// overlapping set of ports in a different order. On any error it leaves
// every examined port's state untouched (they were only locked and
// unlocked, never mutated) and unlocks everything before returning.
func (n *Node) willSendPortsLocked(port *Port, portName PortName, msg *Message) error {
	n.sendWithPortsMu.Lock()
	defer n.sendWithPortsMu.Unlock()

	portsToSend := make([]*Port, len(msg.Ports))
	for i, name := range msg.Ports {
		// A carried port can never be the sending port's own peer —
		// transferring a port to its own peer would create a self-loop.
		if name == port.peerPortName {
			for _, p := range portsToSend[:i] {
				if p != nil {
					p.mu.Unlock()
				}
			}
			return ErrPortCannotSendPeer
		}

		p := n.registry.get(name)
		if p == nil {
			for _, pp := range portsToSend[:i] {
				if pp != nil {
					pp.mu.Unlock()
				}
			}
			return ErrPortUnknown
		}
		portsToSend[i] = p
		p.mu.Lock()
	}

	unlockAll := func() {
		for _, p := range portsToSend {
			if p != nil {
				p.mu.Unlock()
			}
		}
	}

	for _, p := range portsToSend {
		if p.state != PortStateReceiving {
			unlockAll()
			return ErrPortStateUnexpected
		}
	}

	msg.Descriptors = make([]PortDescriptor, len(msg.Ports))
	destinationNode := port.peerNodeName
	for i, p := range portsToSend {
		newName, desc := n.willSendPortLocked(p, destinationNode, msg.Ports[i])
		msg.Ports[i] = newName
		msg.Descriptors[i] = desc
	}
	unlockAll()
	return nil
}

// willSendPortLocked transitions p into Buffering and mints the descriptor
// the destination node will use to reconstitute it there. Call with p.mu
// held. Returns the new name the carried port will be known by once
// accepted on the destination, which replaces its entry in the outgoing
// message's Ports slice.
func (n *Node) willSendPortLocked(p *Port, toNode NodeName, localName PortName) (PortName, PortDescriptor) {
	newName := n.delegate.GeneratePortName()

	desc := PortDescriptor{
		PeerNodeName:             p.peerNodeName,
		PeerPortName:             p.peerPortName,
		ReferringNodeName:        n.name,
		ReferringPortName:        localName,
		NextSequenceNumToSend:    p.nextSequenceNumToSend,
		NextSequenceNumToReceive: p.queue.NextSequenceNum(),
	}

	p.state = PortStateBuffering
	p.peerNodeName = toNode
	p.peerPortName = newName
	n.metrics.ProxiesCreated.Inc()

	return newName, desc
}

// forwardMessagesLocked drains every in-order message already queued on a
// newly Proxying port, forwarding each to the port's current peer. A
// message drained this way may itself carry ports, which get re-homed
// toward this proxy's current peer the same way a fresh SendMessage
// would. Call with port.mu held.
func (n *Node) forwardMessagesLocked(port *Port, portName PortName) {
	for {
		msg := port.queue.GetNextMessageIf(nil)
		if msg == nil {
			return
		}
		if len(msg.Ports) > 0 {
			if err := n.willSendPortsLocked(port, portName, msg); err != nil {
				n.log.Error("forward messages: re-homing carried ports failed", "err", err)
				continue
			}
		}
		msg.PortName = port.peerPortName
		n.metrics.MessagesForwarded.Inc()
		if err := n.delegate.ForwardMessage(port.peerNodeName, msg); err != nil {
			n.log.Warn("forward messages: forward failed", "err", err)
		}
	}
}

// initiateProxyRemovalLocked asks this proxying port's peer to start
// routing around it. Call with port.mu held.
func (n *Node) initiateProxyRemovalLocked(port *Port, portName PortName) {
	data := ObserveProxyEventData{
		ProxyNodeName:   n.name,
		ProxyPortName:   portName,
		ProxyToNodeName: port.peerNodeName,
		ProxyToPortName: port.peerPortName,
	}
	msg := newObserveProxyMessage(port.peerPortName, data)
	n.metrics.ObserveProxySent.Inc()
	if err := n.delegate.ForwardMessage(port.peerNodeName, msg); err != nil {
		n.log.Warn("initiate proxy removal: forward failed", "err", err)
	}
}

// maybeRemoveProxyLocked erases a Proxying port once it has relayed every
// message up to its known last sequence number. If another proxy deferred
// an ObserveProxyAck to this port earlier, that ack is sent now — only
// once this port is actually retiring — rather than eagerly, which is what
// keeps two racing proxy removals from looping forever. Call with port.mu
// held; the caller must erase the port from the registry itself after
// this returns true.
func (n *Node) maybeRemoveProxyLocked(port *Port, portName PortName) bool {
	if !port.removeProxyOnLastMessage {
		return false
	}
	if port.canAcceptMoreMessages() {
		n.log.Debug("proxy not yet removable, waiting for more messages", "port", portName)
		return false
	}

	deferred := port.sendOnProxyRemoval
	port.sendOnProxyRemoval = nil
	port.state = PortStateClosed
	n.metrics.ProxiesRetired.Inc()

	if deferred != nil {
		if err := n.delegate.ForwardMessage(deferred.nodeName, deferred.message); err != nil {
			n.log.Warn("maybe remove proxy: forward deferred ack failed", "err", err)
		}
	}
	return true
}
