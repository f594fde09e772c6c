// Package simnet is an in-process NodeDelegate that wires a graph of
// *ports.Node instances together over Go channels instead of a real
// transport. It exists for the core's own test suite and for cmd/demo,
// which both need several live nodes exchanging messages without standing
// up sockets.
package simnet

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/ironfang-ltd/go-ports"
)

// Network is a shared switchboard: every Node registered on it can reach
// every other by name. Each delegate hands inbound events to its node on a
// dedicated goroutine reading off a buffered channel, so ForwardMessage
// never calls back into a node synchronously — satisfying the delegate
// contract's requirement that a delegate not reenter the sender's Node
// while it may be holding an internal lock.
type Network struct {
	mu    sync.RWMutex
	peers map[ports.NodeName]*Delegate

	log *slog.Logger
}

// NewNetwork creates an empty switchboard.
func NewNetwork(log *slog.Logger) *Network {
	if log == nil {
		log = slog.Default()
	}
	return &Network{
		peers: make(map[ports.NodeName]*Delegate),
		log:   log,
	}
}

// Delegate is the NodeDelegate bound to one *ports.Node on a Network. Create
// one per node with Network.Join before constructing the Node, then pass it
// to ports.NewNode.
type Delegate struct {
	net  *Network
	name ports.NodeName

	node *ports.Node

	inbox  chan *ports.Message
	closed chan struct{}
	once   sync.Once
}

// Join allocates a Delegate for a node named name and registers it on the
// network, ready to receive events as soon as SetNode is called.
func (net *Network) Join(name ports.NodeName) *Delegate {
	d := &Delegate{
		net:    net,
		name:   name,
		inbox:  make(chan *ports.Message, 256),
		closed: make(chan struct{}),
	}

	net.mu.Lock()
	net.peers[name] = d
	net.mu.Unlock()

	go d.run()
	return d
}

// SetNode binds the *ports.Node this delegate was constructed for. It must
// be called exactly once, before the node is used, since NewNode needs the
// Delegate before the Node exists.
func (d *Delegate) SetNode(node *ports.Node) {
	d.node = node
}

// NewNode joins the network under a freshly minted NodeName and returns a
// ready-to-use *ports.Node bound to it, wiring the chicken-and-egg
// Delegate/Node construction order for the common case.
func (net *Network) NewNode(opts ...ports.NodeOption) *ports.Node {
	name := ports.NewNodeName()
	d := net.Join(name)
	node := ports.NewNode(name, d, opts...)
	d.SetNode(node)
	return node
}

// Leave removes this delegate from the network and stops its dispatch
// goroutine. Messages already forwarded to it are dropped.
func (d *Delegate) Leave() {
	d.net.mu.Lock()
	delete(d.net.peers, d.name)
	d.net.mu.Unlock()

	d.once.Do(func() { close(d.closed) })
}

func (d *Delegate) run() {
	for {
		select {
		case msg := <-d.inbox:
			if err := d.node.AcceptMessage(msg); err != nil {
				d.net.log.Warn("simnet: accept message failed", "node", d.name, "err", err)
			}
		case <-d.closed:
			return
		}
	}
}

// GeneratePortName implements ports.NodeDelegate using a random UUID.
func (d *Delegate) GeneratePortName() ports.PortName {
	return ports.PortName(uuid.New())
}

// ForwardMessage implements ports.NodeDelegate by handing msg to the named
// peer's inbox, or dropping it with a logged warning if that peer is not
// (or no longer) on the network — the same outcome a real transport would
// produce for an unreachable address.
func (d *Delegate) ForwardMessage(to ports.NodeName, msg *ports.Message) error {
	d.net.mu.RLock()
	peer := d.net.peers[to]
	d.net.mu.RUnlock()

	if peer == nil {
		d.net.log.Warn("simnet: forward to unknown node dropped", "to", to, "from", d.name)
		return fmt.Errorf("simnet: node %s not on network", to)
	}

	select {
	case peer.inbox <- msg:
		return nil
	case <-peer.closed:
		return fmt.Errorf("simnet: node %s left the network", to)
	}
}

// PortStatusChanged implements ports.NodeDelegate. simnet has no
// application layer of its own to wake up; tests observe state directly by
// polling GetMessage/GetStatus, so this is a no-op hook callers may extend
// by wrapping Delegate.
func (d *Delegate) PortStatusChanged(port ports.PortRef) {}
