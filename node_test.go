package ports

import (
	"sync"
	"testing"

	"github.com/google/uuid"
)

// loopDelegate is a NodeDelegate for single-node tests: it hands every
// event addressed to its own node straight to AcceptMessage and drops
// anything addressed to any other node.
type loopDelegate struct {
	mu   sync.Mutex
	node *Node

	statusChanges []PortName
}

func (d *loopDelegate) GeneratePortName() PortName {
	return PortName(uuid.New())
}

func (d *loopDelegate) ForwardMessage(to NodeName, msg *Message) error {
	if to != d.node.Name() {
		return nil
	}
	return d.node.AcceptMessage(msg)
}

func (d *loopDelegate) PortStatusChanged(port PortRef) {
	d.mu.Lock()
	d.statusChanges = append(d.statusChanges, port.Name())
	d.mu.Unlock()
}

func newTestNode() (*Node, *loopDelegate) {
	d := &loopDelegate{}
	n := NewNode(NewNodeName(), d)
	d.node = n
	return n, d
}

func TestCreatePortPairBothReceiving(t *testing.T) {
	n, _ := newTestNode()

	a, b, err := n.CreatePortPair()
	if err != nil {
		t.Fatalf("CreatePortPair: %v", err)
	}

	for _, ref := range []PortRef{a, b} {
		status, err := n.GetStatus(ref)
		if err != nil {
			t.Fatalf("GetStatus: %v", err)
		}
		if status.HasMessages || status.PeerClosed {
			t.Fatalf("fresh pair should have no messages and an open peer, got %+v", status)
		}
	}
}

func TestSendAndReceiveLocalMessage(t *testing.T) {
	n, _ := newTestNode()

	a, b, err := n.CreatePortPair()
	if err != nil {
		t.Fatalf("CreatePortPair: %v", err)
	}

	payload := []byte("hello")
	if err := n.SendMessage(a, NewUserMessage(b.Name(), payload)); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	msg, err := n.GetMessage(b)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if msg == nil {
		t.Fatalf("expected a message, got none")
	}
	if string(msg.Payload) != "hello" {
		t.Fatalf("payload = %q, want %q", msg.Payload, "hello")
	}
}

func TestMessagesDeliveredInSendOrder(t *testing.T) {
	n, _ := newTestNode()
	a, b, err := n.CreatePortPair()
	if err != nil {
		t.Fatalf("CreatePortPair: %v", err)
	}

	for i := 0; i < 5; i++ {
		if err := n.SendMessage(a, NewUserMessage(b.Name(), []byte{byte(i)})); err != nil {
			t.Fatalf("SendMessage %d: %v", i, err)
		}
	}

	for i := 0; i < 5; i++ {
		msg, err := n.GetMessage(b)
		if err != nil {
			t.Fatalf("GetMessage %d: %v", i, err)
		}
		if msg == nil || msg.Payload[0] != byte(i) {
			t.Fatalf("message %d = %+v, want payload %d", i, msg, i)
		}
	}
}

func TestSendToSelfIsRejected(t *testing.T) {
	n, _ := newTestNode()
	a, _, err := n.CreatePortPair()
	if err != nil {
		t.Fatalf("CreatePortPair: %v", err)
	}

	err = n.SendMessage(a, NewUserMessage(a.Name(), nil).WithPorts(a.Name()))
	if err != ErrPortCannotSendSelf {
		t.Fatalf("err = %v, want ErrPortCannotSendSelf", err)
	}
}

func TestClosePortNotifiesPeer(t *testing.T) {
	n, _ := newTestNode()
	a, b, err := n.CreatePortPair()
	if err != nil {
		t.Fatalf("CreatePortPair: %v", err)
	}

	if err := n.ClosePort(b); err != nil {
		t.Fatalf("ClosePort: %v", err)
	}

	status, err := n.GetStatus(a)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if !status.PeerClosed {
		t.Fatalf("expected peer closed after ClosePort on b")
	}
}

func TestSendAfterPeerClosedFails(t *testing.T) {
	n, _ := newTestNode()
	a, b, err := n.CreatePortPair()
	if err != nil {
		t.Fatalf("CreatePortPair: %v", err)
	}
	if err := n.ClosePort(b); err != nil {
		t.Fatalf("ClosePort: %v", err)
	}

	err = n.SendMessage(a, NewUserMessage(b.Name(), nil))
	if err != ErrPortPeerClosed {
		t.Fatalf("err = %v, want ErrPortPeerClosed", err)
	}
}

func TestGetMessageOnUnknownPortFails(t *testing.T) {
	n, _ := newTestNode()
	_, err := n.GetMessage(PortRef{})
	if err != ErrPortUnknown {
		t.Fatalf("err = %v, want ErrPortUnknown", err)
	}
}

func TestLostConnectionToNodeLeavesSequenceNumberZero(t *testing.T) {
	n, _ := newTestNode()
	remoteNode := NewNodeName()

	a, err := n.CreateUninitializedPort()
	if err != nil {
		t.Fatalf("CreateUninitializedPort: %v", err)
	}
	remotePort := NewPortName()
	if err := n.InitializePort(a, remoteNode, remotePort); err != nil {
		t.Fatalf("InitializePort: %v", err)
	}

	n.LostConnectionToNode(remoteNode)

	status, err := n.GetStatus(a)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if !status.PeerClosed {
		t.Fatalf("expected peer closed after LostConnectionToNode")
	}

	// Per the spec's directed resolution, lastSequenceNumToReceive is left
	// at zero (no message was ever received, so nextSequenceNum()-1 == 0);
	// combined with peerClosed this must still read as "no more messages",
	// not panic or silently hang.
	_, err = n.GetMessageIf(a, nil)
	if err != ErrPortPeerClosed {
		t.Fatalf("GetMessageIf after LostConnectionToNode = %v, want ErrPortPeerClosed", err)
	}
}

func TestPortStatusChangedCalledOnPeerClosed(t *testing.T) {
	n, d := newTestNode()
	a, b, err := n.CreatePortPair()
	if err != nil {
		t.Fatalf("CreatePortPair: %v", err)
	}

	// InitializePort already notified both ports; start from a clean list
	// so only the notifications that follow are checked.
	d.mu.Lock()
	d.statusChanges = nil
	d.mu.Unlock()

	if err := n.SendMessage(a, NewUserMessage(b.Name(), []byte("x"))); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	if err := n.ClosePort(b); err != nil {
		t.Fatalf("ClosePort: %v", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	found := false
	for _, name := range d.statusChanges {
		if name == a.Name() {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a PortStatusChanged for %v after peer closed, got %v", a.Name(), d.statusChanges)
	}
}
