package ports_test

import (
	"log/slog"
	"testing"
	"time"

	"github.com/ironfang-ltd/go-ports"
	"github.com/ironfang-ltd/go-ports/internal/simnet"
)

func connectTest(t *testing.T, from, to *ports.Node) (fromRef, toRef ports.PortRef) {
	t.Helper()

	fromRef, err := from.CreateUninitializedPort()
	if err != nil {
		t.Fatalf("CreateUninitializedPort: %v", err)
	}
	toRef, err = to.CreateUninitializedPort()
	if err != nil {
		t.Fatalf("CreateUninitializedPort: %v", err)
	}
	if err := from.InitializePort(fromRef, to.Name(), toRef.Name()); err != nil {
		t.Fatalf("InitializePort: %v", err)
	}
	if err := to.InitializePort(toRef, from.Name(), fromRef.Name()); err != nil {
		t.Fatalf("InitializePort: %v", err)
	}
	return fromRef, toRef
}

func waitForMessage(t *testing.T, node *ports.Node, ref ports.PortRef) *ports.Message {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		msg, err := node.GetMessage(ref)
		if err != nil {
			t.Fatalf("GetMessage: %v", err)
		}
		if msg != nil {
			return msg
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for a message on %v", ref.Name())
	return nil
}

// TestProxyChainCollapses sends a port A -> B -> C and confirms that a
// message sent from the original holder reaches C and that B's proxy
// record for the traveling port is then fully retired.
func TestProxyChainCollapses(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{Level: slog.LevelError}))

	net := simnet.NewNetwork(logger)
	a := net.NewNode(ports.WithLogger(logger))
	b := net.NewNode(ports.WithLogger(logger))
	c := net.NewNode(ports.WithLogger(logger))

	abFromA, abFromB := connectTest(t, a, b)
	bcFromB, bcFromC := connectTest(t, b, c)

	aLocal, aRemote, err := a.CreatePortPair()
	if err != nil {
		t.Fatalf("CreatePortPair: %v", err)
	}

	if err := a.SendMessage(abFromA, ports.NewUserMessage(abFromB.Name(), []byte("hop1")).WithPorts(aRemote.Name())); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	hop1 := waitForMessage(t, b, abFromB)
	if len(hop1.Ports) != 1 {
		t.Fatalf("expected one carried port, got %d", len(hop1.Ports))
	}
	traveling := hop1.Ports[0]

	if err := b.SendMessage(bcFromB, ports.NewUserMessage(bcFromC.Name(), []byte("hop2")).WithPorts(traveling)); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	hop2 := waitForMessage(t, c, bcFromC)
	if len(hop2.Ports) != 1 {
		t.Fatalf("expected one carried port, got %d", len(hop2.Ports))
	}
	finalPort := hop2.Ports[0]

	// Send on aLocal, retrying until SendMessage accepts the message.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if err := a.SendMessage(aLocal, ports.NewUserMessage(finalPort, []byte("direct"))); err == nil {
			break
		}
		time.Sleep(time.Millisecond)
	}

	msg := waitForMessage(t, c, c.GetPort(finalPort))
	if string(msg.Payload) != "direct" {
		t.Fatalf("payload = %q, want %q", msg.Payload, "direct")
	}

	// Once the ObserveProxy/ObserveProxyAck handshake has run, B must hold
	// no record of the traveling port.
	deadline = time.Now().Add(2 * time.Second)
	for !b.GetPort(traveling).IsZero() {
		if time.Now().After(deadline) {
			t.Fatalf("B still holds a record for the traveling port %v", traveling)
		}
		time.Sleep(time.Millisecond)
	}
}

// testWriter adapts *testing.T to io.Writer so slog output lands in the
// test log instead of stdout.
type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Logf("%s", p)
	return len(p), nil
}
