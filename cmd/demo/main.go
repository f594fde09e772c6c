// Command demo wires up three in-process nodes with simnet, hands a port
// from node A to node C by way of node B, and shows a message sent from
// A's end of the pair arriving at C once the route has collapsed past the
// B proxy.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ironfang-ltd/go-ports"
	"github.com/ironfang-ltd/go-ports/internal/simnet"
)

func must(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "demo:", err)
		os.Exit(1)
	}
}

// connect establishes the first port between two nodes that have never
// talked before. CreatePortPair only works within a single node, so a
// brand new cross-node channel needs each side created uninitialized and
// then told the other's name directly — the out-of-band exchange a real
// embedder would normally do once, during process bootstrap or connection
// handshake.
func connect(from, to *ports.Node) (fromRef, toRef ports.PortRef) {
	fromRef, err := from.CreateUninitializedPort()
	must(err)
	toRef, err = to.CreateUninitializedPort()
	must(err)

	must(from.InitializePort(fromRef, to.Name(), toRef.Name()))
	must(to.InitializePort(toRef, from.Name(), fromRef.Name()))
	return fromRef, toRef
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	net := simnet.NewNetwork(logger)
	a := net.NewNode(ports.WithLogger(logger))
	b := net.NewNode(ports.WithLogger(logger))
	c := net.NewNode(ports.WithLogger(logger))

	abFromA, abFromB := connect(a, b)
	bcFromB, bcFromC := connect(b, c)

	// aLocal/aRemote is the pair we're going to migrate: aLocal stays on A,
	// aRemote travels A -> B -> C. Once it lands on C, a message sent
	// through aLocal should reach C directly, with B's proxy gone.
	aLocal, aRemote, err := a.CreatePortPair()
	must(err)

	must(a.SendMessage(abFromA, ports.NewUserMessage(abFromB.Name(), []byte("carrying aRemote")).WithPorts(aRemote.Name())))

	time.Sleep(20 * time.Millisecond)
	hopToB, err := b.GetMessage(abFromB)
	must(err)
	travelingPort := hopToB.Ports[0]
	fmt.Println("B received the traveling port as", travelingPort)

	must(b.SendMessage(bcFromB, ports.NewUserMessage(bcFromC.Name(), []byte("carrying it onward")).WithPorts(travelingPort)))

	time.Sleep(20 * time.Millisecond)
	hopToC, err := c.GetMessage(bcFromC)
	must(err)
	finalPort := hopToC.Ports[0]
	fmt.Println("C received the traveling port as", finalPort)

	// Give the ObserveProxy/ObserveProxyAck handshake time to run so B's
	// proxy retires and A's aLocal starts addressing C directly.
	time.Sleep(50 * time.Millisecond)

	must(a.SendMessage(aLocal, ports.NewUserMessage(finalPort, []byte("hello, wherever you ended up"))))

	time.Sleep(20 * time.Millisecond)
	delivered, err := c.GetMessage(c.GetPort(finalPort))
	must(err)
	if delivered != nil {
		fmt.Printf("C delivered the message directly from A: %q\n", delivered.Payload)
	} else {
		fmt.Println("message still in flight; increase the sleep and re-run")
	}
}
