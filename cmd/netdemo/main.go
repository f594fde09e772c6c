// netdemo starts two routing nodes on real TCP sockets, migrates a port
// from node A to node B, and confirms a message sent afterward still
// arrives — over an actual wire instead of simnet's in-process channels.
//
// Run:  go run ./cmd/netdemo
package main

import (
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/ironfang-ltd/go-ports"
	"github.com/ironfang-ltd/go-ports/internal/netdelegate"
)

// listenAddr picks an ephemeral localhost port and releases it immediately;
// netdelegate.New will bind its own listener on the returned address a
// moment later, the same "ask the OS, then hand the string to the real
// component" idiom the teacher's transport-demo uses via Transport.Addr().
func listenAddr() string {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		log.Fatalf("listenAddr: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func mountMetrics(addr string, m *ports.Metrics) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Printf("netdemo: metrics server on %s stopped: %v", addr, err)
		}
	}()
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	nodeAName := ports.NewNodeName()
	nodeBName := ports.NewNodeName()

	addrA := listenAddr()
	addrB := listenAddr()

	delegateA, err := netdelegate.New(nodeAName, addrA, logger)
	if err != nil {
		log.Fatalf("netdelegate.New A: %v", err)
	}
	delegateB, err := netdelegate.New(nodeBName, addrB, logger)
	if err != nil {
		log.Fatalf("netdelegate.New B: %v", err)
	}

	delegateA.AddPeer(nodeBName, addrB)
	delegateB.AddPeer(nodeAName, addrA)

	metricsA := ports.NewMetrics(nil)
	metricsB := ports.NewMetrics(nil)
	mountMetrics("127.0.0.1:9101", metricsA)
	mountMetrics("127.0.0.1:9102", metricsB)

	a := ports.NewNode(nodeAName, delegateA, ports.WithLogger(logger), ports.WithMetrics(metricsA))
	b := ports.NewNode(nodeBName, delegateB, ports.WithLogger(logger), ports.WithMetrics(metricsB))
	delegateA.SetNode(a)
	delegateB.SetNode(b)

	fmt.Printf("node A listening on %s, node B listening on %s\n", addrA, addrB)
	fmt.Println("metrics: http://127.0.0.1:9101/metrics (A), http://127.0.0.1:9102/metrics (B)")

	// Bootstrap the first cross-node link the same way cmd/demo does with
	// simnet: a pair of uninitialized ports, cross-wired by name exchange.
	fromA, err := a.CreateUninitializedPort()
	if err != nil {
		log.Fatalf("CreateUninitializedPort A: %v", err)
	}
	toB, err := b.CreateUninitializedPort()
	if err != nil {
		log.Fatalf("CreateUninitializedPort B: %v", err)
	}
	if err := a.InitializePort(fromA, nodeBName, toB.Name()); err != nil {
		log.Fatalf("InitializePort A: %v", err)
	}
	if err := b.InitializePort(toB, nodeAName, fromA.Name()); err != nil {
		log.Fatalf("InitializePort B: %v", err)
	}

	// aLocal/aRemote migrates from A to B over the wire above; once it
	// lands, a message sent through aLocal should reach B directly.
	aLocal, aRemote, err := a.CreatePortPair()
	if err != nil {
		log.Fatalf("CreatePortPair: %v", err)
	}

	if err := a.SendMessage(fromA, ports.NewUserMessage(toB.Name(), []byte("carrying aRemote")).WithPorts(aRemote.Name())); err != nil {
		log.Fatalf("SendMessage: %v", err)
	}

	var traveling ports.PortName
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		msg, err := b.GetMessage(toB)
		if err != nil {
			log.Fatalf("GetMessage: %v", err)
		}
		if msg != nil {
			traveling = msg.Ports[0]
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !traveling.IsValid() {
		log.Fatal("timed out waiting for the migrated port to land on B")
	}
	fmt.Println("B received the traveling port as", traveling)

	if err := a.SendMessage(aLocal, ports.NewUserMessage(traveling, []byte("hello over the wire"))); err != nil {
		log.Fatalf("SendMessage direct: %v", err)
	}

	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		msg, err := b.GetMessage(b.GetPort(traveling))
		if err != nil {
			log.Fatalf("GetMessage: %v", err)
		}
		if msg != nil {
			fmt.Printf("B delivered the message directly from A: %q\n", msg.Payload)
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	fmt.Println("message still in flight; the ObserveProxy handshake may need more time")
}
