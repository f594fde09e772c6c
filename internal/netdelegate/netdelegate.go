// Package netdelegate is a minimal TCP NodeDelegate: a length-prefixed,
// gob-encoded framing over plain sockets, one dedicated writer goroutine
// per peer, dialing lazily on first send. Adapted from the teacher's
// transport.go wire framing (length-prefixed frames, per-peer writer
// goroutines) for cmd/netdemo — a reference implementation of the
// NodeDelegate contract over a real network, explicitly outside the
// routing core's own package.
package netdelegate

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/ironfang-ltd/go-ports"
)

// wireMessage is the gob-serializable form of a *ports.Message, spelled out
// field by field since gob cannot encode an embedded pointer (ObserveProxy)
// reliably across a nil/non-nil boundary without registering it.
type wireMessage struct {
	Type        ports.EventType
	PortName    ports.PortName
	SequenceNum uint64
	Payload     []byte
	Ports       []ports.PortName
	Descriptors []ports.PortDescriptor

	HasObserveProxy bool
	ProxyNodeName   ports.NodeName
	ProxyPortName   ports.PortName
	ProxyToNodeName ports.NodeName
	ProxyToPortName ports.PortName

	LastSequenceNum uint64
}

// Delegate is a ports.NodeDelegate backed by TCP connections to a fixed
// set of known peer addresses. Peers not in the address book cannot be
// reached; this mirrors the teacher's transport.go, which also only knows
// how to dial hosts already present in its peer list.
type Delegate struct {
	self ports.NodeName
	log  *slog.Logger

	mu       sync.Mutex
	addrs    map[ports.NodeName]string
	writers  map[ports.NodeName]chan *ports.Message
	node     *ports.Node
}

// New creates a Delegate for the node named self, listening on listenAddr.
// Peer addresses are added with AddPeer before they can be reached.
func New(self ports.NodeName, listenAddr string, log *slog.Logger) (*Delegate, error) {
	if log == nil {
		log = slog.Default()
	}
	d := &Delegate{
		self:    self,
		log:     log,
		addrs:   make(map[ports.NodeName]string),
		writers: make(map[ports.NodeName]chan *ports.Message),
	}

	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("netdelegate: listen: %w", err)
	}
	go d.acceptLoop(ln)
	return d, nil
}

// SetNode binds the ports.Node this delegate serves. Call once, before
// traffic flows.
func (d *Delegate) SetNode(node *ports.Node) {
	d.mu.Lock()
	d.node = node
	d.mu.Unlock()
}

// AddPeer registers the dial address for a remote node's name.
func (d *Delegate) AddPeer(name ports.NodeName, addr string) {
	d.mu.Lock()
	d.addrs[name] = addr
	d.mu.Unlock()
}

func (d *Delegate) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			d.log.Warn("netdelegate: accept failed", "err", err)
			return
		}
		go d.readLoop(conn)
	}
}

func (d *Delegate) readLoop(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		msg, err := readFrame(r)
		if err != nil {
			if err != io.EOF {
				d.log.Warn("netdelegate: read failed", "err", err)
			}
			return
		}
		d.mu.Lock()
		node := d.node
		d.mu.Unlock()
		if node == nil {
			continue
		}
		if err := node.AcceptMessage(msg); err != nil {
			d.log.Warn("netdelegate: accept message failed", "err", err)
		}
	}
}

// GeneratePortName implements ports.NodeDelegate. Uses crypto-strength
// randomness via the core's own NewPortName helper, which wraps
// github.com/google/uuid the same way every reference delegate in this
// repository does.
func (d *Delegate) GeneratePortName() ports.PortName {
	return ports.NewPortName()
}

// ForwardMessage implements ports.NodeDelegate. The first message to a
// given peer lazily dials and spins up a dedicated writer goroutine for
// that connection; subsequent sends reuse it.
func (d *Delegate) ForwardMessage(to ports.NodeName, msg *ports.Message) error {
	if to == d.self {
		d.mu.Lock()
		node := d.node
		d.mu.Unlock()
		if node == nil {
			return fmt.Errorf("netdelegate: node not yet bound")
		}
		return node.AcceptMessage(msg)
	}

	ch, err := d.writerFor(to)
	if err != nil {
		return err
	}
	ch <- msg
	return nil
}

func (d *Delegate) writerFor(to ports.NodeName) (chan *ports.Message, error) {
	d.mu.Lock()
	if ch, ok := d.writers[to]; ok {
		d.mu.Unlock()
		return ch, nil
	}
	addr, ok := d.addrs[to]
	d.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("netdelegate: no known address for node %s", to)
	}

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("netdelegate: dial %s: %w", addr, err)
	}

	ch := make(chan *ports.Message, 256)
	d.mu.Lock()
	d.writers[to] = ch
	d.mu.Unlock()

	go d.writeLoop(conn, ch)
	return ch, nil
}

func (d *Delegate) writeLoop(conn net.Conn, ch chan *ports.Message) {
	defer conn.Close()
	w := bufio.NewWriter(conn)
	for msg := range ch {
		if err := writeFrame(w, msg); err != nil {
			d.log.Warn("netdelegate: write failed", "err", err)
			return
		}
		if err := w.Flush(); err != nil {
			d.log.Warn("netdelegate: flush failed", "err", err)
			return
		}
	}
}

// PortStatusChanged implements ports.NodeDelegate. cmd/netdemo has no UI
// to wake; left as a no-op extension point.
func (d *Delegate) PortStatusChanged(port ports.PortRef) {}

func toWire(msg *ports.Message) wireMessage {
	w := wireMessage{
		Type:            msg.Type,
		PortName:        msg.PortName,
		SequenceNum:     msg.SequenceNum,
		Payload:         msg.Payload,
		Ports:           msg.Ports,
		Descriptors:     msg.Descriptors,
		LastSequenceNum: msg.LastSequenceNum,
	}
	if msg.ObserveProxy != nil {
		w.HasObserveProxy = true
		w.ProxyNodeName = msg.ObserveProxy.ProxyNodeName
		w.ProxyPortName = msg.ObserveProxy.ProxyPortName
		w.ProxyToNodeName = msg.ObserveProxy.ProxyToNodeName
		w.ProxyToPortName = msg.ObserveProxy.ProxyToPortName
	}
	return w
}

func fromWire(wm wireMessage) *ports.Message {
	msg := &ports.Message{
		Type:            wm.Type,
		PortName:        wm.PortName,
		SequenceNum:     wm.SequenceNum,
		Payload:         wm.Payload,
		Ports:           wm.Ports,
		Descriptors:     wm.Descriptors,
		LastSequenceNum: wm.LastSequenceNum,
	}
	if wm.HasObserveProxy {
		msg.ObserveProxy = &ports.ObserveProxyEventData{
			ProxyNodeName:   wm.ProxyNodeName,
			ProxyPortName:   wm.ProxyPortName,
			ProxyToNodeName: wm.ProxyToNodeName,
			ProxyToPortName: wm.ProxyToPortName,
		}
	}
	return msg
}

func writeFrame(w io.Writer, msg *ports.Message) error {
	// gob needs a concrete buffer to measure the encoded length before the
	// length-prefixed frame can be written.
	buf, err := encodeGob(toWire(msg))
	if err != nil {
		return err
	}

	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(buf)))
	if _, err := w.Write(lenPrefix[:]); err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

func readFrame(r io.Reader) (*ports.Message, error) {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenPrefix[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}

	var wm wireMessage
	if err := decodeGob(buf, &wm); err != nil {
		return nil, err
	}
	return fromWire(wm), nil
}

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("netdelegate: gob encode: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeGob(buf []byte, v any) error {
	if err := gob.NewDecoder(bytes.NewReader(buf)).Decode(v); err != nil {
		return fmt.Errorf("netdelegate: gob decode: %w", err)
	}
	return nil
}
