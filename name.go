package ports

import "github.com/google/uuid"

// NodeName and PortName are 128-bit opaque identifiers, globally unique
// with overwhelming probability. The zero value is the invalid sentinel
// used before a name has been assigned.
type NodeName [16]byte

type PortName [16]byte

// InvalidNodeName and InvalidPortName are the zero-value sentinels.
var (
	InvalidNodeName NodeName
	InvalidPortName PortName
)

func (n NodeName) String() string {
	return uuid.UUID(n).String()
}

func (n PortName) String() string {
	return uuid.UUID(n).String()
}

func (n NodeName) IsValid() bool {
	return n != InvalidNodeName
}

func (n PortName) IsValid() bool {
	return n != InvalidPortName
}

// NewNodeName mints a fresh 128-bit node identity using a version-4 random
// UUID. Core code never calls this directly (per the design, the random
// generator belongs to the embedder) — it exists for embedders and tests
// that want a ready-made generator without writing their own.
func NewNodeName() NodeName {
	return NodeName(uuid.New())
}

// NewPortName mints a fresh 128-bit port identity the same way.
func NewPortName() PortName {
	return PortName(uuid.New())
}

// PortRef is a short-lived handle to a port: its name plus a pointer to the
// live record. Holding a PortRef does not keep the port alive beyond its
// node's registry — once the node erases the port, the pointer refers to an
// orphaned Closed record.
type PortRef struct {
	name PortName
	port *Port
}

func newPortRef(name PortName, port *Port) PortRef {
	return PortRef{name: name, port: port}
}

// Name returns the port's name.
func (r PortRef) Name() PortName { return r.name }

// IsZero reports whether this PortRef was never populated.
func (r PortRef) IsZero() bool { return r.port == nil }
