// Package e2e implements the End-to-End streaming subsystem (C8): a
// connection-oriented, buffer-pooled transport coupling a reading source
// worker pool to a writing destination worker pool, per spec.md §4.2 and §6.
package e2e

// Status is the outcome of a ReceiveTargetBuffer call (spec.md §6).
type Status int

const (
	StatusOK Status = iota
	StatusEOF
	StatusErr
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusEOF:
		return "EOF"
	default:
		return "ERR"
	}
}

// Endpoint is a transport-agnostic address (spec.md §6).
type Endpoint struct {
	Host string
	Port int
}

// Context is an opaque transport context handed back by CreateContext and
// threaded through Connect/Accept. Its shape is transport-specific.
type Context interface{}

// Conn is an opaque, transport-specific connection handle.
type Conn interface{}

// TargetBuffer is a network-transport buffer carrying the headers and
// payload described in spec.md §3 (Target Buffer). Sequence numbers are
// monotonically increasing per connection from 0.
type TargetBuffer struct {
	SequenceNumber int64
	TargetOffset   int64
	DataLength     int64
	Data           []byte
	EOF            bool
}

// Transport is the pluggable network capability set from spec.md §4.2/§6.
// TCPTransport is the in-tree network implementation and the root package's
// LoopbackTransport an in-process one used by tests; xdd.Transport aliases
// this interface at the top level so a caller may supply its own.
type Transport interface {
	CreateContext() (Context, error)

	// Connect opens (or, on a second call racing the first, adopts) the
	// connection to ep as the source side.
	Connect(ctx Context, ep Endpoint) (Conn, error)

	// Accept opens (or adopts) the connection from ep as the destination
	// side.
	Accept(ctx Context, ep Endpoint) (Conn, error)

	SendTargetBuffer(conn Conn, buf *TargetBuffer) error
	RequestTargetBuffer(conn Conn) (*TargetBuffer, error)
	ReceiveTargetBuffer(conn Conn) (*TargetBuffer, Status, error)
	ReleaseTargetBuffer(conn Conn, buf *TargetBuffer)
	CloseConnection(conn Conn) error
}
