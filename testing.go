package xdd

import (
	"fmt"
	"io"
	"sync"

	"github.com/ehrlich-b/xdd/internal/e2e"
)

// LoopbackTransport is an in-process Transport for tests that exercise the
// E2E path (spec.md §4.2, §6) without opening real sockets. A source and a
// destination target sharing one LoopbackTransport and addressing each
// other by Endpoint are connected via one buffered channel; no goroutine
// or real network stack is involved. It implements all optional behavior a
// test needs and tracks call counts for verification, in the spirit of the
// mock collaborators used elsewhere in this codebase.
type LoopbackTransport struct {
	// QueueDepth bounds the number of in-flight buffers per connection
	// before SendTargetBuffer blocks; 0 uses a depth of 1.
	QueueDepth int

	mu    sync.Mutex
	conns map[string]*loopbackConn

	sendCalls, recvCalls, releaseCalls int
}

type loopbackConn struct {
	mu     sync.Mutex
	ch     chan *e2e.TargetBuffer
	closed bool
}

// NewLoopbackTransport creates a LoopbackTransport ready for use by both
// sides of a connection.
func NewLoopbackTransport() *LoopbackTransport {
	return &LoopbackTransport{conns: make(map[string]*loopbackConn)}
}

func (t *LoopbackTransport) key(ep e2e.Endpoint) string {
	return fmt.Sprintf("%s:%d", ep.Host, ep.Port)
}

func (t *LoopbackTransport) connFor(ep e2e.Endpoint) *loopbackConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := t.key(ep)
	if c, ok := t.conns[key]; ok {
		return c
	}
	depth := t.QueueDepth
	if depth < 1 {
		depth = 1
	}
	c := &loopbackConn{ch: make(chan *e2e.TargetBuffer, depth)}
	t.conns[key] = c
	return c
}

// CreateContext implements e2e.Transport; LoopbackTransport carries no
// shared context state.
func (t *LoopbackTransport) CreateContext() (e2e.Context, error) { return nil, nil }

// Connect implements e2e.Transport's source-side half of the rendezvous.
func (t *LoopbackTransport) Connect(ctx e2e.Context, ep e2e.Endpoint) (e2e.Conn, error) {
	return t.connFor(ep), nil
}

// Accept implements e2e.Transport's destination-side half of the
// rendezvous; Connect and Accept against the same Endpoint adopt the same
// underlying channel regardless of call order.
func (t *LoopbackTransport) Accept(ctx e2e.Context, ep e2e.Endpoint) (e2e.Conn, error) {
	return t.connFor(ep), nil
}

// SendTargetBuffer deep-copies buf (the caller's slice may be reused
// immediately, e.g. a recycled buffer-pool slot) and enqueues it.
func (t *LoopbackTransport) SendTargetBuffer(conn e2e.Conn, buf *e2e.TargetBuffer) error {
	lc, ok := conn.(*loopbackConn)
	if !ok {
		return fmt.Errorf("loopback: not a loopback connection")
	}
	t.mu.Lock()
	t.sendCalls++
	t.mu.Unlock()

	cp := *buf
	cp.Data = append([]byte(nil), buf.Data...)

	lc.mu.Lock()
	closed := lc.closed
	lc.mu.Unlock()
	if closed {
		return io.ErrClosedPipe
	}
	lc.ch <- &cp
	return nil
}

// RequestTargetBuffer hands back a freshly allocated 4096-byte scratch
// buffer on every call.
func (t *LoopbackTransport) RequestTargetBuffer(conn e2e.Conn) (*e2e.TargetBuffer, error) {
	return &e2e.TargetBuffer{Data: make([]byte, 4096)}, nil
}

// ReceiveTargetBuffer blocks for the next enqueued buffer, or reports
// StatusEOF once the connection has been closed and drained.
func (t *LoopbackTransport) ReceiveTargetBuffer(conn e2e.Conn) (*e2e.TargetBuffer, e2e.Status, error) {
	lc, ok := conn.(*loopbackConn)
	if !ok {
		return nil, e2e.StatusErr, fmt.Errorf("loopback: not a loopback connection")
	}
	t.mu.Lock()
	t.recvCalls++
	t.mu.Unlock()

	buf, open := <-lc.ch
	if !open {
		return nil, e2e.StatusEOF, nil
	}
	return buf, e2e.StatusOK, nil
}

// ReleaseTargetBuffer only counts the call: loopback buffers are ordinary
// garbage-collected slices, not pool-leased ones.
func (t *LoopbackTransport) ReleaseTargetBuffer(conn e2e.Conn, buf *e2e.TargetBuffer) {
	t.mu.Lock()
	t.releaseCalls++
	t.mu.Unlock()
}

// CloseConnection closes the connection's channel so a blocked
// ReceiveTargetBuffer unblocks with StatusEOF. Safe to call from either
// side, and safe to call more than once.
func (t *LoopbackTransport) CloseConnection(conn e2e.Conn) error {
	lc, ok := conn.(*loopbackConn)
	if !ok {
		return fmt.Errorf("loopback: not a loopback connection")
	}
	lc.mu.Lock()
	defer lc.mu.Unlock()
	if !lc.closed {
		lc.closed = true
		close(lc.ch)
	}
	return nil
}

// CallCounts reports how many times each Transport method that moves data
// has been invoked, for tests asserting on transport activity.
func (t *LoopbackTransport) CallCounts() map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return map[string]int{
		"send":    t.sendCalls,
		"recv":    t.recvCalls,
		"release": t.releaseCalls,
	}
}

var _ Transport = (*LoopbackTransport)(nil)
