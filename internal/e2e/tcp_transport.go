package e2e

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/ehrlich-b/xdd/internal/bufpool"
)

// wire framing for one TargetBuffer: a fixed 28-byte header followed by the
// payload. This framing is an implementation detail of TCPTransport only
// (SPEC_FULL.md Non-goals): no other component depends on it.
//
//	sequence_number int64
//	target_offset   int64
//	data_length     int64
//	eof             uint32 (0 or 1)
const headerSize = 8 + 8 + 8 + 4

// TCPTransport is the one in-tree Transport implementation (spec.md §9:
// "one in-tree implementation"). Connections are long-lived,
// one-per-address-table-slot net.Conn streams handled one goroutine per
// caller rather than multiplexed through an epoll reactor, since xdd's
// connection count per target is small and each connection's lifetime spans
// the whole pass.
//
// Buffer recycling — requesting a pool buffer instead of allocating a fresh
// one per message — is grounded on socket515-gaio's watcher.go swapBuffer
// discipline.
type TCPTransport struct {
	Pool *bufpool.Pool

	dialTimeout time.Duration
	listenersMu sync.Mutex
	listeners   map[string]net.Listener

	leaseMu sync.Mutex
	leased  map[*byte]int // first-byte pointer -> pool index, for ReleaseTargetBuffer
}

// NewTCPTransport creates a TCPTransport whose RequestTargetBuffer calls
// lease from pool.
func NewTCPTransport(pool *bufpool.Pool) *TCPTransport {
	return &TCPTransport{
		Pool:        pool,
		dialTimeout: 10 * time.Second,
		listeners:   make(map[string]net.Listener),
		leased:      make(map[*byte]int),
	}
}

// CreateContext returns a context. TCPTransport has no shared context state
// beyond the listener table, which is keyed by address instead.
func (t *TCPTransport) CreateContext() (Context, error) {
	return t, nil
}

// Connect dials ep as the source side of the connection.
func (t *TCPTransport) Connect(ctx Context, ep Endpoint) (Conn, error) {
	addr := fmt.Sprintf("%s:%d", ep.Host, ep.Port)
	conn, err := net.DialTimeout("tcp", addr, t.dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("e2e: dial %s: %w", addr, err)
	}
	return conn, nil
}

// Accept opens a listener on ep (creating it on first use, per-address) and
// accepts exactly one inbound connection as the destination side.
func (t *TCPTransport) Accept(ctx Context, ep Endpoint) (Conn, error) {
	addr := fmt.Sprintf("%s:%d", ep.Host, ep.Port)
	t.listenersMu.Lock()
	ln, ok := t.listeners[addr]
	if !ok {
		var err error
		ln, err = net.Listen("tcp", addr)
		if err != nil {
			t.listenersMu.Unlock()
			return nil, fmt.Errorf("e2e: listen %s: %w", addr, err)
		}
		t.listeners[addr] = ln
	}
	t.listenersMu.Unlock()

	conn, err := ln.Accept()
	if err != nil {
		return nil, fmt.Errorf("e2e: accept %s: %w", addr, err)
	}
	return conn, nil
}

// SendTargetBuffer writes buf's header and payload to conn.
func (t *TCPTransport) SendTargetBuffer(conn Conn, buf *TargetBuffer) error {
	c, ok := conn.(net.Conn)
	if !ok {
		return fmt.Errorf("e2e: send: not a net.Conn")
	}
	var hdr [headerSize]byte
	binary.BigEndian.PutUint64(hdr[0:8], uint64(buf.SequenceNumber))
	binary.BigEndian.PutUint64(hdr[8:16], uint64(buf.TargetOffset))
	binary.BigEndian.PutUint64(hdr[16:24], uint64(buf.DataLength))
	if buf.EOF {
		binary.BigEndian.PutUint32(hdr[24:28], 1)
	}
	if _, err := c.Write(hdr[:]); err != nil {
		return fmt.Errorf("e2e: send header: %w", err)
	}
	if buf.DataLength > 0 {
		if _, err := c.Write(buf.Data[:buf.DataLength]); err != nil {
			return fmt.Errorf("e2e: send payload: %w", err)
		}
	}
	return nil
}

// RequestTargetBuffer leases a fresh buffer from the pool for the caller to
// fill with the next disk read, per spec.md §4.2 source send path step (c).
func (t *TCPTransport) RequestTargetBuffer(conn Conn) (*TargetBuffer, error) {
	idx, buf, err := t.leaseAny()
	if err != nil {
		return nil, err
	}
	return &TargetBuffer{Data: buf, SequenceNumber: int64(idx)}, nil
}

// leaseAny finds and leases the first free buffer in the pool and records
// its index in the leased map, keyed by the buffer's first byte, where
// ReleaseTargetBuffer looks it up to return the buffer to the pool.
func (t *TCPTransport) leaseAny() (int, []byte, error) {
	for i := 0; i < t.Pool.Count(); i++ {
		if buf, err := t.Pool.Lease(i); err == nil {
			if len(buf) > 0 {
				t.leaseMu.Lock()
				t.leased[&buf[0]] = i
				t.leaseMu.Unlock()
			}
			return i, buf, nil
		}
	}
	return -1, nil, fmt.Errorf("e2e: no free buffers available")
}

// ReceiveTargetBuffer reads the next framed message from conn.
func (t *TCPTransport) ReceiveTargetBuffer(conn Conn) (*TargetBuffer, Status, error) {
	c, ok := conn.(net.Conn)
	if !ok {
		return nil, StatusErr, fmt.Errorf("e2e: receive: not a net.Conn")
	}
	var hdr [headerSize]byte
	if _, err := io.ReadFull(c, hdr[:]); err != nil {
		if err == io.EOF {
			return nil, StatusEOF, nil
		}
		return nil, StatusErr, fmt.Errorf("e2e: receive header: %w", err)
	}

	buf := &TargetBuffer{
		SequenceNumber: int64(binary.BigEndian.Uint64(hdr[0:8])),
		TargetOffset:   int64(binary.BigEndian.Uint64(hdr[8:16])),
		DataLength:     int64(binary.BigEndian.Uint64(hdr[16:24])),
		EOF:            binary.BigEndian.Uint32(hdr[24:28]) == 1,
	}
	if buf.EOF {
		return buf, StatusEOF, nil
	}

	_, data, err := t.leaseAny()
	if err != nil {
		return nil, StatusErr, err
	}
	if buf.DataLength > int64(len(data)) {
		return nil, StatusErr, fmt.Errorf("e2e: payload %d exceeds buffer size %d", buf.DataLength, len(data))
	}
	if _, err := io.ReadFull(c, data[:buf.DataLength]); err != nil {
		return nil, StatusErr, fmt.Errorf("e2e: receive payload: %w", err)
	}
	buf.Data = data
	return buf, StatusOK, nil
}

// ReleaseTargetBuffer returns buf's backing buffer to the pool, looking up
// its pool index from the map populated when it was leased.
func (t *TCPTransport) ReleaseTargetBuffer(conn Conn, buf *TargetBuffer) {
	if buf == nil || len(buf.Data) == 0 {
		return
	}
	t.leaseMu.Lock()
	idx, ok := t.leased[&buf.Data[0]]
	if ok {
		delete(t.leased, &buf.Data[0])
	}
	t.leaseMu.Unlock()
	if ok {
		t.Pool.Release(idx)
	}
}

var _ Transport = (*TCPTransport)(nil)
