package e2e

import (
	"fmt"
	"sync"
)

// AddressTableEntry is one row of the E2E Address Table (spec.md §3): a
// remote host and the contiguous span of ports (and therefore connections)
// it owns.
type AddressTableEntry struct {
	Hostname  string
	BasePort  int
	PortCount int
}

// AddressTable is the ordered sequence of entries whose PortCount values sum
// to the target's total connection count. Worker w is bound to the entry in
// whose port span w's global index falls.
type AddressTable []AddressTableEntry

// TotalConnections returns the sum of every entry's PortCount.
func (t AddressTable) TotalConnections() int {
	n := 0
	for _, e := range t {
		n += e.PortCount
	}
	return n
}

// EntryForWorker returns the index of the address table entry that owns
// worker index w, and the endpoint for the specific connection within that
// entry's port span.
func (t AddressTable) EntryForWorker(w int) (entryIndex int, ep Endpoint, connIndex int, err error) {
	base := 0
	for i, e := range t {
		if w < base+e.PortCount {
			offset := w - base
			return i, Endpoint{Host: e.Hostname, Port: e.BasePort + offset}, base + offset, nil
		}
		base += e.PortCount
	}
	return -1, Endpoint{}, -1, fmt.Errorf("e2e: worker index %d exceeds address table span %d", w, base)
}

// State is the per-target E2E state described in spec.md §3 (E2E State):
// the address table, one connection (and guarding mutex) per table slot, the
// transport context, and a destination-address cache map that no method of
// State reads or fills.
type State struct {
	Table     AddressTable
	Transport Transport
	ctx       Context

	mu          sync.Mutex // guards established/connections slice growth only
	established []bool
	firstUse    []sync.Mutex
	connections []Conn

	destAddrCache map[string]string
}

// NewState builds E2E State for the given address table and transport,
// sized for table.TotalConnections() connection slots.
func NewState(table AddressTable, transport Transport) (*State, error) {
	ctx, err := transport.CreateContext()
	if err != nil {
		return nil, fmt.Errorf("e2e: create context: %w", err)
	}
	n := table.TotalConnections()
	return &State{
		Table:         table,
		Transport:     transport,
		ctx:           ctx,
		established:   make([]bool, n),
		firstUse:      make([]sync.Mutex, n),
		connections:   make([]Conn, n),
		destAddrCache: make(map[string]string, n),
	}, nil
}

// ConnectionFor returns the connection for connIndex, establishing it via
// connect (source side) if this is the first caller to reach it. The
// first-use mutex guards exactly the establishment race described in
// spec.md §4.2 ("First-use race"); a worker that finds the connection
// already established returns it without re-dialing.
func (s *State) ConnectionFor(connIndex int, ep Endpoint, asSource bool) (Conn, error) {
	if connIndex < 0 || connIndex >= len(s.connections) {
		return nil, fmt.Errorf("e2e: connection index %d out of range", connIndex)
	}
	s.firstUse[connIndex].Lock()
	defer s.firstUse[connIndex].Unlock()

	if s.established[connIndex] {
		return s.connections[connIndex], nil
	}

	var conn Conn
	var err error
	if asSource {
		conn, err = s.Transport.Connect(s.ctx, ep)
	} else {
		conn, err = s.Transport.Accept(s.ctx, ep)
	}
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.connections[connIndex] = conn
	s.established[connIndex] = true
	s.mu.Unlock()
	return conn, nil
}

// Connections returns a snapshot of every established connection, in table
// order, for teardown (spec.md §4.6 step 2).
func (s *State) Connections() []Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Conn, 0, len(s.connections))
	for i, c := range s.connections {
		if s.established[i] {
			out = append(out, c)
		}
	}
	return out
}

// Close disconnects every established connection. Per spec.md §4.6 step 2
// and the open question resolved in §9, the per-connection mutexes are
// destroyed (implicitly, by State going out of scope) only after every
// connection has been closed, never before.
func (s *State) Close() []error {
	var errs []error
	for _, conn := range s.Connections() {
		if err := s.Transport.CloseConnection(conn); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
