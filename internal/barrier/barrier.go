// Package barrier implements the reusable N-party rendezvous described in
// spec.md §4.4 (Barrier). Unlike a one-shot sync.WaitGroup, a Barrier may be
// entered again as soon as it has released the previous generation — the
// design note in spec.md §9 calls this a "toggled two-phase barrier", but
// callers never see the toggle: Enter just blocks until the Nth party
// arrives, release happens for everyone at once, and the barrier is
// immediately ready for its next generation.
package barrier

import "sync"

// Occupant is a diagnostic tag recorded for a party currently inside the
// barrier (component name + a short type/role string), surfaced via
// Occupants for barrier-dump style debugging.
type Occupant struct {
	Name string
	Type string
}

// Barrier is a reusable N-party rendezvous.
type Barrier struct {
	mu        sync.Mutex
	cond      *sync.Cond
	n         int
	count     int
	gen       uint64
	occupants map[string]Occupant
}

// New creates a Barrier that releases every n-th Enter call.
func New(n int) *Barrier {
	if n < 1 {
		n = 1
	}
	b := &Barrier{n: n, occupants: make(map[string]Occupant, n)}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Enter blocks the calling party until n parties have entered the current
// generation, then releases all of them together. occupant is recorded for
// the duration of the call for diagnostic dumps.
func (b *Barrier) Enter(occupant Occupant) {
	b.mu.Lock()
	defer b.mu.Unlock()

	gen := b.gen
	b.occupants[occupant.Name] = occupant
	b.count++

	if b.count == b.n {
		// Last party: release this generation and start the next.
		b.count = 0
		b.gen++
		b.occupants = make(map[string]Occupant, b.n)
		b.cond.Broadcast()
		return
	}

	for b.gen == gen {
		b.cond.Wait()
	}
	delete(b.occupants, occupant.Name)
}

// N returns the configured party count.
func (b *Barrier) N() int {
	return b.n
}

// Occupants returns a snapshot of parties currently waiting inside the
// barrier, for diagnostic dumps (spec.md §4.4).
func (b *Barrier) Occupants() []Occupant {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Occupant, 0, len(b.occupants))
	for _, o := range b.occupants {
		out = append(out, o)
	}
	return out
}
