package gates

import "sync"

// StartGate is the private per-target start barrier from spec.md §4.1 step
// 2 (WAITFORSTART): every worker of the target blocks on Wait until some
// other worker's outgoing trigger calls Release, which wakes all of them
// exactly once. Unlike internal/barrier.Barrier (an N-party rendezvous
// every party must reach), a StartGate is released by a party outside the
// group waiting on it, so it is a plain one-shot gate.
type StartGate struct {
	once sync.Once
	ch   chan struct{}
}

// NewStartGate creates a StartGate in the blocked state.
func NewStartGate() *StartGate {
	return &StartGate{ch: make(chan struct{})}
}

// Wait blocks until Release has been called.
func (g *StartGate) Wait() {
	<-g.ch
}

// Release wakes every blocked Wait call. Safe to call more than once or
// concurrently; only the first call has effect.
func (g *StartGate) Release() {
	g.once.Do(func() { close(g.ch) })
}
