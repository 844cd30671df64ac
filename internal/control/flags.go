// Package control holds the sticky, atomically-polled plan-wide flags
// described in spec.md §9: "Sticky abort/cancel flags: atomic booleans.
// Polling is sufficient; no need for condition variables because workers
// already block on barriers and I/O that are short-lived or interruptible."
package control

import "sync/atomic"

// Flags is the plan-wide abort/canceled state, shared by reference across
// the coordinator, every worker, and the restart monitor.
type Flags struct {
	abort    int32
	canceled int32
}

// SetAbort latches the abort flag. Idempotent.
func (f *Flags) SetAbort() { atomic.StoreInt32(&f.abort, 1) }

// SetCanceled latches the canceled flag. Idempotent.
func (f *Flags) SetCanceled() { atomic.StoreInt32(&f.canceled, 1) }

// Aborted reports whether SetAbort has been called.
func (f *Flags) Aborted() bool { return atomic.LoadInt32(&f.abort) != 0 }

// Canceled reports whether SetCanceled has been called.
func (f *Flags) Canceled() bool { return atomic.LoadInt32(&f.canceled) != 0 }

// ShouldStop reports whether either flag is latched — the single check
// every loop performs at the top of each iteration and at long-blocking
// points (spec.md §5).
func (f *Flags) ShouldStop() bool { return f.Aborted() || f.Canceled() }
