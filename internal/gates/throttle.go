// Package gates implements the per-op admission controls from spec.md §4.1:
// the syncio barrier gate is driven directly by internal/barrier from the
// worker loop, so this package holds the other three — Throttle, Trigger,
// and Lockstep.
package gates

import (
	"time"

	"github.com/ehrlich-b/xdd/internal/xconst"
)

// ThrottleMode selects how Throttle paces operations.
type ThrottleMode int

const (
	// ThrottleNone disables pacing.
	ThrottleNone ThrottleMode = iota
	// ThrottleDelay sleeps a fixed duration before every operation.
	ThrottleDelay
	// ThrottleSchedule sleeps just enough to keep pace with the seek
	// plan's precomputed ScheduledTime (IOPS/bandwidth targets resolve to
	// a schedule at seek-plan build time).
	ThrottleSchedule
)

// Sleeper abstracts time.Sleep so tests can inject a fake and assert on call
// counts without actually sleeping (spec.md B-3: throttle=0 has zero sleep
// overhead; sub-tick sleeps are skipped, not slept).
type Sleeper interface {
	Sleep(d time.Duration)
}

type realSleeper struct{}

func (realSleeper) Sleep(d time.Duration) { time.Sleep(d) }

// Throttle implements spec.md §4.1 step 9.
type Throttle struct {
	Mode        ThrottleMode
	FixedDelay  time.Duration
	Sleeper     Sleeper
	SleptCount  int // diagnostic counter, incremented on every non-skipped sleep
	SkippedSubTick int
}

// NewThrottle creates a Throttle with the real wall-clock sleeper.
func NewThrottle(mode ThrottleMode, fixedDelay time.Duration) *Throttle {
	return &Throttle{Mode: mode, FixedDelay: fixedDelay, Sleeper: realSleeper{}}
}

// Wait applies the configured throttle policy ahead of one operation.
// elapsedPicos is time since the pass started; scheduledPicos is the seek
// plan's scheduled time for this operation.
func (t *Throttle) Wait(elapsedPicos, scheduledPicos int64) {
	if t == nil || t.Mode == ThrottleNone {
		return
	}

	var d time.Duration
	switch t.Mode {
	case ThrottleDelay:
		d = t.FixedDelay
	case ThrottleSchedule:
		if elapsedPicos >= scheduledPicos {
			return
		}
		d = time.Duration((scheduledPicos - elapsedPicos) / xconst.PicosecondsPerNanosecond)
	}

	if d < xconst.MinSleepResolution {
		t.SkippedSubTick++
		return
	}
	t.SleptCount++
	t.Sleeper.Sleep(d)
}
