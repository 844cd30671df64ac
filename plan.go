package xdd

import (
	"time"

	"github.com/ehrlich-b/xdd/internal/barrier"
	"github.com/ehrlich-b/xdd/internal/control"
	"github.com/ehrlich-b/xdd/internal/e2e"
	"github.com/ehrlich-b/xdd/internal/gates"
	"github.com/ehrlich-b/xdd/internal/logging"
	"github.com/ehrlich-b/xdd/internal/restart"
	"github.com/ehrlich-b/xdd/internal/seekplan"
	"github.com/ehrlich-b/xdd/internal/target"
	"github.com/ehrlich-b/xdd/internal/worker"
	"github.com/ehrlich-b/xdd/internal/xconst"
)

// Transport re-exports internal/e2e's capability interface at the top level
// so a caller can supply its own network implementation (spec.md §6,
// SPEC_FULL.md §6).
type Transport = e2e.Transport

// Lockstep re-exports internal/gates' external pacing collaborator interface.
type Lockstep = gates.Lockstep

// TargetOptions re-exports the per-target option bitset.
type TargetOptions = xconst.TargetOptions

const (
	DIO            = xconst.DIO
	SGIO           = xconst.SGIO
	DELETEFILE     = xconst.DELETEFILE
	ENDTOEND       = xconst.ENDTOEND
	E2ESource      = xconst.E2ESource
	E2EDestination = xconst.E2EDestination
	WaitForStart   = xconst.WaitForStart
	RAW            = xconst.RAW
	RAWReader      = xconst.RAWReader
	RestartEnable  = xconst.RestartEnable
	TSOn           = xconst.TSOn
)

// TargetSpec configures one target within a Plan (spec.md §3, Target).
type TargetSpec struct {
	Number              int
	Path                string
	Options             TargetOptions
	BlockSize           int64
	OperationsPerWorker int
	WorkerCount         int

	// BufferCount is the Buffer Pool's buffer_count (spec.md §3), which for
	// E2E targets is independent of WorkerCount (spec.md §4.5: "workers
	// receive buffer handles from the E2E transport"); 0 defaults to
	// xconst.DefaultBufferCount for E2E targets, or WorkerCount otherwise.
	BufferCount int

	SeekPattern seekplan.Pattern
	OpKinds     seekplan.OpKindPattern
	Seed        int64
	SeekNone    bool

	ThrottleMode       gates.ThrottleMode
	ThrottleFixedDelay time.Duration

	// OutgoingTrigger, if set, is evaluated by this target's workers each
	// iteration; once it first crosses, TriggersTarget's private start
	// gate is released exactly once (spec.md §4.1 step 2).
	OutgoingTrigger gates.Trigger
	TriggersTarget  int

	E2ETable     e2e.AddressTable
	E2ETransport Transport

	RestartFilename string
}

// Plan is process-wide configuration for one run (spec.md §3, Plan).
type Plan struct {
	Passes                 int
	NumberOfTargets        int
	Syncio                 int // operations-per-barrier, or 0 to disable
	GlobalDebugFlags       uint64
	RestartFrequencySeconds int

	Targets []TargetSpec

	Metrics *Metrics
	Logger  *logging.Logger

	flags         *control.Flags
	syncioBarrier *barrier.Barrier
	controllers   []*target.Controller
	startGates    map[int]*gates.StartGate
	monitor       *restart.Monitor
	monitorStop   chan struct{}
}

// Abort reports whether the plan-wide abort flag is latched.
func (p *Plan) Abort() bool { return p.flags != nil && p.flags.Aborted() }

// Canceled reports whether the plan-wide canceled flag is latched.
func (p *Plan) Canceled() bool { return p.flags != nil && p.flags.Canceled() }

// SetCanceled latches the canceled flag, causing all workers and the
// restart monitor to drain at their next poll point (spec.md §5).
func (p *Plan) SetCanceled() {
	if p.flags != nil {
		p.flags.SetCanceled()
	}
}

// Run constructs every target (spawning the Restart Monitor for destination
// targets with RESTART_ENABLE), runs Passes passes with pass-level
// barriers between iterations, propagates abort/canceled, and tears every
// target down (spec.md §4.7, Plan Coordinator).
func (p *Plan) Run() error {
	p.flags = &control.Flags{}
	if p.Metrics == nil {
		p.Metrics = NewMetrics()
	}
	if p.Logger == nil {
		p.Logger = logging.Default()
	}
	observer := NewMetricsObserver(p.Metrics)

	if p.Syncio > 0 && p.NumberOfTargets > 1 {
		p.syncioBarrier = barrier.New(p.NumberOfTargets)
	}

	p.startGates = make(map[int]*gates.StartGate)
	for _, ts := range p.Targets {
		if ts.Options.Has(xconst.WaitForStart) {
			p.startGates[ts.Number] = gates.NewStartGate()
		}
	}

	var restartStates []*restart.State
	for _, ts := range p.Targets {
		var triggers []*worker.Trigger
		if ts.OutgoingTrigger.Kind != gates.TriggerNone {
			if downstream, ok := p.startGates[ts.TriggersTarget]; ok {
				triggers = append(triggers, &worker.Trigger{Condition: ts.OutgoingTrigger, ReleaseOnce: downstream.Release})
			}
		}

		spec := target.Spec{
			Number:              ts.Number,
			Path:                ts.Path,
			Options:             ts.Options,
			BlockSize:           ts.BlockSize,
			OperationsPerWorker: ts.OperationsPerWorker,
			WorkerCount:         ts.WorkerCount,
			BufferCount:         ts.BufferCount,
			SeekPattern:         ts.SeekPattern,
			OpKinds:             ts.OpKinds,
			Seed:                ts.Seed,
			SeekNone:            ts.SeekNone,
			ThrottleMode:        ts.ThrottleMode,
			ThrottleFixedDelay:  ts.ThrottleFixedDelay,
			SyncioBarrier:       p.syncioBarrier,
			SyncioPeriod:        p.Syncio,
			StartGate:           p.startGates[ts.Number],
			Triggers:            triggers,
			E2ETable:            ts.E2ETable,
			E2ETransport:        ts.E2ETransport,
			RestartFilename:     ts.RestartFilename,
			Observer:            observer,
			Logger:              p.Logger,
			Flags:               p.flags,
		}

		c, err := target.New(spec)
		if err != nil {
			p.flags.SetAbort()
			p.teardown()
			return WrapError("target.New", ts.Number, -1, err)
		}
		p.controllers = append(p.controllers, c)
		if rs := c.RestartState(); rs != nil {
			restartStates = append(restartStates, rs)
		}
	}

	if len(restartStates) > 0 {
		freq := time.Duration(p.RestartFrequencySeconds) * time.Second
		if freq <= 0 {
			freq = xconst.DefaultRestartFrequency
		}
		p.monitor = &restart.Monitor{Frequency: freq, Targets: restartStates, Abort: p.flags}
		p.monitorStop = make(chan struct{})
		go p.monitor.Run(p.monitorStop)
	}

	passes := p.Passes
	if passes < 1 {
		passes = 1
	}

	// Every controller's pass runs concurrently, not sequentially: an
	// E2E source and its destination are two different controllers that
	// must make progress at the same time, or the source blocks forever
	// waiting for a destination that is never given the chance to drain.
	var runErr error
	for pass := 0; pass < passes; pass++ {
		if p.flags.ShouldStop() {
			break
		}
		errs := make(chan error, len(p.controllers))
		for _, c := range p.controllers {
			c := c
			go func() { errs <- c.RunPass(pass) }()
		}
		for range p.controllers {
			if err := <-errs; err != nil && runErr == nil {
				runErr = err
			}
		}
	}

	p.Metrics.Stop()
	p.teardown()
	return runErr
}

func (p *Plan) teardown() {
	if p.monitorStop != nil {
		close(p.monitorStop)
		p.monitorStop = nil
	}
	for _, c := range p.controllers {
		for _, err := range c.Cleanup() {
			p.Logger.WithError(err).Warnf("cleanup error")
		}
	}
}

// Controllers exposes the live per-target controllers for tests that need
// to inspect workers/timestamp tables directly.
func (p *Plan) Controllers() []*target.Controller { return p.controllers }
