// Package seekplan builds and holds the immutable per-worker Seek Plan
// described in spec.md §3: an ordered sequence of
// {block_location, op_kind, scheduled_time_picoseconds}, length equal to
// operations_per_worker.
package seekplan

import (
	"math/rand"

	"github.com/ehrlich-b/xdd/internal/clock"
)

// Pattern selects how successive block locations are generated.
type Pattern int

const (
	Sequential Pattern = iota
	Random
)

// OpKindPattern selects the mix of read/write/noop operations in the plan.
type OpKindPattern int

const (
	AllWrite OpKindPattern = iota
	AllRead
	// ReadAfterWrite paces a pure-read plan (used by a RAW reader target).
	ReadAfterWrite
)

// Seek is one scheduled operation (spec.md §3).
type Seek struct {
	BlockLocation int64
	OpKind        clock.OpKind
	ScheduledTime int64 // picoseconds from pass start
}

// Plan is the immutable, once-built Seek Plan for one worker.
type Plan struct {
	Seeks []Seek
	// SeekNone mirrors spec.md §4.1 step 4: when true, every operation
	// resolves against Seeks[0] instead of Seeks[i] (repeated single-offset
	// access, used for cache/contention microbenchmarks).
	SeekNone bool
}

// Config parameterizes Build.
type Config struct {
	OperationsPerWorker int
	Pattern             Pattern
	OpKinds             OpKindPattern
	Seed                int64
	SeekNone            bool
	// ThrottleIOPS, if > 0, spaces ScheduledTime evenly to hit this many
	// operations per second; 0 leaves ScheduledTime at 0 (unthrottled/DELAY
	// mode, where the gate applies a fixed per-op delay instead).
	ThrottleIOPS float64
}

// Build constructs an immutable seek plan of length cfg.OperationsPerWorker.
func Build(cfg Config) *Plan {
	n := cfg.OperationsPerWorker
	if n < 0 {
		n = 0
	}
	seeks := make([]Seek, n)

	rng := rand.New(rand.NewSource(cfg.Seed))
	var interval int64
	if cfg.ThrottleIOPS > 0 {
		interval = int64(1e12 / cfg.ThrottleIOPS) // picoseconds per op
	}

	for i := 0; i < n; i++ {
		var loc int64
		switch cfg.Pattern {
		case Random:
			loc = rng.Int63n(int64(n) + 1)
		default:
			loc = int64(i)
		}

		kind := clock.OpWrite
		switch cfg.OpKinds {
		case AllRead, ReadAfterWrite:
			kind = clock.OpRead
		}

		seeks[i] = Seek{
			BlockLocation: loc,
			OpKind:        kind,
			ScheduledTime: interval * int64(i),
		}
	}

	return &Plan{Seeks: seeks, SeekNone: cfg.SeekNone}
}

// At resolves operation i per spec.md §4.1 step 4 (SEEK_NONE uses Seeks[0]).
func (p *Plan) At(i int) Seek {
	if p.SeekNone && len(p.Seeks) > 0 {
		return p.Seeks[0]
	}
	return p.Seeks[i]
}

// Len returns operations_per_worker.
func (p *Plan) Len() int { return len(p.Seeks) }
