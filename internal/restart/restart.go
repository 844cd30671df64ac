// Package restart implements the Restart Monitor (C9): a background loop
// that periodically checkpoints a destination target's committed prefix to
// a durable restart file, per spec.md §4.3 and §6.
package restart

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ehrlich-b/xdd/internal/xconst"
)

// Progress is the worker-published state a target exposes to the monitor.
// Workers write under the caller-supplied lock (spec.md §5: "written only
// by the owning worker; read by the Restart Monitor under the restart lock
// which the worker takes when publishing").
type Progress struct {
	LastCommittedOp       int64
	LastCommittedLocation int64
	LastCommittedLength   int64
}

// State is the per-target Restart State (spec.md §3).
type State struct {
	mu       sync.Mutex
	filename string
	file     *os.File
	progress Progress
	flags    xconst.RestartFlag
}

// FilenameFor builds the default restart filename from the source and
// destination host/path pair, matching original_source/src/restart.c's use
// of basename() rather than the full path (SPEC_FULL.md §3.1). now is
// injected so tests are deterministic.
func FilenameFor(srcHost, srcPath, dstHost, dstPath string, now time.Time) string {
	return fmt.Sprintf("xdd.%s.%s.%s.%s.%s.rst",
		srcHost, filepath.Base(srcPath),
		dstHost, filepath.Base(dstPath),
		now.UTC().Format("2006-01-02-1504")+"-GMT")
}

// Open creates (or adopts, without truncating) the restart file at filename and
// returns a State ready for periodic checkpointing. The file is kept open
// for the life of the run; checkpoints seek to the start and overwrite in
// place rather than reopening (SPEC_FULL.md §3.1).
func Open(filename string) (*State, error) {
	f, err := os.OpenFile(filename, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("restart: open %s: %w", filename, err)
	}
	return &State{filename: filename, file: f}, nil
}

// Publish records a worker's latest committed progress. Called by the owning
// worker under this State's lock (spec.md §5).
func (s *State) Publish(p Progress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.LastCommittedLocation > s.progress.LastCommittedLocation {
		s.progress = p
	}
}

// MarkSuccessfulCompletion latches the SUCCESSFUL_COMPLETION flag; future
// Checkpoint calls become no-ops once set (spec.md §4.3).
func (s *State) MarkSuccessfulCompletion() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags |= xconst.SuccessfulCompletion
}

// LastCommittedLocation returns the most recently published offset, for
// tests asserting monotonicity (P-2).
func (s *State) LastCommittedLocation() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress.LastCommittedLocation
}

// Checkpoint rewrites the restart file in place with the current committed
// offset and forces it durable. It is a no-op once SUCCESSFUL_COMPLETION is
// latched.
func (s *State) Checkpoint() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.flags&xconst.SuccessfulCompletion != 0 {
		return nil
	}

	line := fmt.Sprintf("-restart offset %d\n", s.progress.LastCommittedLocation)
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("restart: seek: %w", err)
	}
	n, err := s.file.WriteString(line)
	if err != nil {
		return fmt.Errorf("restart: write: %w", err)
	}
	// Defensive truncate: content only ever grows (offset is monotonic),
	// but a freshly adopted file from a prior larger-offset run could
	// otherwise leave stale trailing bytes (SPEC_FULL.md §3.1).
	if err := s.file.Truncate(int64(n)); err != nil {
		return fmt.Errorf("restart: truncate: %w", err)
	}
	return s.file.Sync()
}

// Close closes the underlying file handle.
func (s *State) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

// AbortChecker reports the sticky plan-wide flags the monitor loop polls.
type AbortChecker interface {
	Aborted() bool
	Canceled() bool
}

// Monitor runs the periodic checkpoint loop described in spec.md §4.3 for a
// fixed set of destination targets sharing one frequency.
type Monitor struct {
	Frequency time.Duration
	Targets   []*State
	Abort     AbortChecker
}

// Run sleeps Frequency, checkpoints every target, and repeats until Abort
// reports abort or cancellation, or stop is closed.
func (m *Monitor) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(m.Frequency)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if m.Abort.Aborted() || m.Abort.Canceled() {
				return
			}
			for _, target := range m.Targets {
				_ = target.Checkpoint()
			}
		}
	}
}
