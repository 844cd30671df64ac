package restart

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFilenameForUsesBasename(t *testing.T) {
	now := time.Date(2026, 3, 5, 14, 30, 0, 0, time.UTC)
	name := FilenameFor("srchost", "/var/data/src/file.bin", "dsthost", "/mnt/dst/file.bin", now)
	require.Equal(t, "xdd.srchost.file.bin.dsthost.file.bin.2026-03-05-1430-GMT.rst", name)
}

func TestCheckpointWritesOffsetAndIsDurable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.rst")

	st, err := Open(path)
	require.NoError(t, err)
	defer st.Close()

	st.Publish(Progress{LastCommittedOp: 1, LastCommittedLocation: 4096, LastCommittedLength: 4096})
	require.NoError(t, st.Checkpoint())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "-restart offset 4096\n", string(data))
}

func TestCheckpointIsMonotonicNonDecreasing(t *testing.T) {
	dir := t.TempDir()
	st, err := Open(filepath.Join(dir, "test.rst"))
	require.NoError(t, err)
	defer st.Close()

	st.Publish(Progress{LastCommittedLocation: 8192})
	st.Publish(Progress{LastCommittedLocation: 4096}) // stale, must not regress
	require.Equal(t, int64(8192), st.LastCommittedLocation())
}

func TestCheckpointNoopAfterSuccessfulCompletion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.rst")
	st, err := Open(path)
	require.NoError(t, err)
	defer st.Close()

	st.Publish(Progress{LastCommittedLocation: 100})
	require.NoError(t, st.Checkpoint())
	st.MarkSuccessfulCompletion()
	st.Publish(Progress{LastCommittedLocation: 999999})
	require.NoError(t, st.Checkpoint())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "-restart offset 100\n", string(data))
}

type fakeAbort struct {
	aborted, canceled bool
}

func (f *fakeAbort) Aborted() bool  { return f.aborted }
func (f *fakeAbort) Canceled() bool { return f.canceled }

func TestMonitorRunStopsOnAbort(t *testing.T) {
	dir := t.TempDir()
	st, err := Open(filepath.Join(dir, "test.rst"))
	require.NoError(t, err)
	defer st.Close()
	st.Publish(Progress{LastCommittedLocation: 42})

	abort := &fakeAbort{aborted: true}
	mon := &Monitor{Frequency: time.Millisecond, Targets: []*State{st}, Abort: abort}

	done := make(chan struct{})
	go func() {
		mon.Run(make(chan struct{}))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop on abort")
	}
}

func TestMonitorRunStopsOnStopChannel(t *testing.T) {
	mon := &Monitor{Frequency: time.Hour, Targets: nil, Abort: &fakeAbort{}}
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		mon.Run(stop)
		close(done)
	}()
	close(stop)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop on stop channel")
	}
}
