package xdd

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ehrlich-b/xdd/internal/e2e"
	"github.com/ehrlich-b/xdd/internal/seekplan"
	"github.com/stretchr/testify/require"
)

// TestPlanSingleTargetLocalWrite covers S-1: 1 target, 1 worker, 16 ops x
// 4096 B, local write, no E2E.
func TestPlanSingleTargetLocalWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.bin")

	plan := &Plan{
		Passes:          1,
		NumberOfTargets: 1,
		Targets: []TargetSpec{
			{
				Number:              0,
				Path:                path,
				BlockSize:           4096,
				OperationsPerWorker: 16,
				WorkerCount:         1,
				SeekPattern:         seekplan.Sequential,
				OpKinds:             seekplan.AllWrite,
			},
		},
	}

	require.NoError(t, plan.Run())

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, int64(16*4096), info.Size())

	tables := plan.Controllers()[0].Tables()
	require.Len(t, tables, 1)
}

// TestPlanSyncioBarrierTwoTargets covers S-2: 2 targets, 2 workers each,
// syncio = 2. Both targets must complete without deadlocking on the shared
// barrier, and both reach operations_per_worker.
func TestPlanSyncioBarrierTwoTargets(t *testing.T) {
	dir := t.TempDir()

	plan := &Plan{
		Passes:          1,
		NumberOfTargets: 2,
		Syncio:          2,
		Targets: []TargetSpec{
			{
				Number:              0,
				Path:                filepath.Join(dir, "a.bin"),
				BlockSize:           4096,
				OperationsPerWorker: 8,
				WorkerCount:         2,
				SeekPattern:         seekplan.Sequential,
				OpKinds:             seekplan.AllWrite,
			},
			{
				Number:              1,
				Path:                filepath.Join(dir, "b.bin"),
				BlockSize:           4096,
				OperationsPerWorker: 8,
				WorkerCount:         2,
				SeekPattern:         seekplan.Sequential,
				OpKinds:             seekplan.AllWrite,
			},
		},
	}

	done := make(chan error, 1)
	go func() { done <- plan.Run() }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("plan.Run deadlocked on syncio barrier")
	}

	for _, c := range plan.Controllers() {
		for _, w := range c.Workers() {
			require.Equal(t, int64(8), w.CurrentOp())
		}
	}
}

// TestPlanEndToEndSourceToDestination covers P-5: a source target
// streams a file to a destination target over the in-process loopback
// transport, and the destination's bytes match the source's over the
// transferred range.
func TestPlanEndToEndSourceToDestination(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "src.bin")
	dstPath := filepath.Join(dir, "dst.bin")

	const blockSize = 4096
	const ops = 16
	want := make([]byte, ops*blockSize)
	for i := range want {
		want[i] = byte(i % 251)
	}
	require.NoError(t, os.WriteFile(srcPath, want, 0o644))

	transport := NewLoopbackTransport()
	table := e2e.AddressTable{{Hostname: "loopback", BasePort: 7000, PortCount: 1}}

	plan := &Plan{
		Passes:          1,
		NumberOfTargets: 2,
		Targets: []TargetSpec{
			{
				Number:              0,
				Path:                srcPath,
				Options:             ENDTOEND | E2ESource,
				BlockSize:           blockSize,
				OperationsPerWorker: ops,
				WorkerCount:         1,
				SeekPattern:         seekplan.Sequential,
				OpKinds:             seekplan.AllRead,
				E2ETable:            table,
				E2ETransport:        transport,
			},
			{
				Number:              1,
				Path:                dstPath,
				Options:             ENDTOEND | E2EDestination,
				BlockSize:           blockSize,
				OperationsPerWorker: ops,
				WorkerCount:         1,
				E2ETable:            table,
				E2ETransport:        transport,
			},
		},
	}

	done := make(chan error, 1)
	go func() { done <- plan.Run() }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("plan.Run deadlocked on E2E transfer")
	}

	got, err := os.ReadFile(dstPath)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(got), len(want))
	require.Equal(t, want, got[:len(want)])
}

// TestPlanAbortFlagsClearOnCleanRun checks the plan-wide sticky flags
// (spec.md §9): Abort and Canceled read false before Run initializes them,
// and a clean run leaves Abort unset.
func TestPlanAbortFlagsClearOnCleanRun(t *testing.T) {
	dir := t.TempDir()

	plan := &Plan{
		Passes:          1,
		NumberOfTargets: 1,
		Targets: []TargetSpec{
			{
				Number:              0,
				Path:                filepath.Join(dir, "out.bin"),
				BlockSize:           4096,
				OperationsPerWorker: 100,
				WorkerCount:         1,
				SeekPattern:         seekplan.Sequential,
				OpKinds:             seekplan.AllWrite,
			},
		},
	}
	// Abort()/Canceled() default to false before Run initializes the flags.
	require.False(t, plan.Abort())
	require.False(t, plan.Canceled())

	require.NoError(t, plan.Run())
	require.False(t, plan.Abort())
}
