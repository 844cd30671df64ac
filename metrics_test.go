package xdd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRecordReadUpdatesOpsAndBytesOnSuccess(t *testing.T) {
	m := NewMetrics()
	m.RecordRead(4096, 1000, true)

	snap := m.Snapshot()
	require.Equal(t, uint64(1), snap.ReadOps)
	require.Equal(t, uint64(4096), snap.ReadBytes)
	require.Equal(t, uint64(0), snap.ReadErrors)
}

func TestRecordReadCountsErrorWithoutBytes(t *testing.T) {
	m := NewMetrics()
	m.RecordRead(4096, 1000, false)

	snap := m.Snapshot()
	require.Equal(t, uint64(1), snap.ReadOps)
	require.Equal(t, uint64(0), snap.ReadBytes)
	require.Equal(t, uint64(1), snap.ReadErrors)
}

func TestRecordWriteAndNoopFeedTotals(t *testing.T) {
	m := NewMetrics()
	m.RecordWrite(8192, 2000, true)
	m.RecordNoop(500)

	snap := m.Snapshot()
	require.Equal(t, uint64(1), snap.WriteOps)
	require.Equal(t, uint64(8192), snap.WriteBytes)
	require.Equal(t, uint64(1), snap.NoopOps)
	require.Equal(t, uint64(2), snap.TotalOps)
}

func TestRecordE2ESendAndRecvTrackErrorsSeparately(t *testing.T) {
	m := NewMetrics()
	m.RecordE2ESend(true, 100)
	m.RecordE2ESend(false, 200)
	m.RecordE2ERecv(true, 150)

	snap := m.Snapshot()
	require.Equal(t, uint64(2), snap.E2ESendOps)
	require.Equal(t, uint64(1), snap.E2ESendErrors)
	require.Equal(t, uint64(1), snap.E2ERecvOps)
	require.Equal(t, uint64(0), snap.E2ERecvErrors)
}

func TestSnapshotComputesErrorRate(t *testing.T) {
	m := NewMetrics()
	m.RecordWrite(4096, 100, true)
	m.RecordWrite(4096, 100, false)
	m.RecordWrite(4096, 100, false)

	snap := m.Snapshot()
	require.Equal(t, uint64(3), snap.TotalOps)
	require.InDelta(t, 66.66, snap.ErrorRate, 0.1)
}

func TestSnapshotUptimeGrowsBeforeStop(t *testing.T) {
	m := NewMetrics()
	time.Sleep(time.Millisecond)
	snap := m.Snapshot()
	require.Greater(t, snap.UptimeNs, uint64(0))
}

func TestStopFreezesUptime(t *testing.T) {
	m := NewMetrics()
	time.Sleep(time.Millisecond)
	m.Stop()

	snap1 := m.Snapshot()
	time.Sleep(time.Millisecond)
	snap2 := m.Snapshot()

	require.Equal(t, snap1.UptimeNs, snap2.UptimeNs)
}

func TestCalculatePercentileIsMonotonic(t *testing.T) {
	m := NewMetrics()
	for i := 0; i < 100; i++ {
		m.RecordWrite(4096, uint64((i+1)*10_000), true)
	}

	snap := m.Snapshot()
	require.LessOrEqual(t, snap.LatencyP50Ns, snap.LatencyP99Ns)
	require.LessOrEqual(t, snap.LatencyP99Ns, snap.LatencyP999Ns)
}

func TestCalculatePercentileIsZeroWithoutSamples(t *testing.T) {
	m := NewMetrics()
	snap := m.Snapshot()
	require.Equal(t, uint64(0), snap.LatencyP50Ns)
}

func TestLatencyHistogramBucketsAccumulate(t *testing.T) {
	m := NewMetrics()
	m.RecordWrite(4096, 500, true)    // falls into the 1us bucket
	m.RecordWrite(4096, 50_000, true) // falls into the 100us bucket

	snap := m.Snapshot()
	require.GreaterOrEqual(t, snap.LatencyHistogram[0], uint64(1))
	require.GreaterOrEqual(t, snap.LatencyHistogram[2], uint64(2))
}

func TestMetricsObserverDelegatesToMetrics(t *testing.T) {
	m := NewMetrics()
	obs := NewMetricsObserver(m)

	obs.ObserveRead(4096, 100, true)
	obs.ObserveWrite(4096, 100, true)
	obs.ObserveNoop(100)
	obs.ObserveE2ESend(true, 100)
	obs.ObserveE2ERecv(false, 100)

	snap := m.Snapshot()
	require.Equal(t, uint64(1), snap.ReadOps)
	require.Equal(t, uint64(1), snap.WriteOps)
	require.Equal(t, uint64(1), snap.NoopOps)
	require.Equal(t, uint64(1), snap.E2ESendOps)
	require.Equal(t, uint64(1), snap.E2ERecvOps)
	require.Equal(t, uint64(1), snap.E2ERecvErrors)
}

func TestNoOpObserverDiscardsEverything(t *testing.T) {
	obs := NoOpObserver{}
	require.NotPanics(t, func() {
		obs.ObserveRead(4096, 100, true)
		obs.ObserveWrite(4096, 100, true)
		obs.ObserveNoop(100)
		obs.ObserveE2ESend(true, 100)
		obs.ObserveE2ERecv(false, 100)
	})
}
