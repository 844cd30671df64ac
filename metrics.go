package xdd

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the latency histogram buckets in nanoseconds,
// covering 1us to 10s with logarithmic spacing (teacher's metrics.go).
var LatencyBuckets = []uint64{
	1_000,
	10_000,
	100_000,
	1_000_000,
	10_000_000,
	100_000_000,
	1_000_000_000,
	10_000_000_000,
}

const numLatencyBuckets = 8

// Metrics tracks ambient performance/operational statistics for a run. It is
// additive observability, distinct from the Timestamp Table (internal/clock),
// which is the required per-op forensic record spec.md actually mandates.
type Metrics struct {
	ReadOps  atomic.Uint64
	WriteOps atomic.Uint64
	NoopOps  atomic.Uint64

	ReadBytes  atomic.Uint64
	WriteBytes atomic.Uint64

	ReadErrors  atomic.Uint64
	WriteErrors atomic.Uint64

	E2ESendOps    atomic.Uint64
	E2ERecvOps    atomic.Uint64
	E2ESendErrors atomic.Uint64
	E2ERecvErrors atomic.Uint64

	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a new metrics instance with StartTime set to now.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

func (m *Metrics) RecordRead(bytes uint64, latencyNs uint64, success bool) {
	m.ReadOps.Add(1)
	if success {
		m.ReadBytes.Add(bytes)
	} else {
		m.ReadErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

func (m *Metrics) RecordWrite(bytes uint64, latencyNs uint64, success bool) {
	m.WriteOps.Add(1)
	if success {
		m.WriteBytes.Add(bytes)
	} else {
		m.WriteErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

func (m *Metrics) RecordNoop(latencyNs uint64) {
	m.NoopOps.Add(1)
	m.recordLatency(latencyNs)
}

func (m *Metrics) RecordE2ESend(success bool, latencyNs uint64) {
	m.E2ESendOps.Add(1)
	if !success {
		m.E2ESendErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

func (m *Metrics) RecordE2ERecv(success bool, latencyNs uint64) {
	m.E2ERecvOps.Add(1)
	if !success {
		m.E2ERecvErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the run as finished.
func (m *Metrics) Stop() { m.StopTime.Store(time.Now().UnixNano()) }

// MetricsSnapshot is a point-in-time, derived view of Metrics.
type MetricsSnapshot struct {
	ReadOps, WriteOps, NoopOps                   uint64
	ReadBytes, WriteBytes                        uint64
	ReadErrors, WriteErrors                      uint64
	E2ESendOps, E2ERecvOps                       uint64
	E2ESendErrors, E2ERecvErrors                 uint64
	AvgLatencyNs                                 uint64
	UptimeNs                                     uint64
	LatencyP50Ns, LatencyP99Ns, LatencyP999Ns    uint64
	LatencyHistogram                             [numLatencyBuckets]uint64
	ReadIOPS, WriteIOPS                          float64
	ReadBandwidth, WriteBandwidth                float64
	TotalOps, TotalBytes                         uint64
	ErrorRate                                    float64
}

// Snapshot computes a point-in-time snapshot of the metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		ReadOps: m.ReadOps.Load(), WriteOps: m.WriteOps.Load(), NoopOps: m.NoopOps.Load(),
		ReadBytes: m.ReadBytes.Load(), WriteBytes: m.WriteBytes.Load(),
		ReadErrors: m.ReadErrors.Load(), WriteErrors: m.WriteErrors.Load(),
		E2ESendOps: m.E2ESendOps.Load(), E2ERecvOps: m.E2ERecvOps.Load(),
		E2ESendErrors: m.E2ESendErrors.Load(), E2ERecvErrors: m.E2ERecvErrors.Load(),
	}

	snap.TotalOps = snap.ReadOps + snap.WriteOps + snap.NoopOps
	snap.TotalBytes = snap.ReadBytes + snap.WriteBytes

	totalLatencyNs := m.TotalLatencyNs.Load()
	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = totalLatencyNs / opCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	if snap.UptimeNs > 0 {
		uptimeSeconds := float64(snap.UptimeNs) / 1e9
		snap.ReadIOPS = float64(snap.ReadOps) / uptimeSeconds
		snap.WriteIOPS = float64(snap.WriteOps) / uptimeSeconds
		snap.ReadBandwidth = float64(snap.ReadBytes) / uptimeSeconds
		snap.WriteBandwidth = float64(snap.WriteBytes) / uptimeSeconds
	}

	totalErrors := snap.ReadErrors + snap.WriteErrors
	if snap.TotalOps > 0 {
		snap.ErrorRate = float64(totalErrors) / float64(snap.TotalOps) * 100.0
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	if opCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalOps := m.OpCount.Load()
	if totalOps == 0 {
		return 0
	}
	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}
	return LatencyBuckets[numLatencyBuckets-1]
}

// Observer allows pluggable metrics collection from the worker loop.
type Observer interface {
	ObserveRead(bytes uint64, latencyNs uint64, success bool)
	ObserveWrite(bytes uint64, latencyNs uint64, success bool)
	ObserveNoop(latencyNs uint64)
	ObserveE2ESend(success bool, latencyNs uint64)
	ObserveE2ERecv(success bool, latencyNs uint64)
}

// NoOpObserver discards all observations.
type NoOpObserver struct{}

func (NoOpObserver) ObserveRead(uint64, uint64, bool)  {}
func (NoOpObserver) ObserveWrite(uint64, uint64, bool) {}
func (NoOpObserver) ObserveNoop(uint64)                {}
func (NoOpObserver) ObserveE2ESend(bool, uint64)       {}
func (NoOpObserver) ObserveE2ERecv(bool, uint64)       {}

// MetricsObserver implements Observer by recording into a Metrics instance.
type MetricsObserver struct{ metrics *Metrics }

func NewMetricsObserver(m *Metrics) *MetricsObserver { return &MetricsObserver{metrics: m} }

func (o *MetricsObserver) ObserveRead(bytes, latencyNs uint64, success bool) {
	o.metrics.RecordRead(bytes, latencyNs, success)
}
func (o *MetricsObserver) ObserveWrite(bytes, latencyNs uint64, success bool) {
	o.metrics.RecordWrite(bytes, latencyNs, success)
}
func (o *MetricsObserver) ObserveNoop(latencyNs uint64) { o.metrics.RecordNoop(latencyNs) }
func (o *MetricsObserver) ObserveE2ESend(success bool, latencyNs uint64) {
	o.metrics.RecordE2ESend(success, latencyNs)
}
func (o *MetricsObserver) ObserveE2ERecv(success bool, latencyNs uint64) {
	o.metrics.RecordE2ERecv(success, latencyNs)
}

var (
	_ Observer = (*MetricsObserver)(nil)
	_ Observer = (*NoOpObserver)(nil)
)
