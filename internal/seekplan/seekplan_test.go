package seekplan

import (
	"testing"

	"github.com/ehrlich-b/xdd/internal/clock"
	"github.com/stretchr/testify/require"
)

func TestBuildSequentialIncrementsBlockLocation(t *testing.T) {
	p := Build(Config{OperationsPerWorker: 4, Pattern: Sequential, OpKinds: AllWrite})
	require.Equal(t, 4, p.Len())
	for i := 0; i < 4; i++ {
		require.Equal(t, int64(i), p.At(i).BlockLocation)
		require.Equal(t, clock.OpWrite, p.At(i).OpKind)
	}
}

func TestBuildAllReadAssignsReadKind(t *testing.T) {
	p := Build(Config{OperationsPerWorker: 3, Pattern: Sequential, OpKinds: AllRead})
	for i := 0; i < 3; i++ {
		require.Equal(t, clock.OpRead, p.At(i).OpKind)
	}
}

func TestBuildIsDeterministicForFixedSeed(t *testing.T) {
	a := Build(Config{OperationsPerWorker: 20, Pattern: Random, OpKinds: AllWrite, Seed: 42})
	b := Build(Config{OperationsPerWorker: 20, Pattern: Random, OpKinds: AllWrite, Seed: 42})
	for i := 0; i < 20; i++ {
		require.Equal(t, a.At(i).BlockLocation, b.At(i).BlockLocation)
	}
}

func TestBuildDifferentSeedsDiverge(t *testing.T) {
	a := Build(Config{OperationsPerWorker: 50, Pattern: Random, OpKinds: AllWrite, Seed: 1})
	b := Build(Config{OperationsPerWorker: 50, Pattern: Random, OpKinds: AllWrite, Seed: 2})
	diverged := false
	for i := 0; i < 50; i++ {
		if a.At(i).BlockLocation != b.At(i).BlockLocation {
			diverged = true
			break
		}
	}
	require.True(t, diverged)
}

func TestSeekNoneAlwaysResolvesToFirstSeek(t *testing.T) {
	p := Build(Config{OperationsPerWorker: 5, Pattern: Sequential, OpKinds: AllWrite, SeekNone: true})
	first := p.At(0)
	for i := 1; i < 5; i++ {
		require.Equal(t, first.BlockLocation, p.At(i).BlockLocation)
	}
}

func TestBuildNegativeOperationsClampsToZero(t *testing.T) {
	p := Build(Config{OperationsPerWorker: -1})
	require.Equal(t, 0, p.Len())
}

func TestBuildThrottleIOPSSpacesScheduledTime(t *testing.T) {
	p := Build(Config{OperationsPerWorker: 3, Pattern: Sequential, OpKinds: AllWrite, ThrottleIOPS: 1000})
	require.Equal(t, int64(0), p.At(0).ScheduledTime)
	require.Greater(t, p.At(1).ScheduledTime, p.At(0).ScheduledTime)
	require.Greater(t, p.At(2).ScheduledTime, p.At(1).ScheduledTime)
}
