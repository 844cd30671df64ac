package gates

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStartGateBlocksUntilReleased(t *testing.T) {
	g := NewStartGate()
	woke := make(chan struct{})
	go func() {
		g.Wait()
		close(woke)
	}()

	select {
	case <-woke:
		t.Fatal("StartGate released before Release was called")
	case <-time.After(50 * time.Millisecond):
	}

	g.Release()
	select {
	case <-woke:
	case <-time.After(2 * time.Second):
		t.Fatal("StartGate never released")
	}
}

func TestStartGateReleaseWakesAllWaiters(t *testing.T) {
	g := NewStartGate()
	var wg sync.WaitGroup
	wg.Add(5)
	for i := 0; i < 5; i++ {
		go func() {
			defer wg.Done()
			g.Wait()
		}()
	}

	g.Release()
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("not all waiters woke up")
	}
}

func TestStartGateReleaseIsIdempotent(t *testing.T) {
	g := NewStartGate()
	require.NotPanics(t, func() {
		g.Release()
		g.Release()
	})
	g.Wait() // must not block
}
