package barrier

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBarrierReleasesAllPartiesTogether(t *testing.T) {
	b := New(3)
	var wg sync.WaitGroup
	released := make(chan string, 3)

	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b.Enter(Occupant{Name: "p", Type: "test"})
			released <- "done"
		}(i)
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("barrier did not release all three parties")
	}
	require.Len(t, released, 3)
}

func TestBarrierBlocksUntilNthParty(t *testing.T) {
	b := New(2)
	oneArrived := make(chan struct{})
	go func() {
		b.Enter(Occupant{Name: "a", Type: "test"})
		close(oneArrived)
	}()

	select {
	case <-oneArrived:
		t.Fatal("barrier released with only one of two parties")
	case <-time.After(50 * time.Millisecond):
	}

	done := make(chan struct{})
	go func() {
		b.Enter(Occupant{Name: "b", Type: "test"})
		close(done)
	}()

	select {
	case <-oneArrived:
	case <-time.After(2 * time.Second):
		t.Fatal("barrier never released after second party arrived")
	}
	<-done
}

func TestBarrierIsReusableAcrossGenerations(t *testing.T) {
	b := New(2)
	for gen := 0; gen < 3; gen++ {
		var wg sync.WaitGroup
		wg.Add(2)
		for i := 0; i < 2; i++ {
			go func() {
				defer wg.Done()
				b.Enter(Occupant{Name: "p", Type: "test"})
			}()
		}
		done := make(chan struct{})
		go func() { wg.Wait(); close(done) }()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("generation %d did not release", gen)
		}
	}
}

func TestBarrierN(t *testing.T) {
	require.Equal(t, 4, New(4).N())
	require.Equal(t, 1, New(0).N())
}
