package worker

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHaltWaitsForGoroutines(t *testing.T) {
	var w Worker
	var stopped atomic.Int32

	for i := 0; i < 3; i++ {
		w.Go(func() {
			<-w.HaltCh()
			time.Sleep(5 * time.Millisecond)
			stopped.Add(1)
		})
	}

	w.Halt()
	require.Equal(t, int32(3), stopped.Load())
}

func TestHaltIsIdempotent(t *testing.T) {
	var w Worker
	w.Go(func() { <-w.HaltCh() })

	w.Halt()
	require.NotPanics(t, w.Halt)
}

func TestHaltWithoutGoroutines(t *testing.T) {
	var w Worker
	done := make(chan struct{})
	go func() {
		w.Halt()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Halt() did not return")
	}
}

func TestGoAfterHaltSeesClosedChannel(t *testing.T) {
	var w Worker
	require.False(t, w.Halting())
	w.Halt()
	require.True(t, w.Halting())

	ran := make(chan struct{})
	w.Go(func() {
		<-w.HaltCh()
		close(ran)
	})

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("goroutine started after Halt() did not observe HaltCh")
	}
	w.Halt()
}
