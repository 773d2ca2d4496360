// Package worker tracks the background goroutines of one component and
// stops them together.
package worker

import "sync"

// Worker is usable as a zero value. Goroutines started with Go watch HaltCh
// and return once it closes; Halt closes it and joins them.
type Worker struct {
	mu      sync.Mutex
	running sync.WaitGroup
	halt    chan struct{}
	halted  bool
}

func (w *Worker) haltLocked() chan struct{} {
	if w.halt == nil {
		w.halt = make(chan struct{})
	}
	return w.halt
}

// Go runs fn on its own goroutine. A goroutine started after Halt still runs
// but sees HaltCh already closed.
func (w *Worker) Go(fn func()) {
	w.mu.Lock()
	w.haltLocked()
	w.running.Add(1)
	w.mu.Unlock()

	go func() {
		defer w.running.Done()
		fn()
	}()
}

// HaltCh is closed once Halt has been called.
func (w *Worker) HaltCh() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.haltLocked()
}

// Halting reports whether Halt has been called.
func (w *Worker) Halting() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.halted
}

// Halt closes HaltCh and blocks until every goroutine started with Go has
// returned. Later calls only wait.
func (w *Worker) Halt() {
	w.mu.Lock()
	if !w.halted {
		close(w.haltLocked())
		w.halted = true
	}
	w.mu.Unlock()

	w.running.Wait()
}
