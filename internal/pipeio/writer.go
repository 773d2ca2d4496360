package pipeio

import (
	"io"
	"log/slog"
	"sync"

	"github.com/rbright/uiserver/internal/metrics"
)

// writer flushes a single staging slot to an OS handle on its own goroutine.
// A new request is accepted only once the previous slot has drained.
type writer struct {
	dst     io.Writer
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu   sync.Mutex
	slot []byte
	n    int
	err  *Error

	started chan struct{}
	pending signal  // consumer -> worker: slot filled
	drained signal  // worker -> consumer: slot empty
	written counter // exported bytesWritten notifications
	halt    <-chan struct{}
}

func newWriter(dst io.Writer, size int, halt <-chan struct{}, written counter, logger *slog.Logger, m *metrics.Metrics) *writer {
	return &writer{
		dst:     dst,
		logger:  logger,
		metrics: m,
		slot:    make([]byte, size),
		started: make(chan struct{}),
		pending: newSignal(),
		drained: newSignal(),
		written: written,
		halt:    halt,
	}
}

func (w *writer) run() {
	close(w.started)

	for {
		w.mu.Lock()
		for w.n == 0 {
			w.mu.Unlock()
			select {
			case <-w.pending:
			case <-w.halt:
				w.drained.notify()
				return
			}
			w.mu.Lock()
		}
		data := w.slot[:w.n]
		w.mu.Unlock()

		written, err := w.writeAll(data)
		w.metrics.PipeBytes("written", written)

		w.mu.Lock()
		w.n = 0
		if err != nil {
			w.err = newError("write", err)
			w.logger.Debug("writer latched error", "error", w.err)
		}
		w.mu.Unlock()

		w.drained.notify()
		if err != nil {
			return
		}
		w.written.post(written)
	}
}

// writeAll retries partial writes and interrupted calls until data is
// flushed or the handle fails.
func (w *writer) writeAll(data []byte) (int, error) {
	total := 0
	for total < len(data) {
		n, err := w.dst.Write(data[total:])
		total += n
		if err != nil {
			if interrupted(err) {
				continue
			}
			return total, err
		}
		if n == 0 {
			return total, io.ErrShortWrite
		}
	}
	return total, nil
}

// write stages up to len(slot) bytes of p once the slot is empty.
func (w *writer) write(p []byte, wait func(signal) error) (int, error) {
	w.mu.Lock()
	for w.n > 0 && w.err == nil {
		w.mu.Unlock()
		if err := wait(w.drained); err != nil {
			return 0, err
		}
		w.mu.Lock()
	}
	if w.err != nil {
		err := w.err
		w.mu.Unlock()
		return 0, err
	}
	n := copy(w.slot, p)
	w.n = n
	w.mu.Unlock()

	if n > 0 {
		w.pending.notify()
	}
	return n, nil
}

// flush waits until the slot is empty or the writer has failed.
func (w *writer) flush(wait func(signal) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for w.n > 0 && w.err == nil {
		w.mu.Unlock()
		err := wait(w.drained)
		w.mu.Lock()
		if err != nil {
			return err
		}
	}
	if w.err != nil {
		return w.err
	}
	return nil
}

func (w *writer) snapshot() (pending int, err *Error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.n, w.err
}
