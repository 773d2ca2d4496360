package pipeio

import (
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/rbright/uiserver/internal/fsm"
	"github.com/rbright/uiserver/internal/metrics"
	"github.com/rbright/uiserver/internal/ringbuf"
)

// reader drains an OS handle into a ring buffer on its own goroutine.
//
// The buffer, state and latched error are guarded by mu. The worker fills the
// region returned by WritableRegion without holding mu; the consumer only
// touches buffered bytes, so the two never overlap.
type reader struct {
	src     io.Reader
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu    sync.Mutex
	buf   *ringbuf.Buffer
	state fsm.State
	err   *Error

	started chan struct{}
	data    signal // worker -> consumer: bytes, EOF or error
	space   signal // consumer -> worker: buffer drained
	ready   signal // exported readyRead notifications
	halt    <-chan struct{}

	osReads int
}

func newReader(src io.Reader, size int, halt <-chan struct{}, ready signal, logger *slog.Logger, m *metrics.Metrics) *reader {
	return &reader{
		src:     src,
		logger:  logger,
		metrics: m,
		buf:     ringbuf.New(size),
		state:   fsm.StateIdle,
		started: make(chan struct{}),
		data:    newSignal(),
		space:   newSignal(),
		ready:   ready,
		halt:    halt,
	}
}

// apply moves the state machine. mu must be held.
func (r *reader) apply(event fsm.Event) {
	next, err := fsm.Transition(r.state, event)
	if err != nil {
		r.logger.Debug("reader transition rejected", "state", r.state, "event", event, "error", err)
		return
	}
	r.state = next
}

func (r *reader) wake() {
	r.data.notify()
	r.ready.notify()
}

func (r *reader) run() {
	r.mu.Lock()
	r.apply(fsm.EventStart)
	r.mu.Unlock()
	close(r.started)

	for {
		r.mu.Lock()
		if r.state.Terminal() {
			r.mu.Unlock()
			<-r.halt
			r.cancel()
			return
		}
		if r.buf.Full() {
			r.apply(fsm.EventFilled)
			r.mu.Unlock()
			r.wake()
			select {
			case <-r.space:
				continue
			case <-r.halt:
				r.cancel()
				return
			}
		}
		region := r.buf.WritableRegion()
		r.osReads++
		r.mu.Unlock()

		n, err := r.readOnce(region)

		select {
		case <-r.halt:
			r.cancel()
			return
		default:
		}

		r.mu.Lock()
		if n > 0 {
			r.buf.Commit(n)
		}
		switch {
		case errors.Is(err, io.EOF):
			r.apply(fsm.EventEOF)
			r.logger.Debug("reader latched eof", "buffered", r.buf.Len())
		case err != nil:
			r.err = newError("read", err)
			r.apply(fsm.EventFail)
			r.logger.Debug("reader latched error", "error", r.err)
		}
		r.mu.Unlock()

		r.metrics.PipeBytes("read", n)
		if n > 0 || err != nil {
			r.wake()
		}
	}
}

// readOnce issues one OS read, retrying interrupted calls.
func (r *reader) readOnce(p []byte) (int, error) {
	for {
		n, err := r.src.Read(p)
		if err != nil && n == 0 && interrupted(err) {
			continue
		}
		return n, err
	}
}

func (r *reader) cancel() {
	r.mu.Lock()
	r.apply(fsm.EventCancel)
	r.mu.Unlock()
	r.wake()
}

// read implements the consumer side. It returns as soon as any bytes are
// buffered, and otherwise waits for data, a latched end or cancellation.
func (r *reader) read(p []byte, wait func(signal) error) (int, error) {
	for {
		r.mu.Lock()
		if !r.buf.Empty() {
			n := r.buf.Read(p)
			r.apply(fsm.EventDrain)
			r.mu.Unlock()
			r.space.notify()
			return n, nil
		}
		state, latched := r.state, r.err
		r.mu.Unlock()

		switch state {
		case fsm.StateEOF:
			return 0, io.EOF
		case fsm.StateError:
			return 0, latched
		case fsm.StateCanceled:
			return 0, ErrClosed
		}
		if err := wait(r.data); err != nil {
			return 0, err
		}
	}
}

func (r *reader) snapshot() (buffered int, state fsm.State, err *Error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.Len(), r.state, r.err
}

func (r *reader) containsNewline() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.IndexByte('\n') >= 0
}

func (r *reader) reads() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.osReads
}
