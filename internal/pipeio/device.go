// Package pipeio adapts a blocking OS handle into an event-driven byte
// stream. Blocking reads and writes run on dedicated worker goroutines that
// feed a bounded ring buffer and a single-slot write buffer.
package pipeio

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rbright/uiserver/internal/fsm"
	"github.com/rbright/uiserver/internal/metrics"
	"github.com/rbright/uiserver/internal/worker"
)

const (
	DefaultBufferSize   = 4096
	DefaultStartTimeout = time.Second
)

// Handle is the OS-level stream a Device wraps. Handles that also implement
// SetReadDeadline have blocked reads interrupted on Close.
type Handle interface {
	io.Reader
	io.Writer
	io.Closer
}

type readDeadliner interface {
	SetReadDeadline(time.Time) error
}

// Mode selects which workers a Device owns.
type Mode uint8

const (
	ModeRead Mode = 1 << iota
	ModeWrite

	ModeReadWrite = ModeRead | ModeWrite
)

func (m Mode) String() string {
	var parts []string
	if m&ModeRead != 0 {
		parts = append(parts, "read")
	}
	if m&ModeWrite != 0 {
		parts = append(parts, "write")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

type options struct {
	bufferSize   int
	startTimeout time.Duration
	logger       *slog.Logger
	metrics      *metrics.Metrics
}

type Option func(*options)

// WithBufferSize sets the ring buffer and write slot capacity.
func WithBufferSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.bufferSize = n
		}
	}
}

func WithStartTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.startTimeout = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics exports worker byte counts to m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// Device is a duplex byte stream backed by reader and writer workers.
//
// At most one goroutine may read and at most one may write at a time.
type Device struct {
	handle Handle
	mode   Mode
	opts   options

	workers worker.Worker
	r       *reader
	w       *writer

	readerOnce sync.Once
	readerErr  error
	writerOnce sync.Once
	writerErr  error

	readyRead    signal
	bytesWritten counter

	closed      atomic.Bool
	eofShortCut atomic.Bool
	closeOnce   sync.Once
	closeErr    error
}

// Open binds handle to a new Device. Workers are created here but only
// started on first use.
func Open(handle Handle, mode Mode, opts ...Option) (*Device, error) {
	if handle == nil {
		return nil, errors.New("pipeio: nil handle")
	}
	if mode&ModeReadWrite == 0 {
		return nil, errors.New("pipeio: open mode must include read or write")
	}

	o := options{
		bufferSize:   DefaultBufferSize,
		startTimeout: DefaultStartTimeout,
		logger:       slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(&o)
	}

	d := &Device{
		handle:       handle,
		mode:         mode,
		opts:         o,
		readyRead:    newSignal(),
		bytesWritten: newCounter(),
	}
	halt := d.workers.HaltCh()
	if mode&ModeRead != 0 {
		d.r = newReader(handle, o.bufferSize, halt, d.readyRead, o.logger, o.metrics)
	}
	if mode&ModeWrite != 0 {
		d.w = newWriter(handle, o.bufferSize, halt, d.bytesWritten, o.logger, o.metrics)
	}
	return d, nil
}

func (d *Device) Mode() Mode {
	return d.mode
}

func (d *Device) startReader() error {
	if d.r == nil {
		return ErrNotReadable
	}
	d.readerOnce.Do(func() {
		if d.closed.Load() {
			d.readerErr = ErrClosed
			return
		}
		d.workers.Go(d.r.run)
		d.readerErr = d.awaitStart(d.r.started, "reader")
	})
	return d.readerErr
}

func (d *Device) startWriter() error {
	if d.w == nil {
		return ErrNotWritable
	}
	d.writerOnce.Do(func() {
		if d.closed.Load() {
			d.writerErr = ErrClosed
			return
		}
		d.workers.Go(d.w.run)
		d.writerErr = d.awaitStart(d.w.started, "writer")
	})
	return d.writerErr
}

func (d *Device) awaitStart(started <-chan struct{}, name string) error {
	timer := time.NewTimer(d.opts.startTimeout)
	defer timer.Stop()
	select {
	case <-started:
		return nil
	case <-timer.C:
		d.opts.logger.Warn("pipe worker start timed out", "worker", name, "timeout", d.opts.startTimeout)
		return ErrStartTimeout
	}
}

func (d *Device) readerStarted() bool {
	if d.r == nil {
		return false
	}
	select {
	case <-d.r.started:
		return true
	default:
		return false
	}
}

func (d *Device) writerStarted() bool {
	if d.w == nil {
		return false
	}
	select {
	case <-d.w.started:
		return true
	default:
		return false
	}
}

// waiter blocks on a signal until it fires, ctx is done, or the device halts.
func (d *Device) waiter(ctx context.Context) func(signal) error {
	halt := d.workers.HaltCh()
	return func(s signal) error {
		select {
		case <-s:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-halt:
			return ErrClosed
		}
	}
}

// Read implements io.Reader. It returns buffered bytes without blocking when
// any are available, io.EOF once end of stream has been reached and drained,
// and the latched *Error after a read failure.
func (d *Device) Read(p []byte) (int, error) {
	return d.ReadContext(context.Background(), p)
}

// ReadContext is Read with cancellation.
func (d *Device) ReadContext(ctx context.Context, p []byte) (int, error) {
	if d.closed.Load() {
		return 0, ErrClosed
	}
	if err := d.startReader(); err != nil {
		return 0, err
	}
	if d.eofShortCut.Load() {
		_, _, latched := d.r.snapshot()
		if latched != nil {
			return 0, latched
		}
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}

	n, err := d.r.read(p, d.waiter(ctx))
	if n == 0 && err != nil && !errors.Is(err, ErrClosed) && !errors.Is(err, ctx.Err()) {
		d.eofShortCut.Store(true)
	}
	return n, err
}

// WriteSome stages at most one buffer's worth of p and returns the count
// accepted. It blocks while a previous write is still draining.
func (d *Device) WriteSome(p []byte) (int, error) {
	return d.WriteSomeContext(context.Background(), p)
}

func (d *Device) WriteSomeContext(ctx context.Context, p []byte) (int, error) {
	if d.closed.Load() {
		return 0, ErrClosed
	}
	if err := d.startWriter(); err != nil {
		return 0, err
	}
	return d.w.write(p, d.waiter(ctx))
}

// Write implements io.Writer by staging p one slot at a time.
func (d *Device) Write(p []byte) (int, error) {
	total := 0
	for total < len(p) {
		n, err := d.WriteSome(p[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// BytesAvailable reports the number of buffered bytes. The first call starts
// the reader.
func (d *Device) BytesAvailable() int {
	if d.startReader() != nil {
		return 0
	}
	n, _, _ := d.r.snapshot()
	return n
}

// BytesToWrite reports the bytes staged but not yet written. The first call
// starts the writer.
func (d *Device) BytesToWrite() int {
	if d.startWriter() != nil {
		return 0
	}
	n, _ := d.w.snapshot()
	return n
}

// CanReadLine reports whether a complete line is buffered. Devices without
// a reader always report true.
func (d *Device) CanReadLine() bool {
	if d.r == nil {
		return true
	}
	if d.startReader() != nil {
		return false
	}
	return d.r.containsNewline()
}

// AtEnd reports whether the stream has finished: end of stream or an error
// has been latched and every buffered byte has been consumed. A false result
// with nothing buffered means a read would block.
func (d *Device) AtEnd() bool {
	if d.closed.Load() || d.r == nil || d.eofShortCut.Load() {
		return true
	}
	if d.startReader() != nil {
		return true
	}
	n, state, _ := d.r.snapshot()
	return n == 0 && (state == fsm.StateEOF || state == fsm.StateError)
}

// ReadWouldBlock reports whether Read would block right now.
func (d *Device) ReadWouldBlock() bool {
	if d.closed.Load() || d.r == nil {
		return false
	}
	if d.startReader() != nil {
		return false
	}
	n, state, _ := d.r.snapshot()
	return n == 0 && !state.Terminal()
}

// WriteWouldBlock reports whether WriteSome would block right now.
func (d *Device) WriteWouldBlock() bool {
	if d.closed.Load() || d.w == nil {
		return false
	}
	if d.startWriter() != nil {
		return false
	}
	n, latched := d.w.snapshot()
	return n > 0 && latched == nil
}

// WaitForReadyRead waits until bytes are buffered or the stream has ended.
// A negative timeout waits forever. It returns false on timeout.
func (d *Device) WaitForReadyRead(timeout time.Duration) bool {
	if d.r == nil || d.eofShortCut.Load() {
		return true
	}
	if d.startReader() != nil {
		return false
	}
	ctx, cancel := timeoutContext(timeout)
	defer cancel()
	wait := d.waiter(ctx)
	for {
		n, state, _ := d.r.snapshot()
		if n > 0 || state.Terminal() {
			return true
		}
		if err := wait(d.r.data); err != nil {
			return errors.Is(err, ErrClosed)
		}
	}
}

// WaitForBytesWritten waits until the staged write has drained. It returns
// false on timeout and once the writer has failed. A negative timeout waits
// forever.
func (d *Device) WaitForBytesWritten(timeout time.Duration) bool {
	if d.w == nil {
		return true
	}
	if d.startWriter() != nil {
		return false
	}
	ctx, cancel := timeoutContext(timeout)
	defer cancel()
	return d.w.flush(d.waiter(ctx)) == nil
}

// ReadyRead delivers a notification whenever new bytes arrive or the stream
// ends. Notifications coalesce while nobody is receiving.
func (d *Device) ReadyRead() <-chan struct{} {
	return d.readyRead
}

// BytesWritten delivers byte counts flushed to the handle. Counts are summed
// while nobody is receiving.
func (d *Device) BytesWritten() <-chan int {
	return d.bytesWritten
}

// Err returns the latched reader or writer error, if any.
func (d *Device) Err() error {
	if d.r != nil {
		if _, _, err := d.r.snapshot(); err != nil {
			return err
		}
	}
	if d.w != nil {
		if _, err := d.w.snapshot(); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes the pending write, stops both workers and closes the handle
// once they have exited. Close is idempotent.
func (d *Device) Close() error {
	d.closeOnce.Do(func() {
		if d.writerStarted() {
			if err := d.w.flush(d.waiter(context.Background())); err != nil {
				d.opts.logger.Debug("pipe flush on close failed", "error", err)
			}
		}
		d.closed.Store(true)

		handleClosed := false
		interrupted := make(chan struct{})
		go func() {
			defer close(interrupted)
			<-d.workers.HaltCh()
			if !d.readerStarted() {
				return
			}
			if dl, ok := d.handle.(readDeadliner); ok && dl.SetReadDeadline(time.Now()) == nil {
				return
			}
			// No deadline support: closing the handle is the only way to
			// release a blocked read.
			handleClosed = true
			d.closeErr = d.handle.Close()
		}()

		d.workers.Halt()
		<-interrupted
		if !handleClosed {
			d.closeErr = d.handle.Close()
		}
	})
	return d.closeErr
}

func timeoutContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout < 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), timeout)
}
