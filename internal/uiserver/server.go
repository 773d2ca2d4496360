// Package uiserver runs the local UI server: it owns the socket endpoint,
// admits clients through a handshake and dispatches their protocol commands.
package uiserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rbright/uiserver/internal/ipc"
	"github.com/rbright/uiserver/internal/metrics"
	"github.com/rbright/uiserver/internal/pipeio"
	"github.com/rbright/uiserver/internal/worker"
)

// Options configures a Server.
type Options struct {
	// SocketPath overrides endpoint resolution when set.
	SocketPath           string
	RequireNonce         bool
	RequireSameUID       bool
	EnableCryptoCommands bool
	HandshakeTimeout     time.Duration
	BufferSize           int
	ProbeTimeout         time.Duration
	ListenRetries        int
	Version              string

	// OptionFilter may reject OPTION requests. A non-nil error is sent to
	// the client as ERR.
	OptionFilter func(name, value string) error

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

func (o *Options) setDefaults() {
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 2 * time.Second
	}
	if o.BufferSize <= 0 {
		o.BufferSize = pipeio.DefaultBufferSize
	}
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = 250 * time.Millisecond
	}
	if o.ListenRetries < 0 {
		o.ListenRetries = 0
	}
	if o.Version == "" {
		o.Version = "dev"
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
}

var ErrServerStarted = errors.New("server already started")

// Server accepts clients on one local socket. The connection set is owned
// by a single dispatch goroutine; accept, close and stop requests are
// funneled through it.
type Server struct {
	opts     Options
	registry *Registry
	logger   *slog.Logger
	pid      int

	workers worker.Worker
	ops     chan func()
	events  chan Event
	crypto  atomic.Bool
	nextID  atomic.Uint64

	baseCtx context.Context
	cancel  context.CancelFunc

	startOnce sync.Once
	started   atomic.Bool

	// Owned by the dispatch goroutine.
	listener  net.Listener
	conns     map[uint64]*Connection
	nonce     []byte
	socket    string
	listening bool

	mu          sync.Mutex
	snapshot    status
	stoppedOnce sync.Once
	stopped     chan struct{}
}

type status struct {
	listening   bool
	connections int
}

// New builds a server around registry. A nil registry gets the built-in
// commands.
func New(opts Options, registry *Registry) *Server {
	opts.setDefaults()
	if registry == nil {
		registry = DefaultRegistry()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		opts:     opts,
		registry: registry,
		logger:   opts.Logger,
		pid:      os.Getpid(),
		ops:      make(chan func(), 16),
		events:   make(chan Event, 64),
		baseCtx:  ctx,
		cancel:   cancel,
		conns:    make(map[uint64]*Connection),
		stopped:  make(chan struct{}),
	}
	s.crypto.Store(opts.EnableCryptoCommands)
	return s
}

// Start acquires the socket and begins accepting clients.
func (s *Server) Start(ctx context.Context) error {
	err := ErrServerStarted
	s.startOnce.Do(func() { err = s.start(ctx) })
	return err
}

func (s *Server) start(ctx context.Context) error {
	path, err := ipc.SocketPath(s.opts.SocketPath)
	if err != nil {
		return fmt.Errorf("resolve socket path: %w", err)
	}

	listener, err := ipc.Acquire(ctx, path, s.opts.ProbeTimeout, s.opts.ListenRetries)
	if err != nil {
		return err
	}

	var nonce []byte
	if s.opts.RequireNonce {
		nonce, err = ipc.NewNonce()
		if err == nil {
			err = ipc.WriteNonce(ipc.NoncePath(path), nonce)
		}
		if err != nil {
			_ = listener.Close()
			_ = os.Remove(path)
			return err
		}
	}

	s.listener = listener
	s.socket = path
	s.nonce = nonce
	s.listening = true
	s.publish()
	s.started.Store(true)

	s.workers.Go(s.dispatch)
	s.workers.Go(s.acceptLoop)

	s.logger.Info("uiserver listening", "socket", path, "nonce", nonce != nil, "crypto_commands", s.crypto.Load())
	return nil
}

func (s *Server) dispatch() {
	for {
		select {
		case op := <-s.ops:
			op()
		case <-s.workers.HaltCh():
			return
		}
	}
}

// post runs op on the dispatch goroutine.
func (s *Server) post(op func()) {
	select {
	case s.ops <- op:
	case <-s.workers.HaltCh():
	}
}

// call runs op on the dispatch goroutine and waits for it.
func (s *Server) call(op func()) {
	if !s.started.Load() {
		return
	}
	done := make(chan struct{})
	s.post(func() {
		defer close(done)
		op()
	})
	select {
	case <-done:
	case <-s.workers.HaltCh():
	}
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("accept failed", "error", err)
			select {
			case <-time.After(50 * time.Millisecond):
				continue
			case <-s.workers.HaltCh():
				return
			}
		}
		s.workers.Go(func() { s.admit(conn) })
	}
}

// admit runs the handshake and hands the connection to the dispatcher.
func (s *Server) admit(conn net.Conn) {
	if reason, err := s.handshake(conn); err != nil {
		s.logger.Warn("connection rejected", "reason", reason, "error", err)
		s.opts.Metrics.ConnectionRejected(reason)
		_ = conn.Close()
		return
	}

	id := s.nextID.Add(1)
	c, err := newConnection(s, id, conn)
	if err != nil {
		s.logger.Error("connection setup failed", "error", err)
		s.opts.Metrics.ConnectionRejected("setup")
		_, _ = fmt.Fprintf(conn, "ERR %d %s\n", 277, err.Error())
		_ = conn.Close()
		return
	}

	s.post(func() {
		if !s.listening {
			s.opts.Metrics.ConnectionRejected("stopping")
			s.workers.Go(c.close)
			return
		}
		s.conns[id] = c
		s.publish()
		s.opts.Metrics.ConnectionOpened()
		c.logger.Info("client connected")

		s.workers.Go(func() {
			c.serve(s.baseCtx)
			s.post(func() { s.removeConnection(c) })
		})
	})
}

func (s *Server) removeConnection(c *Connection) {
	if _, ok := s.conns[c.id]; !ok {
		return
	}
	delete(s.conns, c.id)
	s.opts.Metrics.ConnectionClosed()
	c.logger.Info("client disconnected")
	s.publish()
	s.checkStopped()
}

// publish copies dispatcher state for the status accessors.
func (s *Server) publish() {
	s.mu.Lock()
	s.snapshot = status{listening: s.listening, connections: len(s.conns)}
	s.mu.Unlock()
}

func (s *Server) checkStopped() {
	if s.listening || len(s.conns) > 0 {
		return
	}
	s.stoppedOnce.Do(func() {
		s.registry.SessionData().Clear()
		s.logger.Info("uiserver stopped")
		close(s.stopped)
	})
}

// Stop closes the listener and removes the socket file. Live connections
// keep running; the server counts as stopped once the last one closes.
func (s *Server) Stop() {
	if !s.started.Load() {
		return
	}
	s.call(func() {
		if !s.listening {
			s.checkStopped()
			return
		}
		s.listening = false
		if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.logger.Warn("close listener", "error", err)
		}
		if err := os.Remove(s.socket); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("remove socket", "socket", s.socket, "error", err)
		}
		if s.nonce != nil {
			if err := ipc.RemoveNonce(ipc.NoncePath(s.socket)); err != nil {
				s.logger.Warn("remove nonce", "error", err)
			}
		}
		s.publish()
		s.checkStopped()
	})
}

// Shutdown stops the server, closes every connection and waits for all
// goroutines to exit or for ctx to end.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Stop()
	s.cancel()
	s.call(func() {
		for _, c := range s.conns {
			s.workers.Go(c.close)
		}
	})

	var err error
	if s.started.Load() {
		select {
		case <-s.stopped:
		case <-ctx.Done():
			err = ctx.Err()
		}
	}

	halted := make(chan struct{})
	go func() {
		s.workers.Halt()
		close(halted)
	}()
	select {
	case <-halted:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}

// IsStopping reports a closed listener with connections still draining.
func (s *Server) IsStopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.snapshot.listening && s.snapshot.connections > 0
}

// IsStopped reports a closed listener with no connections left.
func (s *Server) IsStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.snapshot.listening && s.snapshot.connections == 0
}

// Stopped is closed once a started server has fully stopped.
func (s *Server) Stopped() <-chan struct{} {
	return s.stopped
}

// WaitForStopped waits up to timeout for the server to stop. A negative
// timeout waits forever.
func (s *Server) WaitForStopped(timeout time.Duration) bool {
	if timeout < 0 {
		<-s.stopped
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-s.stopped:
		return true
	case <-timer.C:
		return false
	}
}

// Connections returns the number of registered connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot.connections
}

// EnableCryptoCommands toggles crypto-flagged commands for live and future
// connections.
func (s *Server) EnableCryptoCommands(enabled bool) {
	s.crypto.Store(enabled)
}

func (s *Server) CryptoCommandsEnabled() bool {
	return s.crypto.Load()
}

// SocketName returns the socket path once started.
func (s *Server) SocketName() string {
	if !s.started.Load() {
		return ""
	}
	return s.socket
}

func (s *Server) Registry() *Registry {
	return s.registry
}

// Events delivers UI requests raised by clients. Events are dropped when
// nobody drains the channel.
func (s *Server) Events() <-chan Event {
	return s.events
}

func (s *Server) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.logger.Warn("event dropped", "kind", ev.Kind, "connection", ev.ConnectionID)
	}
}
