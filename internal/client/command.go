// Package client runs one-shot command exchanges against the UI server on a
// background goroutine.
package client

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"sort"
	"sync"
	"time"
)

const (
	DefaultConnectRetries  = 20
	DefaultConnectInterval = 500 * time.Millisecond
	DefaultDialTimeout     = 2 * time.Second
)

var ErrRunning = errors.New("command already running")

// Options tunes how a Command reaches the server.
type Options struct {
	// ConnectRetries bounds the dials after a spawn. Zero selects
	// DefaultConnectRetries; a negative value disables retrying.
	ConnectRetries  int
	ConnectInterval time.Duration
	DialTimeout     time.Duration
	// Spawn is the argv started detached when no server is listening.
	// Empty disables spawning.
	Spawn []string
	// SpawnEnv is appended to the inherited environment of a spawned server.
	SpawnEnv []string
	Logger   *slog.Logger
}

func (o *Options) setDefaults() {
	switch {
	case o.ConnectRetries == 0:
		o.ConnectRetries = DefaultConnectRetries
	case o.ConnectRetries < 0:
		o.ConnectRetries = 0
	}
	if o.ConnectInterval <= 0 {
		o.ConnectInterval = DefaultConnectInterval
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = DefaultDialTimeout
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
}

type optionValue struct {
	value    string
	hasValue bool
	critical bool
}

type inputs struct {
	command               string
	options               map[string]optionValue
	filePaths             []string
	senders               []string
	informativeSenders    bool
	recipients            []string
	informativeRecipients bool
	inquireData           map[string][]byte
	parentWindowID        uint64
	hasParentWindow       bool
	serverLocation        string
}

func (in inputs) clone() inputs {
	out := in
	out.options = maps.Clone(in.options)
	out.filePaths = append([]string(nil), in.filePaths...)
	out.senders = append([]string(nil), in.senders...)
	out.recipients = append([]string(nil), in.recipients...)
	out.inquireData = make(map[string][]byte, len(in.inquireData))
	for k, v := range in.inquireData {
		out.inquireData[k] = append([]byte(nil), v...)
	}
	return out
}

// sortedOptionNames fixes the order options are sent in.
func (in inputs) sortedOptionNames() []string {
	names := make([]string, 0, len(in.options))
	for name := range in.options {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type outputs struct {
	canceled       bool
	errorString    string
	data           []byte
	serverPID      int
	serverLocation string
}

// Command is one request to the server. Inputs are configured with the
// setters, the exchange runs on its own goroutine after Start, and results
// can be read at any time.
type Command struct {
	opts Options

	mu      sync.Mutex
	in      inputs
	out     outputs
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func New(opts Options) *Command {
	opts.setDefaults()
	done := make(chan struct{})
	close(done)
	return &Command{
		opts: opts,
		in: inputs{
			options:     make(map[string]optionValue),
			inquireData: make(map[string][]byte),
		},
		done: done,
	}
}

func (c *Command) SetCommand(verb string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.in.command = verb
}

func (c *Command) CommandVerb() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.in.command
}

// SetOptionValue sends "OPTION name=value". A failed critical option aborts
// the exchange.
func (c *Command) SetOptionValue(name, value string, critical bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.in.options[name] = optionValue{value: value, hasValue: true, critical: critical}
}

// SetOption sends a bare "OPTION name".
func (c *Command) SetOption(name string, critical bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.in.options[name] = optionValue{critical: critical}
}

func (c *Command) UnsetOption(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.in.options, name)
}

func (c *Command) IsOptionSet(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.in.options[name]
	return ok
}

func (c *Command) IsOptionCritical(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.in.options[name].critical
}

// OptionValue returns the value of name and whether one was set.
func (c *Command) OptionValue(name string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	opt, ok := c.in.options[name]
	return opt.value, ok && opt.hasValue
}

func (c *Command) SetFilePaths(paths []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.in.filePaths = append([]string(nil), paths...)
}

func (c *Command) FilePaths() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.in.filePaths...)
}

// SetSenders sets the SENDER list. Informative senders are sent with --info.
func (c *Command) SetSenders(senders []string, informative bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.in.senders = append([]string(nil), senders...)
	c.in.informativeSenders = informative
}

func (c *Command) Senders() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.in.senders...)
}

func (c *Command) SetRecipients(recipients []string, informative bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.in.recipients = append([]string(nil), recipients...)
	c.in.informativeRecipients = informative
}

func (c *Command) Recipients() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.in.recipients...)
}

// SetInquireData stages the answer to an INQUIRE for name.
func (c *Command) SetInquireData(name string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.in.inquireData[name] = append([]byte(nil), data...)
}

func (c *Command) UnsetInquireData(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.in.inquireData, name)
}

func (c *Command) InquireData(name string) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.in.inquireData[name]...)
}

func (c *Command) IsInquireDataSet(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.in.inquireData[name]
	return ok
}

// SetParentWindowID records the caller's window so the server may raise
// its own above it.
func (c *Command) SetParentWindowID(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.in.parentWindowID = id
	c.in.hasParentWindow = true
}

// SetServerLocation overrides endpoint resolution.
func (c *Command) SetServerLocation(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.in.serverLocation = path
}

// Start snapshots the inputs and begins the exchange in the background.
func (c *Command) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return ErrRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	in := c.in.clone()
	c.out = outputs{}
	c.running = true
	c.cancel = cancel
	c.done = make(chan struct{})

	go c.run(runCtx, in, c.done)
	return nil
}

// Run starts the exchange and waits for it to finish.
func (c *Command) Run(ctx context.Context) error {
	if err := c.Start(ctx); err != nil {
		return err
	}
	c.Wait()
	return nil
}

func (c *Command) run(ctx context.Context, in inputs, done chan struct{}) {
	out := c.exchange(ctx, in)

	c.mu.Lock()
	c.out = out
	c.running = false
	c.cancel()
	c.mu.Unlock()
	close(done)
}

// Finished is closed when the current exchange ends.
func (c *Command) Finished() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

func (c *Command) Wait() {
	<-c.Finished()
}

// WaitTimeout waits up to d and reports whether the exchange finished.
func (c *Command) WaitTimeout(d time.Duration) bool {
	finished := c.Finished()
	select {
	case <-finished:
		return true
	default:
	}
	if d <= 0 {
		return false
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-finished:
		return true
	case <-timer.C:
		return false
	}
}

// Cancel aborts a running exchange. It is reported through WasCanceled.
func (c *Command) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running && c.cancel != nil {
		c.cancel()
	}
}

// Error reports whether the last exchange failed.
func (c *Command) Error() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out.errorString != ""
}

func (c *Command) ErrorString() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out.errorString
}

func (c *Command) WasCanceled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out.canceled
}

func (c *Command) ReceivedData() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.out.data...)
}

func (c *Command) ServerPID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out.serverPID
}

// ServerLocation is the endpoint the last exchange resolved.
func (c *Command) ServerLocation() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out.serverLocation
}
