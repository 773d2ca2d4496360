package uiserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/rbright/uiserver/internal/assuan"
	"github.com/rbright/uiserver/internal/pipeio"
)

var protocolVerbs = []string{
	"BYE", "FILE", "GETINFO", "HELP", "INPUT", "MESSAGE", "NOP", "OPTION",
	"OUTPUT", "RECIPIENT", "RESET", "SENDER",
}

func isProtocolVerb(verb string) bool {
	for _, v := range protocolVerbs {
		if v == verb {
			return true
		}
	}
	return false
}

// Connection is one accepted client. Its request loop runs on a single
// goroutine; the server only closes it.
type Connection struct {
	id     uint64
	server *Server
	logger *slog.Logger

	dev    *pipeio.Device
	engine *assuan.ServerConn

	options    map[string]string
	files      []string
	senders    []Mailbox
	recipients []Mailbox

	// broken is set when an inquire answer violated the protocol.
	broken error

	closeOnce sync.Once
	closed    chan struct{}
}

func newConnection(s *Server, id uint64, conn net.Conn) (*Connection, error) {
	dev, err := pipeio.Open(conn, pipeio.ModeReadWrite,
		pipeio.WithBufferSize(s.opts.BufferSize),
		pipeio.WithLogger(s.logger),
		pipeio.WithMetrics(s.opts.Metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("open connection device: %w", err)
	}
	return &Connection{
		id:      id,
		server:  s,
		logger:  s.logger.With("connection", id),
		dev:     dev,
		engine:  assuan.NewServerConn(dev, dev),
		options: make(map[string]string),
		closed:  make(chan struct{}),
	}, nil
}

func (c *Connection) ID() uint64 {
	return c.id
}

// Closed is closed once the connection has shut down.
func (c *Connection) Closed() <-chan struct{} {
	return c.closed
}

func (c *Connection) close() {
	c.closeOnce.Do(func() {
		if err := c.dev.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			c.logger.Debug("close connection device", "error", err)
		}
		close(c.closed)
	})
}

// serve greets the client and processes requests until BYE, end of stream
// or a protocol error.
func (c *Connection) serve(ctx context.Context) {
	defer c.close()

	if err := c.engine.OK(fmt.Sprintf("Pleased to meet you, process %d", c.server.pid)); err != nil {
		c.logger.Debug("send greeting", "error", err)
		return
	}

	for {
		line, err := c.engine.ReadLine()
		if errors.Is(err, assuan.ErrLineTooLong) {
			if err := c.engine.Err(assuan.Errorf(assuan.CodeSyntax, "Line too long")); err != nil {
				return
			}
			continue
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, pipeio.ErrClosed) {
				c.logger.Debug("read request", "error", err)
			}
			return
		}
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		verb, args := assuan.SplitCommand(line)
		done, err := c.dispatch(ctx, strings.ToUpper(verb), args)
		if err != nil {
			c.logger.Debug("connection aborted", "verb", verb, "error", err)
			return
		}
		if done {
			return
		}
	}
}

// dispatch handles one request line. It returns done when the connection
// should close, and an error when it must close without a reply.
func (c *Connection) dispatch(ctx context.Context, verb, args string) (done bool, err error) {
	switch verb {
	case "BYE":
		c.record(verb, nil)
		return true, c.engine.OK("closing connection")
	case "NOP":
		return false, c.reply(verb, nil)
	case "OPTION":
		return false, c.reply(verb, c.handleOption(args))
	case "GETINFO":
		return false, c.reply(verb, c.handleGetInfo(args))
	case "FILE":
		return false, c.reply(verb, c.handleFile(args))
	case "SENDER":
		return false, c.reply(verb, c.handleMailbox(args, &c.senders))
	case "RECIPIENT":
		return false, c.reply(verb, c.handleMailbox(args, &c.recipients))
	case "INPUT", "OUTPUT", "MESSAGE":
		return false, c.reply(verb, assuan.Errorf(assuan.CodeNotImplemented, "%s is not implemented", verb))
	case "RESET":
		c.resetCommandState()
		clear(c.options)
		return false, c.reply(verb, nil)
	case "HELP":
		return false, c.reply(verb, c.handleHelp())
	}

	cmd, ok := c.server.registry.Lookup(verb)
	if !ok {
		c.record("unknown", assuan.NewError(assuan.CodeUnknownCommand))
		return false, c.engine.Err(assuan.NewError(assuan.CodeUnknownCommand))
	}
	if cmd.Crypto && !c.server.CryptoCommandsEnabled() {
		return false, c.reply(verb, assuan.NewError(assuan.CodeNotEnabled))
	}

	runErr := c.run(ctx, cmd)
	c.resetCommandState()
	if c.broken != nil {
		c.record(verb, c.broken)
		return true, c.broken
	}
	return false, c.reply(verb, runErr)
}

func (c *Connection) run(ctx context.Context, cmd Command) (err error) {
	session := &Session{
		conn:       c,
		options:    maps.Clone(c.options),
		files:      append([]string(nil), c.files...),
		senders:    append([]Mailbox(nil), c.senders...),
		recipients: append([]Mailbox(nil), c.recipients...),
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("command panicked", "command", cmd.Name, "panic", r)
			err = assuan.Errorf(assuan.CodeServerFault, "%s failed", cmd.Name)
		}
	}()

	c.logger.Debug("command start", "command", cmd.Name, "files", len(session.files))
	return cmd.Run(ctx, session)
}

func (c *Connection) inquire(ctx context.Context, keyword string) ([]byte, error) {
	data, err := c.engine.Inquire(ctx, keyword)
	if err != nil && !assuan.IsCanceled(err) && c.broken == nil {
		c.broken = err
	}
	return data, err
}

func (c *Connection) resetCommandState() {
	c.files = nil
	c.senders = nil
	c.recipients = nil
}

func (c *Connection) reply(verb string, err error) error {
	c.record(verb, err)
	if err == nil {
		return c.engine.OK("")
	}
	if assuan.IsCanceled(err) {
		return c.engine.Err(assuan.ErrCanceled)
	}
	return c.engine.Err(err)
}

func (c *Connection) record(verb string, err error) {
	result := "ok"
	switch {
	case err == nil:
	case assuan.IsCanceled(err):
		result = "canceled"
	default:
		result = "error"
	}
	c.server.opts.Metrics.CommandFinished(verb, result)
	if err != nil {
		c.logger.Debug("command failed", "verb", verb, "error", err)
	}
}

func (c *Connection) handleOption(args string) error {
	name, value := parseOption(args)
	if name == "" {
		return assuan.Errorf(assuan.CodeSyntax, "option name missing")
	}
	if err := validateOption(name, value); err != nil {
		return err
	}
	if filter := c.server.opts.OptionFilter; filter != nil {
		if err := filter(name, value); err != nil {
			return err
		}
	}
	c.options[name] = value
	return nil
}

// parseOption accepts "name=value", "name value" and a bare "name". Leading
// dashes are dropped.
func parseOption(args string) (name, value string) {
	args = strings.TrimLeft(strings.TrimSpace(args), "-")
	i := strings.IndexAny(args, "= ")
	if i < 0 {
		return args, ""
	}
	rest := strings.TrimPrefix(strings.TrimSpace(args[i:]), "=")
	return args[:i], strings.TrimSpace(rest)
}

func validateOption(name, value string) error {
	switch name {
	case "window-id":
		if _, err := strconv.ParseUint(strings.TrimPrefix(value, "0x"), 16, 64); err != nil {
			return assuan.Errorf(assuan.CodeInvalidValue, "window-id must be hexadecimal")
		}
	case "checksum-algo":
		if _, ok := checksumAlgorithms[strings.ToLower(value)]; !ok {
			return assuan.Errorf(assuan.CodeInvalidValue, "unsupported checksum-algo %q", value)
		}
	}
	return nil
}

func (c *Connection) handleGetInfo(args string) error {
	what, rest := assuan.SplitCommand(args)
	switch what {
	case "pid":
		return c.engine.Data([]byte(strconv.Itoa(c.server.pid)))
	case "version":
		return c.engine.Data([]byte(c.server.opts.Version))
	case "socket_name":
		return c.engine.Data([]byte(c.server.SocketName()))
	case "cmd_has_option":
		cmdName, option := assuan.SplitCommand(rest)
		if cmdName == "" || option == "" {
			return assuan.Errorf(assuan.CodeInvalidArg, "cmd_has_option needs a command and an option")
		}
		cmd, ok := c.server.registry.Lookup(cmdName)
		if !ok {
			return assuan.NewError(assuan.CodeUnknownCommand)
		}
		if !cmd.HasOption(option) {
			return assuan.NewError(assuan.CodeFalse)
		}
		return nil
	default:
		return assuan.Errorf(assuan.CodeInvalidArg, "unknown GETINFO value %q", what)
	}
}

func (c *Connection) handleFile(args string) error {
	path, err := decodeArg(args)
	if err != nil {
		return err
	}
	c.files = append(c.files, path)
	return nil
}

func (c *Connection) handleMailbox(args string, list *[]Mailbox) error {
	informative := false
	args = strings.TrimSpace(args)
	if rest, ok := strings.CutPrefix(args, "--info"); ok && (rest == "" || rest[0] == ' ') {
		informative = true
		args = strings.TrimSpace(rest)
	}
	if rest, ok := strings.CutPrefix(args, "--"); ok {
		args = strings.TrimPrefix(rest, " ")
	}

	address, err := decodeArg(args)
	if err != nil {
		return err
	}
	*list = append(*list, Mailbox{Address: address, Informative: informative})
	return nil
}

func decodeArg(args string) (string, error) {
	args = strings.TrimSpace(args)
	if args == "" {
		return "", assuan.Errorf(assuan.CodeInvalidArg, "argument missing")
	}
	decoded, err := assuan.Decode(args)
	if err != nil {
		return "", assuan.Errorf(assuan.CodeSyntax, "%v", err)
	}
	return decoded, nil
}

func (c *Connection) handleHelp() error {
	for _, verb := range protocolVerbs {
		if err := c.engine.Comment(verb); err != nil {
			return err
		}
	}
	for _, name := range c.server.registry.Names() {
		if err := c.engine.Comment(name); err != nil {
			return err
		}
	}
	return nil
}
