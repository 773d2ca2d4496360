package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/rbright/uiserver/internal/assuan"
	"github.com/rbright/uiserver/internal/ipc"
)

// exchange runs the whole request and folds its outcome into outputs.
func (c *Command) exchange(ctx context.Context, in inputs) outputs {
	var out outputs
	logger := c.opts.Logger.With("command", in.command)

	err := c.converse(ctx, in, &out)
	switch {
	case err == nil:
	case assuan.IsCanceled(err), errors.Is(err, context.Canceled):
		out.canceled = true
		logger.Debug("command canceled")
	default:
		out.errorString = err.Error()
		if out.errorString == "" {
			out.errorString = "unknown error"
		}
		logger.Debug("command failed", "error", out.errorString)
	}
	return out
}

func (c *Command) converse(ctx context.Context, in inputs, out *outputs) error {
	path, err := ipc.SocketPath(in.serverLocation)
	if err != nil {
		return fmt.Errorf("resolve server location: %w", err)
	}
	out.serverLocation = path

	conn, err := c.connect(ctx, path)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	pid, err := queryPID(ctx, conn)
	if err != nil {
		return err
	}
	out.serverPID = pid

	if in.command == "" {
		return nil
	}

	if in.hasParentWindow {
		allowForeground(pid, c.opts.Logger)
		option := "OPTION window-id=" + strconv.FormatUint(in.parentWindowID, 16)
		if err := conn.Transact(ctx, option, assuan.Handlers{}); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.opts.Logger.Debug("window-id option rejected", "error", err)
		}
	}

	for _, name := range in.sortedOptionNames() {
		opt := in.options[name]
		line := "OPTION " + name
		if opt.hasValue {
			line += "=" + opt.value
		}
		if err := conn.Transact(ctx, line, assuan.Handlers{}); err != nil {
			if opt.critical || ctx.Err() != nil {
				return fmt.Errorf("option %s: %w", name, err)
			}
			c.opts.Logger.Debug("option rejected", "option", name, "error", err)
		}
	}

	for _, path := range in.filePaths {
		if err := conn.Transact(ctx, "FILE "+assuan.Encode(path), assuan.Handlers{}); err != nil {
			return fmt.Errorf("file %s: %w", path, err)
		}
	}
	if err := sendMailboxes(ctx, conn, "SENDER", in.senders, in.informativeSenders); err != nil {
		return err
	}
	if err := sendMailboxes(ctx, conn, "RECIPIENT", in.recipients, in.informativeRecipients); err != nil {
		return err
	}

	var data bytes.Buffer
	err = conn.Transact(ctx, in.command, assuan.Handlers{
		Data: func(p []byte) error {
			data.Write(p)
			return nil
		},
		Inquire: func(_ context.Context, keyword string) ([]byte, error) {
			return in.inquireData[keyword], nil
		},
	})
	out.data = data.Bytes()
	return err
}

func sendMailboxes(ctx context.Context, conn *assuan.Conn, verb string, list []string, informative bool) error {
	prefix := verb + " "
	if informative {
		prefix += "--info "
	}
	prefix += "-- "
	for _, addr := range list {
		if err := conn.Transact(ctx, prefix+assuan.Encode(addr), assuan.Handlers{}); err != nil {
			return fmt.Errorf("%s %s: %w", strings.ToLower(verb), addr, err)
		}
	}
	return nil
}

func queryPID(ctx context.Context, conn *assuan.Conn) (int, error) {
	var raw bytes.Buffer
	err := conn.Transact(ctx, "GETINFO pid", assuan.Handlers{
		Data: func(p []byte) error {
			raw.Write(p)
			return nil
		},
	})
	if err != nil {
		return 0, fmt.Errorf("query server pid: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(raw.String()))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("server returned invalid pid %q", raw.String())
	}
	return pid, nil
}

// connect dials path, spawning the server once when nobody is listening,
// then completes the nonce and greeting handshake.
func (c *Command) connect(ctx context.Context, path string) (*assuan.Conn, error) {
	raw, err := ipc.Dial(ctx, path, c.opts.DialTimeout)
	if err != nil && len(c.opts.Spawn) > 0 {
		c.opts.Logger.Debug("server unavailable, spawning", "argv", c.opts.Spawn, "error", err)
		if spawnErr := spawn(c.opts.Spawn, c.opts.SpawnEnv); spawnErr != nil {
			return nil, fmt.Errorf("start server %q: %w", c.opts.Spawn[0], spawnErr)
		}
		raw, err = c.retryDial(ctx, path)
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("connect to server at %s: %w", path, err)
	}

	if err := sendNonce(raw, path); err != nil {
		_ = raw.Close()
		return nil, err
	}

	conn := assuan.NewConn(raw)
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	_, err = conn.ReadGreeting()
	stop()
	if err != nil {
		_ = conn.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("connect to server at %s: %w", path, err)
	}
	return conn, nil
}

func (c *Command) retryDial(ctx context.Context, path string) (net.Conn, error) {
	ticker := time.NewTicker(c.opts.ConnectInterval)
	defer ticker.Stop()

	var lastErr error
	for range c.opts.ConnectRetries {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
		conn, err := ipc.Dial(ctx, path, c.opts.DialTimeout)
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.New("no connection attempts left")
	}
	return nil, lastErr
}

// sendNonce writes the nonce when the server published one.
func sendNonce(conn net.Conn, socketPath string) error {
	nonce, err := ipc.ReadNonce(ipc.NoncePath(socketPath))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read server nonce: %w", err)
	}
	if _, err := conn.Write(nonce); err != nil {
		return fmt.Errorf("send server nonce: %w", err)
	}
	return nil
}
