package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/rbright/uiserver/internal/cli"
	"github.com/rbright/uiserver/internal/client"
	"github.com/rbright/uiserver/internal/config"
	"github.com/rbright/uiserver/internal/doctor"
	"github.com/rbright/uiserver/internal/ipc"
	"github.com/rbright/uiserver/internal/launcher"
	"github.com/rbright/uiserver/internal/logging"
	"github.com/rbright/uiserver/internal/metrics"
	"github.com/rbright/uiserver/internal/uiserver"
	"github.com/rbright/uiserver/internal/version"
)

const (
	shutdownTimeout = 5 * time.Second
	statusTimeout   = 500 * time.Millisecond
)

type Runner struct {
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
	// Registry replaces the built-in server commands for serve.
	Registry *uiserver.Registry
	// Ready is called once serve is listening.
	Ready func(*uiserver.Server)
}

func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	r := Runner{Stdout: stdout, Stderr: stderr}
	return r.Execute(ctx, args)
}

func (r Runner) Execute(ctx context.Context, args []string) int {
	parsed, err := cli.Parse(args, r.Stdout, r.Stderr)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n\n", err)
		fmt.Fprint(r.Stderr, cli.HelpText())
		return 2
	}
	if parsed.Handled {
		return 0
	}
	if parsed.Command == cli.CommandVersion {
		fmt.Fprintln(r.Stdout, version.String())
		return 0
	}

	cfgLoaded, err := config.Load(parsed.ConfigPath)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	cfg := cfgLoaded.Config

	logRuntime := logging.Discard()
	if r.Logger == nil {
		level, err := logging.ParseLevel(cfg.Log.Level)
		if err != nil {
			fmt.Fprintf(r.Stderr, "error: %v\n", err)
			return 1
		}
		logRuntime, err = logging.New(level)
		if err != nil {
			fmt.Fprintf(r.Stderr, "error: setup logging: %v\n", err)
			return 1
		}
	} else {
		logRuntime.Logger = r.Logger
	}
	defer func() { _ = logRuntime.Close() }()
	logger := logRuntime.Logger

	for _, w := range cfgLoaded.Warnings {
		msg := w.Message
		if w.Line > 0 {
			msg = fmt.Sprintf("line %d: %s", w.Line, w.Message)
		}
		fmt.Fprintf(r.Stderr, "warning: %s\n", msg)
		logger.Warn("config warning", "line", w.Line, "message", w.Message)
	}

	socket := parsed.Socket
	if socket == "" {
		socket = cfg.Server.Socket
	}

	logger.Info("command start",
		"command", parsed.Command,
		"config", cfgLoaded.Path,
		"log", logRuntime.Path,
	)

	switch parsed.Command {
	case cli.CommandDoctor:
		report := doctor.Run(ctx, cfgLoaded, socket)
		fmt.Fprintln(r.Stdout, report.String())
		if report.OK() {
			return 0
		}
		return 1
	case cli.CommandServe:
		return r.commandServe(ctx, cfg, socket, logger)
	case cli.CommandSend:
		return r.commandSend(ctx, cfg, socket, parsed.Send, logger)
	case cli.CommandStatus:
		return r.commandStatus(ctx, socket, logger)
	default:
		fmt.Fprintf(r.Stderr, "error: unsupported command %q\n", parsed.Command)
		return 2
	}
}

func (r Runner) commandServe(ctx context.Context, cfg config.Config, socket string, logger *slog.Logger) int {
	m := metrics.New()
	srv := uiserver.New(uiserver.Options{
		SocketPath:           socket,
		RequireNonce:         cfg.Server.RequireNonce,
		RequireSameUID:       cfg.Server.RequireSameUID,
		EnableCryptoCommands: cfg.Server.EnableCryptoCommands,
		HandshakeTimeout:     cfg.Server.HandshakeTimeout(),
		BufferSize:           cfg.Server.BufferSize,
		Version:              version.Short(),
		Logger:               logger,
		Metrics:              m,
	}, r.Registry)

	if err := srv.Start(ctx); err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		logger.Error("server start failed", "error", err.Error(), "already_running", errors.Is(err, ipc.ErrAlreadyRunning))
		return 1
	}

	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.Metrics.Listen != "" {
		go func() {
			if err := m.Serve(serveCtx, cfg.Metrics.Listen, logger); err != nil {
				logger.Error("metrics endpoint failed", "error", err.Error())
			}
		}()
	}
	events := launcher.New(map[uiserver.EventKind][]string{
		uiserver.EventStartKeyManager: cfg.Events.KeyManagerCmd.Argv,
		uiserver.EventStartConfDialog: cfg.Events.ConfDialogCmd.Argv,
	}, cfg.Events.Timeout(), logger)
	go events.Run(serveCtx, srv.Events())

	fmt.Fprintf(r.Stdout, "listening on %s\n", srv.SocketName())
	if r.Ready != nil {
		r.Ready(srv)
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case <-srv.Stopped():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(r.Stderr, "error: shutdown: %v\n", err)
		logger.Error("server shutdown failed", "error", err.Error())
		return 1
	}
	logger.Info("server stopped")
	return 0
}

func (r Runner) commandSend(ctx context.Context, cfg config.Config, socket string, req cli.Send, logger *slog.Logger) int {
	retries := cfg.Client.ConnectRetries
	if retries == 0 {
		retries = -1
	}
	opts := client.Options{
		ConnectRetries:  retries,
		ConnectInterval: cfg.Client.ConnectInterval(),
		Spawn:           cfg.Client.SpawnArgv(),
		Logger:          logger,
	}
	if socket != "" {
		opts.SpawnEnv = []string{"UISERVER_SOCKET=" + socket}
	}

	cmd := client.New(opts)
	cmd.SetServerLocation(socket)
	cmd.SetCommand(req.Verb)
	for _, opt := range req.Options {
		if opt.HasValue {
			cmd.SetOptionValue(opt.Name, opt.Value, opt.Critical)
		} else {
			cmd.SetOption(opt.Name, opt.Critical)
		}
	}
	cmd.SetFilePaths(req.Files)
	cmd.SetSenders(req.Senders, req.InformativeSenders)
	cmd.SetRecipients(req.Recipients, req.InformativeRecipients)
	for _, inq := range req.Inquiries {
		data := []byte(inq.Value)
		if inq.FromFile {
			var err error
			if data, err = os.ReadFile(inq.Value); err != nil {
				fmt.Fprintf(r.Stderr, "error: inquire %s: %v\n", inq.Name, err)
				return 1
			}
		}
		cmd.SetInquireData(inq.Name, data)
	}
	if req.HasWindowID {
		cmd.SetParentWindowID(req.WindowID)
	}

	if err := cmd.Run(ctx); err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	logger.Info("send finished",
		"verb", req.Verb,
		"server", cmd.ServerLocation(),
		"server_pid", cmd.ServerPID(),
		"canceled", cmd.WasCanceled(),
		"error", cmd.ErrorString(),
		"bytes_received", len(cmd.ReceivedData()),
	)

	switch {
	case cmd.WasCanceled():
		fmt.Fprintln(r.Stdout, "canceled")
		return 0
	case cmd.Error():
		fmt.Fprintf(r.Stderr, "error: %s\n", cmd.ErrorString())
		return 1
	}
	_, _ = r.Stdout.Write(cmd.ReceivedData())
	return 0
}

func (r Runner) commandStatus(ctx context.Context, socket string, logger *slog.Logger) int {
	path, err := ipc.SocketPath(socket)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	alive, err := ipc.Probe(ctx, path, statusTimeout)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if !alive {
		fmt.Fprintln(r.Stdout, "not running")
		return 0
	}

	cmd := client.New(client.Options{Logger: logger, DialTimeout: statusTimeout})
	cmd.SetServerLocation(path)
	if err := cmd.Run(ctx); err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if cmd.Error() {
		fmt.Fprintf(r.Stderr, "error: %s\n", cmd.ErrorString())
		return 1
	}
	fmt.Fprintf(r.Stdout, "running pid=%d socket=%s\n", cmd.ServerPID(), cmd.ServerLocation())
	return 0
}
