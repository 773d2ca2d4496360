// Package launcher runs configured helper programs when a client asks the
// server for UI it does not draw itself.
package launcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rbright/uiserver/internal/uiserver"
)

const DefaultTimeout = 10 * time.Second

// Launcher maps event kinds to argv.
type Launcher struct {
	commands map[uiserver.EventKind][]string
	timeout  time.Duration
	logger   *slog.Logger
}

func New(commands map[uiserver.EventKind][]string, timeout time.Duration, logger *slog.Logger) *Launcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Launcher{commands: commands, timeout: timeout, logger: logger}
}

// Run handles events until ctx ends or the channel closes. Events without a
// configured command are only logged.
func (l *Launcher) Run(ctx context.Context, events <-chan uiserver.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := l.Handle(ctx, ev); err != nil {
				l.logger.Error("ui request failed", "kind", string(ev.Kind), "error", err.Error())
			}
		}
	}
}

// Handle runs the command for one event and waits for it.
func (l *Launcher) Handle(ctx context.Context, ev uiserver.Event) error {
	argv := l.commands[ev.Kind]
	if len(argv) == 0 {
		l.logger.Info("ui request", "kind", string(ev.Kind), "connection", ev.ConnectionID, "handled", false)
		return nil
	}

	runCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	env := []string{
		"UISERVER_EVENT=" + string(ev.Kind),
		"UISERVER_CONNECTION=" + strconv.FormatUint(ev.ConnectionID, 10),
	}
	if err := runCommandWithInput(runCtx, argv, env, formatOptions(ev.Options)); err != nil {
		return err
	}
	l.logger.Info("ui request", "kind", string(ev.Kind), "connection", ev.ConnectionID, "handled", true)
	return nil
}

// formatOptions renders the session options as sorted name=value lines.
func formatOptions(options map[string]string) string {
	names := make([]string, 0, len(options))
	for name := range options {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(options[name])
		b.WriteByte('\n')
	}
	return b.String()
}

// runCommandWithInput executes argv and optionally writes input to stdin.
func runCommandWithInput(ctx context.Context, argv, env []string, input string) error {
	if len(argv) == 0 {
		return fmt.Errorf("command argv cannot be empty")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), env...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("open stdin for %s: %w", argv[0], err)
	}

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return fmt.Errorf("start command %s: %w", argv[0], err)
	}

	if input != "" {
		if _, err := stdin.Write([]byte(input)); err != nil {
			_ = stdin.Close()
			_ = cmd.Wait()
			return fmt.Errorf("write stdin for %s: %w", argv[0], err)
		}
	}
	_ = stdin.Close()

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("wait for %s: %w", argv[0], err)
	}
	return nil
}
