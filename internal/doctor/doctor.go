// Package doctor runs readiness diagnostics for config, the socket endpoint,
// and the server spawn command.
package doctor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rbright/uiserver/internal/config"
	"github.com/rbright/uiserver/internal/ipc"
)

const probeTimeout = 500 * time.Millisecond

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", status, check.Name, check.Message))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Run checks a loaded config. socket overrides the configured endpoint.
func Run(ctx context.Context, cfg config.Loaded, socket string) Report {
	checks := []Check{checkConfig(cfg)}

	if socket == "" {
		socket = cfg.Config.Server.Socket
	}
	path, err := ipc.SocketPath(socket)
	if err != nil {
		checks = append(checks, Check{Name: "socket.path", Pass: false, Message: err.Error()})
	} else {
		checks = append(checks,
			Check{Name: "socket.path", Pass: true, Message: path},
			checkSocketDir(filepath.Dir(path)),
			checkServer(ctx, path, cfg.Config),
		)
	}

	if cfg.Config.Client.Spawn {
		checks = append(checks, checkCommand(cfg.Config.Client.SpawnCmd.Argv, "client.spawn_cmd"))
	} else {
		checks = append(checks, Check{Name: "client.spawn_cmd", Pass: true, Message: "spawning disabled"})
	}

	return Report{Checks: checks}
}

func checkConfig(cfg config.Loaded) Check {
	if !cfg.Exists {
		return Check{Name: "config", Pass: true, Message: fmt.Sprintf("%q not found; using defaults", cfg.Path)}
	}
	return Check{Name: "config", Pass: true, Message: fmt.Sprintf("loaded %q", cfg.Path)}
}

// checkSocketDir fails when other users could reach the socket directory.
func checkSocketDir(dir string) Check {
	info, err := os.Stat(dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return Check{Name: "socket.dir", Pass: true, Message: fmt.Sprintf("%s will be created with mode 0700", dir)}
	case err != nil:
		return Check{Name: "socket.dir", Pass: false, Message: err.Error()}
	case !info.IsDir():
		return Check{Name: "socket.dir", Pass: false, Message: fmt.Sprintf("%s is not a directory", dir)}
	case info.Mode().Perm()&0o077 != 0:
		return Check{Name: "socket.dir", Pass: false, Message: fmt.Sprintf("%s has mode %04o; want no group or other access", dir, info.Mode().Perm())}
	}
	return Check{Name: "socket.dir", Pass: true, Message: fmt.Sprintf("%s (mode %04o)", dir, info.Mode().Perm())}
}

// checkServer probes the endpoint. No listener is fine while spawning is on.
func checkServer(ctx context.Context, path string, cfg config.Config) Check {
	alive, err := ipc.Probe(ctx, path, probeTimeout)
	switch {
	case err != nil:
		return Check{Name: "server", Pass: false, Message: err.Error()}
	case alive:
		msg := "listening"
		if cfg.Server.RequireNonce {
			if _, err := ipc.ReadNonce(ipc.NoncePath(path)); err != nil {
				return Check{Name: "server", Pass: false, Message: fmt.Sprintf("listening but nonce unreadable: %v", err)}
			}
			msg += " (nonce published)"
		}
		return Check{Name: "server", Pass: true, Message: msg}
	case cfg.Client.Spawn:
		return Check{Name: "server", Pass: true, Message: "not running; send will start it"}
	default:
		return Check{Name: "server", Pass: false, Message: "not running and client.spawn=false"}
	}
}

// checkCommand validates that argv contains a runnable command.
func checkCommand(argv []string, name string) Check {
	if len(argv) == 0 {
		return Check{Name: name, Pass: false, Message: "command is empty"}
	}
	return checkBinary(argv[0], fmt.Sprintf("%s command is available", name))
}

// checkBinary validates that a binary exists in PATH.
func checkBinary(bin string, okMsg string) Check {
	path, err := exec.LookPath(bin)
	if err != nil {
		return Check{Name: bin, Pass: false, Message: fmt.Sprintf("binary not found in PATH: %s", bin)}
	}
	return Check{Name: bin, Pass: true, Message: fmt.Sprintf("found at %s (%s)", path, okMsg)}
}
