// Package ipc resolves and owns the UI server's local socket endpoint.
package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// SocketName is the endpoint file name inside the resolved directory.
const SocketName = "S.uiserver"

var ErrAlreadyRunning = errors.New("uiserver already running")

// SocketPath resolves the endpoint path. The first non-empty source wins:
// explicit, $UISERVER_SOCKET, $GNUPGHOME, $XDG_RUNTIME_DIR/gnupg, ~/.gnupg.
func SocketPath(explicit string) (string, error) {
	if path := strings.TrimSpace(explicit); path != "" {
		return expandHome(path)
	}
	if path := strings.TrimSpace(os.Getenv("UISERVER_SOCKET")); path != "" {
		return expandHome(path)
	}
	if home := strings.TrimSpace(os.Getenv("GNUPGHOME")); home != "" {
		return filepath.Join(home, SocketName), nil
	}
	if runtimeDir := strings.TrimSpace(os.Getenv("XDG_RUNTIME_DIR")); runtimeDir != "" {
		return filepath.Join(runtimeDir, "gnupg", SocketName), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".gnupg", SocketName), nil
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// Acquire listens on path. An existing socket that still accepts a trial
// connection is left alone and reported as ErrAlreadyRunning; an
// unconnectable one is removed and replaced. An inconclusive probe never
// unlinks the file.
func Acquire(ctx context.Context, path string, probeTimeout time.Duration, retries int) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("ensure socket dir: %w", err)
	}

	// retries bounds the waits between rounds; every round that removes a
	// stale file still gets its own listen attempt.
	for attempt := 0; ; attempt++ {
		listener, err := listen(path)
		if err == nil {
			return listener, nil
		}
		if !isAddrInUse(err) {
			return nil, fmt.Errorf("listen unix %s: %w", path, err)
		}

		alive, probeErr := Probe(ctx, path, probeTimeout)
		if alive {
			return nil, fmt.Errorf("%w: detected another running UI server listening at %s", ErrAlreadyRunning, path)
		}
		if probeErr != nil {
			return nil, fmt.Errorf("probe existing socket %s: %w", path, probeErr)
		}

		if removeErr := os.Remove(path); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			return nil, fmt.Errorf("remove stale socket %s: %w", path, removeErr)
		}

		listener, err = listen(path)
		if err == nil {
			return listener, nil
		}
		if !isAddrInUse(err) {
			return nil, fmt.Errorf("listen unix %s: %w", path, err)
		}
		if attempt >= retries {
			return nil, fmt.Errorf("failed to acquire socket %s after %d retries: %w", path, retries, err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(25*(attempt+1)) * time.Millisecond):
		}
	}
}

func listen(path string) (net.Listener, error) {
	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	if unixListener, ok := listener.(*net.UnixListener); ok {
		// Stop removes the file itself, after the nonce.
		unixListener.SetUnlinkOnClose(false)
	}
	_ = os.Chmod(path, 0o600)
	return listener, nil
}

func isAddrInUse(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, syscall.EADDRINUSE) || strings.Contains(err.Error(), "address already in use")
}
