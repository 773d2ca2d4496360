package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"time"
)

// Dial connects to the endpoint at path.
func Dial(ctx context.Context, path string, timeout time.Duration) (net.Conn, error) {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Probe reports whether something is listening on path by making a trial
// connection. Missing and refusing sockets are not alive; any other failure
// is returned as inconclusive.
func Probe(ctx context.Context, path string, timeout time.Duration) (bool, error) {
	conn, err := Dial(ctx, path, timeout)
	if err == nil {
		_ = conn.Close()
		return true, nil
	}
	if IsUnavailable(err) {
		return false, nil
	}
	return false, fmt.Errorf("probe socket: %w", err)
}

// IsUnavailable reports dial failures meaning nobody listens at the path.
func IsUnavailable(err error) bool {
	return isSocketMissing(err) || isConnectionRefused(err)
}

// isSocketMissing reports absent-socket failures.
func isSocketMissing(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, os.ErrNotExist)
}

// isConnectionRefused reports no-listener failures.
func isConnectionRefused(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, syscall.ECONNREFUSED)
}
