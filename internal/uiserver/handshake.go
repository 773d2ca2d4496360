package uiserver

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/rbright/uiserver/internal/ipc"
)

var (
	errBadNonce = errors.New("nonce mismatch")
	errPeerUID  = errors.New("peer runs as a different user")
)

// handshake validates a raw connection before a Connection exists. On
// failure it returns a short reason for metrics and logs.
func (s *Server) handshake(conn net.Conn) (string, error) {
	if s.nonce != nil {
		if err := conn.SetReadDeadline(time.Now().Add(s.opts.HandshakeTimeout)); err != nil {
			return "nonce", fmt.Errorf("set handshake deadline: %w", err)
		}
		got := make([]byte, ipc.NonceSize)
		if _, err := io.ReadFull(conn, got); err != nil {
			return "nonce", fmt.Errorf("read nonce: %w", err)
		}
		if !ipc.CheckNonce(got, s.nonce) {
			return "nonce", errBadNonce
		}
		if err := conn.SetReadDeadline(time.Time{}); err != nil {
			return "nonce", fmt.Errorf("clear handshake deadline: %w", err)
		}
	}

	if s.opts.RequireSameUID {
		uid, err := peerUID(conn)
		switch {
		case errors.Is(err, errPeerCredUnsupported):
			s.logger.Debug("peer credentials unavailable on this platform")
		case err != nil:
			return "peer", fmt.Errorf("read peer credentials: %w", err)
		case uid != os.Getuid():
			return "peer", fmt.Errorf("%w: uid %d", errPeerUID, uid)
		}
	}
	return "", nil
}
