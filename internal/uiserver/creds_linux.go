package uiserver

import (
	"errors"
	"net"

	"golang.org/x/sys/unix"
)

var errPeerCredUnsupported = errors.New("peer credentials unsupported")

// peerUID returns the uid of the process on the other end of a unix socket.
func peerUID(conn net.Conn) (int, error) {
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		return 0, errPeerCredUnsupported
	}
	raw, err := unixConn.SyscallConn()
	if err != nil {
		return 0, err
	}

	var (
		cred    *unix.Ucred
		credErr error
	)
	if err := raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil {
		return 0, err
	}
	if credErr != nil {
		return 0, credErr
	}
	return int(cred.Uid), nil
}
