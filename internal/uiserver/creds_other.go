//go:build !linux

package uiserver

import (
	"errors"
	"net"
)

var errPeerCredUnsupported = errors.New("peer credentials unsupported")

func peerUID(net.Conn) (int, error) {
	return 0, errPeerCredUnsupported
}
