//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package pipeio

import (
	"errors"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"
)

func errnoName(errno syscall.Errno) string {
	if name := unix.ErrnoName(errno); name != "" {
		return name
	}
	return "errno " + strconv.Itoa(int(errno))
}

func interrupted(err error) bool {
	return errors.Is(err, unix.EINTR)
}
