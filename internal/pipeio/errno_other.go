//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package pipeio

import (
	"strconv"
	"syscall"
)

func errnoName(errno syscall.Errno) string {
	return "errno " + strconv.Itoa(int(errno))
}

func interrupted(error) bool {
	return false
}
