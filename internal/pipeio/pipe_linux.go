package pipeio

import (
	"os"

	"golang.org/x/sys/unix"
)

// osPipe creates a close-on-exec pipe in non-blocking mode so the runtime
// poller owns both ends and read deadlines can interrupt a blocked reader.
func osPipe() (*os.File, *os.File, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		return nil, nil, newError("pipe2", err)
	}
	return os.NewFile(uintptr(fds[0]), "|0"), os.NewFile(uintptr(fds[1]), "|1"), nil
}
