package pipeio

import (
	"errors"
	"fmt"
	"syscall"
)

var (
	// ErrClosed is returned by operations on a closed device.
	ErrClosed = errors.New("pipeio: device closed")
	// ErrStartTimeout is returned when a worker fails to come up within the
	// configured start timeout.
	ErrStartTimeout = errors.New("pipeio: worker did not start in time")
	ErrNotReadable  = errors.New("pipeio: device not opened for reading")
	ErrNotWritable  = errors.New("pipeio: device not opened for writing")
)

// Error is a latched OS-level read or write failure. The raw errno is kept
// as captured and only rendered as text by Error.
type Error struct {
	Op    string
	Errno syscall.Errno
	Err   error
}

func newError(op string, err error) *Error {
	e := &Error{Op: op, Err: err}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		e.Errno = errno
	}
	return e
}

func (e *Error) Error() string {
	if e.Errno != 0 {
		return fmt.Sprintf("pipeio %s: %s (%s)", e.Op, errnoName(e.Errno), e.Errno.Error())
	}
	return fmt.Sprintf("pipeio %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
