//go:build !linux

package pipeio

import "os"

func osPipe() (*os.File, *os.File, error) {
	return os.Pipe()
}
