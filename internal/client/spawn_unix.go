//go:build unix

package client

import (
	"os"
	"os/exec"
	"syscall"
)

// spawn starts argv in its own session so it outlives the caller.
func spawn(argv, env []string) error {
	cmd := exec.Command(argv[0], argv[1:]...)
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() { _ = cmd.Wait() }()
	return nil
}
