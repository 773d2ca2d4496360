//go:build windows

package client

import (
	"log/slog"

	"golang.org/x/sys/windows"
)

var procAllowSetForegroundWindow = windows.NewLazySystemDLL("user32.dll").NewProc("AllowSetForegroundWindow")

// allowForeground lets the server process raise its dialogs above ours.
func allowForeground(pid int, logger *slog.Logger) {
	if err := procAllowSetForegroundWindow.Find(); err != nil {
		logger.Debug("AllowSetForegroundWindow unavailable", "error", err)
		return
	}
	if ok, _, err := procAllowSetForegroundWindow.Call(uintptr(pid)); ok == 0 {
		logger.Debug("AllowSetForegroundWindow failed", "pid", pid, "error", err)
	}
}
