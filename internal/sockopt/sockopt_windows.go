//go:build windows

package sockopt

import (
	"syscall"

	"golang.org/x/sys/windows"
)

// control sets SO_REUSEADDR on the raw fd before bind(2) runs. Windows has
// no SO_REUSEPORT equivalent (per beacon's own
// internal/transport/socket_windows_test.go note: "Windows supports
// SO_REUSEADDR only").
func control(_, _ string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
