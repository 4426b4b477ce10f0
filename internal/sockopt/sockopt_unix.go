//go:build !windows

package sockopt

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// control sets SO_REUSEADDR and, where defined, SO_REUSEPORT on the raw fd
// before bind(2) runs.
func control(_, _ string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		if sockErr != nil {
			return
		}
		// SO_REUSEPORT is not part of POSIX; ignore ENOPROTOOPT-style
		// failures on platforms/kernels that lack it rather than fail
		// the whole bind over a best-effort optimization.
		_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
