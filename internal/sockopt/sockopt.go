// Package sockopt tunes listener sockets so a port worker can rebind its
// public port quickly after a reconfiguration tears it down (§4.5: the
// worker "sleeps 100 ms and restarts its listener"), and so a client dial
// gets TCP_NODELAY without depending on per-platform syscall plumbing
// beyond what's needed for SO_REUSEADDR/SO_REUSEPORT.
//
// TCP_NODELAY itself is already exposed portably via net.TCPConn.SetNoDelay
// and needs no syscall package; SO_REUSEADDR/SO_REUSEPORT have no portable
// net-package equivalent, which is exactly the gap beacon's own
// socket_windows_test.go documents with its setSocketOptions(fd) contract.
// This package completes that contract for unix in addition to windows.
package sockopt

import "net"

// ListenConfig returns a net.ListenConfig whose Control callback sets
// SO_REUSEADDR (and, on platforms that support it, SO_REUSEPORT) before the
// listener binds, so a port worker's 100ms-later rebind doesn't fail with
// "address already in use" while the old socket drains TIME_WAIT.
func ListenConfig() net.ListenConfig {
	return net.ListenConfig{Control: control}
}

// SetNoDelay disables Nagle's algorithm on conn, per §4.6/§4.7's "set
// TCP_NODELAY" requirement on both the control connection and every tunnel
// dial-back.
func SetNoDelay(conn *net.TCPConn) error {
	return conn.SetNoDelay(true)
}
