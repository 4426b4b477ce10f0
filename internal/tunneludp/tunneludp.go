// Package tunneludp carries the tunnel_type = UDP hop: the client<->server
// leg of a dial-back, where both ends are this repository's own processes
// and can therefore speak a real framed-datagram-stream protocol rather
// than emulating one. It is backed by github.com/xtaci/kcp-go/v5, whose
// UDPSession already satisfies net.Conn and tags each stream with a
// session-id ("conv") packet header, matching the session abstraction the
// outer spec calls for without this repository needing to define its own
// wire format for it.
package tunneludp

import (
	"net"

	kcp "github.com/xtaci/kcp-go/v5"
)

// dataShards/parityShards are left at 0: no forward-error-correction, since
// the tunnel has no ordering/retransmit guarantees beyond what kcp-go
// itself provides (spec Non-goals explicitly exclude anything beyond that).
const (
	dataShards   = 0
	parityShards = 0
)

// Listen binds addr for inbound tunnel/control dial-back sessions over UDP.
func Listen(addr string) (*kcp.Listener, error) {
	return kcp.ListenWithOptions(addr, nil, dataShards, parityShards)
}

// Accept blocks for the next inbound session on l.
func Accept(l *kcp.Listener) (net.Conn, error) {
	return l.AcceptKCP()
}

// Dial opens a new tunnel/control session toward addr.
func Dial(addr string) (net.Conn, error) {
	return kcp.DialWithOptions(addr, nil, dataShards, parityShards)
}
