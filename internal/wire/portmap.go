package wire

import "encoding/binary"

// PortType tags the transport of one hop of a mapping.
type PortType uint8

const (
	// TCP carries the hop over a plain TCP stream.
	TCP PortType = 0
	// UDP carries the hop over an emulated UDP stream.
	UDP PortType = 1
)

// String implements fmt.Stringer for logging.
func (t PortType) String() string {
	switch t {
	case TCP:
		return "tcp"
	case UDP:
		return "udp"
	default:
		return "unknown"
	}
}

// PortMapping is one advertised public-port-to-local-target entry.
type PortMapping struct {
	// PortRemote is the public port the server must listen on.
	PortRemote uint16
	// PortLocal is the port on the client-side target.
	PortLocal uint16
	// LocalIP is the target host as seen by the client; defaults to
	// "127.0.0.1" when empty.
	LocalIP string
	// PortType is the transport of the user<->local hop.
	PortType PortType
	// TunnelType is the transport of the client<->server tunnel hop.
	TunnelType PortType
}

// EffectiveLocalIP returns LocalIP, defaulting to 127.0.0.1 when unset.
func (m PortMapping) EffectiveLocalIP() string {
	if m.LocalIP == "" {
		return "127.0.0.1"
	}
	return m.LocalIP
}

// PortMap is an ordered sequence of mappings, looked up by PortRemote.
type PortMap []PortMapping

// Lookup returns the first mapping advertising portRemote, tolerating
// duplicates by first-match (the server's posture per spec; the client must
// not publish colliding entries for a given transport — see Validate).
func (pm PortMap) Lookup(portRemote uint16) (PortMapping, bool) {
	for _, m := range pm {
		if m.PortRemote == portRemote {
			return m, true
		}
	}
	return PortMapping{}, false
}

// Validate enforces the client-side invariant that PortRemote values are
// unique. The server tolerates duplicates (first-match); a client MUST NOT
// publish them.
func (pm PortMap) Validate() error {
	seen := make(map[uint16]struct{}, len(pm))
	for _, m := range pm {
		if _, dup := seen[m.PortRemote]; dup {
			return ErrDuplicateRemotePort
		}
		seen[m.PortRemote] = struct{}{}
	}
	return nil
}

// EncodePortMap serializes a PortMap into the compact binary form shared by
// client and server: for each mapping, in order,
// port_remote:u16, port_local:u16, local_ip (length-prefixed string),
// port_type:u8, tunnel_type:u8.
func EncodePortMap(pm PortMap) []byte {
	size := 2 // mapping count
	for _, m := range pm {
		size += 2 + 2 + 2 + len(m.EffectiveLocalIP()) + 1 + 1
	}
	buf := make([]byte, size)
	off := 0
	binary.BigEndian.PutUint16(buf[off:], uint16(len(pm)))
	off += 2
	for _, m := range pm {
		binary.BigEndian.PutUint16(buf[off:], m.PortRemote)
		off += 2
		binary.BigEndian.PutUint16(buf[off:], m.PortLocal)
		off += 2
		ip := m.EffectiveLocalIP()
		binary.BigEndian.PutUint16(buf[off:], uint16(len(ip)))
		off += 2
		off += copy(buf[off:], ip)
		buf[off] = byte(m.PortType)
		off++
		buf[off] = byte(m.TunnelType)
		off++
	}
	return buf[:off]
}

// DecodePortMap is the inverse of EncodePortMap.
func DecodePortMap(data []byte) (PortMap, error) {
	if len(data) < 2 {
		return nil, ErrPortMapTruncated
	}
	count := binary.BigEndian.Uint16(data[0:2])
	off := 2
	pm := make(PortMap, 0, count)
	for i := uint16(0); i < count; i++ {
		if off+6 > len(data) {
			return nil, ErrPortMapTruncated
		}
		portRemote := binary.BigEndian.Uint16(data[off:])
		off += 2
		portLocal := binary.BigEndian.Uint16(data[off:])
		off += 2
		ipLen := int(binary.BigEndian.Uint16(data[off:]))
		off += 2
		if off+ipLen+2 > len(data) {
			return nil, ErrPortMapTruncated
		}
		ip := string(data[off : off+ipLen])
		off += ipLen
		portType := PortType(data[off])
		off++
		tunnelType := PortType(data[off])
		off++
		pm = append(pm, PortMapping{
			PortRemote: portRemote,
			PortLocal:  portLocal,
			LocalIP:    ip,
			PortType:   portType,
			TunnelType: tunnelType,
		})
	}
	return pm, nil
}
