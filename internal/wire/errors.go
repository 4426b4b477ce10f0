// Package wire implements the client→server framing convention and the
// binary PortMap encoding described in the tunnel control protocol: a fixed
// 18-byte header (port_remote, code) optionally followed by a length-prefixed
// publish payload.
package wire

import "errors"

// ErrShortHeader is returned when fewer than HeaderSize bytes are available
// before EOF while reading a frame header, and by ReadPublishBody when the
// 2-byte info_len that follows a publish header cannot be read in full.
var ErrShortHeader = errors.New("wire: short frame header")

// ErrShortBody is returned when a publish frame's declared info_len exceeds
// the bytes actually available on the wire.
var ErrShortBody = errors.New("wire: short publish body")

// ErrAuthFailed names a mismatch between a decoded Code and the server's
// configured secret. wire itself never compares codes, it only decodes
// them; the server compares them itself and closes the connection on a
// mismatch without returning this value.
var ErrAuthFailed = errors.New("wire: authentication code mismatch")

// ErrDuplicateRemotePort is returned by PortMap.Validate when two mappings
// advertise the same port_remote.
var ErrDuplicateRemotePort = errors.New("wire: duplicate port_remote in port map")

// ErrPortMapTruncated is returned when a PortMap blob ends mid-field.
var ErrPortMapTruncated = errors.New("wire: truncated port map")

// ErrStringTooLong is returned by WritePublishFrame when the encoded PortMap
// is longer than its uint16 info_len prefix can express.
var ErrStringTooLong = errors.New("wire: encoded port map exceeds 65535 bytes")
