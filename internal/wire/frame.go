package wire

import (
	"encoding/binary"
	"io"
)

// HeaderSize is the fixed size, in bytes, of every client→server frame
// header: a big-endian uint16 port_remote followed by a 128-bit Code.
const HeaderSize = 2 + CodeSize

// Header is the fixed preamble of every client-originated frame.
//
// PortRemote == 0 marks a publish frame (followed by a length-prefixed
// PortMap); any other value marks a tunnel dial-back frame, after which the
// remainder of the connection is opaque user payload.
type Header struct {
	PortRemote uint16
	Code       Code
}

// IsPublish reports whether this header introduces a publish frame.
func (h Header) IsPublish() bool { return h.PortRemote == 0 }

// ReadHeader reads exactly HeaderSize bytes from r and decodes them.
// A short read before the header is complete is reported as ErrShortHeader,
// distinct from a clean io.EOF before any bytes were read at all.
func ReadHeader(r io.Reader) (Header, error) {
	var buf [HeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return Header{}, ErrShortHeader
		}
		return Header{}, err
	}
	var h Header
	h.PortRemote = binary.BigEndian.Uint16(buf[0:2])
	copy(h.Code[:], buf[2:HeaderSize])
	return h, nil
}

// WriteHeader encodes and writes a Header.
func WriteHeader(w io.Writer, h Header) error {
	var buf [HeaderSize]byte
	binary.BigEndian.PutUint16(buf[0:2], h.PortRemote)
	copy(buf[2:HeaderSize], h.Code[:])
	_, err := w.Write(buf[:])
	return err
}

// WriteTunnelFrame writes a tunnel dial-back header: no preamble beyond the
// fixed header, since the remainder of the stream is raw payload.
func WriteTunnelFrame(w io.Writer, portRemote uint16, code Code) error {
	return WriteHeader(w, Header{PortRemote: portRemote, Code: code})
}

// WritePublishFrame writes a publish frame: header with PortRemote == 0,
// followed by a big-endian uint16 length and the encoded PortMap.
func WritePublishFrame(w io.Writer, code Code, pm PortMap) error {
	if err := WriteHeader(w, Header{PortRemote: 0, Code: code}); err != nil {
		return err
	}
	body := EncodePortMap(pm)
	if len(body) > 0xFFFF {
		return ErrStringTooLong
	}
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

// ReadPublishBody reads the info_len-prefixed PortMap payload that follows a
// publish header. Callers must have already confirmed Header.IsPublish().
func ReadPublishBody(r io.Reader) (PortMap, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, ErrShortHeader
	}
	infoLen := binary.BigEndian.Uint16(lenBuf[:])
	body := make([]byte, infoLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, ErrShortBody
	}
	return DecodePortMap(body)
}

// WritePortNotification writes a single unsolicited server→client port
// notification: a bare big-endian uint16, no framing of any kind.
func WritePortNotification(w io.Writer, portRemote uint16) error {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], portRemote)
	_, err := w.Write(buf[:])
	return err
}

// ReadPortNotification reads a single server→client port notification.
func ReadPortNotification(r io.Reader) (uint16, error) {
	var buf [2]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(buf[:]), nil
}
