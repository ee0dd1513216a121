package ws

import "encoding/binary"

// Opcode identifies a WebSocket frame type.
type Opcode byte

const (
	OpContinuation Opcode = 0x0
	OpText         Opcode = 0x1
	OpBinary       Opcode = 0x2
	OpClose        Opcode = 0x8
	OpPing         Opcode = 0x9
	OpPong         Opcode = 0xA
)

func (o Opcode) String() string {
	switch o {
	case OpContinuation:
		return "continuation"
	case OpText:
		return "text"
	case OpBinary:
		return "binary"
	case OpClose:
		return "close"
	case OpPing:
		return "ping"
	case OpPong:
		return "pong"
	default:
		return "reserved"
	}
}

// Close status codes sent by the server.
const (
	CloseNormalClosure   uint16 = 1000
	ClosePolicyViolation uint16 = 1008
)

// maxParsePayload caps the declared payload length ParseFrame will
// follow. Longer declarations are reported as incomplete and left to
// the caller's read limit to reject.
const maxParsePayload = 1 << 31

// Frame is one parsed WebSocket frame.
type Frame struct {
	Fin     bool
	Opcode  Opcode
	Payload []byte
}

// ParseFrame decodes one frame from the front of buf. It returns the
// frame, the bytes consumed, and whether a complete frame was present;
// an incomplete buffer consumes nothing. Masked payloads are unmasked
// in place, so the returned payload aliases buf. Masking is not
// enforced.
func ParseFrame(buf []byte) (Frame, int, bool) {
	if len(buf) < 2 {
		return Frame{}, 0, false
	}
	b0 := buf[0]
	masked := buf[1]&0x80 != 0
	length := uint64(buf[1] & 0x7F)
	off := 2

	switch length {
	case 126:
		if len(buf) < 4 {
			return Frame{}, 0, false
		}
		length = uint64(binary.BigEndian.Uint16(buf[2:4]))
		off = 4
	case 127:
		if len(buf) < 10 {
			return Frame{}, 0, false
		}
		length = binary.BigEndian.Uint64(buf[2:10])
		off = 10
	}
	if length > maxParsePayload {
		return Frame{}, 0, false
	}

	var key [4]byte
	if masked {
		if len(buf) < off+4 {
			return Frame{}, 0, false
		}
		copy(key[:], buf[off:off+4])
		off += 4
	}

	n := int(length)
	if len(buf) < off+n {
		return Frame{}, 0, false
	}
	payload := buf[off : off+n]
	if masked {
		for i := range payload {
			payload[i] ^= key[i%4]
		}
	}
	return Frame{
		Fin:     b0&0x80 != 0,
		Opcode:  Opcode(b0 & 0x0F),
		Payload: payload,
	}, off + n, true
}

// EncodeFrame builds a single unmasked frame with FIN set, using the
// shortest length form.
func EncodeFrame(opcode Opcode, payload []byte) []byte {
	n := len(payload)
	var frame []byte
	switch {
	case n < 126:
		frame = make([]byte, 0, 2+n)
		frame = append(frame, 0x80|byte(opcode), byte(n))
	case n <= 0xFFFF:
		frame = make([]byte, 0, 4+n)
		frame = append(frame, 0x80|byte(opcode), 126, byte(n>>8), byte(n))
	default:
		frame = make([]byte, 0, 10+n)
		frame = append(frame, 0x80|byte(opcode), 127)
		var ext [8]byte
		binary.BigEndian.PutUint64(ext[:], uint64(n))
		frame = append(frame, ext[:]...)
	}
	return append(frame, payload...)
}

// CloseFrame builds a close frame carrying a status code and reason.
func CloseFrame(code uint16, reason string) []byte {
	payload := make([]byte, 2+len(reason))
	binary.BigEndian.PutUint16(payload, code)
	copy(payload[2:], reason)
	return EncodeFrame(OpClose, payload)
}

// PongFrame builds a pong echoing a ping payload.
func PongFrame(payload []byte) []byte {
	return EncodeFrame(OpPong, payload)
}
