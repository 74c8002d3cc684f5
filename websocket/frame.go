// Frame codec for RFC 6455 WebSocket frames.
//
// decodeFrame parses one frame out of a growing byte buffer: it never
// blocks and never mutates buf's contents, so a Conn can feed it whatever
// happens to have arrived on the wire and keep calling it as more bytes
// show up. encodeFrame is the inverse: given frame fields it produces the
// exact bytes to put on the wire, choosing the shortest length encoding.
package websocket

import (
	"encoding/binary"
	"io"
)

// Frame header layout, RFC 6455 section 5.2.
const (
	maxFrameHeaderSize         = 14 // 2 base + 8 extended length + 4 mask
	maxControlFramePayloadSize = 125

	finalBit = 1 << 7
	rsv1Bit  = 1 << 6
	rsv2Bit  = 1 << 5
	rsv3Bit  = 1 << 4

	maskBit = 1 << 7

	opcodeMask     = 0x0f
	payloadLenMask = 0x7f
	payloadLen16   = 126
	payloadLen64   = 127

	continuationFrame = 0
)

// wireFrame is a fully decoded frame. masked/maskKey are not retained: by
// the time decodeFrame returns, the payload has already been unmasked, and
// the connection's role determines outbound masking deterministically, so
// callers never need to see the wire mask key again.
type wireFrame struct {
	fin     bool
	rsv1    bool
	opcode  int
	payload []byte
}

func isControlOpcode(opcode int) bool {
	return opcode >= CloseMessage
}

func isKnownOpcode(opcode int) bool {
	switch opcode {
	case continuationFrame, TextMessage, BinaryMessage, CloseMessage, PingMessage, PongMessage:
		return true
	default:
		return false
	}
}

// decodeFrame attempts to parse one frame from the front of buf.
//
//   - If buf does not yet contain a complete frame, it returns a zero
//     wireFrame, consumed == 0 and err == nil ("need more bytes").
//   - If the frame header at the front of buf is invalid, it returns err,
//     which is always a *ProtocolError carrying the close code to fail the
//     connection with. The header checks run as soon as the header bytes
//     are present, before the payload has fully arrived.
//   - Otherwise it returns the decoded frame and the number of bytes of
//     buf it consumed.
//
// isServerSide selects the masking policy: server connections require
// masked input, client connections require unmasked input (RFC 6455,
// section 5.1). deflateNegotiated gates whether RSV1 may be set.
// maxPayload, if positive, rejects frames whose payload exceeds it before
// any allocation is made (RFC 6455 gives no upper bound; a peer could
// otherwise claim a payload length large enough to exhaust memory).
func decodeFrame(buf []byte, isServerSide, deflateNegotiated bool, maxPayload int64) (fr wireFrame, consumed int, err error) {
	if len(buf) < 2 {
		return wireFrame{}, 0, nil
	}

	b0, b1 := buf[0], buf[1]
	fin := b0&finalBit != 0
	rsv1 := b0&rsv1Bit != 0
	rsv2 := b0&rsv2Bit != 0
	rsv3 := b0&rsv3Bit != 0
	opcode := int(b0 & opcodeMask)
	masked := b1&maskBit != 0
	length := int64(b1 & payloadLenMask)

	offset := 2
	switch length {
	case payloadLen16:
		if len(buf) < offset+2 {
			return wireFrame{}, 0, nil
		}
		length = int64(binary.BigEndian.Uint16(buf[offset:]))
		offset += 2
	case payloadLen64:
		if len(buf) < offset+8 {
			return wireFrame{}, 0, nil
		}
		length = int64(binary.BigEndian.Uint64(buf[offset:]))
		offset += 8
		if length < 0 {
			return wireFrame{}, 0, newProtocolError(CloseProtocolError, ErrInvalidControlFrame)
		}
	}

	if rsv2 || rsv3 {
		return wireFrame{}, 0, newProtocolError(CloseProtocolError, ErrReservedBits)
	}
	if rsv1 && (!deflateNegotiated || opcode == continuationFrame || isControlOpcode(opcode)) {
		return wireFrame{}, 0, newProtocolError(CloseProtocolError, ErrReservedBits)
	}
	if !isKnownOpcode(opcode) {
		return wireFrame{}, 0, newProtocolError(CloseProtocolError, ErrInvalidOpcode)
	}
	if isControlOpcode(opcode) {
		if !fin {
			return wireFrame{}, 0, newProtocolError(CloseProtocolError, ErrFragmentedControlFrame)
		}
		if length > maxControlFramePayloadSize {
			return wireFrame{}, 0, newProtocolError(CloseProtocolError, ErrControlFramePayloadTooBig)
		}
	}
	if isServerSide && !masked {
		return wireFrame{}, 0, newProtocolError(CloseProtocolError, ErrUnmaskedClientFrame)
	}
	if !isServerSide && masked {
		return wireFrame{}, 0, newProtocolError(CloseProtocolError, ErrMaskedServerFrame)
	}
	if maxPayload > 0 && length > maxPayload {
		return wireFrame{}, 0, newProtocolError(CloseMessageTooBig, ErrReadLimit)
	}

	var maskKey [4]byte
	if masked {
		if len(buf) < offset+4 {
			return wireFrame{}, 0, nil
		}
		copy(maskKey[:], buf[offset:offset+4])
		offset += 4
	}

	total := offset + int(length)
	if len(buf) < total {
		return wireFrame{}, 0, nil
	}

	payload := make([]byte, length)
	copy(payload, buf[offset:total])
	if masked {
		maskBytes(maskKey, payload)
	}

	return wireFrame{fin: fin, rsv1: rsv1, opcode: opcode, payload: payload}, total, nil
}

// maskBytes XORs data in place with the cyclically repeated 4-byte key
// (RFC 6455, section 5.3).
func maskBytes(key [4]byte, data []byte) {
	for i := range data {
		data[i] ^= key[i%4]
	}
}

// frameHeaderLen returns the number of header bytes (including any mask
// key) encodeFrameInto will write for a payload of length payloadLen.
func frameHeaderLen(payloadLen int, masked bool) int {
	n := 2
	switch {
	case payloadLen > 65535:
		n += 8
	case payloadLen > 125:
		n += 2
	}
	if masked {
		n += 4
	}
	return n
}

// writeFrameHeader writes a frame header (and mask key, if masked) into
// dst, which must have at least frameHeaderLen(payloadLen, masked) bytes
// (never more than maxFrameHeaderSize), and returns the number of bytes
// written. It picks the shortest of the three
// RFC 6455 length encodings.
func writeFrameHeader(dst []byte, fin, rsv1 bool, opcode int, payloadLen int, maskKey [4]byte, masked bool) int {
	b0 := byte(opcode)
	if fin {
		b0 |= finalBit
	}
	if rsv1 {
		b0 |= rsv1Bit
	}
	dst[0] = b0

	offset := 2
	switch {
	case payloadLen <= 125:
		dst[1] = byte(payloadLen)
	case payloadLen <= 65535:
		dst[1] = payloadLen16
		binary.BigEndian.PutUint16(dst[2:], uint16(payloadLen))
		offset = 4
	default:
		dst[1] = payloadLen64
		binary.BigEndian.PutUint64(dst[2:], uint64(payloadLen))
		offset = 10
	}

	if masked {
		dst[1] |= maskBit
		copy(dst[offset:], maskKey[:])
		offset += 4
	}
	return offset
}

// encodeFrame serializes a complete frame ready to write to the wire. If
// masked is true, a fresh random mask key is generated and the payload is
// masked in a copy (the caller's slice is left untouched).
func encodeFrame(fin, rsv1 bool, opcode int, payload []byte, masked bool) []byte {
	return encodeFrameInto(nil, fin, rsv1, opcode, payload, masked)
}

// encodeFrameInto is encodeFrame but reuses dst's backing array when it
// has enough capacity, letting a caller supply a buffer drawn from a
// BufferPool instead of allocating one per frame.
func encodeFrameInto(dst []byte, fin, rsv1 bool, opcode int, payload []byte, masked bool) []byte {
	var maskKey [4]byte
	if masked {
		_, _ = io.ReadFull(randReader, maskKey[:])
	}

	headerLen := frameHeaderLen(len(payload), masked)
	total := headerLen + len(payload)
	if cap(dst) < total {
		dst = make([]byte, total)
	} else {
		dst = dst[:total]
	}
	writeFrameHeader(dst, fin, rsv1, opcode, len(payload), maskKey, masked)
	copy(dst[headerLen:], payload)
	if masked {
		maskBytes(maskKey, dst[headerLen:])
	}
	return dst
}
