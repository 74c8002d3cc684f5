package websocket

import (
	"crypto/rand"
	"encoding/binary"
	"io"
)

// randReader is the source of frame masking keys and handshake challenge
// keys.
var randReader io.Reader = rand.Reader

// BufferPool represents a pool of reusable byte buffers.
type BufferPool interface {
	Get() any
	Put(any)
}

// FormatCloseMessage formats closeCode and text as a close frame body per
// RFC 6455, section 5.5.1: a 2-byte big-endian status code followed by an
// optional UTF-8 reason.
func FormatCloseMessage(closeCode int, text string) []byte {
	if closeCode == CloseNoStatusReceived {
		return []byte{}
	}
	buf := make([]byte, 2+len(text))
	binary.BigEndian.PutUint16(buf, uint16(closeCode))
	copy(buf[2:], text)
	return buf
}

// parseCloseMessage extracts the close code and reason from a close frame
// payload. An empty payload maps to CloseNoStatusReceived per RFC 6455,
// section 7.1.5.
func parseCloseMessage(payload []byte) (code int, text string) {
	if len(payload) < 2 {
		return CloseNoStatusReceived, ""
	}
	code = int(binary.BigEndian.Uint16(payload))
	return code, string(payload[2:])
}
