package websocket

import "sync"

// PreparedMessage caches a message's on-the-wire uncompressed frame so it
// can be written to many connections without re-encoding. Only the
// uncompressed form is cached: permessage-deflate output depends on each
// connection's own dictionary state, so a compressed frame cannot be
// shared across connections the way a masked/unmasked frame can.
//
// The cache holds one frame per maskedness, and the masked variant
// reuses the same random mask key on every write. That's harmless for
// the unmasked (server-broadcast) direction this type is built for,
// since servers never mask their frames. Writing a masked PreparedMessage
// from a client repeatedly replays one fixed mask key instead of masking
// each write independently; prefer Conn.Send for client-side traffic that
// needs a fresh mask per message.
type PreparedMessage struct {
	messageType int
	data        []byte

	mu     sync.Mutex
	frames map[bool][]byte // keyed by masked
}

// NewPreparedMessage returns an initialized PreparedMessage for a text or
// binary payload.
func NewPreparedMessage(messageType int, data []byte) (*PreparedMessage, error) {
	if messageType != TextMessage && messageType != BinaryMessage {
		return nil, ErrInvalidMessageType
	}
	return &PreparedMessage{
		messageType: messageType,
		data:        data,
		frames:      make(map[bool][]byte),
	}, nil
}

func (pm *PreparedMessage) frame(masked bool) []byte {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if fr, ok := pm.frames[masked]; ok {
		return fr
	}
	fr := encodeFrame(true, false, pm.messageType, pm.data, masked)
	pm.frames[masked] = fr
	return fr
}

// WritePreparedMessage writes pm to c. If permessage-deflate is
// negotiated the payload is compressed fresh against c's own deflator
// dictionary rather than the cached frame, preserving per-connection
// context takeover; otherwise the cached uncompressed frame is reused.
func (c *Conn) WritePreparedMessage(pm *PreparedMessage) error {
	if c.opts.Deflate && c.deflateNegotiated {
		return c.writeMessage(pm.messageType, pm.data)
	}

	frameBytes := pm.frame(!c.isServer)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.transport.Write(frameBytes)
	return err
}
