package websocket

// assembledMessage is one logical text/binary message delivered to the
// user, after fragmentation and (optionally) decompression.
type assembledMessage struct {
	kind    int
	payload []byte
}

// assembler joins a data frame's continuation sequence into one message
// (RFC 6455, section 5.4) and, when the first frame carried RSV1, runs the
// result through the inflator (RFC 7692, section 7.2.2). Control frames
// never reach it: they interleave freely with a fragmented data message
// and are handled by the connection directly.
type assembler struct {
	kind       int // 0 while no message is in progress
	compressed bool
	buf        []byte
	inflator   *inflator
	readLimit  int64 // <= 0 means unbounded
}

func newAssembler(in *inflator, readLimit int64) *assembler {
	return &assembler{inflator: in, readLimit: readLimit}
}

// feed processes one data frame (never a control frame). It returns a
// complete message when fr.fin closes out the sequence, or ok == false if
// the message is still being accumulated. The accumulated payload is
// checked against readLimit on every frame, not just at completion, so a
// message split into many small continuation frames cannot grow past the
// limit before fin arrives.
func (a *assembler) feed(fr wireFrame) (msg assembledMessage, ok bool, err error) {
	switch {
	case a.kind == 0 && fr.opcode == continuationFrame:
		return assembledMessage{}, false, newProtocolError(CloseProtocolError, ErrUnexpectedContinuation)
	case a.kind == 0:
		a.kind = fr.opcode
		a.compressed = fr.rsv1
		a.buf = append(a.buf[:0], fr.payload...)
	case fr.opcode != continuationFrame:
		return assembledMessage{}, false, newProtocolError(CloseProtocolError, ErrExpectedContinuation)
	default:
		a.buf = append(a.buf, fr.payload...)
	}

	if a.readLimit > 0 && int64(len(a.buf)) > a.readLimit {
		a.reset()
		return assembledMessage{}, false, newProtocolError(CloseMessageTooBig, ErrReadLimit)
	}

	if !fr.fin {
		return assembledMessage{}, false, nil
	}

	payload := a.buf
	if a.compressed {
		out, err := a.inflator.inflate(payload)
		if err != nil {
			a.reset()
			return assembledMessage{}, false, err
		}
		payload = out
	} else {
		// Hand the caller its own copy: a.buf is reused by the next message.
		cp := make([]byte, len(payload))
		copy(cp, payload)
		payload = cp
	}

	msg = assembledMessage{kind: a.kind, payload: payload}
	a.reset()
	return msg, true, nil
}

func (a *assembler) reset() {
	a.kind = 0
	a.compressed = false
	a.buf = a.buf[:0]
}
