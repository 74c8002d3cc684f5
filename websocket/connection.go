// Connection state machine, RFC 6455 section 4.5/5. Rather than exposing
// a blocking NextReader/ReadMessage pull API, this Conn is driven by a
// single per-connection goroutine that pushes completed messages and
// lifecycle events to user-registered callbacks.
package websocket

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
)

// connState is the four-state connection lifecycle: handshaking,
// open, closing, closed.
type connState int

const (
	stateHandshaking connState = iota
	stateOpen
	stateClosing
	stateClosed
)

const (
	defaultReadBufferSize = 4096
	// maxReadBuffer bounds the codec's input buffer against an adversarial
	// peer that never completes a frame.
	maxReadBuffer = 16 * 1024 * 1024

	closeGracePeriod = 100 * time.Millisecond
)

// Options configures a Conn. The zero value is a usable default: no
// compression, a maxReadBuffer (16 MiB) read limit, and no automatic
// pong replies to pings.
type Options struct {
	// Deflate enables permessage-deflate if negotiated during the
	// handshake.
	Deflate bool
	// CompressionLevel is the DEFLATE level used by the deflator; zero
	// selects defaultCompressionLevel.
	CompressionLevel int
	// ReadLimit caps one message's assembled payload size; zero means
	// maxReadBuffer.
	ReadLimit int64
	// PingPong enables automatic pong replies to inbound pings.
	PingPong bool
	// WriteBufferPool, if set, supplies the scratch buffer each outbound
	// frame is serialized into, avoiding one allocation per write.
	WriteBufferPool BufferPool
}

func (o Options) readLimit() int64 {
	if o.ReadLimit > 0 {
		return o.ReadLimit
	}
	return maxReadBuffer
}

var connIDSeq struct {
	mu   sync.Mutex
	next int64
}

func nextConnID() int64 {
	connIDSeq.mu.Lock()
	defer connIDSeq.mu.Unlock()
	connIDSeq.next++
	return connIDSeq.next
}

// invokeSafely runs a user callback and recovers a panic rather than
// letting it unwind into the read loop: a misbehaving callback must
// never kill the connection.
func invokeSafely(fn func()) {
	defer func() { _ = recover() }()
	fn()
}

// Conn is one WebSocket connection, server- or client-side. It owns the
// Transport, the frame codec, the Message Assembler and the
// deflator/inflator pair, and drives all four from a single goroutine
// driven by readiness events on the underlying transport: a blocking
// Read on its own goroutine is that suspension point.
type Conn struct {
	transport   Transport
	isServer    bool
	subprotocol string
	request     Request

	id   int64
	uuid uuid.UUID

	opts Options

	deflateNegotiated bool
	assembler         *assembler
	deflator          *deflator

	writeMu sync.Mutex

	stateMu sync.Mutex
	state   connState

	// preRead holds bytes already consumed off the transport by the
	// handshake parser before the connection existed; run() drains these
	// before issuing its own Read calls.
	preRead []byte

	onMessage func(messageType int, data []byte)
	onClose   func(code int, text string)
	onError   func(err error)

	closeOnce sync.Once
}

// newConn builds a Conn. clientNoContextTakeover reflects whether
// client_no_context_takeover was negotiated during the handshake; it
// only matters when deflateNegotiated is true. The server's own
// direction always resets its deflator every message
// (server_no_context_takeover is unconditionally advertised), while the
// client's direction preserves context unless negotiated otherwise.
// Each side's inflator mirrors the other side's deflator policy for the
// direction it is decoding.
func newConn(t Transport, isServer bool, request Request, subprotocol string, deflateNegotiated, clientNoContextTakeover bool, opts Options) *Conn {
	c := &Conn{
		transport:         t,
		isServer:          isServer,
		request:           request,
		subprotocol:       subprotocol,
		id:                nextConnID(),
		uuid:              uuid.New(),
		opts:              opts,
		deflateNegotiated: deflateNegotiated,
		state:             stateOpen,
		onMessage:         func(int, []byte) {},
		onClose:           func(int, string) {},
		onError:           func(error) {},
	}
	level := opts.CompressionLevel
	if level == 0 {
		level = defaultCompressionLevel
	}

	outboundNoContextTakeover := true // this side's own direction
	inboundNoContextTakeover := clientNoContextTakeover
	if !isServer {
		outboundNoContextTakeover = clientNoContextTakeover
		inboundNoContextTakeover = true // peer is the server
	}

	c.assembler = newAssembler(newInflator(inboundNoContextTakeover), opts.readLimit())
	c.deflator = newDeflator(level, outboundNoContextTakeover)
	return c
}

// ID returns a process-local monotonically increasing identifier (spec
// section 6, "id -> integer"). UUID returns a globally unique identifier
// alongside it for callers that want a globally unique identifier.
func (c *Conn) ID() int64       { return c.id }
func (c *Conn) UUID() uuid.UUID { return c.uuid }

// OnMessage registers the callback invoked for each completed text/binary
// message. Must be called before the connection starts running.
func (c *Conn) OnMessage(fn func(messageType int, data []byte)) { c.onMessage = fn }

// OnClose registers the callback invoked exactly once when the connection
// transitions to Closed.
func (c *Conn) OnClose(fn func(code int, text string)) { c.onClose = fn }

// OnError registers the callback invoked when the connection fails
// (protocol violation or transport error), immediately before Close.
func (c *Conn) OnError(fn func(err error)) { c.onError = fn }

// IsHandshake reports whether the opening handshake has completed.
func (c *Conn) IsHandshake() bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state != stateHandshaking
}

// Request returns the abstract request value surfaced during the
// handshake.
func (c *Conn) Request() Request { return c.request }

// Subprotocol returns the negotiated subprotocol, or "" if none.
func (c *Conn) Subprotocol() string { return c.subprotocol }

// LocalAddr/RemoteAddr expose the transport's addresses.
func (c *Conn) LocalAddr() net.Addr  { return c.transport.LocalAddr() }
func (c *Conn) RemoteAddr() net.Addr { return c.transport.RemoteAddr() }

func (c *Conn) setState(s connState) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
}

func (c *Conn) getState() connState {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

// Send transmits one text or binary message. It fails (returns false)
// outside the Open state rather than queuing indefinitely.
func (c *Conn) Send(messageType int, data []byte) bool {
	if c.getState() != stateOpen {
		return false
	}
	if err := c.writeMessage(messageType, data); err != nil {
		c.fail(err)
		return false
	}
	return true
}

func (c *Conn) writeMessage(messageType int, data []byte) error {
	payload := data
	rsv1 := false
	if c.opts.Deflate && c.deflateNegotiated {
		compressed, err := c.deflator.deflate(data)
		if err != nil {
			return err
		}
		payload = compressed
		rsv1 = true
	}

	masked := !c.isServer

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	buf := c.getWriteBuf()
	frameBytes := encodeFrameInto(buf, true, rsv1, messageType, payload, masked)
	_, err := c.transport.Write(frameBytes)
	c.putWriteBuf(frameBytes)
	return err
}

func (c *Conn) writeControl(opcode int, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	buf := c.getWriteBuf()
	frameBytes := encodeFrameInto(buf, true, false, opcode, payload, !c.isServer)
	_, err := c.transport.Write(frameBytes)
	c.putWriteBuf(frameBytes)
	return err
}

// getWriteBuf and putWriteBuf borrow and return a scratch buffer from
// Options.WriteBufferPool. Both are no-ops when no pool is configured.
func (c *Conn) getWriteBuf() []byte {
	if c.opts.WriteBufferPool == nil {
		return nil
	}
	b, _ := c.opts.WriteBufferPool.Get().([]byte)
	return b
}

func (c *Conn) putWriteBuf(b []byte) {
	if c.opts.WriteBufferPool != nil {
		c.opts.WriteBufferPool.Put(b)
	}
}

// Close transmits a close frame, waits a bounded grace period for the
// peer, then closes the transport. It is idempotent.
func (c *Conn) Close() error {
	return c.CloseWithStatus(CloseNormalClosure, "")
}

// CloseWithStatus is Close with an explicit close code/reason.
func (c *Conn) CloseWithStatus(code int, reason string) error {
	return c.finishClose(code, reason, true)
}

// finishClose is the single close finalizer for every path that can end a
// connection: a user-initiated Close/CloseWithStatus, a close frame
// received from the peer, EOF on the transport, and fail. closeOnce
// guards the whole body, so whichever path gets there first sends the
// close frame (if any) and fires onClose, and every later call, whether
// from the same path or a different one, is a no-op. This is what makes
// Close idempotent and guarantees onClose fires exactly once.
func (c *Conn) finishClose(code int, text string, sendFrame bool) error {
	var err error
	c.closeOnce.Do(func() {
		c.setState(stateClosing)
		if sendFrame {
			// Bound the close-frame write too, so a peer that has stopped
			// reading cannot hold the close sequence open.
			_ = c.transport.SetWriteDeadline(time.Now().Add(closeGracePeriod))
			err = c.writeControl(CloseMessage, FormatCloseMessage(code, text))
			time.Sleep(closeGracePeriod)
		}
		_ = c.transport.Close()
		c.setState(stateClosed)
		invokeSafely(func() { c.onClose(code, text) })
	})
	return err
}

func (c *Conn) fail(err error) {
	invokeSafely(func() { c.onError(err) })
	code := CloseAbnormalClosure
	var protoErr *ProtocolError
	if errors.As(err, &protoErr) {
		code = protoErr.Code
	}
	_ = c.finishClose(code, "", true)
}

// seedBuffer primes the read loop with bytes already pulled off the
// transport during handshake parsing, so they are not lost once run()
// starts issuing its own Reads. Must be called before run().
func (c *Conn) seedBuffer(b []byte) {
	c.preRead = append(c.preRead, b...)
}

// run is the per-connection read loop: it accumulates bytes from the
// transport into buf and repeatedly feeds decodeFrame, dispatching each
// decoded frame, until the transport errors or is closed. It blocks the
// calling goroutine for the connection's lifetime and is meant to be
// started with `go conn.run()`.
func (c *Conn) run() {
	buf := make([]byte, 0, defaultReadBufferSize)
	buf = append(buf, c.preRead...)
	c.preRead = nil
	chunk := make([]byte, defaultReadBufferSize)

	for {
		for {
			fr, consumed, err := decodeFrame(buf, c.isServer, c.deflateNegotiated, c.opts.readLimit())
			if err != nil {
				c.fail(err)
				return
			}
			if consumed == 0 {
				break
			}
			buf = append(buf[:0], buf[consumed:]...)

			if done := c.dispatch(fr); done {
				return
			}
		}

		if len(buf) > int(c.opts.readLimit()) {
			c.fail(newProtocolError(CloseMessageTooBig, ErrReadLimit))
			return
		}

		n, err := c.transport.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			if c.getState() == stateClosed {
				return
			}
			if errors.Is(err, io.EOF) {
				_ = c.finishClose(CloseAbnormalClosure, "", false)
				return
			}
			c.fail(err)
			return
		}
	}
}

// dispatch handles one decoded frame according to the connection's
// current state. It returns true if the connection loop should stop.
func (c *Conn) dispatch(fr wireFrame) bool {
	switch fr.opcode {
	case CloseMessage:
		code, text := parseCloseMessage(fr.payload)
		if code == CloseNoStatusReceived {
			code = CloseNormalClosure
		}
		// Echo the close frame before tearing down the transport,
		// matching RFC 6455 section 7.1.5/1.1.7. If a Close/fail on
		// another goroutine already ran finishClose first, closeOnce
		// makes this a no-op instead of a second echo.
		_ = c.finishClose(code, text, true)
		return true

	case PingMessage:
		if c.opts.PingPong {
			_ = c.writeControl(PongMessage, fr.payload)
		}
		return false

	case PongMessage:
		return false

	default: // continuation, text, binary: opcode 0x2 is an ordinary
		// data frame, never a close trigger.
		msg, ok, err := c.assembler.feed(fr)
		if err != nil {
			c.fail(err)
			return true
		}
		if ok {
			invokeSafely(func() { c.onMessage(msg.kind, msg.payload) })
		}
		return false
	}
}
