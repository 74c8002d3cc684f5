package websocket

import (
	"fmt"
	"net"
	"os"
	"sync"
)

// ServerOptions configures a Server's handshake negotiation and
// per-connection behavior.
type ServerOptions struct {
	Subprotocols []string
	Deflate      bool
	ConnOptions  Options
	Listener     ListenerOptions
}

// Server accepts WebSocket connections on a listening socket, running the
// handshake-then-conn-construction sequence for each accepted socket
// through the hand-rolled handshake engine and the abstract Transport
// instead of net/http.
type Server struct {
	opts ServerOptions

	onRequest func(req Request) bool
	onConnect func(c *Conn)
	onMessage func(c *Conn, messageType int, data []byte)
	onClose   func(c *Conn, code int, text string)

	mu    sync.Mutex
	conns map[int64]*Conn
}

// NewServer constructs a Server. Register callbacks before calling Listen.
func NewServer(opts ServerOptions) *Server {
	return &Server{
		opts:      opts,
		onRequest: func(Request) bool { return true },
		onConnect: func(*Conn) {},
		onMessage: func(*Conn, int, []byte) {},
		onClose:   func(*Conn, int, string) {},
		conns:     make(map[int64]*Conn),
	}
}

// OnRequest registers the callback consulted before the 101 response is
// sent. Returning false rejects the connection.
func (s *Server) OnRequest(fn func(req Request) bool) { s.onRequest = fn }

// OnConnect registers the callback fired once the handshake completes.
func (s *Server) OnConnect(fn func(c *Conn)) { s.onConnect = fn }

// OnMessage registers the callback fired for each completed message on
// any connection accepted by this server.
func (s *Server) OnMessage(fn func(c *Conn, messageType int, data []byte)) { s.onMessage = fn }

// OnClose registers the callback fired once per connection when it closes.
func (s *Server) OnClose(fn func(c *Conn, code int, text string)) { s.onClose = fn }

// Listen binds addr and accepts connections until Accept fails. The
// listener stays internal to Listen; it is not returned to the caller.
// Every accept error is written to stderr: a timeout error is retried,
// and any other error closes the listener and is returned.
func (s *Server) Listen(addr string) error {
	ln, err := listen("tcp", addr, s.opts.Listener)
	if err != nil {
		return err
	}
	defer ln.Close()

	for {
		conn, err := ln.Accept()
		if err != nil {
			fmt.Fprintf(os.Stderr, "websocket: accept: %v\n", err)
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return err
		}
		setClientSocketOptions(conn)
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(netConn net.Conn) {
	t := newNetTransport(netConn)
	buf := make([]byte, 0, defaultReadBufferSize)
	chunk := make([]byte, defaultReadBufferSize)

	var res serverHandshakeResult
	for {
		r, ok, err := acceptHandshake(buf, s.opts.Subprotocols, s.opts.Deflate)
		if err != nil {
			_ = t.Close()
			return
		}
		if ok {
			res = r
			buf = buf[res.consumed:]
			break
		}
		n, err := t.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			_ = t.Close()
			return
		}
	}

	if !s.onRequest(res.request) {
		_ = t.Close()
		return
	}

	challengeKey := res.request.Get("Sec-WebSocket-Key")
	resp := buildAcceptResponse(challengeKey, res.subprotocol, res.compress, res.compressionParams)
	if _, err := t.Write(resp); err != nil {
		_ = t.Close()
		return
	}

	c := newConn(t, true, res.request, res.subprotocol, res.compress, res.clientNoContextTakeover, s.opts.ConnOptions)
	c.opts.Deflate = s.opts.Deflate && res.compress

	s.mu.Lock()
	s.conns[c.id] = c
	s.mu.Unlock()

	c.OnMessage(func(messageType int, data []byte) { s.onMessage(c, messageType, data) })
	c.OnClose(func(code int, text string) {
		s.mu.Lock()
		delete(s.conns, c.id)
		s.mu.Unlock()
		s.onClose(c, code, text)
	})

	s.onConnect(c)

	// Anything read past the header terminator already belongs to the
	// first frame; hand it to the connection before starting its loop.
	c.seedBuffer(buf)
	c.run()
}

// Broadcast sends data to every currently open connection and returns how
// many sends succeeded.
func (s *Server) Broadcast(messageType int, data []byte) int {
	s.mu.Lock()
	conns := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	count := 0
	for _, c := range conns {
		if c.Send(messageType, data) {
			count++
		}
	}
	return count
}
