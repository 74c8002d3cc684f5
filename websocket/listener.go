package websocket

import (
	"context"
	"crypto/tls"
	"net"
)

// ListenerOptions configures the TCP/TLS listener.
type ListenerOptions struct {
	// TLSConfig, if non-nil, upgrades accepted connections to TLS before
	// the WebSocket handshake runs.
	TLSConfig *tls.Config
}

// listen binds addr with SO_KEEPALIVE, SO_REUSEADDR and SO_REUSEPORT
// (where the platform supports it), applied through
// net.ListenConfig.Control rather than a hand-rolled non-blocking socket
// built from a raw fd, which would reach below the abstraction this
// module draws at the Transport boundary; this keeps net.ListenConfig as
// the I/O driver and only reaches into golang.org/x/sys/unix for the
// Control callback itself.
func listen(network, addr string, opts ListenerOptions) (net.Listener, error) {
	lc := net.ListenConfig{Control: controlSetSocketOptions}
	ln, err := lc.Listen(context.Background(), network, addr)
	if err != nil {
		return nil, err
	}
	if opts.TLSConfig != nil {
		ln = tls.NewListener(ln, opts.TLSConfig)
	}
	return ln, nil
}

// setClientSocketOptions sets SO_KEEPALIVE and TCP_NODELAY on an accepted
// client socket. Errors are ignored: these are
// best-effort tuning, not correctness requirements.
func setClientSocketOptions(conn net.Conn) {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	_ = tcpConn.SetKeepAlive(true)
	_ = tcpConn.SetNoDelay(true)
}
