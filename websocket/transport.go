package websocket

import (
	"net"
	"time"
)

// Transport is the abstract byte-stream collaborator a Conn drives. Any
// net.Conn (plain TCP or tls.Conn) satisfies it directly; tests can
// supply a fake, and the handshake layer never needs to see past this
// interface down to a raw net.Conn.
type Transport interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
}

// netTransport adapts a net.Conn to Transport. Every field of the
// interface above already matches a net.Conn method one-for-one, so the
// adapter exists only to name the conversion and let server.go/client.go
// construct Transport values without exposing net.Conn above this layer.
type netTransport struct {
	net.Conn
}

func newNetTransport(c net.Conn) Transport {
	return netTransport{Conn: c}
}
