package websocket

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/url"
	"time"
)

// defaultHandshakeTimeout bounds how long DialContext waits for the
// opening handshake to complete if Dialer.HandshakeTimeout is zero.
const defaultHandshakeTimeout = 10 * time.Second

// Dialer holds the options for connecting to a WebSocket server, trimmed
// to the fields this engine's hand-rolled handshake actually uses: no
// net/http proxying or cookie jar, since those pull in net/http
// precisely where this module draws its Transport boundary.
type Dialer struct {
	// NetDialContext dials the underlying TCP connection; nil selects
	// net.Dialer's default.
	NetDialContext func(ctx context.Context, network, addr string) (net.Conn, error)

	// TLSClientConfig configures a wss:// connection; nil selects an
	// empty *tls.Config.
	TLSClientConfig *tls.Config

	// HandshakeTimeout bounds the opening handshake; zero selects
	// defaultHandshakeTimeout.
	HandshakeTimeout time.Duration

	// Subprotocols lists the client's requested subprotocols, in
	// preference order.
	Subprotocols []string

	// EnableCompression requests permessage-deflate (RFC 7692).
	EnableCompression bool

	// ExtraHeader is merged into the upgrade request.
	ExtraHeader map[string][]string

	// ConnOptions configures the resulting Conn.
	ConnOptions Options
}

// DefaultDialer is a Dialer with every field at its zero value.
var DefaultDialer = &Dialer{}

var errBadScheme = errors.New("websocket: url must use ws or wss scheme")

// Dial opens a client connection to urlStr and runs its read loop on a
// new goroutine. It blocks until the opening handshake completes or
// fails.
func (d *Dialer) Dial(urlStr string) (*Conn, error) {
	return d.DialContext(context.Background(), urlStr)
}

// DialContext is Dial with a caller-supplied context governing only the
// TCP dial and TLS handshake steps; the WebSocket opening handshake uses
// its own HandshakeTimeout.
func (d *Dialer) DialContext(ctx context.Context, urlStr string) (*Conn, error) {
	u, err := url.Parse(urlStr)
	if err != nil {
		return nil, err
	}

	var useTLS bool
	switch u.Scheme {
	case "ws":
		useTLS = false
	case "wss":
		useTLS = true
	default:
		return nil, errBadScheme
	}

	hostPort := u.Host
	if u.Port() == "" {
		port := "80"
		if useTLS {
			port = "443"
		}
		hostPort = net.JoinHostPort(u.Hostname(), port)
	}

	netConn, err := d.dialNet(ctx, useTLS, hostPort, u.Hostname())
	if err != nil {
		return nil, err
	}

	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = defaultHandshakeTimeout
	}
	deadline := time.Now().Add(timeout)
	if err := netConn.SetDeadline(deadline); err != nil {
		netConn.Close()
		return nil, err
	}

	target := u.RequestURI()
	req, challengeKey, err := buildUpgradeRequest(u.Host, target, d.Subprotocols, d.EnableCompression, d.ExtraHeader)
	if err != nil {
		netConn.Close()
		return nil, err
	}
	if _, err := netConn.Write(req); err != nil {
		netConn.Close()
		return nil, err
	}

	res, leftover, err := readUpgradeResponse(netConn, challengeKey, d.Subprotocols)
	if err != nil {
		netConn.Close()
		return nil, err
	}

	if err := netConn.SetDeadline(time.Time{}); err != nil {
		netConn.Close()
		return nil, err
	}

	t := newNetTransport(netConn)
	request := Request{Method: "GET", Target: target, Proto: "HTTP/1.1"}
	c := newConn(t, false, request, res.subprotocol, res.compress, false, d.ConnOptions)
	c.opts.Deflate = d.EnableCompression && res.compress
	c.seedBuffer(leftover)

	go c.run()
	return c, nil
}

func (d *Dialer) dialNet(ctx context.Context, useTLS bool, hostPort, serverName string) (net.Conn, error) {
	dial := d.NetDialContext
	if dial == nil {
		var nd net.Dialer
		dial = nd.DialContext
	}

	netConn, err := dial(ctx, "tcp", hostPort)
	if err != nil {
		return nil, err
	}
	setClientSocketOptions(netConn)

	if !useTLS {
		return netConn, nil
	}

	tlsConfig := d.TLSClientConfig
	if tlsConfig == nil {
		tlsConfig = &tls.Config{}
	} else {
		tlsConfig = tlsConfig.Clone()
	}
	if tlsConfig.ServerName == "" {
		tlsConfig.ServerName = serverName
	}

	tlsConn := tls.Client(netConn, tlsConfig)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		netConn.Close()
		return nil, err
	}
	return tlsConn, nil
}

// readUpgradeResponse blocks on netConn until parseUpgradeResponse has a
// complete response head to validate, and returns any bytes read past the
// header terminator alongside the parsed result.
func readUpgradeResponse(netConn net.Conn, challengeKey string, subprotocols []string) (res clientHandshakeResult, leftover []byte, err error) {
	buf := make([]byte, 0, defaultReadBufferSize)
	chunk := make([]byte, defaultReadBufferSize)
	for {
		res, ok, err := parseUpgradeResponse(buf, challengeKey, subprotocols)
		if err != nil {
			return clientHandshakeResult{}, nil, err
		}
		if ok {
			return res, buf[res.consumed:], nil
		}
		n, err := netConn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			return clientHandshakeResult{}, nil, err
		}
	}
}
