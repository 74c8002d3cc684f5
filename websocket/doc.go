// Package websocket implements the WebSocket protocol defined in RFC 6455.
//
// This package provides:
//   - Server-side connection acceptance via Server
//   - Client-side connection dialing via Dialer
//   - Per-message compression (permessage-deflate, RFC 7692)
//   - JSON encoding/decoding helpers
//   - Prepared messages for efficient broadcasting
//
// Unlike a NextReader/ReadMessage pull API, a Conn here is driven from a
// single goroutine per connection that pushes completed messages and
// lifecycle events to callbacks registered with OnMessage, OnClose and
// OnError.
//
// Server example:
//
//	srv := websocket.NewServer(websocket.ServerOptions{Deflate: true})
//	srv.OnConnect(func(c *websocket.Conn) {
//	    c.OnMessage(func(messageType int, data []byte) {
//	        c.Send(messageType, data)
//	    })
//	})
//	log.Fatal(srv.Listen(":8080"))
//
// Client example:
//
//	conn, err := websocket.DefaultDialer.Dial("ws://localhost:8080/ws")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	conn.OnMessage(func(messageType int, data []byte) {
//	    fmt.Println(string(data))
//	})
//	conn.Send(websocket.TextMessage, []byte("hello"))
//
// Concurrency:
//
// Send, Close and WritePreparedMessage may be called concurrently from
// any goroutine; each acquires the connection's own write lock. Exactly
// one goroutine per connection runs its read loop and invokes OnMessage.
// OnClose runs on whichever goroutine ends the connection: the read loop,
// or a goroutine calling Close, or a Send whose write failed (which also
// runs OnError there). Callbacks themselves must not block the connection
// they were invoked for.
//
// Compression:
//
// Per-message compression is negotiated during the opening handshake
// when Deflate is set on ServerOptions or EnableCompression is set on
// Dialer. The server always advertises server_no_context_takeover; the
// client's own direction preserves the LZ77 dictionary across messages
// unless it requests otherwise.
package websocket
