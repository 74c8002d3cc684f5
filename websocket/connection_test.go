package websocket

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// dialPair returns a connected server-side and peer-side Conn over
// net.Pipe(), with the server-side Conn's read loop already running.
func dialPair(t *testing.T, opts Options) (srv *Conn, peer net.Conn) {
	t.Helper()
	a, b := net.Pipe()
	srv = newConn(newNetTransport(a), true, Request{}, "", opts.Deflate, false, opts)
	go srv.run()
	t.Cleanup(func() { _ = b.Close() })
	return srv, b
}

func writeClientFrame(t *testing.T, conn net.Conn, fin bool, opcode int, payload []byte) {
	t.Helper()
	frame := encodeFrame(fin, false, opcode, payload, true)
	_, err := conn.Write(frame)
	require.NoError(t, err)
}

func TestConnEchoMessage(t *testing.T) {
	srv, peer := dialPair(t, Options{})

	received := make(chan string, 1)
	srv.OnMessage(func(messageType int, data []byte) {
		received <- string(data)
	})

	writeClientFrame(t, peer, true, TextMessage, []byte("hello there"))

	select {
	case msg := <-received:
		assert.Equal(t, "hello there", msg)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestConnAutoPong(t *testing.T) {
	srv, peer := dialPair(t, Options{PingPong: true})
	_ = srv

	writeClientFrame(t, peer, true, PingMessage, []byte("ping-data"))

	buf := make([]byte, 256)
	_ = peer.SetReadDeadline(time.Now().Add(time.Second))
	n, err := peer.Read(buf)
	require.NoError(t, err)

	fr, consumed, err := decodeFrame(buf[:n], false, false, 0)
	require.NoError(t, err)
	assert.Equal(t, n, consumed)
	assert.Equal(t, PongMessage, fr.opcode)
	assert.Equal(t, []byte("ping-data"), fr.payload)
}

func TestConnFragmentedMessageReassembly(t *testing.T) {
	srv, peer := dialPair(t, Options{})

	received := make(chan string, 1)
	srv.OnMessage(func(messageType int, data []byte) {
		received <- string(data)
	})

	writeClientFrame(t, peer, false, TextMessage, []byte("frag-"))
	writeClientFrame(t, peer, false, continuationFrame, []byte("ment-"))
	writeClientFrame(t, peer, true, continuationFrame, []byte("ed"))

	select {
	case msg := <-received:
		assert.Equal(t, "frag-ment-ed", msg)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestConnCloseInvokesOnCloseExactlyOnce(t *testing.T) {
	srv, peer := dialPair(t, Options{})

	var mu sync.Mutex
	calls := 0
	done := make(chan struct{})
	srv.OnClose(func(code int, text string) {
		mu.Lock()
		calls++
		mu.Unlock()
		close(done)
	})

	writeClientFrame(t, peer, true, CloseMessage, FormatCloseMessage(CloseNormalClosure, "bye"))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for close")
	}

	time.Sleep(10 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

// TestConnCloseAfterPeerCloseIsNoOp exercises a peer-initiated close
// followed by a user Close call on the same connection: onClose must
// still fire exactly once, and the second call must not re-send a
// close frame or block on the already-closed transport.
func TestConnCloseAfterPeerCloseIsNoOp(t *testing.T) {
	srv, peer := dialPair(t, Options{})

	var mu sync.Mutex
	calls := 0
	done := make(chan struct{})
	srv.OnClose(func(code int, text string) {
		mu.Lock()
		calls++
		mu.Unlock()
		close(done)
	})

	writeClientFrame(t, peer, true, CloseMessage, FormatCloseMessage(CloseNormalClosure, "bye"))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for peer-initiated close")
	}

	err := srv.CloseWithStatus(CloseNormalClosure, "again")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestConnOnMessagePanicDoesNotKillReadLoop(t *testing.T) {
	srv, peer := dialPair(t, Options{})

	var callCount int
	var mu sync.Mutex
	done := make(chan struct{}, 2)

	srv.OnMessage(func(messageType int, data []byte) {
		mu.Lock()
		callCount++
		mu.Unlock()
		done <- struct{}{}
		panic("boom")
	})

	writeClientFrame(t, peer, true, TextMessage, []byte("first"))
	<-done
	writeClientFrame(t, peer, true, TextMessage, []byte("second"))
	<-done

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, callCount)
}

func TestConnCompressedMessageRoundTrip(t *testing.T) {
	srv, peer := dialPair(t, Options{Deflate: true})
	srv.deflateNegotiated = true
	srv.assembler = newAssembler(newInflator(true), 0)

	clientDeflator := newDeflator(defaultCompressionLevel, true)
	payload := []byte("a reasonably compressible payload string, repeated repeated repeated")
	compressed, err := clientDeflator.deflate(payload)
	require.NoError(t, err)

	received := make(chan string, 1)
	srv.OnMessage(func(messageType int, data []byte) {
		received <- string(data)
	})

	frame := encodeFrame(true, true, TextMessage, compressed, true)
	_, err = peer.Write(frame)
	require.NoError(t, err)

	select {
	case msg := <-received:
		assert.Equal(t, string(payload), msg)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for decompressed message")
	}
}

func TestConnReadLimitRejectsOversizeMessage(t *testing.T) {
	srv, peer := dialPair(t, Options{ReadLimit: 16})

	errCh := make(chan error, 1)
	srv.OnError(func(err error) { errCh <- err })

	writeClientFrame(t, peer, true, BinaryMessage, make([]byte, 1000))

	select {
	case err := <-errCh:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for read-limit error")
	}
}

func TestConnSendFailsWhenNotOpen(t *testing.T) {
	srv, peer := dialPair(t, Options{})
	_ = peer.Close()
	_ = srv.CloseWithStatus(CloseNormalClosure, "")

	ok := srv.Send(TextMessage, []byte("x"))
	assert.False(t, ok)
}

func TestConnSeedBufferDrainedBeforeFreshReads(t *testing.T) {
	a, b := net.Pipe()
	c := newConn(newNetTransport(a), true, Request{}, "", false, false, Options{})
	c.seedBuffer(encodeFrame(true, false, TextMessage, []byte("seeded"), true))

	received := make(chan string, 1)
	c.OnMessage(func(messageType int, data []byte) { received <- string(data) })

	go c.run()
	t.Cleanup(func() { _ = b.Close() })

	select {
	case msg := <-received:
		assert.Equal(t, "seeded", msg)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for seeded message")
	}
}
