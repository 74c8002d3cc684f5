package websocket

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeFrameRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		masked  bool
	}{
		{"empty unmasked", []byte{}, false},
		{"short masked", []byte("hello"), true},
		{"boundary 125 unmasked", make([]byte, 125), false},
		{"boundary 126 masked", make([]byte, 126), true},
		{"boundary 65535 unmasked", make([]byte, 65535), false},
		{"boundary 65536 masked", make([]byte, 65536), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := encodeFrame(true, false, BinaryMessage, tt.payload, tt.masked)

			fr, consumed, err := decodeFrame(encoded, tt.masked, false, 0)
			require.NoError(t, err)
			assert.Equal(t, len(encoded), consumed)
			assert.True(t, fr.fin)
			assert.Equal(t, BinaryMessage, fr.opcode)
			assert.Equal(t, tt.payload, fr.payload)
		})
	}
}

func TestDecodeFrameIncrementalChunking(t *testing.T) {
	payload := make([]byte, 10000)
	for i := range payload {
		payload[i] = byte(i)
	}
	encoded := encodeFrame(true, false, BinaryMessage, payload, true)

	r := rand.New(rand.NewSource(1))
	var buf []byte
	var fr wireFrame
	var consumed int
	var err error

	for len(encoded) > 0 {
		n := 1 + r.Intn(len(encoded))
		if n > len(encoded) {
			n = len(encoded)
		}
		buf = append(buf, encoded[:n]...)
		encoded = encoded[n:]

		fr, consumed, err = decodeFrame(buf, true, false, 0)
		require.NoError(t, err)
		if consumed > 0 {
			break
		}
	}

	require.Greater(t, consumed, 0)
	assert.Equal(t, payload, fr.payload)
}

func TestDecodeFrameNeedsMoreBytes(t *testing.T) {
	_, consumed, err := decodeFrame([]byte{0x82}, false, false, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, consumed)
}

func TestDecodeFrameOversizeControlFrameRejected(t *testing.T) {
	payload := make([]byte, 200)
	encoded := encodeFrame(true, false, PingMessage, payload, false)

	_, _, err := decodeFrame(encoded, false, false, 0)
	require.Error(t, err)
	var protoErr *ProtocolError
	require.ErrorAs(t, err, &protoErr)
	assert.Equal(t, CloseProtocolError, protoErr.Code)
}

func TestDecodeFrameMaskingPolicy(t *testing.T) {
	masked := encodeFrame(true, false, TextMessage, []byte("x"), true)
	unmasked := encodeFrame(true, false, TextMessage, []byte("x"), false)

	_, _, err := decodeFrame(unmasked, true, false, 0)
	require.Error(t, err)

	_, _, err = decodeFrame(masked, false, false, 0)
	require.Error(t, err)

	_, _, err = decodeFrame(masked, true, false, 0)
	require.NoError(t, err)

	_, _, err = decodeFrame(unmasked, false, false, 0)
	require.NoError(t, err)
}

func TestDecodeFrameReservedBitsRejected(t *testing.T) {
	encoded := encodeFrame(true, false, TextMessage, []byte("x"), false)
	encoded[0] |= rsv2Bit

	_, _, err := decodeFrame(encoded, false, false, 0)
	require.Error(t, err)
	var protoErr *ProtocolError
	require.ErrorAs(t, err, &protoErr)
	assert.Equal(t, CloseProtocolError, protoErr.Code)
}

func TestDecodeFrameRsv1WithoutDeflateRejected(t *testing.T) {
	encoded := encodeFrame(true, true, TextMessage, []byte("x"), false)

	_, _, err := decodeFrame(encoded, false, false, 0)
	require.Error(t, err)
}

func TestDecodeFrameUnknownOpcodeRejected(t *testing.T) {
	encoded := encodeFrame(true, false, 0x3, []byte("x"), false)

	_, _, err := decodeFrame(encoded, false, false, 0)
	require.Error(t, err)
	var protoErr *ProtocolError
	require.ErrorAs(t, err, &protoErr)
	assert.Equal(t, CloseProtocolError, protoErr.Code)
}

func TestDecodeFrameFragmentedControlFrameRejected(t *testing.T) {
	encoded := encodeFrame(false, false, PingMessage, []byte("x"), false)

	_, _, err := decodeFrame(encoded, false, false, 0)
	require.Error(t, err)
}

func TestDecodeFrameReadLimitExceeded(t *testing.T) {
	encoded := encodeFrame(true, false, BinaryMessage, make([]byte, 1000), false)

	_, _, err := decodeFrame(encoded, false, false, 500)
	require.Error(t, err)
	var protoErr *ProtocolError
	require.ErrorAs(t, err, &protoErr)
	assert.Equal(t, CloseMessageTooBig, protoErr.Code)
}

func TestEncodeFrameIntoReusesBuffer(t *testing.T) {
	dst := make([]byte, 0, 64)
	out := encodeFrameInto(dst, true, false, TextMessage, []byte("hi"), false)
	assert.Len(t, out, frameHeaderLen(2, false)+2)
	assert.Same(t, &dst[:1][0], &out[0])
}
