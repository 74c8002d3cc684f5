package websocket

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatParseCloseMessageRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		code int
		text string
	}{
		{"normal closure with reason", CloseNormalClosure, "bye"},
		{"going away no reason", CloseGoingAway, ""},
		{"policy violation with long reason", ClosePolicyViolation, "connection exceeded rate limit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			formatted := FormatCloseMessage(tt.code, tt.text)
			code, text := parseCloseMessage(formatted)
			assert.Equal(t, tt.code, code)
			assert.Equal(t, tt.text, text)
		})
	}
}

func TestFormatCloseMessageNoStatusReceivedIsEmpty(t *testing.T) {
	formatted := FormatCloseMessage(CloseNoStatusReceived, "ignored")
	assert.Empty(t, formatted)
}

func TestParseCloseMessageEmptyPayload(t *testing.T) {
	code, text := parseCloseMessage(nil)
	assert.Equal(t, CloseNoStatusReceived, code)
	assert.Empty(t, text)
}

type sliceBufferPool struct {
	gets int
	puts int
}

func (p *sliceBufferPool) Get() any {
	p.gets++
	return make([]byte, 0, 256)
}

func (p *sliceBufferPool) Put(b any) {
	p.puts++
}

func TestBufferPoolInterfaceCompliance(t *testing.T) {
	var pool BufferPool = &sliceBufferPool{}
	buf := pool.Get()
	b, ok := buf.([]byte)
	assert.True(t, ok)
	assert.Equal(t, 0, len(b))
	pool.Put(b)
}
