// Compression pipeline implementing the permessage-deflate extension
// (RFC 7692) with raw DEFLATE (no zlib header) from compress/flate, whose
// LZ77 window is fixed at 32 KiB.
package websocket

import (
	"bytes"
	"compress/flate"
	"io"
	"sync"
)

// Compression level constants for DEFLATE (RFC 1951).
const (
	minCompressionLevel     = -2
	maxCompressionLevel     = 9
	defaultCompressionLevel = 1

	// deflateWindowBits names a 9-bit window (RFC 7692, section
	// 7.1.2.1). compress/flate has no window-bits knob, so neither the
	// deflator nor the inflator applies it: both use flate's fixed 32 KiB
	// window. Nothing else in the package refers to the constant. The
	// negotiation strings acknowledge client_max_window_bits=15 and send
	// no server_max_window_bits.
	deflateWindowBits = 9

	// maxDictSize is flate's fixed LZ77 window. Context takeover is
	// emulated by carrying this many trailing plaintext bytes forward
	// as a preset dictionary for the next message (RFC 7692, section
	// 7.1.1).
	maxDictSize = 32768
)

// deflateTail is the 4-byte empty non-final DEFLATE block appended by a
// SYNC_FLUSH. The sender strips it before transmission; the receiver
// appends it back before inflating (RFC 7692, sections 7.2.1 and 7.2.2).
var deflateTail = []byte{0x00, 0x00, 0xff, 0xff}

// deflateFinal is an empty final stored block (BFINAL=1), fed to the
// reader after deflateTail to terminate each message's DEFLATE stream.
var deflateFinal = []byte{0x01, 0x00, 0x00, 0xff, 0xff}

var flateReaderPool sync.Pool

func getFlateReader(r io.Reader, dict []byte) io.ReadCloser {
	if fr, ok := flateReaderPool.Get().(io.ReadCloser); ok && fr != nil {
		if resetter, ok := fr.(flate.Resetter); ok {
			if err := resetter.Reset(r, dict); err == nil {
				return fr
			}
		}
	}
	return flate.NewReaderDict(r, dict)
}

func putFlateReader(fr io.ReadCloser) {
	flateReaderPool.Put(fr)
}

// appendDict grows dict with newData, keeping at most the last
// maxDictSize bytes: the most a flate window can use as backreference
// context (RFC 1951, section 2.7.3).
func appendDict(dict, newData []byte) []byte {
	dict = append(dict, newData...)
	if len(dict) > maxDictSize {
		dict = dict[len(dict)-maxDictSize:]
	}
	return dict
}

// inflator decompresses permessage-deflate messages for one direction of
// one connection. noContextTakeover controls whether the sliding-window
// dictionary is discarded between messages, per the negotiated extension
// parameters (RFC 7692, section 7.1.1). When context is kept, the last
// window's worth of plaintext is fed back in as a preset dictionary for
// the next message (flate.NewReaderDict), compress/flate's documented
// mechanism for seeding LZ77 history, rather than trying to keep a single
// decompressor object alive across an intervening SYNC_FLUSH boundary.
type inflator struct {
	noContextTakeover bool
	fr                io.ReadCloser
	dict              []byte
}

func newInflator(noContextTakeover bool) *inflator {
	return &inflator{noContextTakeover: noContextTakeover}
}

// inflate decompresses one complete message payload. The caller is
// responsible for having already concatenated all fragments; inflate
// appends the RFC 7692 tail itself.
func (in *inflator) inflate(compressed []byte) ([]byte, error) {
	// deflateTail closes the message's last non-final block; deflateFinal
	// then ends the stream, so the reader stops with io.EOF rather than
	// io.ErrUnexpectedEOF once the message's bytes run out.
	src := io.MultiReader(bytes.NewReader(compressed), bytes.NewReader(deflateTail), bytes.NewReader(deflateFinal))

	if in.fr == nil {
		in.fr = getFlateReader(src, in.dict)
	} else if resetter, ok := in.fr.(flate.Resetter); ok {
		if err := resetter.Reset(src, in.dict); err != nil {
			return nil, newCompressionError(err)
		}
	}

	out, err := io.ReadAll(in.fr)
	if err != nil {
		return nil, newCompressionError(err)
	}

	if in.noContextTakeover {
		in.dict = nil
	} else {
		in.dict = appendDict(in.dict, out)
	}
	return out, nil
}

func (in *inflator) close() {
	if in.fr != nil {
		putFlateReader(in.fr)
		in.fr = nil
	}
}

// deflator compresses outbound messages for one direction of one
// connection. server_no_context_takeover (RFC 7692, section 7.1.1.1) is
// always advertised by this implementation's server side, so
// noContextTakeover clears the dictionary after every message when set.
// Context takeover is emulated the same way as the inflator: the prior
// message's plaintext, up to flate's window size, is handed to
// flate.NewWriterDict as a preset dictionary so the encoder's
// backreferences can span message boundaries.
type deflator struct {
	level             int
	noContextTakeover bool
	dict              []byte
	buf               bytes.Buffer
}

func newDeflator(level int, noContextTakeover bool) *deflator {
	if level < minCompressionLevel || level > maxCompressionLevel {
		level = defaultCompressionLevel
	}
	return &deflator{level: level, noContextTakeover: noContextTakeover}
}

// deflate compresses one complete message payload and strips the RFC 7692
// SYNC_FLUSH tail before returning.
func (d *deflator) deflate(data []byte) ([]byte, error) {
	d.buf.Reset()

	fw, err := flate.NewWriterDict(&d.buf, d.level, d.dict)
	if err != nil {
		return nil, newCompressionError(err)
	}
	if _, err := fw.Write(data); err != nil {
		return nil, newCompressionError(err)
	}
	if err := fw.Flush(); err != nil {
		return nil, newCompressionError(err)
	}

	out := d.buf.Bytes()
	if bytes.HasSuffix(out, deflateTail) {
		out = out[:len(out)-len(deflateTail)]
	}

	result := make([]byte, len(out))
	copy(result, out)

	if d.noContextTakeover {
		d.dict = nil
	} else {
		d.dict = appendDict(d.dict, data)
	}
	return result, nil
}

func (d *deflator) close() {}
