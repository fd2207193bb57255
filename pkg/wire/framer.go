// Package wire implements the DBGP wire format: a decimal ASCII length, a NUL
// byte, a UTF-8 XML payload, and a terminating NUL byte. It also provides the
// narrow parse of the engine init handshake needed for session routing; every
// other message is treated as an opaque byte blob.
package wire

import (
	"bufio"
	"bytes"
	"io"
	"strconv"
	"sync"
)

// DefaultMaxFrameSize bounds payload size against malformed or hostile peers.
const DefaultMaxFrameSize = 4 * 1024 * 1024

// lengthDigitLimit bounds the length prefix itself so a peer streaming digits
// forever cannot grow the read buffer. 20 digits covers any uint64.
const lengthDigitLimit = 20

// Framer reads and writes length-prefixed DBGP frames on a byte stream.
// ReadMessage never returns a partial frame; WriteMessage issues a single
// write per frame so concurrent framers on distinct streams cannot interleave.
type Framer struct {
	r   *bufio.Reader
	w   io.Writer
	max int

	// Serializes writers sharing this framer. Reads are single-owner.
	wmu sync.Mutex
}

// NewFramer creates a framer over rw. maxFrameSize of 0 selects
// DefaultMaxFrameSize.
func NewFramer(rw io.ReadWriter, maxFrameSize int) *Framer {
	if maxFrameSize <= 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	return &Framer{
		r:   bufio.NewReader(rw),
		w:   rw,
		max: maxFrameSize,
	}
}

// ReadMessage blocks until one complete frame is available and returns its
// payload. A clean EOF before the first byte of a frame returns io.EOF;
// anything that breaks the framing mid-frame returns a FramingError or
// ErrFrameTooLarge, after which the stream must be discarded.
func (f *Framer) ReadMessage() ([]byte, error) {
	size, err := f.readLength()
	if err != nil {
		return nil, err
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(f.r, payload); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, NewFramingError("stream closed mid-payload", nil)
		}
		return nil, err
	}

	// The payload is followed by a mandatory NUL terminator.
	term, err := f.r.ReadByte()
	if err != nil {
		if err == io.EOF {
			return nil, NewFramingError("missing frame terminator", nil)
		}
		return nil, err
	}
	if term != 0 {
		return nil, NewFramingError("frame terminator is not NUL", []byte{term})
	}

	return payload, nil
}

// readLength consumes the decimal length prefix up to its NUL delimiter.
func (f *Framer) readLength() (int, error) {
	var digits []byte
	for {
		b, err := f.r.ReadByte()
		if err != nil {
			if err == io.EOF {
				if len(digits) == 0 {
					// Clean close between frames.
					return 0, io.EOF
				}
				return 0, NewFramingError("stream closed inside length prefix", digits)
			}
			return 0, err
		}
		if b == 0 {
			break
		}
		if b < '0' || b > '9' {
			return 0, NewFramingError("non-numeric length prefix", append(digits, b))
		}
		digits = append(digits, b)
		if len(digits) > lengthDigitLimit {
			return 0, NewFramingError("length prefix too long", digits)
		}
	}

	if len(digits) == 0 {
		return 0, NewFramingError("empty length prefix", nil)
	}
	size, err := strconv.Atoi(string(digits))
	if err != nil {
		return 0, NewFramingError("unparseable length prefix", digits)
	}
	if size > f.max {
		return 0, ErrFrameTooLarge
	}
	return size, nil
}

// WriteMessage writes payload as one frame with a single underlying write.
func (f *Framer) WriteMessage(payload []byte) error {
	if len(payload) > f.max {
		return ErrFrameTooLarge
	}

	var buf bytes.Buffer
	buf.Grow(len(payload) + lengthDigitLimit + 2)
	buf.WriteString(strconv.Itoa(len(payload)))
	buf.WriteByte(0)
	buf.Write(payload)
	buf.WriteByte(0)

	f.wmu.Lock()
	defer f.wmu.Unlock()
	_, err := f.w.Write(buf.Bytes())
	return err
}

// MaxFrameSize returns the configured payload cap.
func (f *Framer) MaxFrameSize() int {
	return f.max
}
