// Package frame implements the length-delimited message framing carried
// inside a stream body: a 1-byte compression flag, a 4-byte big-endian
// payload length, then the payload bytes. It knows nothing about payload
// structure or the transport underneath.
package frame

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	// HeaderSize is the fixed byte count of the frame header.
	HeaderSize = 5

	// DefaultMaxMessageSize bounds payloads when no explicit limit is set.
	DefaultMaxMessageSize = 4 << 20
)

// FramingError marks a malformed frame at the byte layer: a truncated
// header, a truncated payload, or a declared length above the configured
// maximum. It always maps to INTERNAL at the call boundary, never to a
// payload decode failure.
type FramingError struct {
	Reason string
}

func (e *FramingError) Error() string {
	return "framing: " + e.Reason
}

func framingErrorf(format string, args ...interface{}) *FramingError {
	return &FramingError{Reason: fmt.Sprintf(format, args...)}
}

// Encode prepends the compression flag and big-endian length to payload and
// returns the concatenation. Bounding the payload is the caller's
// responsibility; see CheckSize.
func Encode(payload []byte, compressed bool) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	if compressed {
		buf[0] = 1
	}
	binary.BigEndian.PutUint32(buf[1:HeaderSize], uint32(len(payload)))
	copy(buf[HeaderSize:], payload)
	return buf
}

// CheckSize reports a FramingError when a payload of n bytes exceeds max.
// A max of zero means DefaultMaxMessageSize.
func CheckSize(n int, max uint32) error {
	if max == 0 {
		max = DefaultMaxMessageSize
	}
	if uint64(n) > uint64(max) {
		return framingErrorf("message size %d exceeds limit %d", n, max)
	}
	return nil
}

// Decoder reads frames off a stream's receive direction. It never blocks
// beyond the reads it issues against r; suspension while awaiting more
// bytes belongs to the transport.
type Decoder struct {
	r   io.Reader
	max uint32
	hdr [HeaderSize]byte
}

// NewDecoder returns a Decoder bounded by max payload bytes per frame.
// A max of zero means DefaultMaxMessageSize.
func NewDecoder(r io.Reader, max uint32) *Decoder {
	if max == 0 {
		max = DefaultMaxMessageSize
	}
	return &Decoder{r: r, max: max}
}

// Next decodes one frame. It returns io.EOF when the stream ends cleanly on
// a frame boundary, and a FramingError when the stream ends mid-header or
// mid-payload or the declared length exceeds the decoder's maximum.
func (d *Decoder) Next() (payload []byte, compressed bool, err error) {
	if _, err := io.ReadFull(d.r, d.hdr[:]); err != nil {
		if err == io.EOF {
			return nil, false, io.EOF
		}
		if err == io.ErrUnexpectedEOF {
			return nil, false, framingErrorf("stream ended mid-header")
		}
		return nil, false, err
	}

	length := binary.BigEndian.Uint32(d.hdr[1:])
	if uint64(length) > uint64(d.max) {
		return nil, false, framingErrorf("declared length %d exceeds limit %d", length, d.max)
	}

	payload = make([]byte, length)
	if _, err := io.ReadFull(d.r, payload); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, false, framingErrorf("stream ended mid-payload, want %d bytes", length)
		}
		return nil, false, err
	}
	return payload, d.hdr[0] != 0, nil
}
