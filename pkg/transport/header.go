package transport

import (
	"encoding/binary"
	"fmt"
)

// Header maps travel inside OPEN and TRAILER mux frames as a uint16 entry
// count followed by length-prefixed key/value strings.

const maxHeaderEntryLen = 1 << 16

func encodedHeaderSize(h Header) int {
	size := 2
	for k, v := range h {
		size += 4 + len(k) + len(v)
	}
	return size
}

// EncodeHeader serializes h. Keys or values longer than 64 KiB are a
// programming error and panic.
func EncodeHeader(h Header) []byte {
	buf := make([]byte, 0, encodedHeaderSize(h))
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(h)))
	for k, v := range h {
		if len(k) >= maxHeaderEntryLen || len(v) >= maxHeaderEntryLen {
			panic(fmt.Sprintf("header entry %q too large", k))
		}
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(k)))
		buf = append(buf, k...)
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(v)))
		buf = append(buf, v...)
	}
	return buf
}

// DecodeHeader parses an encoded header map.
func DecodeHeader(bs []byte) (Header, error) {
	if len(bs) < 2 {
		return nil, fmt.Errorf("header truncated: %d bytes", len(bs))
	}
	count := int(binary.BigEndian.Uint16(bs))
	bs = bs[2:]

	h := make(Header, count)
	for i := 0; i < count; i++ {
		k, rest, err := readHeaderString(bs)
		if err != nil {
			return nil, fmt.Errorf("header entry %d key: %w", i, err)
		}
		v, rest, err := readHeaderString(rest)
		if err != nil {
			return nil, fmt.Errorf("header entry %d value: %w", i, err)
		}
		h[k] = v
		bs = rest
	}
	if len(bs) != 0 {
		return nil, fmt.Errorf("header has %d trailing bytes", len(bs))
	}
	return h, nil
}

func readHeaderString(bs []byte) (string, []byte, error) {
	if len(bs) < 2 {
		return "", nil, fmt.Errorf("truncated length prefix")
	}
	n := int(binary.BigEndian.Uint16(bs))
	bs = bs[2:]
	if len(bs) < n {
		return "", nil, fmt.Errorf("declared %d bytes, have %d", n, len(bs))
	}
	return string(bs[:n]), bs[n:], nil
}
