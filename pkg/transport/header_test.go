package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	cases := []Header{
		{},
		{"kestrel-path": "Echo/Say"},
		{"a": "1", "b": "2", "empty": "", "unicode": "héllo ☂"},
	}
	for _, h := range cases {
		got, err := DecodeHeader(EncodeHeader(h))
		require.NoError(t, err)
		assert.Equal(t, h, got)
	}
}

func TestDecodeHeaderTruncated(t *testing.T) {
	bs := EncodeHeader(Header{"key": "value"})
	for i := 1; i < len(bs); i++ {
		_, err := DecodeHeader(bs[:i])
		assert.Error(t, err, "prefix of %d bytes", i)
	}
}

func TestDecodeHeaderTrailingBytes(t *testing.T) {
	bs := append(EncodeHeader(Header{"k": "v"}), 0xFF)
	_, err := DecodeHeader(bs)
	assert.Error(t, err)
}

func TestHeaderClone(t *testing.T) {
	h := Header{"k": "v"}
	c := h.Clone()
	c.Set("k", "other")
	assert.Equal(t, "v", h.Get("k"))
}
