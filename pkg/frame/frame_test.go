package frame

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeLayout(t *testing.T) {
	bs := Encode([]byte{0xAA, 0xBB}, false)
	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x00, 0x02, 0xAA, 0xBB}, bs)

	bs = Encode(nil, true)
	assert.Equal(t, []byte{0x01, 0x00, 0x00, 0x00, 0x00}, bs)
}

func TestRoundTrip(t *testing.T) {
	payloads := [][]byte{
		{},
		{0x00},
		[]byte("hi"),
		bytes.Repeat([]byte{0x7F}, 1<<16),
	}
	for _, p := range payloads {
		for _, compressed := range []bool{false, true} {
			dec := NewDecoder(bytes.NewReader(Encode(p, compressed)), 0)
			got, comp, err := dec.Next()
			require.NoError(t, err)
			assert.Equal(t, p, got)
			assert.Equal(t, compressed, comp)

			_, _, err = dec.Next()
			assert.Equal(t, io.EOF, err)
		}
	}
}

func TestDecodeSequence(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(Encode([]byte("one"), false))
	buf.Write(Encode([]byte("two"), true))
	buf.Write(Encode([]byte("three"), false))

	dec := NewDecoder(&buf, 0)
	want := []string{"one", "two", "three"}
	wantComp := []bool{false, true, false}
	for i := range want {
		p, comp, err := dec.Next()
		require.NoError(t, err)
		assert.Equal(t, want[i], string(p))
		assert.Equal(t, wantComp[i], comp)
	}
	_, _, err := dec.Next()
	assert.Equal(t, io.EOF, err)
}

func TestRejectsOversize(t *testing.T) {
	payload := bytes.Repeat([]byte{0x01}, 64)
	dec := NewDecoder(bytes.NewReader(Encode(payload, false)), 16)
	_, _, err := dec.Next()
	var fe *FramingError
	require.ErrorAs(t, err, &fe)
	assert.Contains(t, fe.Reason, "exceeds limit")
}

func TestTruncatedHeader(t *testing.T) {
	dec := NewDecoder(bytes.NewReader([]byte{0x00, 0x00}), 0)
	_, _, err := dec.Next()
	var fe *FramingError
	require.ErrorAs(t, err, &fe)
	assert.Contains(t, fe.Reason, "mid-header")
}

func TestTruncatedPayload(t *testing.T) {
	full := Encode([]byte("truncate me"), false)
	dec := NewDecoder(bytes.NewReader(full[:HeaderSize+4]), 0)
	_, _, err := dec.Next()
	var fe *FramingError
	require.ErrorAs(t, err, &fe)
	assert.Contains(t, fe.Reason, "mid-payload")
}

func TestCheckSize(t *testing.T) {
	assert.NoError(t, CheckSize(16, 16))
	var fe *FramingError
	assert.ErrorAs(t, CheckSize(17, 16), &fe)
	assert.NoError(t, CheckSize(DefaultMaxMessageSize, 0))
	assert.Error(t, CheckSize(DefaultMaxMessageSize+1, 0))
}
