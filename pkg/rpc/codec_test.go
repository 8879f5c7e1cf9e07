package rpc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func TestProtoCodec(t *testing.T) {
	c := ProtoCodec{}
	assert.Equal(t, "proto", c.Name())

	data, err := c.Marshal(wrapperspb.String("payload"))
	require.NoError(t, err)

	var got wrapperspb.StringValue
	require.NoError(t, c.Unmarshal(data, &got))
	assert.Equal(t, "payload", got.GetValue())

	_, err = c.Marshal("not a message")
	require.Error(t, err)
	require.Error(t, c.Unmarshal(data, &struct{}{}))
}

func TestJSONCodec(t *testing.T) {
	c := JSONCodec{}

	type point struct {
		X int `json:"x"`
		Y int `json:"y"`
	}

	data, err := c.Marshal(point{X: 1, Y: 2})
	require.NoError(t, err)

	var got point
	require.NoError(t, c.Unmarshal(data, &got))
	assert.Equal(t, point{X: 1, Y: 2}, got)

	require.Error(t, c.Unmarshal([]byte("{oops"), &got))
}

func TestRawCodec(t *testing.T) {
	c := RawCodec{}

	data, err := c.Marshal([]byte("payload"))
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)

	var out []byte
	require.NoError(t, c.Unmarshal(data, &out))
	assert.Equal(t, []byte("payload"), out)

	_, err = c.Marshal("not bytes")
	require.Error(t, err)
	require.Error(t, c.Unmarshal(data, &struct{}{}))
}

func TestCardinalityString(t *testing.T) {
	assert.Equal(t, "unary-unary", UnaryUnary.String())
	assert.Equal(t, "server-stream", ServerStream.String())
}
