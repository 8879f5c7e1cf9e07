package inproc

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelrpc/kestrel/pkg/transport"
)

func TestStreamRoundTrip(t *testing.T) {
	lis := NewTransport()
	require.NoError(t, lis.Listen())
	defer lis.Close()

	conn, err := lis.Dialer().Connect()
	require.NoError(t, err)
	defer conn.Close()

	clientStream, err := conn.OpenStream(context.Background(), transport.Header{"kestrel-path": "Echo/Say"})
	require.NoError(t, err)

	serverStream, err := lis.Accept()
	require.NoError(t, err)
	assert.Equal(t, "Echo/Say", serverStream.Header().Get("kestrel-path"))

	// client -> server, then half-close
	_, err = clientStream.Write([]byte("hello "))
	require.NoError(t, err)
	_, err = clientStream.Write([]byte("world"))
	require.NoError(t, err)
	require.NoError(t, clientStream.CloseSend())

	got, err := io.ReadAll(serverStream)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(got))

	// server -> client, then trailer
	_, err = serverStream.Write([]byte("response"))
	require.NoError(t, err)
	require.NoError(t, serverStream.CloseWithTrailer(transport.Header{"grpc-status": "0"}))

	got, err = io.ReadAll(clientStream)
	require.NoError(t, err)
	assert.Equal(t, "response", string(got))

	trailer, err := clientStream.Trailer()
	require.NoError(t, err)
	assert.Equal(t, "0", trailer.Get("grpc-status"))
}

func TestConcurrentStreamsDoNotInterleave(t *testing.T) {
	lis := NewTransport()
	require.NoError(t, lis.Listen())
	defer lis.Close()

	conn, err := lis.Dialer().Connect()
	require.NoError(t, err)
	defer conn.Close()

	const n = 8
	clientStreams := make([]transport.Stream, n)
	for i := 0; i < n; i++ {
		s, err := conn.OpenStream(context.Background(), transport.Header{"idx": string(rune('a' + i))})
		require.NoError(t, err)
		clientStreams[i] = s
	}

	byIdx := make(map[string]transport.Stream, n)
	for i := 0; i < n; i++ {
		s, err := lis.Accept()
		require.NoError(t, err)
		byIdx[s.Header().Get("idx")] = s
	}
	require.Len(t, byIdx, n)

	for i, cs := range clientStreams {
		payload := []byte{byte(i), byte(i), byte(i)}
		_, err := cs.Write(payload)
		require.NoError(t, err)
		require.NoError(t, cs.CloseSend())
	}

	for i := 0; i < n; i++ {
		ss := byIdx[string(rune('a'+i))]
		got, err := io.ReadAll(ss)
		require.NoError(t, err)
		assert.Equal(t, []byte{byte(i), byte(i), byte(i)}, got)
	}
}

func TestStreamReset(t *testing.T) {
	lis := NewTransport()
	require.NoError(t, lis.Listen())
	defer lis.Close()

	conn, err := lis.Dialer().Connect()
	require.NoError(t, err)
	defer conn.Close()

	cs, err := conn.OpenStream(context.Background(), transport.Header{})
	require.NoError(t, err)

	ss, err := lis.Accept()
	require.NoError(t, err)

	cs.Reset(nil)

	select {
	case <-ss.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("server stream context not cancelled after reset")
	}

	_, err = io.ReadAll(ss)
	assert.ErrorIs(t, err, transport.ErrStreamReset)
}

func TestConnectionLossResetsStreams(t *testing.T) {
	lis := NewTransport()
	require.NoError(t, lis.Listen())

	conn, err := lis.Dialer().Connect()
	require.NoError(t, err)

	cs, err := conn.OpenStream(context.Background(), transport.Header{})
	require.NoError(t, err)

	_, err = lis.Accept()
	require.NoError(t, err)

	// Server teardown severs the shared pipe; the client observes Done and
	// every live stream terminates.
	require.NoError(t, lis.Close())

	select {
	case <-conn.Done():
	case <-time.After(time.Second):
		t.Fatal("client conn Done not closed after server teardown")
	}

	_, err = cs.Trailer()
	assert.Error(t, err)
}

func TestConnectAfterClose(t *testing.T) {
	lis := NewTransport()
	dialer := lis.Dialer()
	require.NoError(t, lis.Close())

	_, err := dialer.Connect()
	assert.ErrorIs(t, err, transport.ErrClosed)
}
