package websocket

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelrpc/kestrel/pkg/transport"
)

func startTransport(t *testing.T) (*ServerTransport, *ClientTransport) {
	t.Helper()

	lis := NewServerTransport(ServerTransportConfig{Port: 0})
	require.NoError(t, lis.Listen())
	t.Cleanup(func() { lis.Close() })

	return lis, NewClientTransport(ClientTransportConfig{
		Host: "127.0.0.1",
		Port: lis.Addr().(*net.TCPAddr).Port,
	})
}

func TestStreamRoundTrip(t *testing.T) {
	lis, dialer := startTransport(t)

	conn, err := dialer.Connect()
	require.NoError(t, err)
	defer conn.Close()

	cs, err := conn.OpenStream(context.Background(), transport.Header{"kestrel-path": "Echo/Say"})
	require.NoError(t, err)

	ss, err := lis.Accept()
	require.NoError(t, err)
	assert.Equal(t, "Echo/Say", ss.Header().Get("kestrel-path"))

	_, err = cs.Write([]byte("ping"))
	require.NoError(t, err)
	require.NoError(t, cs.CloseSend())

	got, err := io.ReadAll(ss)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(got))

	_, err = ss.Write([]byte("pong"))
	require.NoError(t, err)
	require.NoError(t, ss.CloseWithTrailer(transport.Header{"grpc-status": "0"}))

	got, err = io.ReadAll(cs)
	require.NoError(t, err)
	assert.Equal(t, "pong", string(got))

	trailer, err := cs.Trailer()
	require.NoError(t, err)
	assert.Equal(t, "0", trailer.Get("grpc-status"))
}

func TestStreamReset(t *testing.T) {
	lis, dialer := startTransport(t)

	conn, err := dialer.Connect()
	require.NoError(t, err)
	defer conn.Close()

	cs, err := conn.OpenStream(context.Background(), transport.Header{})
	require.NoError(t, err)

	ss, err := lis.Accept()
	require.NoError(t, err)

	cs.Reset(nil)

	select {
	case <-ss.Context().Done():
	case <-time.After(2 * time.Second):
		t.Fatal("server stream not terminated after client reset")
	}
	_, err = io.ReadAll(ss)
	assert.ErrorIs(t, err, transport.ErrStreamReset)
}

func TestServerCloseSignalsClient(t *testing.T) {
	lis, dialer := startTransport(t)

	conn, err := dialer.Connect()
	require.NoError(t, err)
	defer conn.Close()

	cs, err := conn.OpenStream(context.Background(), transport.Header{})
	require.NoError(t, err)

	_, err = lis.Accept()
	require.NoError(t, err)

	require.NoError(t, lis.Close())

	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("client conn Done not closed after server shutdown")
	}
	_, err = io.ReadAll(cs)
	assert.ErrorIs(t, err, transport.ErrConnLost)
}

func TestAcceptAfterClose(t *testing.T) {
	lis, _ := startTransport(t)
	require.NoError(t, lis.Close())

	_, err := lis.Accept()
	assert.ErrorIs(t, err, transport.ErrClosed)
}
