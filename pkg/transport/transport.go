// Package transport defines the multiplexed stream contracts the RPC
// runtime is built against, plus the stream multiplexer the concrete
// backends (tcp, websocket, nats, inproc) share. A transport's job is to
// carry, per connection, many independent bidirectional streams, each with
// an open-header map, ordered byte chunks in each direction, and a trailer
// map at the end.
package transport

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrClosed is returned once a transport or connection has been closed.
	ErrClosed = errors.New("transport is closed")

	// ErrStreamReset is surfaced on a stream whose peer reset it.
	ErrStreamReset = errors.New("stream reset")

	// ErrConnLost is surfaced on streams orphaned by connection loss.
	ErrConnLost = errors.New("connection lost")
)

// Header is the string-keyed metadata map carried at stream open and, for
// trailers, at stream end.
type Header map[string]string

func (h Header) Get(key string) string {
	return h[key]
}

func (h Header) Set(key, value string) {
	h[key] = value
}

func (h Header) Clone() Header {
	out := make(Header, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// Stream is one multiplexed, bidirectional, ordered byte channel within a
// shared connection. The receive direction is exposed as an io.Reader; the
// send direction as an io.Writer. Reads observe io.EOF after the peer
// half-closes or terminates the stream.
type Stream interface {
	io.Reader
	io.Writer

	// Context is cancelled when the stream terminates, whether by trailer,
	// reset, or connection loss.
	Context() context.Context

	// Header returns the metadata the opener attached to the stream.
	Header() Header

	// CloseSend half-closes the send direction. The peer observes io.EOF
	// after consuming any bytes already written.
	CloseSend() error

	// CloseWithTrailer writes the trailer metadata and terminates the
	// stream. Used by the responding side; at most one trailer is written.
	CloseWithTrailer(trailer Header) error

	// Trailer blocks until the peer's trailer arrives, returning an error
	// if the stream terminates without one.
	Trailer() (Header, error)

	// Reset abruptly terminates the stream in both directions.
	Reset(err error)
}

// ClientConn is one logical connection owning multiplexed streams.
type ClientConn interface {
	// OpenStream opens a new stream carrying the given header.
	OpenStream(ctx context.Context, header Header) (Stream, error)

	// Done is closed when the connection is lost or closed. All streams
	// still live at that point are reset with ErrConnLost.
	Done() <-chan struct{}

	// Err reports the cause of connection termination, nil for a local
	// close.
	Err() error

	Close() error
}

// ClientTransport establishes outgoing connections.
type ClientTransport interface {
	Connect() (ClientConn, error)
}

// ServerTransport accepts inbound streams across all of its connections.
type ServerTransport interface {
	// Listen starts accepting connections.
	Listen() error

	// Accept blocks until an inbound stream is available. It returns
	// ErrClosed once the transport has been shut down.
	Accept() (Stream, error)

	// Close stops listening and tears down all connections.
	Close() error
}
