package rpc

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"sync"

	"github.com/kestrelrpc/kestrel/pkg/frame"
	"github.com/kestrelrpc/kestrel/pkg/log"
	"github.com/kestrelrpc/kestrel/pkg/status"
	"github.com/kestrelrpc/kestrel/pkg/transport"
)

// Channel owns one logical connection and multiplexes concurrent calls
// over it. Each call opens its own transport stream, so bytes belonging to
// different calls never interleave; the channel's only shared mutable
// state is the call-id counter and the in-flight call table.
type Channel struct {
	conf      ChannelConfig
	transport transport.ClientTransport

	mu     sync.Mutex
	conn   transport.ClientConn
	calls  map[uint64]*call
	callID uint64
	closed bool
}

type ChannelConfig struct {
	Transport transport.ClientTransport

	// Codec decodes responses and encodes requests; JSONCodec by default.
	Codec Codec

	// MaxMessageSize bounds a single message payload in either direction;
	// frame.DefaultMaxMessageSize when zero.
	MaxMessageSize uint32

	ErrHandler func(error)
	Logger     log.Logger

	middleware []Middleware
}

func seedCallID() uint64 {
	return uint64(rand.Uint32())<<32 + uint64(rand.Uint32())
}

func NewChannel(conf ChannelConfig) *Channel {
	if conf.Codec == nil {
		conf.Codec = JSONCodec{}
	}
	if conf.MaxMessageSize == 0 {
		conf.MaxMessageSize = frame.DefaultMaxMessageSize
	}
	return &Channel{
		conf:      conf,
		transport: conf.Transport,
		calls:     make(map[uint64]*call),
		callID:    seedCallID(),
	}
}

// Middleware appends client-side middleware, run around every call. The
// response is decoded into the caller's resp pointer, which is also what
// next returns; middleware can short-circuit with an error or act on the
// decoded response in place, but a different value returned from next is
// not copied back to the caller.
func (c *Channel) Middleware(middleware Middleware) {
	c.conf.middleware = append(c.conf.middleware, middleware)
}

func (c *Channel) logDebug(msg string) {
	if c.conf.Logger != nil {
		c.conf.Logger.Debug(msg)
	}
}

func (c *Channel) logError(msg string) {
	if c.conf.Logger != nil {
		c.conf.Logger.Error(msg)
	}
}

// call is one in-flight invocation. Its outcome slot is consumable exactly
// once: whichever of completion, cancellation, or connection loss happens
// first wins, and later resolutions are no-ops.
type call struct {
	id     uint64
	stream transport.Stream

	once    sync.Once
	done    chan struct{}
	payload []byte
	status  *status.Status
}

func (ca *call) resolve(payload []byte, st *status.Status) {
	ca.once.Do(func() {
		ca.payload = payload
		ca.status = st
		close(ca.done)
	})
}

// connect lazily establishes the connection and installs the loss monitor.
// Callers hold c.mu.
func (c *Channel) connectUnsafe() (transport.ClientConn, error) {
	if c.conn != nil {
		return c.conn, nil
	}

	c.logDebug("connecting to server")
	conn, err := c.transport.Connect()
	if err != nil {
		return nil, err
	}
	c.conn = conn

	go func() {
		<-conn.Done()
		c.handleConnLoss(conn)
	}()

	return conn, nil
}

// handleConnLoss resolves every call pending on the lost connection with
// UNAVAILABLE, exactly once each, then discards the connection.
func (c *Channel) handleConnLoss(conn transport.ClientConn) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	pending := c.calls
	c.calls = make(map[uint64]*call)
	c.mu.Unlock()

	if err := conn.Err(); err != nil {
		c.logError("connection lost: " + err.Error())
		if c.conf.ErrHandler != nil {
			c.conf.ErrHandler(err)
		}
	}

	st := status.New(status.Unavailable, "connection lost")
	for _, ca := range pending {
		ca.resolve(nil, st)
	}
}

// Invoke issues one unary call: req is encoded with the channel's codec,
// the outcome decoded into resp. A non-OK outcome is returned as a
// *status.Status error; transport and framing failures surface the same
// way, never directly.
func (c *Channel) Invoke(ctx context.Context, path string, req, resp interface{}) error {
	final := func(ctx context.Context, req interface{}) (interface{}, error) {
		if err := c.roundTrip(ctx, path, req, resp); err != nil {
			return nil, err
		}
		return resp, nil
	}
	_, err := ApplyHandlerChain(ctx, req, c.conf.middleware, final)
	return err
}

func (c *Channel) roundTrip(ctx context.Context, path string, req, resp interface{}) error {
	body, err := c.conf.Codec.Marshal(req)
	if err != nil {
		return status.Newf(status.Internal, "failed to encode request: %s", err)
	}
	if err := frame.CheckSize(len(body), c.conf.MaxMessageSize); err != nil {
		return status.New(status.Internal, err.Error())
	}

	ca, err := c.open(ctx, path)
	if err != nil {
		return err
	}
	defer c.unregister(ca.id)

	if _, err := ca.stream.Write(frame.Encode(body, false)); err != nil {
		ca.stream.Reset(err)
		return status.FromTransportError(err)
	}
	if err := ca.stream.CloseSend(); err != nil {
		ca.stream.Reset(err)
		return status.FromTransportError(err)
	}

	go c.await(ca)

	select {
	case <-ca.done:
	case <-ctx.Done():
		// Cancellation and deadline expiry resolve locally, before the
		// reset, so the receive path cannot win the outcome race with a
		// transport-flavored status. The reset tells the server to abandon
		// the in-progress invocation.
		ca.resolve(nil, status.FromError(ctx.Err()))
		ca.stream.Reset(ctx.Err())
	}

	if ca.status.Code != status.OK {
		return ca.status
	}
	if err := c.conf.Codec.Unmarshal(ca.payload, resp); err != nil {
		return status.Newf(status.Internal, "failed to decode response: %s", err)
	}
	return nil
}

// open assigns the call its correlation identity and opens the stream
// carrying path and metadata.
func (c *Channel) open(ctx context.Context, path string) (*call, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, status.New(status.Unavailable, "channel closed")
	}
	conn, err := c.connectUnsafe()
	if err != nil {
		c.mu.Unlock()
		return nil, status.FromTransportError(err)
	}
	c.callID++
	ca := &call{id: c.callID, done: make(chan struct{})}
	c.calls[ca.id] = ca
	c.mu.Unlock()

	stream, err := conn.OpenStream(ctx, headerFromContext(ctx, path, c.conf.Codec.Name()))
	if err != nil {
		c.unregister(ca.id)
		return nil, status.FromTransportError(err)
	}
	ca.stream = stream
	return ca, nil
}

func (c *Channel) unregister(id uint64) {
	c.mu.Lock()
	delete(c.calls, id)
	c.mu.Unlock()
}

// await reads the call's outcome off the stream: at most one response
// frame, then the status trailer. The response payload counts only when
// the trailer says OK; otherwise it is discarded.
func (c *Channel) await(ca *call) {
	dec := frame.NewDecoder(ca.stream, c.conf.MaxMessageSize)

	var payload []byte
	var havePayload bool
	p, compressed, err := dec.Next()
	switch {
	case err == nil:
		if compressed {
			ca.stream.Reset(nil)
			ca.resolve(nil, status.New(status.Internal, "compressed response but no decompressor configured"))
			return
		}
		payload = p
		havePayload = true
	case err == io.EOF:
		// Error-before-any-frame: the trailer alone carries the outcome.
	default:
		var fe *frame.FramingError
		if errors.As(err, &fe) {
			ca.stream.Reset(nil)
			ca.resolve(nil, status.New(status.Internal, fe.Error()))
			return
		}
		ca.resolve(nil, status.FromTransportError(err))
		return
	}

	trailer, err := ca.stream.Trailer()
	if err != nil {
		ca.resolve(nil, status.FromTransportError(err))
		return
	}

	st, err := status.FromTrailer(trailer)
	if err != nil {
		ca.resolve(nil, status.Newf(status.Internal, "malformed status trailer: %s", err))
		return
	}
	if st.Code != status.OK {
		ca.resolve(nil, st)
		return
	}
	if !havePayload {
		ca.resolve(nil, status.New(status.Internal, "server sent OK without a response message"))
		return
	}
	ca.resolve(payload, st)
}

// Close tears down the connection. Pending calls resolve with UNAVAILABLE
// through the loss monitor.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}
