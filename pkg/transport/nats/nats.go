// Package nats provides the NATS-backed transport. Each logical connection
// is a pair of inboxes negotiated by a connect handshake; mux frames travel
// as messages published to the peer's inbox. An empty message marks
// disconnect, since real mux frames are never empty.
package nats

import (
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kestrelrpc/kestrel/pkg/transport"
)

const (
	defaultSubject   = "kestrel.rpc"
	connectTimeout   = 5 * time.Second
	recvBufferDepth  = 100
)

// frameConn carries mux frames over a NATS inbox pair.
type frameConn struct {
	nc     *nats.Conn
	sendTo string
	sub    *nats.Subscription
	recvCh chan []byte

	mu     sync.Mutex
	closed chan struct{}
	done   bool
}

func newFrameConn(nc *nats.Conn, sendTo string) *frameConn {
	return &frameConn{
		nc:     nc,
		sendTo: sendTo,
		recvCh: make(chan []byte, recvBufferDepth),
		closed: make(chan struct{}),
	}
}

// subscribe binds the receive side to an inbox.
func (c *frameConn) subscribe(inbox string) error {
	sub, err := c.nc.Subscribe(inbox, func(msg *nats.Msg) {
		if len(msg.Data) == 0 {
			// Peer disconnect marker.
			c.Close()
			return
		}
		select {
		case c.recvCh <- msg.Data:
		case <-c.closed:
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to inbox: %w", err)
	}
	c.sub = sub
	return nil
}

func (c *frameConn) Send(data []byte) error {
	select {
	case <-c.closed:
		return transport.ErrClosed
	default:
	}
	return c.nc.Publish(c.sendTo, data)
}

func (c *frameConn) Receive() ([]byte, error) {
	select {
	case bs := <-c.recvCh:
		return bs, nil
	case <-c.closed:
		return nil, transport.ErrClosed
	}
}

func (c *frameConn) Close() error {
	c.mu.Lock()
	if c.done {
		c.mu.Unlock()
		return nil
	}
	c.done = true
	c.mu.Unlock()

	// Tell the peer before tearing down the inbox.
	_ = c.nc.Publish(c.sendTo, nil)
	close(c.closed)
	if c.sub != nil {
		_ = c.sub.Unsubscribe()
	}
	return nil
}

// ServerTransport listens for connect handshakes on a well-known subject.
type ServerTransport struct {
	conf     ServerTransportConfig
	nc       *nats.Conn
	sub      *nats.Subscription
	streamCh chan transport.Stream
	done     chan struct{}
	mu       sync.Mutex
	muxes    []*transport.ServerMux
	conns    []*frameConn
	closed   bool
}

type ServerTransportConfig struct {
	URL     string
	Subject string // Connect subject; defaults to "kestrel.rpc"
}

func NewServerTransport(config ServerTransportConfig) *ServerTransport {
	if config.Subject == "" {
		config.Subject = defaultSubject
	}
	return &ServerTransport{
		conf:     config,
		streamCh: make(chan transport.Stream, recvBufferDepth),
		done:     make(chan struct{}),
	}
}

func (t *ServerTransport) Listen() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.nc != nil {
		return fmt.Errorf("transport is already listening")
	}

	nc, err := nats.Connect(t.conf.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}

	sub, err := nc.Subscribe(t.conf.Subject+".connect", t.handleConnect)
	if err != nil {
		nc.Close()
		return fmt.Errorf("failed to subscribe to connect subject: %w", err)
	}

	t.nc = nc
	t.sub = sub
	return nil
}

// handleConnect accepts one handshake: the payload names the client's frame
// inbox, the reply carries ours.
func (t *ServerTransport) handleConnect(msg *nats.Msg) {
	if msg.Reply == "" || len(msg.Data) == 0 {
		return
	}
	clientInbox := string(msg.Data)
	serverInbox := nats.NewInbox()

	fc := newFrameConn(t.nc, clientInbox)
	if err := fc.subscribe(serverInbox); err != nil {
		return
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		fc.Close()
		return
	}
	sm := transport.NewServerMux(fc)
	t.muxes = append(t.muxes, sm)
	t.conns = append(t.conns, fc)
	t.mu.Unlock()

	if err := msg.Respond([]byte(serverInbox)); err != nil {
		sm.Close()
		return
	}

	go t.pump(sm)
}

func (t *ServerTransport) pump(sm *transport.ServerMux) {
	for {
		s, err := sm.AcceptStream()
		if err != nil {
			return
		}
		select {
		case t.streamCh <- s:
		case <-t.done:
			return
		}
	}
}

func (t *ServerTransport) Accept() (transport.Stream, error) {
	select {
	case s := <-t.streamCh:
		return s, nil
	case <-t.done:
		return nil, transport.ErrClosed
	}
}

func (t *ServerTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	muxes := t.muxes
	t.muxes = nil
	t.conns = nil
	t.mu.Unlock()

	close(t.done)
	for _, m := range muxes {
		m.Close()
	}
	if t.sub != nil {
		_ = t.sub.Unsubscribe()
	}
	if t.nc != nil {
		t.nc.Close()
		t.nc = nil
	}
	return nil
}

// ClientTransport connects by handshaking over the server's subject.
type ClientTransport struct {
	conf ClientTransportConfig
	mu   sync.Mutex
	nc   *nats.Conn
}

type ClientTransportConfig struct {
	URL     string
	Subject string // Connect subject; defaults to "kestrel.rpc"
}

func NewClientTransport(config ClientTransportConfig) *ClientTransport {
	if config.Subject == "" {
		config.Subject = defaultSubject
	}
	return &ClientTransport{conf: config}
}

func (t *ClientTransport) Connect() (transport.ClientConn, error) {
	t.mu.Lock()
	if t.nc == nil {
		nc, err := nats.Connect(t.conf.URL)
		if err != nil {
			t.mu.Unlock()
			return nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		t.nc = nc
	}
	nc := t.nc
	t.mu.Unlock()

	clientInbox := nats.NewInbox()
	fc := newFrameConn(nc, "")
	if err := fc.subscribe(clientInbox); err != nil {
		return nil, err
	}

	reply, err := nc.Request(t.conf.Subject+".connect", []byte(clientInbox), connectTimeout)
	if err != nil {
		fc.sub.Unsubscribe()
		return nil, fmt.Errorf("connect handshake failed: %w", err)
	}
	fc.sendTo = string(reply.Data)

	return transport.NewClientMux(fc), nil
}
