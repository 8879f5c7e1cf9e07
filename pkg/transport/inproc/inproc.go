// Package inproc provides an in-memory transport: a listener and a dialer
// joined by paired message pipes. It is used by the test suites and by
// embedded deployments that want the full RPC surface without a socket.
package inproc

import (
	"sync"

	"github.com/kestrelrpc/kestrel/pkg/transport"
)

const pipeDepth = 64

// pipeConn is one end of a paired in-memory message pipe. Closing either
// end terminates both directions.
type pipeConn struct {
	out        chan<- []byte
	in         <-chan []byte
	closed     chan struct{}
	peerClosed chan struct{}
	closeOnce  sync.Once
}

func newPipe() (*pipeConn, *pipeConn) {
	a2b := make(chan []byte, pipeDepth)
	b2a := make(chan []byte, pipeDepth)
	aClosed := make(chan struct{})
	bClosed := make(chan struct{})

	a := &pipeConn{out: a2b, in: b2a, closed: aClosed, peerClosed: bClosed}
	b := &pipeConn{out: b2a, in: a2b, closed: bClosed, peerClosed: aClosed}
	return a, b
}

func (c *pipeConn) Send(data []byte) error {
	select {
	case <-c.closed:
		return transport.ErrClosed
	case <-c.peerClosed:
		return transport.ErrClosed
	default:
	}
	select {
	case c.out <- data:
		return nil
	case <-c.closed:
		return transport.ErrClosed
	case <-c.peerClosed:
		return transport.ErrClosed
	}
}

func (c *pipeConn) Receive() ([]byte, error) {
	// Drain buffered messages before honoring a close in either direction.
	select {
	case bs := <-c.in:
		return bs, nil
	default:
	}
	select {
	case bs := <-c.in:
		return bs, nil
	case <-c.closed:
		return nil, transport.ErrClosed
	case <-c.peerClosed:
		select {
		case bs := <-c.in:
			return bs, nil
		default:
		}
		return nil, transport.ErrClosed
	}
}

func (c *pipeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// Transport is an in-memory ServerTransport. Client sides are produced by
// Dialer and connect without touching the network.
type Transport struct {
	mu       sync.Mutex
	streamCh chan transport.Stream
	muxes    []*transport.ServerMux
	closed   bool
	done     chan struct{}
}

func NewTransport() *Transport {
	return &Transport{
		streamCh: make(chan transport.Stream, pipeDepth),
		done:     make(chan struct{}),
	}
}

func (t *Transport) Listen() error {
	return nil
}

func (t *Transport) Accept() (transport.Stream, error) {
	select {
	case s := <-t.streamCh:
		return s, nil
	case <-t.done:
		return nil, transport.ErrClosed
	}
}

func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	muxes := t.muxes
	t.muxes = nil
	t.mu.Unlock()

	close(t.done)
	for _, m := range muxes {
		m.Close()
	}
	return nil
}

// connect attaches a new client connection to the listener.
func (t *Transport) connect() (transport.ClientConn, error) {
	clientEnd, serverEnd := newPipe()

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, transport.ErrClosed
	}
	sm := transport.NewServerMux(serverEnd)
	t.muxes = append(t.muxes, sm)
	t.mu.Unlock()

	go t.pump(sm)
	return transport.NewClientMux(clientEnd), nil
}

func (t *Transport) pump(sm *transport.ServerMux) {
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

// Dialer returns a ClientTransport whose connections attach to t.
func (t *Transport) Dialer() transport.ClientTransport {
	return &clientTransport{t: t}
}

type clientTransport struct {
	t *Transport
}

func (c *clientTransport) Connect() (transport.ClientConn, error) {
	return c.t.connect()
}
