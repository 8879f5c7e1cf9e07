// Package websocket provides the WebSocket-backed transport: one mux frame
// per binary WebSocket message, upgraded at /rpc.
package websocket

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kestrelrpc/kestrel/pkg/transport"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// frameConn carries mux frames as binary WebSocket messages.
type frameConn struct {
	conn               *websocket.Conn
	mu                 sync.Mutex
	maxRecvMessageSize uint32
}

func (c *frameConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (c *frameConn) Receive() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, transport.ErrClosed
		}
		return nil, err
	}
	if c.maxRecvMessageSize > 0 && uint32(len(data)) > c.maxRecvMessageSize {
		return nil, fmt.Errorf("message size %d exceeds receive limit %d", len(data), c.maxRecvMessageSize)
	}
	return data, nil
}

func (c *frameConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Send a proper close frame before closing, with a short deadline so a
	// stuck peer cannot block us.
	deadline := time.Now().Add(time.Second)
	err := c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		deadline,
	)

	closeErr := c.conn.Close()
	if err != nil {
		return err
	}
	return closeErr
}

// ServerTransport upgrades inbound HTTP requests at /rpc and surfaces the
// multiplexed streams of every connection.
type ServerTransport struct {
	conf     ServerTransportConfig
	listener net.Listener
	server   *http.Server
	streamCh chan transport.Stream
	done     chan struct{}
	mu       sync.Mutex
	muxes    []*transport.ServerMux
	closed   bool
}

type ServerTransportConfig struct {
	Port               int
	CertFile           string // Optional: for TLS
	KeyFile            string // Optional: for TLS
	MaxRecvMessageSize uint32 // Maximum mux frame size in bytes (0 for no limit)
}

func NewServerTransport(config ServerTransportConfig) *ServerTransport {
	return &ServerTransport{
		conf:     config,
		streamCh: make(chan transport.Stream, 16),
		done:     make(chan struct{}),
	}
}

func (t *ServerTransport) Listen() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.server != nil {
		return fmt.Errorf("transport is already listening")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/rpc", t.handleWebSocket)

	l, err := net.Listen("tcp", fmt.Sprintf(":%d", t.conf.Port))
	if err != nil {
		return err
	}
	if t.conf.CertFile != "" && t.conf.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(t.conf.CertFile, t.conf.KeyFile)
		if err != nil {
			l.Close()
			return fmt.Errorf("failed to load certificate: %w", err)
		}
		l = tls.NewListener(l, &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		})
	}

	t.listener = l
	t.server = &http.Server{Handler: mux}

	go func() {
		if err := t.server.Serve(l); err != nil && err != http.ErrServerClosed {
			t.Close()
		}
	}()

	return nil
}

// Addr returns the bound listen address, useful with port 0.
func (t *ServerTransport) Addr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

func (t *ServerTransport) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	fc := &frameConn{conn: conn, maxRecvMessageSize: t.conf.MaxRecvMessageSize}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		conn.Close()
		return
	}
	sm := transport.NewServerMux(fc)
	t.muxes = append(t.muxes, sm)
	t.mu.Unlock()

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
	t.mu.Unlock()

	close(t.done)
	for _, m := range muxes {
		m.Close()
	}
	if t.server != nil {
		return t.server.Close()
	}
	return nil
}

// ClientTransport dials a WebSocket server at /rpc.
type ClientTransport struct {
	conf ClientTransportConfig
}

type ClientTransportConfig struct {
	Host               string
	Port               int
	TLSConfig          *tls.Config
	MaxRecvMessageSize uint32 // Maximum mux frame size in bytes (0 for no limit)
}

func NewClientTransport(config ClientTransportConfig) *ClientTransport {
	return &ClientTransport{conf: config}
}

func (t *ClientTransport) Connect() (transport.ClientConn, error) {
	scheme := "ws"

	dialer := websocket.Dialer{}
	if t.conf.TLSConfig != nil {
		dialer.TLSClientConfig = t.conf.TLSConfig
		scheme = "wss"
	}

	u := url.URL{Scheme: scheme, Host: fmt.Sprintf("%s:%d", t.conf.Host, t.conf.Port), Path: "/rpc"}

	conn, _, err := dialer.Dial(u.String(), nil)
	if err != nil {
		return nil, err
	}

	return transport.NewClientMux(&frameConn{
		conn:               conn,
		maxRecvMessageSize: t.conf.MaxRecvMessageSize,
	}), nil
}
