// Package tcp provides the socket-backed transport: mux frames carried as
// length-prefixed messages over a TCP, Unix-domain, or TLS connection.
package tcp

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"github.com/kestrelrpc/kestrel/pkg/transport"
)

// setNoDelay sets the TCP_NODELAY option on a TCP connection.
func setNoDelay(conn net.Conn, noDelay bool) error {
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		return tcpConn.SetNoDelay(noDelay)
	}
	return nil
}

// frameConn carries discrete messages over a net.Conn as a 4-byte
// big-endian length prefix followed by the message bytes.
type frameConn struct {
	conn               net.Conn
	mu                 sync.Mutex
	maxRecvMessageSize uint32
}

func (c *frameConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(data)))

	if _, err := c.conn.Write(header); err != nil {
		return err
	}
	if _, err := c.conn.Write(data); err != nil {
		return err
	}
	return nil
}

func (c *frameConn) Receive() ([]byte, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(c.conn, header); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(header)
	if c.maxRecvMessageSize > 0 && length > c.maxRecvMessageSize {
		return nil, fmt.Errorf("message size %d exceeds receive limit %d", length, c.maxRecvMessageSize)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(c.conn, data); err != nil {
		return nil, err
	}
	return data, nil
}

func (c *frameConn) Close() error {
	return c.conn.Close()
}

// ServerTransport accepts connections on a TCP or Unix socket, optionally
// behind TLS, and surfaces their multiplexed streams.
type ServerTransport struct {
	conf     ServerTransportConfig
	listener net.Listener
	streamCh chan transport.Stream
	done     chan struct{}
	mu       sync.Mutex
	muxes    []*transport.ServerMux
	closed   bool
}

type ServerTransportConfig struct {
	Network            string // "tcp" (default) or "unix"
	Address            string // host:port, or socket path for "unix"
	NoDelay            bool   // Disable Nagle's algorithm for better latency
	CertFile           string // Optional: server certificate file (PEM)
	KeyFile            string // Optional: server private key file (PEM)
	MaxRecvMessageSize uint32 // Maximum mux frame size in bytes (0 for no limit)
}

func NewServerTransport(config ServerTransportConfig) *ServerTransport {
	if config.Network == "" {
		config.Network = "tcp"
	}
	return &ServerTransport{
		conf:     config,
		streamCh: make(chan transport.Stream, 16),
		done:     make(chan struct{}),
	}
}

func (t *ServerTransport) Listen() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.listener != nil {
		return fmt.Errorf("transport is already listening")
	}

	var l net.Listener
	var err error
	if t.conf.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(t.conf.CertFile, t.conf.KeyFile)
		if err != nil {
			return fmt.Errorf("failed to load certificate: %w", err)
		}
		l, err = tls.Listen(t.conf.Network, t.conf.Address, &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		})
		if err != nil {
			return err
		}
	} else {
		l, err = net.Listen(t.conf.Network, t.conf.Address)
		if err != nil {
			return err
		}
	}
	t.listener = l

	go t.acceptLoop()

	return nil
}

// Addr returns the bound listen address, useful with ":0".
func (t *ServerTransport) Addr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

func (t *ServerTransport) acceptLoop() {
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			t.mu.Lock()
			closed := t.closed
			t.mu.Unlock()
			if closed {
				return
			}
			continue
		}

		if err := setNoDelay(conn, t.conf.NoDelay); err != nil {
			conn.Close()
			continue
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
	if t.listener != nil {
		return t.listener.Close()
	}
	return nil
}

// ClientTransport dials a TCP or Unix socket, optionally over TLS.
type ClientTransport struct {
	conf ClientTransportConfig
}

type ClientTransportConfig struct {
	Network            string // "tcp" (default) or "unix"
	Address            string // host:port, or socket path for "unix"
	NoDelay            bool   // Disable Nagle's algorithm for better latency
	TLS                bool   // Dial over TLS
	CertFile           string // Optional: CA certificate to verify the server (PEM)
	InsecureSkipVerify bool   // Skip server certificate verification
	MaxRecvMessageSize uint32 // Maximum mux frame size in bytes (0 for no limit)
}

func NewClientTransport(config ClientTransportConfig) *ClientTransport {
	if config.Network == "" {
		config.Network = "tcp"
	}
	return &ClientTransport{conf: config}
}

func (t *ClientTransport) Connect() (transport.ClientConn, error) {
	var conn net.Conn
	var err error
	if t.conf.TLS || t.conf.CertFile != "" {
		tlsConf := &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: t.conf.InsecureSkipVerify,
		}
		if t.conf.CertFile != "" {
			pem, err := os.ReadFile(t.conf.CertFile)
			if err != nil {
				return nil, fmt.Errorf("failed to read certificate: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(pem) {
				return nil, fmt.Errorf("failed to parse certificate %s", t.conf.CertFile)
			}
			tlsConf.RootCAs = pool
		}
		conn, err = tls.Dial(t.conf.Network, t.conf.Address, tlsConf)
	} else {
		conn, err = net.Dial(t.conf.Network, t.conf.Address)
	}
	if err != nil {
		return nil, err
	}

	if err := setNoDelay(conn, t.conf.NoDelay); err != nil {
		conn.Close()
		return nil, err
	}

	return transport.NewClientMux(&frameConn{
		conn:               conn,
		maxRecvMessageSize: t.conf.MaxRecvMessageSize,
	}), nil
}
