package rpc

import (
	"crypto/tls"
	"fmt"
	"net"
	"strconv"

	"github.com/kestrelrpc/kestrel/pkg/transport"
	"github.com/kestrelrpc/kestrel/pkg/transport/nats"
	"github.com/kestrelrpc/kestrel/pkg/transport/tcp"
	"github.com/kestrelrpc/kestrel/pkg/transport/websocket"
)

// clientTransportFor maps a scheme plus authority onto a concrete
// transport. Transports needing richer options (TLS material, unix paths
// with custom settings) are constructed directly and passed through
// ChannelConfig.Transport instead.
func clientTransportFor(scheme, authority string) (transport.ClientTransport, error) {
	switch scheme {
	case "tcp":
		return tcp.NewClientTransport(tcp.ClientTransportConfig{Address: authority, NoDelay: true}), nil
	case "unix":
		return tcp.NewClientTransport(tcp.ClientTransportConfig{Network: "unix", Address: authority}), nil
	case "ws", "wss":
		host, port, err := splitAuthority(authority)
		if err != nil {
			return nil, err
		}
		conf := websocket.ClientTransportConfig{Host: host, Port: port}
		if scheme == "wss" {
			conf.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		return websocket.NewClientTransport(conf), nil
	case "nats":
		return nats.NewClientTransport(nats.ClientTransportConfig{URL: "nats://" + authority}), nil
	default:
		return nil, fmt.Errorf("unsupported scheme %q", scheme)
	}
}

func serverTransportFor(scheme, address string) (transport.ServerTransport, error) {
	switch scheme {
	case "tcp":
		return tcp.NewServerTransport(tcp.ServerTransportConfig{Address: address, NoDelay: true}), nil
	case "unix":
		return tcp.NewServerTransport(tcp.ServerTransportConfig{Network: "unix", Address: address}), nil
	case "ws":
		_, port, err := splitAuthority(address)
		if err != nil {
			return nil, err
		}
		return websocket.NewServerTransport(websocket.ServerTransportConfig{Port: port}), nil
	case "nats":
		return nats.NewServerTransport(nats.ServerTransportConfig{URL: "nats://" + address}), nil
	default:
		return nil, fmt.Errorf("unsupported scheme %q", scheme)
	}
}

func splitAuthority(authority string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(authority)
	if err != nil {
		return "", 0, fmt.Errorf("malformed authority %q: %w", authority, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("malformed port in %q: %w", authority, err)
	}
	return host, port, nil
}

// Dial returns a Channel connected to the given scheme and authority.
// Supported schemes: tcp, unix, ws, wss, nats. Any Transport already set
// on conf takes precedence.
func Dial(scheme, authority string, conf ChannelConfig) (*Channel, error) {
	if conf.Transport == nil {
		t, err := clientTransportFor(scheme, authority)
		if err != nil {
			return nil, err
		}
		conf.Transport = t
	}
	return NewChannel(conf), nil
}

// Bind constructs a server on the given scheme and address, lets the
// registration callback attach services, and starts serving in the
// background. The returned handle is already listening; startup failures
// are reported here, not later.
func Bind(scheme, address string, conf ServerConfig, register func(*Server)) (*Server, error) {
	if conf.Transport == nil {
		t, err := serverTransportFor(scheme, address)
		if err != nil {
			return nil, err
		}
		conf.Transport = t
	}
	s := NewServer(conf)
	if register != nil {
		register(s)
	}
	if err := s.start(); err != nil {
		return nil, err
	}
	go func() {
		if err := s.serve(); err != nil {
			s.handleError(err)
		}
	}()
	return s, nil
}
