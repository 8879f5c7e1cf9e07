package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
)

// FrameConn is a connection that carries discrete byte messages in both
// directions. Backends implement this; the mux layers streams on top of it.
// Send must be safe for concurrent use; Receive is called from a single
// goroutine.
type FrameConn interface {
	Send(data []byte) error
	Receive() ([]byte, error)
	Close() error
}

// Mux frame layout: [1 byte type][4 bytes big-endian stream id][payload].
// OPEN and TRAILER payloads are encoded header maps, DATA payloads are raw
// stream bytes, RESET payloads are an optional error string.
const (
	muxFrameOpen      = byte(0x01)
	muxFrameData      = byte(0x02)
	muxFrameHalfClose = byte(0x03)
	muxFrameTrailer   = byte(0x04)
	muxFrameReset     = byte(0x05)

	muxHeaderSize = 5
)

// recvBufferDepth bounds how many unread chunks a stream may hold before
// the demux loop backpressures the whole connection.
const recvBufferDepth = 64

func encodeMuxFrame(typ byte, id uint32, payload []byte) []byte {
	buf := make([]byte, muxHeaderSize+len(payload))
	buf[0] = typ
	binary.BigEndian.PutUint32(buf[1:muxHeaderSize], id)
	copy(buf[muxHeaderSize:], payload)
	return buf
}

type mux struct {
	fc FrameConn

	mu      sync.Mutex
	streams map[uint32]*muxStream
	closed  bool
	err     error

	done   chan struct{}
	accept chan *muxStream // nil on the opening side
	nextID atomic.Uint32
}

func newMux(fc FrameConn, accepting bool) *mux {
	m := &mux{
		fc:      fc,
		streams: make(map[uint32]*muxStream),
		done:    make(chan struct{}),
	}
	if accepting {
		m.accept = make(chan *muxStream, recvBufferDepth)
	}
	go m.run()
	return m
}

// NewClientMux wraps fc as a stream-opening connection.
func NewClientMux(fc FrameConn) ClientConn {
	return &clientMux{mux: newMux(fc, false)}
}

// NewServerMux wraps fc as a stream-accepting connection.
func NewServerMux(fc FrameConn) *ServerMux {
	return &ServerMux{mux: newMux(fc, true)}
}

func (m *mux) run() {
	for {
		bs, err := m.fc.Receive()
		if err != nil {
			m.teardown(err)
			return
		}
		if len(bs) < muxHeaderSize {
			m.teardown(fmt.Errorf("short mux frame: %d bytes", len(bs)))
			return
		}
		typ := bs[0]
		id := binary.BigEndian.Uint32(bs[1:muxHeaderSize])
		payload := bs[muxHeaderSize:]

		switch typ {
		case muxFrameOpen:
			m.handleOpen(id, payload)
		case muxFrameData:
			if s := m.lookup(id); s != nil {
				s.pushData(payload)
			}
		case muxFrameHalfClose:
			if s := m.lookup(id); s != nil {
				s.pushEOF()
			}
		case muxFrameTrailer:
			if s := m.remove(id); s != nil {
				s.pushTrailer(payload)
			}
		case muxFrameReset:
			if s := m.remove(id); s != nil {
				s.pushReset(ErrStreamReset)
			}
		default:
			m.teardown(fmt.Errorf("unexpected mux frame type: %#x", typ))
			return
		}
	}
}

func (m *mux) handleOpen(id uint32, payload []byte) {
	if m.accept == nil {
		// Only the accepting side may be opened against.
		m.sendReset(id)
		return
	}
	hdr, err := DecodeHeader(payload)
	if err != nil {
		m.sendReset(id)
		return
	}
	s := newMuxStream(id, m, hdr)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.streams[id] = s
	m.mu.Unlock()

	select {
	case m.accept <- s:
	case <-m.done:
	}
}

func (m *mux) lookup(id uint32) *muxStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streams[id]
}

func (m *mux) remove(id uint32) *muxStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.streams[id]
	delete(m.streams, id)
	return s
}

func (m *mux) send(typ byte, id uint32, payload []byte) error {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return m.fc.Send(encodeMuxFrame(typ, id, payload))
}

func (m *mux) sendReset(id uint32) {
	_ = m.send(muxFrameReset, id, nil)
}

// teardown marks the connection dead and resets every live stream, exactly
// once.
func (m *mux) teardown(err error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.err = err
	streams := m.streams
	m.streams = make(map[uint32]*muxStream)
	m.mu.Unlock()

	for _, s := range streams {
		s.pushReset(ErrConnLost)
	}
	close(m.done)
	_ = m.fc.Close()
}

type clientMux struct {
	*mux
}

func (c *clientMux) OpenStream(ctx context.Context, header Header) (Stream, error) {
	id := c.nextID.Add(1)
	s := newMuxStream(id, c.mux, header.Clone())

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.streams[id] = s
	c.mu.Unlock()

	if err := c.send(muxFrameOpen, id, EncodeHeader(header)); err != nil {
		c.remove(id)
		return nil, err
	}
	return s, nil
}

func (c *clientMux) Done() <-chan struct{} {
	return c.done
}

func (c *clientMux) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *clientMux) Close() error {
	c.teardown(nil)
	return nil
}

// ServerMux is the accepting end of one multiplexed connection.
type ServerMux struct {
	*mux
}

// AcceptStream blocks until the peer opens a stream, returning ErrClosed
// once the connection is gone.
func (s *ServerMux) AcceptStream() (Stream, error) {
	select {
	case st := <-s.accept:
		return st, nil
	case <-s.done:
		return nil, ErrClosed
	}
}

// Done is closed when the connection terminates.
func (s *ServerMux) Done() <-chan struct{} {
	return s.done
}

// Close tears down the connection and resets all live streams.
func (s *ServerMux) Close() error {
	s.teardown(nil)
	return nil
}
