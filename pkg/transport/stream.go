package transport

import (
	"context"
	"errors"
	"io"
	"sync"
)

// muxStream is the Stream implementation shared by every mux-based backend.
type muxStream struct {
	id  uint32
	m   *mux
	hdr Header

	ctx    context.Context
	cancel context.CancelFunc

	recvCh    chan []byte
	trailerCh chan Header

	// closed when no further DATA will arrive (half-close, trailer, reset)
	recvDone  chan struct{}
	recvOnce  sync.Once
	// closed on abnormal termination; termErr set before close
	term     chan struct{}
	termOnce sync.Once
	termErr  error

	leftover []byte

	mu         sync.Mutex
	sendClosed bool
	finished   bool
}

func newMuxStream(id uint32, m *mux, hdr Header) *muxStream {
	ctx, cancel := context.WithCancel(context.Background())
	return &muxStream{
		id:        id,
		m:         m,
		hdr:       hdr,
		ctx:       ctx,
		cancel:    cancel,
		recvCh:    make(chan []byte, recvBufferDepth),
		trailerCh: make(chan Header, 1),
		recvDone:  make(chan struct{}),
		term:      make(chan struct{}),
	}
}

func (s *muxStream) Context() context.Context {
	return s.ctx
}

func (s *muxStream) Header() Header {
	return s.hdr
}

// pushData is called from the demux loop. It backpressures the connection
// when the stream's buffer is full and the application is not reading.
func (s *muxStream) pushData(bs []byte) {
	data := make([]byte, len(bs))
	copy(data, bs)
	select {
	case s.recvCh <- data:
	case <-s.recvDone:
	}
}

func (s *muxStream) pushEOF() {
	s.recvOnce.Do(func() { close(s.recvDone) })
}

func (s *muxStream) pushTrailer(payload []byte) {
	hdr, err := DecodeHeader(payload)
	if err != nil {
		s.pushReset(err)
		return
	}
	select {
	case s.trailerCh <- hdr:
	default:
	}
	s.pushEOF()
	s.cancel()
}

func (s *muxStream) pushReset(err error) {
	s.termOnce.Do(func() {
		s.termErr = err
		close(s.term)
	})
	s.pushEOF()
	s.cancel()
}

func (s *muxStream) Read(p []byte) (int, error) {
	for {
		if len(s.leftover) > 0 {
			n := copy(p, s.leftover)
			s.leftover = s.leftover[n:]
			return n, nil
		}

		// Buffered chunks are consumed before any termination signal so
		// data that raced a clean close is not lost.
		select {
		case bs := <-s.recvCh:
			s.leftover = bs
			continue
		default:
		}

		select {
		case bs := <-s.recvCh:
			s.leftover = bs
		case <-s.recvDone:
			select {
			case bs := <-s.recvCh:
				s.leftover = bs
				continue
			default:
			}
			select {
			case <-s.term:
				return 0, s.termErr
			default:
			}
			return 0, io.EOF
		}
	}
}

func (s *muxStream) Write(p []byte) (int, error) {
	s.mu.Lock()
	closed := s.sendClosed || s.finished
	s.mu.Unlock()
	if closed {
		return 0, errors.New("stream send direction closed")
	}
	select {
	case <-s.term:
		return 0, s.termErr
	default:
	}
	if err := s.m.send(muxFrameData, s.id, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (s *muxStream) CloseSend() error {
	s.mu.Lock()
	if s.sendClosed || s.finished {
		s.mu.Unlock()
		return nil
	}
	s.sendClosed = true
	s.mu.Unlock()
	return s.m.send(muxFrameHalfClose, s.id, nil)
}

func (s *muxStream) CloseWithTrailer(trailer Header) error {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return errors.New("stream already finished")
	}
	s.finished = true
	s.mu.Unlock()

	err := s.m.send(muxFrameTrailer, s.id, EncodeHeader(trailer))
	s.m.remove(s.id)
	s.cancel()
	return err
}

func (s *muxStream) Trailer() (Header, error) {
	select {
	case h := <-s.trailerCh:
		return h, nil
	case <-s.term:
		return nil, s.termErr
	}
}

func (s *muxStream) Reset(err error) {
	if err == nil {
		err = ErrStreamReset
	}
	s.m.sendReset(s.id)
	s.m.remove(s.id)
	s.pushReset(err)
}
