package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/kestrelrpc/kestrel/pkg/frame"
	"github.com/kestrelrpc/kestrel/pkg/log"
	"github.com/kestrelrpc/kestrel/pkg/status"
	"github.com/kestrelrpc/kestrel/pkg/transport"
)

// Server accepts inbound streams, routes each by its declared path to a
// registered method, and dispatches execution across a fixed worker pool.
// Every accepted stream receives exactly one response: a message frame plus
// an OK trailer, or a bare status trailer.
type Server struct {
	conf      ServerConfig
	transport transport.ServerTransport
	pool      *Pool

	methods    map[string]*methodReg
	factories  map[string]InstanceFactory
	middleware []Middleware

	mu      sync.Mutex
	running bool
}

type methodReg struct {
	service string
	desc    MethodDesc
}

type ServerConfig struct {
	Transport transport.ServerTransport

	// Codec decodes requests and encodes responses; JSONCodec by default.
	Codec Codec

	// PoolSize is the worker count; DefaultPoolSize when zero.
	PoolSize int

	// Backlog bounds queued requests beyond the executing workers;
	// DefaultBacklog when zero.
	Backlog int

	// MaxMessageSize bounds a single message payload in either direction;
	// frame.DefaultMaxMessageSize when zero.
	MaxMessageSize uint32

	ErrHandler func(error)
	Logger     log.Logger
}

func NewServer(conf ServerConfig) *Server {
	if conf.Codec == nil {
		conf.Codec = JSONCodec{}
	}
	if conf.MaxMessageSize == 0 {
		conf.MaxMessageSize = frame.DefaultMaxMessageSize
	}
	return &Server{
		conf:      conf,
		transport: conf.Transport,
		pool:      NewPool(PoolConfig{Size: conf.PoolSize, Backlog: conf.Backlog}),
		methods:   make(map[string]*methodReg),
		factories: make(map[string]InstanceFactory),
	}
}

// Register binds a service description and its instance factory. It must
// be called before ListenAndServe; a duplicate service or path, or a
// non-unary method, is a construction-time error and panics.
func (s *Server) Register(desc ServiceDesc, factory InstanceFactory) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		panic("cannot register services on a running server")
	}
	if _, ok := s.factories[desc.Name]; ok {
		panic(fmt.Sprintf("service %q already registered", desc.Name))
	}
	for _, m := range desc.Methods {
		if m.Cardinality != UnaryUnary {
			panic(fmt.Sprintf("method %q is %s: only unary-unary methods are supported", m.Path, m.Cardinality))
		}
		if _, ok := s.methods[m.Path]; ok {
			panic(fmt.Sprintf("path %q already registered", m.Path))
		}
	}
	for _, m := range desc.Methods {
		s.methods[m.Path] = &methodReg{service: desc.Name, desc: m}
	}
	s.factories[desc.Name] = factory
}

// Middleware appends server-side middleware, run around every handler.
func (s *Server) Middleware(m Middleware) {
	s.middleware = append(s.middleware, m)
}

func (s *Server) handleError(err error) {
	s.logError("encountered error: " + err.Error())
	if s.conf.ErrHandler != nil {
		s.conf.ErrHandler(err)
	}
}

func (s *Server) logDebug(msg string) {
	if s.conf.Logger != nil {
		s.conf.Logger.Debug(msg)
	}
}

func (s *Server) logInfo(msg string) {
	if s.conf.Logger != nil {
		s.conf.Logger.Info(msg)
	}
}

func (s *Server) logError(msg string) {
	if s.conf.Logger != nil {
		s.conf.Logger.Error(msg)
	}
}

// start creates the worker instances and begins listening. Instance
// creation failure is fatal and reported here, before the transport starts
// listening.
func (s *Server) start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server is already running")
	}
	s.running = true
	s.mu.Unlock()

	if err := s.pool.Start(s.factories); err != nil {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return err
	}

	if err := s.transport.Listen(); err != nil {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return err
	}

	s.logInfo("server listening")
	return nil
}

// ListenAndServe starts the server and accepts streams until shutdown.
func (s *Server) ListenAndServe() error {
	if err := s.start(); err != nil {
		return err
	}
	return s.serve()
}

func (s *Server) serve() error {
	for {
		stream, err := s.transport.Accept()
		if err != nil {
			if errors.Is(err, transport.ErrClosed) {
				return nil
			}
			s.handleError(err)
			continue
		}
		// Per-stream work runs off the accept path so a slow peer cannot
		// stall stream intake.
		go s.handleStream(stream)
	}
}

func (s *Server) handleStream(stream transport.Stream) {
	hdr := stream.Header()
	path := hdr.Get(PathKey)

	reg, ok := s.methods[path]
	if !ok {
		// No payload is read for an unmatched path.
		s.finish(stream, status.Newf(status.Unimplemented, "unknown path %q", path))
		return
	}

	body, compressed, err := s.readRequest(stream)
	if err != nil {
		var fe *frame.FramingError
		switch {
		case errors.As(err, &fe):
			s.finish(stream, status.New(status.Internal, fe.Error()))
		default:
			// The stream is gone; nothing useful can be written back.
			stream.Reset(err)
		}
		return
	}
	if compressed {
		s.finish(stream, status.New(status.Internal, "compressed request but no decompressor configured"))
		return
	}

	req := reg.desc.NewInput()
	if err := s.conf.Codec.Unmarshal(body, req); err != nil {
		s.finish(stream, status.Newf(status.InvalidArgument, "failed to decode request: %s", err))
		return
	}

	ctx, cancel := contextFromHeader(stream.Context(), hdr)
	r := &Responder{server: s, stream: stream}

	_, err = s.pool.Submit(reg.service, func(svc interface{}) {
		defer cancel()
		s.runHandler(ctx, reg, svc, req, r)
	})
	switch {
	case errors.Is(err, ErrBacklogFull):
		cancel()
		s.finish(stream, status.New(status.ResourceExhausted, "server backlog full"))
	case errors.Is(err, ErrPoolDraining):
		cancel()
		s.finish(stream, status.New(status.Unavailable, "server draining"))
	}
}

// readRequest decodes the single request frame.
func (s *Server) readRequest(stream transport.Stream) ([]byte, bool, error) {
	dec := frame.NewDecoder(stream, s.conf.MaxMessageSize)
	body, compressed, err := dec.Next()
	if err == io.EOF {
		return nil, false, &frame.FramingError{Reason: "stream half-closed before any request frame"}
	}
	if err != nil {
		return nil, false, err
	}
	return body, compressed, nil
}

// runHandler executes the method on the worker's service instance. A
// handler error that is not already a Status is wrapped as INTERNAL; a
// panic is caught the same way so a failing handler never poisons its
// worker.
func (s *Server) runHandler(ctx context.Context, reg *methodReg, svc interface{}, req interface{}, r *Responder) {
	defer func() {
		if p := recover(); p != nil {
			s.logError(fmt.Sprintf("handler for %s panicked: %v", reg.desc.Path, p))
			_ = r.Fail(status.Newf(status.Internal, "handler panic: %v", p))
		}
	}()

	final := func(ctx context.Context, req interface{}) (interface{}, error) {
		return reg.desc.Handler(svc, ctx, req)
	}
	resp, err := ApplyHandlerChain(ctx, req, s.middleware, final)
	if err != nil {
		_ = r.Fail(status.FromError(err))
		return
	}
	if err := r.Send(resp); err != nil && !errors.Is(err, ErrAlreadyResponded) {
		s.handleError(err)
	}
}

// finish writes a bare status trailer and closes the stream; used for
// failures before or instead of handler execution.
func (s *Server) finish(stream transport.Stream, st *status.Status) {
	if err := stream.CloseWithTrailer(transport.Header(st.ToTrailer())); err != nil {
		s.logDebug("failed to write trailer: " + err.Error())
	}
}

// Shutdown stops accepting streams, then drains the worker pool so
// in-flight handlers finish.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	if err := s.transport.Close(); err != nil {
		return err
	}
	return s.pool.Drain(ctx)
}
