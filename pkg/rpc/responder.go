package rpc

import (
	"errors"
	"sync"

	"github.com/kestrelrpc/kestrel/pkg/frame"
	"github.com/kestrelrpc/kestrel/pkg/status"
	"github.com/kestrelrpc/kestrel/pkg/transport"
)

// ErrAlreadyResponded is returned by a Responder whose single use has been
// consumed. The first response always wins; a second attempt changes
// nothing on the wire.
var ErrAlreadyResponded = errors.New("response already sent for this request")

// Responder is the single-use handle through which exactly one response is
// written per accepted request. Writing twice is prevented structurally:
// the handle consumes itself on first use.
type Responder struct {
	server *Server
	stream transport.Stream
	once   sync.Once
}

// Send encodes resp and writes it followed by an OK trailer. If encoding
// fails, the consumed response becomes an INTERNAL status instead.
func (r *Responder) Send(resp interface{}) error {
	return r.respond(func() {
		body, err := r.server.conf.Codec.Marshal(resp)
		if err != nil {
			r.writeTrailer(status.Newf(status.Internal, "failed to encode response: %s", err))
			return
		}
		if err := frame.CheckSize(len(body), r.server.conf.MaxMessageSize); err != nil {
			r.writeTrailer(status.New(status.Internal, err.Error()))
			return
		}
		if _, err := r.stream.Write(frame.Encode(body, false)); err != nil {
			// Stream already gone, usually a racing cancellation. The
			// result is discarded rather than sent.
			r.server.logDebug("failed to write response: " + err.Error())
			return
		}
		r.writeTrailer(status.New(status.OK, ""))
	})
}

// Fail consumes the handle with a non-OK status trailer.
func (r *Responder) Fail(st *status.Status) error {
	return r.respond(func() {
		r.writeTrailer(st)
	})
}

func (r *Responder) respond(fn func()) error {
	responded := false
	r.once.Do(func() {
		responded = true
		fn()
	})
	if !responded {
		return ErrAlreadyResponded
	}
	return nil
}

func (r *Responder) writeTrailer(st *status.Status) {
	if err := r.stream.CloseWithTrailer(transport.Header(st.ToTrailer())); err != nil {
		r.server.logDebug("failed to write trailer: " + err.Error())
	}
}
