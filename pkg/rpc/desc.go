package rpc

import "context"

// Cardinality marks a method's streaming shape. Only unary-unary methods
// are executable; the other markers exist so generated descriptors can
// declare them and be rejected explicitly rather than misrouted.
type Cardinality uint8

const (
	UnaryUnary Cardinality = iota
	ClientStream
	ServerStream
	BidiStream
)

func (c Cardinality) String() string {
	switch c {
	case UnaryUnary:
		return "unary-unary"
	case ClientStream:
		return "client-stream"
	case ServerStream:
		return "server-stream"
	case BidiStream:
		return "bidi-stream"
	default:
		return "unknown"
	}
}

// MethodHandler invokes one method on a service instance owned by a worker.
type MethodHandler func(svc interface{}, ctx context.Context, req interface{}) (interface{}, error)

// MethodDesc is the generated-schema metadata for one method.
type MethodDesc struct {
	// Path is the routing key, verbatim "<Service>/<Method>".
	Path string

	Cardinality Cardinality

	// NewInput returns a fresh decode target for the request payload.
	NewInput func() interface{}

	Handler MethodHandler
}

// ServiceDesc is the generated-schema metadata for one service.
type ServiceDesc struct {
	Name    string
	Methods []MethodDesc
}

// InstanceFactory produces one handler instance for one worker. Instances
// are never shared between workers; state held by an instance is scoped to
// it alone.
type InstanceFactory func() (interface{}, error)
