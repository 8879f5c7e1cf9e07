package rpc

// Reserved stream-header keys. User metadata shares the header map but may
// not use the kestrel- or grpc- prefixes.
const (
	// PathKey carries the routing key, verbatim "<Service>/<Method>".
	PathKey = "kestrel-path"

	// TimeoutKey advertises the caller's deadline as milliseconds remaining.
	TimeoutKey = "kestrel-timeout-ms"

	// CodecKey names the payload codec used by the caller.
	CodecKey = "kestrel-codec"
)

const reservedKestrelPrefix = "kestrel-"
const reservedStatusPrefix = "grpc-"

// Dispatcher and pool defaults, overridable per config.
const (
	DefaultPoolSize = 8
	DefaultBacklog  = 128
)
