package rpc

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/kestrelrpc/kestrel/pkg/transport"
)

// Metadata is the string-keyed call metadata exchanged at stream open.
type Metadata map[string]string

func (m Metadata) Get(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

func (m Metadata) Set(key, value string) {
	m[key] = value
}

type metadataKey struct{}

func NewContextWithMetadata(ctx context.Context, metadata Metadata) context.Context {
	return context.WithValue(ctx, metadataKey{}, metadata)
}

func AppendMetadataToContext(ctx context.Context, metadata Metadata) context.Context {
	existing := GetMetadataFromContext(ctx)
	if existing == nil {
		return NewContextWithMetadata(ctx, metadata)
	}
	merged := make(Metadata, len(existing)+len(metadata))
	for k, v := range existing {
		merged[k] = v
	}
	for k, v := range metadata {
		merged[k] = v
	}
	return NewContextWithMetadata(ctx, merged)
}

func GetMetadataFromContext(ctx context.Context) Metadata {
	if v := ctx.Value(metadataKey{}); v != nil {
		if md, ok := v.(Metadata); ok {
			return md
		}
	}
	return nil
}

func isReservedKey(key string) bool {
	return strings.HasPrefix(key, reservedKestrelPrefix) || strings.HasPrefix(key, reservedStatusPrefix)
}

// headerFromContext merges outgoing metadata and the deadline, if any, into
// a stream-open header. Reserved keys in user metadata are dropped.
func headerFromContext(ctx context.Context, path, codecName string) transport.Header {
	hdr := transport.Header{}
	for k, v := range GetMetadataFromContext(ctx) {
		if !isReservedKey(k) {
			hdr.Set(k, v)
		}
	}
	hdr.Set(PathKey, path)
	hdr.Set(CodecKey, codecName)
	if deadline, ok := ctx.Deadline(); ok {
		ms := time.Until(deadline).Milliseconds()
		if ms < 1 {
			ms = 1
		}
		hdr.Set(TimeoutKey, strconv.FormatInt(ms, 10))
	}
	return hdr
}

// contextFromHeader rebuilds the handler context from a stream-open header:
// user metadata re-attached, advertised timeout applied as a deadline.
func contextFromHeader(parent context.Context, hdr transport.Header) (context.Context, context.CancelFunc) {
	md := Metadata{}
	for k, v := range hdr {
		if !isReservedKey(k) {
			md[k] = v
		}
	}
	ctx := parent
	if len(md) > 0 {
		ctx = NewContextWithMetadata(ctx, md)
	}

	if raw := hdr.Get(TimeoutKey); raw != "" {
		if ms, err := strconv.ParseInt(raw, 10, 64); err == nil && ms > 0 {
			return context.WithTimeout(ctx, time.Duration(ms)*time.Millisecond)
		}
	}
	return context.WithCancel(ctx)
}
