package rpc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderFromContextCarriesMetadata(t *testing.T) {
	ctx := NewContextWithMetadata(context.Background(), Metadata{
		"token":          "1234",
		"kestrel-bogus":  "dropped",
		"grpc-something": "dropped",
	})

	hdr := headerFromContext(ctx, "Echo/Say", "json")
	assert.Equal(t, "Echo/Say", hdr.Get(PathKey))
	assert.Equal(t, "json", hdr.Get(CodecKey))
	assert.Equal(t, "1234", hdr.Get("token"))
	assert.Empty(t, hdr.Get("kestrel-bogus"))
	assert.Empty(t, hdr.Get("grpc-something"))
	assert.Empty(t, hdr.Get(TimeoutKey))
}

func TestHeaderFromContextAdvertisesDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	hdr := headerFromContext(ctx, "Echo/Say", "json")
	require.NotEmpty(t, hdr.Get(TimeoutKey))
}

func TestContextFromHeaderRoundTrip(t *testing.T) {
	ctx := NewContextWithMetadata(context.Background(), Metadata{"token": "1234"})
	hdr := headerFromContext(ctx, "Echo/Say", "json")

	got, cancel := contextFromHeader(context.Background(), hdr)
	defer cancel()

	md := GetMetadataFromContext(got)
	require.NotNil(t, md)
	v, ok := md.Get("token")
	require.True(t, ok)
	assert.Equal(t, "1234", v)

	// Routing keys never leak into handler metadata.
	_, ok = md.Get(PathKey)
	assert.False(t, ok)

	_, hasDeadline := got.Deadline()
	assert.False(t, hasDeadline)
}

func TestContextFromHeaderAppliesTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	hdr := headerFromContext(ctx, "Echo/Say", "json")

	got, gotCancel := contextFromHeader(context.Background(), hdr)
	defer gotCancel()

	deadline, ok := got.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(500*time.Millisecond), deadline, 100*time.Millisecond)
}

func TestAppendMetadataMerges(t *testing.T) {
	ctx := NewContextWithMetadata(context.Background(), Metadata{"a": "1", "b": "2"})
	ctx = AppendMetadataToContext(ctx, Metadata{"b": "3", "c": "4"})

	md := GetMetadataFromContext(ctx)
	assert.Equal(t, Metadata{"a": "1", "b": "3", "c": "4"}, md)
}
