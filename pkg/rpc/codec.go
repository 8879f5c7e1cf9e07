package rpc

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/proto"
)

// Codec translates schema-defined values to and from payload bytes. The
// runtime treats payloads as opaque; the codec is injected by the
// application (normally by generated code).
type Codec interface {
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
	Name() string
}

// ProtoCodec encodes protobuf messages.
type ProtoCodec struct{}

func (ProtoCodec) Marshal(v interface{}) ([]byte, error) {
	m, ok := v.(proto.Message)
	if !ok {
		return nil, fmt.Errorf("proto codec: %T does not implement proto.Message", v)
	}
	return proto.Marshal(m)
}

func (ProtoCodec) Unmarshal(data []byte, v interface{}) error {
	m, ok := v.(proto.Message)
	if !ok {
		return fmt.Errorf("proto codec: %T does not implement proto.Message", v)
	}
	return proto.Unmarshal(data, m)
}

func (ProtoCodec) Name() string { return "proto" }

// JSONCodec encodes values with encoding/json.
type JSONCodec struct{}

func (JSONCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (JSONCodec) Name() string { return "json" }

// RawCodec passes byte slices through untouched. Marshal accepts []byte;
// Unmarshal fills a *[]byte.
type RawCodec struct{}

func (RawCodec) Marshal(v interface{}) ([]byte, error) {
	bs, ok := v.([]byte)
	if !ok {
		return nil, fmt.Errorf("raw codec: want []byte, got %T", v)
	}
	return bs, nil
}

func (RawCodec) Unmarshal(data []byte, v interface{}) error {
	out, ok := v.(*[]byte)
	if !ok {
		return fmt.Errorf("raw codec: want *[]byte, got %T", v)
	}
	*out = append((*out)[:0], data...)
	return nil
}

func (RawCodec) Name() string { return "raw" }
