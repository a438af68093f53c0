package transport

import (
	"fmt"

	"github.com/artemis/flowmod/internal/wire"
)

// codecName is advertised in the gRPC content-subtype so a mismatched
// peer fails fast instead of silently trying to parse JSON as protobuf.
const codecName = "flowmod-json-v1"

// jsonFrameCodec marshals wire.Frame as a one-byte protocol version
// followed by JSON, via grpc.ForceServerCodec/grpc.ForceCodec, instead of
// the protobuf wire format. HTTP/2 already delimits message boundaries,
// so unlike wire.WriteFrame there is no length prefix here.
type jsonFrameCodec struct{}

func (jsonFrameCodec) Name() string { return codecName }

func (jsonFrameCodec) Marshal(v any) ([]byte, error) {
	frame, ok := v.(*wire.Frame)
	if !ok {
		return nil, fmt.Errorf("transport: codec cannot marshal %T, only *wire.Frame", v)
	}
	return wire.EncodeBody(frame)
}

func (jsonFrameCodec) Unmarshal(data []byte, v any) error {
	frame, ok := v.(*wire.Frame)
	if !ok {
		return fmt.Errorf("transport: codec cannot unmarshal into %T, only *wire.Frame", v)
	}
	return wire.DecodeBody(data, frame)
}
