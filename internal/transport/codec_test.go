package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artemis/flowmod/internal/wire"
)

func TestJSONFrameCodecMarshalUnmarshalRoundTrip(t *testing.T) {
	codec := jsonFrameCodec{}
	in, err := wire.Wrap(wire.KindAcknowledge, wire.Acknowledge{Envelope: wire.Envelope{ModID: 3}})
	require.NoError(t, err)

	data, err := codec.Marshal(&in)
	require.NoError(t, err)

	var out wire.Frame
	require.NoError(t, codec.Unmarshal(data, &out))
	assert.Equal(t, in.Kind, out.Kind)
}

func TestJSONFrameCodecRejectsNonFrameMarshal(t *testing.T) {
	codec := jsonFrameCodec{}
	_, err := codec.Marshal("not a frame")
	assert.Error(t, err)
}

func TestJSONFrameCodecRejectsNonFrameUnmarshal(t *testing.T) {
	codec := jsonFrameCodec{}
	var notAFrame string
	err := codec.Unmarshal([]byte("{}"), &notAFrame)
	assert.Error(t, err)
}

func TestJSONFrameCodecName(t *testing.T) {
	assert.Equal(t, codecName, jsonFrameCodec{}.Name())
}
