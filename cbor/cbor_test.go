package cbor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	A uint64 `cbor:"1,keyasint"`
	B []byte `cbor:"2,keyasint"`
	C string `cbor:"3,keyasint"`
}

func TestCBORCodec_deterministicRoundTrip(t *testing.T) {
	codec, err := NewDeterministicCodec()
	require.NoError(t, err)

	in := payload{A: 42, B: []byte{0x01, 0x02}, C: "hello"}
	b1, err := codec.MarshalCBOR(in)
	require.NoError(t, err)
	b2, err := codec.MarshalCBOR(in)
	require.NoError(t, err)
	assert.Equal(t, b1, b2, "equal values must encode to equal bytes")

	var out payload
	require.NoError(t, codec.UnmarshalCBOR(b1, &out))
	assert.Equal(t, in, out)
}

func TestCBORCodec_rejectsGarbage(t *testing.T) {
	codec, err := NewDeterministicCodec()
	require.NoError(t, err)

	var out payload
	assert.Error(t, codec.UnmarshalCBOR([]byte{0xff, 0x00}, &out))
}
