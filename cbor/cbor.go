// Package cbor provides a deterministic CBOR codec so that encodings of the
// same state are byte stable across processes and releases.
package cbor

import (
	"github.com/fxamacker/cbor/v2"
)

type CBORCodec struct {
	encMode cbor.EncMode
	decMode cbor.DecMode
}

func NewCBORCodec(encOpts cbor.EncOptions, decOpts cbor.DecOptions) (CBORCodec, error) {
	c := CBORCodec{}
	var err error
	if c.encMode, err = encOpts.EncMode(); err != nil {
		return CBORCodec{}, err
	}
	if c.decMode, err = decOpts.DecMode(); err != nil {
		return CBORCodec{}, err
	}
	return c, nil
}

// NewDeterministicCodec returns a codec using the deterministic options.
func NewDeterministicCodec() (CBORCodec, error) {
	return NewCBORCodec(NewDeterministicEncOpts(), NewDeterministicDecOpts())
}

func (c CBORCodec) MarshalCBOR(v any) ([]byte, error) {
	return c.encMode.Marshal(v)
}

func (c CBORCodec) UnmarshalCBOR(data []byte, v any) error {
	return c.decMode.Unmarshal(data, v)
}

// NewDeterministicEncOpts returns the core deterministic encoding profile.
func NewDeterministicEncOpts() cbor.EncOptions {
	return cbor.CoreDetEncOptions()
}

// NewDeterministicDecOpts returns decode options matching the deterministic
// profile. Unsigned integers decode to uint64.
func NewDeterministicDecOpts() cbor.DecOptions {
	return cbor.DecOptions{
		IntDec: cbor.IntDecConvertNone,
	}
}
