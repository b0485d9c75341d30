package avlmap

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"github.com/forestrie/go-avltree/cbor"
)

var ErrKeyEncoding = errors.New("avlmap: key encoding failed")

// KeyCodec turns application keys into the tree's fixed-width byte keys. The
// encoding must be injective over the keys an application uses; the hashed
// codecs rely on collision resistance for that.
type KeyCodec[K any] interface {
	KeyBytes() int
	EncodeKey(K) ([]byte, error)
}

// ValueCodec turns application values into the opaque bytes the tree stores.
type ValueCodec[V any] interface {
	EncodeValue(V) ([]byte, error)
	DecodeValue([]byte) (V, error)
}

// RawKeyCodec passes fixed-width byte keys through unchanged.
type RawKeyCodec struct {
	Width int
}

func (c RawKeyCodec) KeyBytes() int { return c.Width }

func (c RawKeyCodec) EncodeKey(k []byte) ([]byte, error) {
	if len(k) != c.Width {
		return nil, fmt.Errorf("%w: want %d bytes, got %d", ErrKeyEncoding, c.Width, len(k))
	}
	return k, nil
}

// HashedStringKeyCodec maps arbitrary strings onto 32 byte keys by hashing.
type HashedStringKeyCodec struct{}

func (HashedStringKeyCodec) KeyBytes() int { return blake2b.Size256 }

func (HashedStringKeyCodec) EncodeKey(k string) ([]byte, error) {
	sum := blake2b.Sum256([]byte(k))
	return sum[:], nil
}

// RawValueCodec passes byte values through unchanged.
type RawValueCodec struct{}

func (RawValueCodec) EncodeValue(v []byte) ([]byte, error) { return v, nil }

func (RawValueCodec) DecodeValue(b []byte) ([]byte, error) { return b, nil }

// StringValueCodec stores string values as their utf-8 bytes.
type StringValueCodec struct{}

func (StringValueCodec) EncodeValue(v string) ([]byte, error) { return []byte(v), nil }

func (StringValueCodec) DecodeValue(b []byte) (string, error) { return string(b), nil }

// CBORValueCodec stores values as deterministic CBOR, so that equal values
// always produce equal bytes and therefore equal digests.
type CBORValueCodec[V any] struct {
	codec cbor.CBORCodec
}

func NewCBORValueCodec[V any]() (CBORValueCodec[V], error) {
	codec, err := cbor.NewDeterministicCodec()
	if err != nil {
		return CBORValueCodec[V]{}, err
	}
	return CBORValueCodec[V]{codec: codec}, nil
}

func (c CBORValueCodec[V]) EncodeValue(v V) ([]byte, error) {
	return c.codec.MarshalCBOR(v)
}

func (c CBORValueCodec[V]) DecodeValue(b []byte) (V, error) {
	var v V
	err := c.codec.UnmarshalCBOR(b, &v)
	return v, err
}
