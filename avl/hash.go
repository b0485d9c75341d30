package avl

import (
	"hash"

	"golang.org/x/crypto/blake2b"
)

const (
	leafTag     = 0x00
	internalTag = 0x01
)

// NewHasher returns the default hash primitive, Blake2b-256.
//
// Any hash.Hash with a 32 byte output may be used instead; prover and
// verifier must agree on the primitive or every digest comparison fails.
func NewHasher() hash.Hash {
	h, err := blake2b.New256(nil)
	if err != nil {
		// blake2b.New256 only fails for over-long keys; we pass none.
		panic(err)
	}
	return h
}

// HashValue computes the fixed width commitment to a (variable length) value.
func HashValue(hasher hash.Hash, value []byte) ([LabelBytes]byte, error) {
	hasher.Reset()
	_, _ = hasher.Write(value)
	return hashSum(hasher)
}

// HashLeaf computes:
//
//	H( 0x00 || 0x00 || key || nextKey || valueHash[32] )
//
// The second byte is the leaf height, which is zero by definition; it is
// framed explicitly so leaf and internal preimages share a layout.
func HashLeaf(hasher hash.Hash, key, nextKey []byte, valueHash [LabelBytes]byte) ([LabelBytes]byte, error) {
	hasher.Reset()
	_, _ = hasher.Write([]byte{leafTag, 0x00})
	_, _ = hasher.Write(key)
	_, _ = hasher.Write(nextKey)
	_, _ = hasher.Write(valueHash[:])
	return hashSum(hasher)
}

// HashInternal computes:
//
//	H( 0x01 || balance+1 || height || leftLabel[32] || rightLabel[32] )
//
// balance is height(right) - height(left) and must be in {-1, 0, +1}.
func HashInternal(hasher hash.Hash, balance int8, height uint8, left, right [LabelBytes]byte) ([LabelBytes]byte, error) {
	hasher.Reset()
	_, _ = hasher.Write([]byte{internalTag, byte(balance + 1), height})
	_, _ = hasher.Write(left[:])
	_, _ = hasher.Write(right[:])
	return hashSum(hasher)
}

func hashSum(hasher hash.Hash) ([LabelBytes]byte, error) {
	var out [LabelBytes]byte
	sum := hasher.Sum(out[:0])
	if len(sum) != LabelBytes {
		return [LabelBytes]byte{}, ErrBadHashSize
	}
	copy(out[:], sum)
	return out, nil
}

// negInfKey and posInfKey bound the sentinel interval. Both are reserved:
// operations on either fail with ErrReservedKey.
func negInfKey(keyBytes int) []byte {
	return make([]byte, keyBytes)
}

func posInfKey(keyBytes int) []byte {
	k := make([]byte, keyBytes)
	for i := range k {
		k[i] = 0xFF
	}
	return k
}

func isReservedKey(key []byte) bool {
	allZero, allOnes := true, true
	for _, b := range key {
		if b != 0x00 {
			allZero = false
		}
		if b != 0xFF {
			allOnes = false
		}
	}
	return allZero || allOnes
}

// EmptyDigest returns the fixed digest committed to by a tree holding no
// keys: the label of the sentinel leaf spanning the whole key space, with a
// zero height byte.
func EmptyDigest(hasher hash.Hash, keyBytes int) (Digest, error) {
	vh, err := HashValue(hasher, nil)
	if err != nil {
		return Digest{}, err
	}
	label, err := HashLeaf(hasher, negInfKey(keyBytes), posInfKey(keyBytes), vh)
	if err != nil {
		return Digest{}, err
	}
	return newDigest(label, 0), nil
}

// Digest is the 33 byte commitment to a tree's full content: root label
// followed by the tree height.
type Digest [DigestBytes]byte

func newDigest(label [LabelBytes]byte, height uint8) Digest {
	var d Digest
	copy(d[:LabelBytes], label[:])
	d[LabelBytes] = height
	return d
}

// Label returns the root label portion of the digest.
func (d Digest) Label() [LabelBytes]byte {
	var l [LabelBytes]byte
	copy(l[:], d[:LabelBytes])
	return l
}

// Height returns the tree height recorded in the digest.
func (d Digest) Height() uint8 {
	return d[LabelBytes]
}
