// Package keyfilter implements a serializable Bloom filter over dictionary
// keys. A prover publishes a filter beside its digest so that clients can
// screen out definitely-absent keys locally instead of paying for an absence
// proof. False positives cost one redundant lookup; false negatives cannot
// occur for keys present when the filter was built.
package keyfilter

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
)

const (
	magicV1   = "KFL1"
	versionV1 = 1

	// headerBytes is the fixed serialized header size. Trailing header bytes
	// are reserved and must be zero.
	headerBytes = 16

	filterDomainV1 = 0xD1
)

var (
	ErrBadSizing      = errors.New("keyfilter: sizing parameters invalid")
	ErrSizeOverflow   = errors.New("keyfilter: filter size overflows supported range")
	ErrBadRegionSize  = errors.New("keyfilter: region buffer too small")
	ErrBadMagic       = errors.New("keyfilter: header magic invalid")
	ErrBadVersion     = errors.New("keyfilter: header version invalid")
	ErrBadK           = errors.New("keyfilter: header hash count invalid")
	ErrReservedHeader = errors.New("keyfilter: reserved header bytes not zero")
)

// Filter is an in-memory view over a region: a fixed header followed by the
// bitset. Marshal returns the region; Unmarshal accepts one produced by any
// compatible implementation.
type Filter struct {
	region   []byte
	k        uint8
	mBits    uint64
	inserted uint32
}

// New sizes a filter for expectedKeys at bitsPerKey bits each, probing k
// positions per key. With bitsPerKey 10 and k 7 the false positive rate is
// under one percent at the expected load.
func New(expectedKeys, bitsPerKey uint64, k uint8) (*Filter, error) {
	if expectedKeys == 0 || bitsPerKey == 0 || k == 0 {
		return nil, ErrBadSizing
	}
	mBits := expectedKeys * bitsPerKey
	if mBits/bitsPerKey != expectedKeys || mBits > uint64(^uint32(0)) {
		return nil, ErrSizeOverflow
	}
	region := make([]byte, headerBytes+bitsetBytes(mBits))
	f := &Filter{region: region, k: k, mBits: mBits}
	f.encodeHeader()
	return f, nil
}

// Unmarshal validates a serialized region and returns a filter over it. The
// region is not copied; the caller must not alias it afterwards.
func Unmarshal(region []byte) (*Filter, error) {
	if len(region) < headerBytes {
		return nil, ErrBadRegionSize
	}
	if string(region[0:4]) != magicV1 {
		return nil, ErrBadMagic
	}
	if region[4] != versionV1 {
		return nil, ErrBadVersion
	}
	k := region[5]
	if k == 0 {
		return nil, ErrBadK
	}
	mBits := uint64(binary.BigEndian.Uint32(region[6:10]))
	if mBits == 0 {
		return nil, ErrBadSizing
	}
	inserted := binary.BigEndian.Uint32(region[10:14])
	if region[14] != 0 || region[15] != 0 {
		return nil, ErrReservedHeader
	}
	if uint64(len(region)) < headerBytes+uint64(bitsetBytes(mBits)) {
		return nil, ErrBadRegionSize
	}
	return &Filter{region: region, k: k, mBits: mBits, inserted: inserted}, nil
}

// Marshal returns the filter's serialized region.
func (f *Filter) Marshal() []byte {
	f.encodeHeader()
	return f.region
}

// Inserted returns the number of keys added so far.
func (f *Filter) Inserted() uint32 {
	return f.inserted
}

// Insert adds a key of any width.
func (f *Filter) Insert(key []byte) {
	h1, h2 := f.hashPair(key)
	bitset := f.region[headerBytes:]
	for i := uint64(0); i < uint64(f.k); i++ {
		j := (h1 + i*h2) % f.mBits
		bitset[j>>3] |= 1 << uint8(j&7)
	}
	f.inserted++
}

// MayContain reports false only when the key was definitely never inserted.
func (f *Filter) MayContain(key []byte) bool {
	h1, h2 := f.hashPair(key)
	bitset := f.region[headerBytes:]
	for i := uint64(0); i < uint64(f.k); i++ {
		j := (h1 + i*h2) % f.mBits
		if bitset[j>>3]&(1<<uint8(j&7)) == 0 {
			return false
		}
	}
	return true
}

// hashPair derives the double hashing pair from SHA-256(0xD1 || key). Probe i
// lands on (h1 + i*h2) mod mBits; h2 is forced odd-equivalent nonzero so the
// probes do not collapse onto one position.
func (f *Filter) hashPair(key []byte) (uint64, uint64) {
	h := sha256.New()
	h.Write([]byte{filterDomainV1})
	h.Write(key)
	sum := h.Sum(nil)
	h1 := binary.BigEndian.Uint64(sum[0:8])
	h2 := binary.BigEndian.Uint64(sum[8:16])
	if h2 == 0 {
		h2 = 1
	}
	return h1, h2
}

func (f *Filter) encodeHeader() {
	copy(f.region[0:4], magicV1)
	f.region[4] = versionV1
	f.region[5] = f.k
	binary.BigEndian.PutUint32(f.region[6:10], uint32(f.mBits))
	binary.BigEndian.PutUint32(f.region[10:14], f.inserted)
	f.region[14], f.region[15] = 0, 0
}

func bitsetBytes(mBits uint64) uint32 {
	return uint32((mBits + 7) / 8)
}
