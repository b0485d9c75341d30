// Package avltesting provides deterministic key/value generation for tests.
// Generators are seeded explicitly so that generated data is the same from
// run to run.
package avltesting

import (
	"math/rand"

	"github.com/forestrie/go-avltree/avl"
)

type KVGenerator struct {
	rng      *rand.Rand
	keyBytes int
	seen     map[string]bool
}

func NewKVGenerator(seed int64, keyBytes int) *KVGenerator {
	return &KVGenerator{
		rng:      rand.New(rand.NewSource(seed)),
		keyBytes: keyBytes,
		seen:     make(map[string]bool),
	}
}

// Key returns a fresh random key: never reserved, never previously issued by
// this generator.
func (g *KVGenerator) Key() []byte {
	for {
		k := make([]byte, g.keyBytes)
		g.rng.Read(k)
		// The all-0x00 and all-0xFF keys are reserved by the tree; the odds
		// of drawing one are negligible but a deterministic generator should
		// not rely on odds.
		if reserved(k) || g.seen[string(k)] {
			continue
		}
		g.seen[string(k)] = true
		return k
	}
}

// Value returns a random value of up to 64 bytes, possibly empty.
func (g *KVGenerator) Value() []byte {
	v := make([]byte, g.rng.Intn(65))
	g.rng.Read(v)
	return v
}

// KeyValues returns n entries with distinct fresh keys.
func (g *KVGenerator) KeyValues(n int) []avl.KeyValue {
	entries := make([]avl.KeyValue, n)
	for i := range entries {
		entries[i] = avl.KeyValue{Key: g.Key(), Value: g.Value()}
	}
	return entries
}

// Shuffle permutes entries in place, deterministically for a given generator
// state.
func (g *KVGenerator) Shuffle(entries []avl.KeyValue) {
	g.rng.Shuffle(len(entries), func(i, j int) {
		entries[i], entries[j] = entries[j], entries[i]
	})
}

// Pick selects k distinct entries from the slice.
func (g *KVGenerator) Pick(entries []avl.KeyValue, k int) []avl.KeyValue {
	idx := g.rng.Perm(len(entries))[:k]
	out := make([]avl.KeyValue, k)
	for i, j := range idx {
		out[i] = entries[j]
	}
	return out
}

func reserved(key []byte) bool {
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
