package avl_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forestrie/go-avltree/avl"
	"github.com/forestrie/go-avltree/avltesting"
)

// The walkthrough a first integrator would follow: a prover applies a
// handful of batches while a verifier holding only 33 bytes tracks every
// transition.
func TestVerify_walkthrough(t *testing.T) {
	tr, err := avl.New(avl.NewHasher())
	require.NoError(t, err)
	d0, err := tr.Digest()
	require.NoError(t, err)

	k1 := bytes.Repeat([]byte("0"), 32)

	// insert k1 -> hello
	r1, err := tr.Insert([]avl.KeyValue{{Key: k1, Value: []byte("hello")}})
	require.NoError(t, err)
	require.NotEqual(t, d0, r1.Digest)

	v1, err := avl.Verify(avl.NewHasher(), d0, avl.Operation{
		Kind:    avl.OpInsert,
		Entries: []avl.KeyValue{{Key: k1, Value: []byte("hello")}},
	}, r1.Proof)
	require.NoError(t, err)
	assert.Equal(t, r1.Digest, v1.Digest)

	// a lookup proves presence without moving the digest
	rl, err := tr.Lookup([][]byte{k1})
	require.NoError(t, err)
	assert.Equal(t, r1.Digest, rl.Digest)
	require.True(t, rl.Lookups[0].Present)
	assert.Equal(t, []byte("hello"), rl.Lookups[0].Value)

	vl, err := avl.Verify(avl.NewHasher(), r1.Digest, avl.Operation{
		Kind:    avl.OpLookup,
		Entries: []avl.KeyValue{{Key: k1}},
	}, rl.Proof)
	require.NoError(t, err)
	assert.Equal(t, r1.Digest, vl.Digest)
	require.Len(t, vl.Lookups, 1)
	assert.True(t, vl.Lookups[0].Present)
	assert.Equal(t, []byte("hello"), vl.Lookups[0].Value)

	// duplicate insert fails and changes nothing
	_, err = tr.Insert([]avl.KeyValue{{Key: k1, Value: []byte("again")}})
	require.ErrorIs(t, err, avl.ErrKeyExists)
	d, err := tr.Digest()
	require.NoError(t, err)
	assert.Equal(t, r1.Digest, d)

	// update k1 -> world
	r2, err := tr.Update([]avl.KeyValue{{Key: k1, Value: []byte("world")}})
	require.NoError(t, err)
	require.NotEqual(t, r1.Digest, r2.Digest)

	v2, err := avl.Verify(avl.NewHasher(), r1.Digest, avl.Operation{
		Kind:    avl.OpUpdate,
		Entries: []avl.KeyValue{{Key: k1, Value: []byte("world")}},
	}, r2.Proof)
	require.NoError(t, err)
	assert.Equal(t, r2.Digest, v2.Digest)

	// removing the only key restores the empty digest
	r3, err := tr.Remove([][]byte{k1})
	require.NoError(t, err)
	assert.Equal(t, d0, r3.Digest)

	v3, err := avl.Verify(avl.NewHasher(), r2.Digest, avl.Operation{
		Kind:    avl.OpRemove,
		Entries: []avl.KeyValue{{Key: k1}},
	}, r3.Proof)
	require.NoError(t, err)
	assert.Equal(t, d0, v3.Digest)
}

// Every kind of batch, across enough churn to exercise rotations and leaf
// linkage rewrites, must replay cleanly from nothing but the prior digest.
func TestVerify_randomBatchRoundTrip(t *testing.T) {
	g := avltesting.NewKVGenerator(20240319, avl.DefaultKeyBytes)
	tr, err := avl.New(avl.NewHasher())
	require.NoError(t, err)
	prior, err := tr.Digest()
	require.NoError(t, err)

	var inserted []avl.KeyValue

	step := func(op avl.Operation) {
		t.Helper()
		res, err := tr.Apply(op)
		require.NoError(t, err)
		v, err := avl.Verify(avl.NewHasher(), prior, op, res.Proof)
		require.NoError(t, err)
		require.Equal(t, res.Digest, v.Digest)
		require.Equal(t, res.Lookups, v.Lookups)
		prior = res.Digest
	}

	for round := 0; round < 12; round++ {
		batch := g.KeyValues(5 + round)
		step(avl.Operation{Kind: avl.OpInsert, Entries: batch})
		inserted = append(inserted, batch...)

		update := g.Pick(inserted, 3)
		for i := range update {
			update[i].Value = g.Value()
		}
		step(avl.Operation{Kind: avl.OpUpdate, Entries: update})

		present := g.Pick(inserted, 2)
		lookup := []avl.KeyValue{{Key: present[0].Key}, {Key: present[1].Key}, {Key: g.Key()}}
		step(avl.Operation{Kind: avl.OpLookup, Entries: lookup})

		victims := g.Pick(inserted, 2)
		remove := make([]avl.KeyValue, len(victims))
		for i, v := range victims {
			remove[i] = avl.KeyValue{Key: v.Key}
			inserted = removeEntry(inserted, v.Key)
		}
		step(avl.Operation{Kind: avl.OpRemove, Entries: remove})
	}
}

// A multi-entry batch can rebalance the tree between entries, and a rotation
// can pull a node whose sibling subtree is unresolved onto a later entry's
// descent path. The replay must still find every governing leaf: decoded
// internal nodes carry no routing keys, and a reconstruction that guessed
// routing from resolved leaves alone would misdirect exactly this case.
// Small trees with small batches hit the rotating shapes reliably, so this
// sweeps many of them.
func TestVerify_rebalanceBetweenBatchEntries(t *testing.T) {
	for seed := int64(0); seed < 40; seed++ {
		g := avltesting.NewKVGenerator(seed, avl.DefaultKeyBytes)
		tr, err := avl.New(avl.NewHasher())
		require.NoError(t, err)

		seeded := g.KeyValues(6)
		_, err = tr.Insert(seeded)
		require.NoError(t, err)
		prior, err := tr.Digest()
		require.NoError(t, err)

		victims := g.Pick(seeded, 2)
		removeOp := avl.Operation{Kind: avl.OpRemove, Entries: []avl.KeyValue{
			{Key: victims[0].Key}, {Key: victims[1].Key},
		}}
		res, err := tr.Apply(removeOp)
		require.NoError(t, err, "seed %d", seed)
		v, err := avl.Verify(avl.NewHasher(), prior, removeOp, res.Proof)
		require.NoError(t, err, "seed %d: remove batch must replay", seed)
		require.Equal(t, res.Digest, v.Digest, "seed %d", seed)
		prior = res.Digest

		insertOp := avl.Operation{Kind: avl.OpInsert, Entries: g.KeyValues(3)}
		res, err = tr.Apply(insertOp)
		require.NoError(t, err, "seed %d", seed)
		v, err = avl.Verify(avl.NewHasher(), prior, insertOp, res.Proof)
		require.NoError(t, err, "seed %d: insert batch must replay", seed)
		require.Equal(t, res.Digest, v.Digest, "seed %d", seed)
	}
}

func removeEntry(entries []avl.KeyValue, key []byte) []avl.KeyValue {
	out := entries[:0]
	for _, e := range entries {
		if !bytes.Equal(e.Key, key) {
			out = append(out, e)
		}
	}
	return out
}

func TestVerify_everyByteFlipIsCaught(t *testing.T) {
	g := avltesting.NewKVGenerator(555, avl.DefaultKeyBytes)
	tr, err := avl.New(avl.NewHasher())
	require.NoError(t, err)
	_, err = tr.Insert(g.KeyValues(64))
	require.NoError(t, err)
	prior, err := tr.Digest()
	require.NoError(t, err)

	entry := g.KeyValues(1)[0]
	op := avl.Operation{Kind: avl.OpInsert, Entries: []avl.KeyValue{entry}}
	res, err := tr.Apply(op)
	require.NoError(t, err)

	// the untampered proof replays, as a control
	_, err = avl.Verify(avl.NewHasher(), prior, op, res.Proof)
	require.NoError(t, err)

	for i := range res.Proof {
		mutated := bytes.Clone(res.Proof)
		mutated[i] ^= 0xA5
		_, err := avl.Verify(avl.NewHasher(), prior, op, mutated)
		require.Error(t, err, "flipping proof byte %d must not verify", i)
		require.True(t,
			errors.Is(err, avl.ErrProofVerification) || errors.Is(err, avl.ErrProofSerialization),
			"byte %d: unexpected error %v", i, err)
	}

	// truncation and trailing garbage are serialization failures
	_, err = avl.Verify(avl.NewHasher(), prior, op, res.Proof[:len(res.Proof)-1])
	require.ErrorIs(t, err, avl.ErrProofSerialization)
	_, err = avl.Verify(avl.NewHasher(), prior, op, append(bytes.Clone(res.Proof), 0x00))
	require.ErrorIs(t, err, avl.ErrProofSerialization)
	_, err = avl.Verify(avl.NewHasher(), prior, op, nil)
	require.ErrorIs(t, err, avl.ErrProofSerialization)
}

func TestVerify_wrongPriorDigestFails(t *testing.T) {
	g := avltesting.NewKVGenerator(556, avl.DefaultKeyBytes)
	tr, err := avl.New(avl.NewHasher())
	require.NoError(t, err)
	_, err = tr.Insert(g.KeyValues(16))
	require.NoError(t, err)
	stale, err := tr.Digest()
	require.NoError(t, err)

	// advance the tree so stale no longer matches
	_, err = tr.Insert(g.KeyValues(1))
	require.NoError(t, err)

	op := avl.Operation{Kind: avl.OpInsert, Entries: g.KeyValues(1)}
	res, err := tr.Apply(op)
	require.NoError(t, err)

	_, err = avl.Verify(avl.NewHasher(), stale, op, res.Proof)
	require.ErrorIs(t, err, avl.ErrProofVerification)
}

// A proof authorizes exactly the keys it resolves: replaying an operation on
// some other key runs off the resolved frontier and fails.
func TestVerify_proofDoesNotTransferBetweenKeys(t *testing.T) {
	g := avltesting.NewKVGenerator(557, avl.DefaultKeyBytes)
	tr, err := avl.New(avl.NewHasher())
	require.NoError(t, err)
	entries := g.KeyValues(128)
	_, err = tr.Insert(entries)
	require.NoError(t, err)
	prior, err := tr.Digest()
	require.NoError(t, err)

	lo, hi := entries[0], entries[0]
	for _, e := range entries[1:] {
		if bytes.Compare(e.Key, lo.Key) < 0 {
			lo = e
		}
		if bytes.Compare(e.Key, hi.Key) > 0 {
			hi = e
		}
	}

	res, err := tr.Lookup([][]byte{lo.Key})
	require.NoError(t, err)

	_, err = avl.Verify(avl.NewHasher(), prior, avl.Operation{
		Kind:    avl.OpUpdate,
		Entries: []avl.KeyValue{{Key: hi.Key, Value: []byte("forged")}},
	}, res.Proof)
	require.ErrorIs(t, err, avl.ErrProofVerification)
}

func TestVerify_rejectsBadConfig(t *testing.T) {
	tr, err := avl.New(avl.NewHasher())
	require.NoError(t, err)
	d, err := tr.Digest()
	require.NoError(t, err)
	op := avl.Operation{Kind: avl.OpLookup, Entries: []avl.KeyValue{{Key: make([]byte, 16)}}}

	_, err = avl.Verify(avl.NewHasher(), d, op, nil, avl.WithKeyBytes(0))
	assert.ErrorIs(t, err, avl.ErrBadKeyWidth)
}

