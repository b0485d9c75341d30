package avlmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/forestrie/go-avltree/avl"
)

type account struct {
	Balance uint64 `cbor:"1,keyasint"`
	Nonce   uint64 `cbor:"2,keyasint"`
}

func newAccountMap(t *testing.T) *Map[string, account] {
	t.Helper()
	vc, err := NewCBORValueCodec[account]()
	require.NoError(t, err)
	m, err := New[string, account](
		avl.NewHasher(), HashedStringKeyCodec{}, vc, WithLogger(zap.NewNop()))
	require.NoError(t, err)
	return m
}

func TestMap_roundTrip(t *testing.T) {
	m := newAccountMap(t)

	_, err := m.Insert([]Pair[string, account]{
		{Key: "alice", Value: account{Balance: 100, Nonce: 1}},
		{Key: "bob", Value: account{Balance: 50}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, m.Size())
	assert.Equal(t, uint64(1), m.OpCount())

	entries, _, err := m.Lookup([]string{"bob", "carol", "alice"})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.True(t, entries[0].Present)
	assert.Equal(t, account{Balance: 50}, entries[0].Value)
	assert.False(t, entries[1].Present)
	assert.True(t, entries[2].Present)
	assert.Equal(t, account{Balance: 100, Nonce: 1}, entries[2].Value)

	_, err = m.Update([]Pair[string, account]{
		{Key: "alice", Value: account{Balance: 75, Nonce: 2}},
	})
	require.NoError(t, err)

	entries, _, err = m.Lookup([]string{"alice"})
	require.NoError(t, err)
	assert.Equal(t, account{Balance: 75, Nonce: 2}, entries[0].Value)

	_, err = m.Remove([]string{"bob"})
	require.NoError(t, err)
	assert.Equal(t, 1, m.Size())

	entries, _, err = m.Lookup([]string{"bob"})
	require.NoError(t, err)
	assert.False(t, entries[0].Present)
}

// Map proofs are the tree's proofs; a stateless verifier holding only the
// prior digest can replay a typed batch once it encodes the keys the same way.
func TestMap_proofsVerify(t *testing.T) {
	m := newAccountMap(t)

	d0, err := m.Digest()
	require.NoError(t, err)

	res, err := m.Insert([]Pair[string, account]{
		{Key: "alice", Value: account{Balance: 100}},
	})
	require.NoError(t, err)

	kc := HashedStringKeyCodec{}
	key, err := kc.EncodeKey("alice")
	require.NoError(t, err)
	vc, err := NewCBORValueCodec[account]()
	require.NoError(t, err)
	value, err := vc.EncodeValue(account{Balance: 100})
	require.NoError(t, err)

	vres, err := avl.Verify(avl.NewHasher(), d0, avl.Operation{
		Kind:    avl.OpInsert,
		Entries: []avl.KeyValue{{Key: key, Value: value}},
	}, res.Proof)
	require.NoError(t, err)
	assert.Equal(t, res.Digest, vres.Digest)
}

func TestMap_failedBatchChangesNothing(t *testing.T) {
	m := newAccountMap(t)

	_, err := m.Insert([]Pair[string, account]{{Key: "alice", Value: account{Balance: 1}}})
	require.NoError(t, err)
	d1, err := m.Digest()
	require.NoError(t, err)

	_, err = m.Insert([]Pair[string, account]{
		{Key: "bob", Value: account{Balance: 2}},
		{Key: "alice", Value: account{Balance: 3}},
	})
	require.ErrorIs(t, err, avl.ErrKeyExists)

	d2, err := m.Digest()
	require.NoError(t, err)
	assert.Equal(t, d1, d2)
	assert.Equal(t, 1, m.Size())
	assert.Equal(t, uint64(1), m.OpCount())
}

func TestMap_buildKeyFilter(t *testing.T) {
	m := newAccountMap(t)
	_, err := m.Insert([]Pair[string, account]{
		{Key: "alice", Value: account{Balance: 1}},
		{Key: "bob", Value: account{Balance: 2}},
	})
	require.NoError(t, err)

	f, err := m.BuildKeyFilter(10, 7)
	require.NoError(t, err)
	require.EqualValues(t, 2, f.Inserted())

	kc := HashedStringKeyCodec{}
	for _, name := range []string{"alice", "bob"} {
		key, err := kc.EncodeKey(name)
		require.NoError(t, err)
		assert.True(t, f.MayContain(key), "present key %q must pass the filter", name)
	}
	key, err := kc.EncodeKey("carol")
	require.NoError(t, err)
	assert.False(t, f.MayContain(key), "two keys in a 7-probe filter should not shadow a third")
}

func TestRawKeyCodec_rejectsWrongWidth(t *testing.T) {
	c := RawKeyCodec{Width: 8}
	_, err := c.EncodeKey(make([]byte, 7))
	assert.ErrorIs(t, err, ErrKeyEncoding)
	k, err := c.EncodeKey(make([]byte, 8))
	require.NoError(t, err)
	assert.Len(t, k, 8)
}
