// Package avlmap is a typed facade over the authenticated dictionary. It maps
// application keys and values through codecs onto the fixed-width byte keys
// the tree wants, and carries the per-batch proofs through unchanged.
package avlmap

import (
	"hash"

	"go.uber.org/zap"

	"github.com/forestrie/go-avltree/avl"
	"github.com/forestrie/go-avltree/keyfilter"
)

// Pair is one typed entry for Insert and Update batches.
type Pair[K, V any] struct {
	Key   K
	Value V
}

// Entry is one typed lookup result.
type Entry[K, V any] struct {
	Key     K
	Value   V
	Present bool
}

// Map wraps a prover tree with typed keys and values.
//
// Like the tree it wraps, a Map is not safe for concurrent use.
type Map[K, V any] struct {
	tree *avl.Tree
	kc   KeyCodec[K]
	vc   ValueCodec[V]
	log  *zap.Logger

	// opCount is the number of successfully applied batches, carried into
	// sealed states so relying parties can order them.
	opCount uint64
}

// Option configures New.
type Option func(*mapOptions)

type mapOptions struct {
	log *zap.Logger
}

// WithLogger attaches a logger; batches are reported at debug level. The
// default is a nop logger.
func WithLogger(log *zap.Logger) Option {
	return func(o *mapOptions) {
		o.log = log
	}
}

// New returns an empty map. The key codec fixes the tree's key width.
func New[K, V any](hasher hash.Hash, kc KeyCodec[K], vc ValueCodec[V], opts ...Option) (*Map[K, V], error) {
	o := mapOptions{log: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	tree, err := avl.New(hasher, avl.WithKeyBytes(kc.KeyBytes()))
	if err != nil {
		return nil, err
	}
	return &Map[K, V]{tree: tree, kc: kc, vc: vc, log: o.log}, nil
}

// Digest returns the commitment to the map's current content.
func (m *Map[K, V]) Digest() (avl.Digest, error) {
	return m.tree.Digest()
}

// Size returns the number of keys held.
func (m *Map[K, V]) Size() int {
	return m.tree.Size()
}

// OpCount returns the number of batches applied so far.
func (m *Map[K, V]) OpCount() uint64 {
	return m.opCount
}

// BuildKeyFilter snapshots the current key set into a Bloom filter sized at
// bitsPerKey bits per present key. Publish it beside the digest so clients
// can screen definitely-absent keys without requesting an absence proof. The
// filter matches this state only; rebuild it after mutating batches.
func (m *Map[K, V]) BuildKeyFilter(bitsPerKey uint64, k uint8) (*keyfilter.Filter, error) {
	keys := m.tree.Keys()
	n := uint64(len(keys))
	if n == 0 {
		n = 1
	}
	f, err := keyfilter.New(n, bitsPerKey, k)
	if err != nil {
		return nil, err
	}
	for _, key := range keys {
		f.Insert(key)
	}
	m.log.Debug("key filter built",
		zap.Int("keys", len(keys)), zap.Int("regionBytes", len(f.Marshal())))
	return f, nil
}

// Insert adds the pairs as one atomic batch.
func (m *Map[K, V]) Insert(pairs []Pair[K, V]) (*avl.Result, error) {
	return m.mutate(avl.OpInsert, pairs)
}

// Update replaces the values of existing keys as one atomic batch.
func (m *Map[K, V]) Update(pairs []Pair[K, V]) (*avl.Result, error) {
	return m.mutate(avl.OpUpdate, pairs)
}

// Remove deletes the keys as one atomic batch.
func (m *Map[K, V]) Remove(keys []K) (*avl.Result, error) {
	encoded, err := m.encodeKeys(keys)
	if err != nil {
		return nil, err
	}
	res, err := m.tree.Remove(encoded)
	return m.finish(avl.OpRemove, len(keys), res, err)
}

// Lookup reports each key's value or absence, in input order, together with
// the proof and the unchanged digest.
func (m *Map[K, V]) Lookup(keys []K) ([]Entry[K, V], *avl.Result, error) {
	encoded, err := m.encodeKeys(keys)
	if err != nil {
		return nil, nil, err
	}
	res, err := m.tree.Lookup(encoded)
	if _, err = m.finish(avl.OpLookup, len(keys), res, err); err != nil {
		return nil, nil, err
	}

	entries := make([]Entry[K, V], len(keys))
	for i, lr := range res.Lookups {
		entries[i] = Entry[K, V]{Key: keys[i], Present: lr.Present}
		if !lr.Present {
			continue
		}
		if entries[i].Value, err = m.vc.DecodeValue(lr.Value); err != nil {
			return nil, nil, err
		}
	}
	return entries, res, nil
}

func (m *Map[K, V]) mutate(kind avl.OpKind, pairs []Pair[K, V]) (*avl.Result, error) {
	entries := make([]avl.KeyValue, len(pairs))
	for i, p := range pairs {
		key, err := m.kc.EncodeKey(p.Key)
		if err != nil {
			return nil, err
		}
		value, err := m.vc.EncodeValue(p.Value)
		if err != nil {
			return nil, err
		}
		entries[i] = avl.KeyValue{Key: key, Value: value}
	}
	res, err := m.tree.Apply(avl.Operation{Kind: kind, Entries: entries})
	return m.finish(kind, len(pairs), res, err)
}

func (m *Map[K, V]) encodeKeys(keys []K) ([][]byte, error) {
	encoded := make([][]byte, len(keys))
	for i, k := range keys {
		b, err := m.kc.EncodeKey(k)
		if err != nil {
			return nil, err
		}
		encoded[i] = b
	}
	return encoded, nil
}

func (m *Map[K, V]) finish(kind avl.OpKind, keys int, res *avl.Result, err error) (*avl.Result, error) {
	if err != nil {
		m.log.Debug("batch rejected",
			zap.Stringer("op", kind), zap.Int("keys", keys), zap.Error(err))
		return nil, err
	}
	m.opCount++
	m.log.Debug("batch applied",
		zap.Stringer("op", kind),
		zap.Int("keys", keys),
		zap.Int("proofBytes", len(res.Proof)),
		zap.Uint64("opCount", m.opCount))
	return res, nil
}
