package avl

import (
	"bytes"
	"fmt"
	"hash"
)

// Tree is the prover side of the dictionary: it holds the full tree and
// produces one proof per applied batch.
//
// A Tree is not safe for concurrent use. Mutating operations read and write
// the whole path from the root; callers wanting concurrent readers must
// serialize mutations against lookups themselves.
type Tree struct {
	core

	// size is the number of live keys, excluding the sentinel.
	size int
}

// Option configures New.
type Option func(*treeOptions)

type treeOptions struct {
	keyBytes int
}

// WithKeyBytes fixes the key width for the tree instance. All operation keys
// must have exactly this width.
func WithKeyBytes(n int) Option {
	return func(o *treeOptions) {
		o.keyBytes = n
	}
}

// New returns an empty tree: a single sentinel leaf spanning the whole key
// space. The hasher must produce 32 byte digests; see NewHasher.
func New(hasher hash.Hash, opts ...Option) (*Tree, error) {
	o := treeOptions{keyBytes: DefaultKeyBytes}
	for _, opt := range opts {
		opt(&o)
	}
	if o.keyBytes < 1 || o.keyBytes > 255 {
		return nil, fmt.Errorf("%w: %d", ErrBadKeyWidth, o.keyBytes)
	}
	if hasher.Size() != LabelBytes {
		return nil, ErrBadHashSize
	}
	t := &Tree{
		core: core{hasher: hasher, keyBytes: o.keyBytes},
	}
	t.root = t.ar.alloc(node{
		kind:    kindLeaf,
		key:     negInfKey(o.keyBytes),
		nextKey: posInfKey(o.keyBytes),
	})
	return t, nil
}

// Digest returns the 33 byte commitment to the tree's current content.
func (t *Tree) Digest() (Digest, error) {
	return t.digest()
}

// Size returns the number of keys held.
func (t *Tree) Size() int {
	return t.size
}

// KeyBytes returns the fixed key width of this instance.
func (t *Tree) KeyBytes() int {
	return t.keyBytes
}

// Keys returns every live key in ascending order. The sentinel leaf is not a
// key and is skipped.
func (t *Tree) Keys() [][]byte {
	keys := make([][]byte, 0, t.size)
	t.appendKeys(&keys, t.root)
	return keys
}

func (t *Tree) appendKeys(keys *[][]byte, r Ref) {
	n := t.at(r)
	if n.kind == kindLeaf {
		if !isReservedKey(n.key) {
			*keys = append(*keys, bytes.Clone(n.key))
		}
		return
	}
	t.appendKeys(keys, n.left)
	t.appendKeys(keys, n.right)
}

// Result is the outcome of a successful batch.
type Result struct {
	// Digest commits to the tree after the batch. Lookup batches leave it
	// unchanged.
	Digest Digest
	// Proof lets a verifier holding the prior digest replay the batch.
	Proof Proof
	// Lookups is populated for OpLookup only, in input order.
	Lookups []LookupResult
}

// Insert adds the entries; it fails with ErrKeyExists if any key is already
// present. Batches are atomic: on failure nothing changes and no proof is
// produced.
func (t *Tree) Insert(entries []KeyValue) (*Result, error) {
	return t.Apply(Operation{Kind: OpInsert, Entries: entries})
}

// Update replaces the values of existing keys; it fails with ErrKeyNotFound
// if any key is absent.
func (t *Tree) Update(entries []KeyValue) (*Result, error) {
	return t.Apply(Operation{Kind: OpUpdate, Entries: entries})
}

// Remove deletes the keys; it fails with ErrKeyNotFound if any key is absent.
func (t *Tree) Remove(keys [][]byte) (*Result, error) {
	return t.Apply(Operation{Kind: OpRemove, Entries: keyEntries(keys)})
}

// Lookup reports each key's value or absence. The digest is unchanged and the
// returned proof is byte-identical to the one an Update over the same key set
// would produce against the same tree state.
func (t *Tree) Lookup(keys [][]byte) (*Result, error) {
	return t.Apply(Operation{Kind: OpLookup, Entries: keyEntries(keys)})
}

func keyEntries(keys [][]byte) []KeyValue {
	entries := make([]KeyValue, len(keys))
	for i, k := range keys {
		entries[i] = KeyValue{Key: k}
	}
	return entries
}

// Apply executes one batch and, on success, returns the new digest and the
// batch proof. On failure the tree is exactly as it was: marks are unwound
// and every node the batch created is discarded.
func (t *Tree) Apply(op Operation) (*Result, error) {
	snap := t.snapshot()

	lookups, err := t.applyOps(op)
	if err != nil {
		t.rollbackTo(snap)
		return nil, err
	}

	proof, err := t.encodeProof(snap.root)
	if err != nil {
		t.rollbackTo(snap)
		return nil, err
	}
	t.commitFrom(snap)

	switch op.Kind {
	case OpInsert:
		t.size += len(op.Entries)
	case OpRemove:
		t.size -= len(op.Entries)
	}
	t.maybeCompact()

	digest, err := t.digest()
	if err != nil {
		return nil, err
	}
	return &Result{Digest: digest, Proof: proof, Lookups: lookups}, nil
}

type treeSnapshot struct {
	root     Ref
	arenaLen int
	markLen  int
}

func (t *Tree) snapshot() treeSnapshot {
	return treeSnapshot{root: t.root, arenaLen: t.ar.len(), markLen: len(t.markLog)}
}

func (t *Tree) rollbackTo(s treeSnapshot) {
	for _, r := range t.markLog[s.markLen:] {
		t.at(r).visited = false
	}
	t.markLog = t.markLog[:s.markLen]
	t.ar.truncate(s.arenaLen)
	t.root = s.root
}

// commitFrom finalizes a successful batch: visited marks are consumed by the
// proof just generated, and this batch's nodes become copy-on-write for the
// next one.
func (t *Tree) commitFrom(s treeSnapshot) {
	for _, r := range t.markLog {
		t.at(r).visited = false
	}
	t.markLog = t.markLog[:0]
	for i := s.arenaLen; i < t.ar.len(); i++ {
		t.ar.nodes[i].fresh = false
	}
}

// Compaction thresholds: the arena is rewritten once it is both large enough
// to matter and dominated by copy-on-write garbage.
const (
	compactMinArena      = 1024
	compactGarbageFactor = 4
)

// maybeCompact rewrites the arena when copy-on-write garbage dominates it.
// Live nodes number 2*(size+1)-1 counting the sentinel.
func (t *Tree) maybeCompact() {
	live := 2*(t.size+1) - 1
	if t.ar.len() < compactMinArena || t.ar.len() < compactGarbageFactor*live {
		return
	}
	var na arena
	na.nodes = make([]node, 0, 2*live)
	t.root = t.compactInto(&na, t.root)
	t.ar = na
}

func (t *Tree) compactInto(na *arena, r Ref) Ref {
	n := *t.at(r)
	if n.kind == kindInternal {
		n.left = t.compactInto(na, n.left)
		n.right = t.compactInto(na, n.right)
	}
	return na.alloc(n)
}
