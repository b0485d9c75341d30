package avl

import "errors"

// LabelBytes is the fixed width of node labels. The configured hash primitive
// must produce digests of exactly this size.
const LabelBytes = 32

// DigestBytes is the width of a tree digest: the root label followed by one
// byte of unsigned tree height.
const DigestBytes = LabelBytes + 1

// DefaultKeyBytes is the key width used unless WithKeyBytes overrides it. It
// matches the label width so that hashed domain keys fit without truncation.
const DefaultKeyBytes = 32

// Ref is an arena record index. Child references within the tree are Refs,
// never pointers, so that copy-on-write and bottom-up label recomputation do
// not have to contend with ownership cycles.
type Ref uint32

const NoRef = ^Ref(0)

type nodeKind uint8

const (
	kindLeaf nodeKind = 1 + iota
	kindInternal
	// kindStub is a verifier-side placeholder for a subtree known only by
	// its label. The prover never materializes stubs.
	kindStub
)

var (
	ErrKeyExists          = errors.New("avl: key exists")
	ErrKeyNotFound        = errors.New("avl: key not found")
	ErrProofVerification  = errors.New("avl: proof verification failed")
	ErrProofSerialization = errors.New("avl: proof serialization invalid")

	ErrBadHashSize      = errors.New("avl: hash primitive output must be 32 bytes")
	ErrBadKeySize       = errors.New("avl: key width does not match the tree")
	ErrBadKeyWidth      = errors.New("avl: configured key width invalid")
	ErrReservedKey      = errors.New("avl: key reserved for the sentinel interval")
	ErrValueTooLarge    = errors.New("avl: value length does not fit in uint32")
	ErrEmptyBatch       = errors.New("avl: operation batch is empty")
	ErrInvalidOperation = errors.New("avl: operation descriptor invalid")
	ErrShardSize        = errors.New("avl: shard size must be positive")
)
