package avl

import (
	"bytes"
	"fmt"
	"math"
	"sort"
)

// OpKind discriminates the four operation kinds. Insert, Update and Remove
// transition the digest; Lookup leaves it unchanged.
type OpKind uint8

const (
	OpInsert OpKind = 1 + iota
	OpUpdate
	OpRemove
	OpLookup
)

func (k OpKind) String() string {
	switch k {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpRemove:
		return "remove"
	case OpLookup:
		return "lookup"
	}
	return fmt.Sprintf("opkind(%d)", uint8(k))
}

// KeyValue is one entry of an operation batch. Value must be nil for Remove
// and Lookup.
type KeyValue struct {
	Key   []byte
	Value []byte
}

// Operation describes one batch to apply. The same descriptor drives the
// prover's tree and the verifier's replay.
type Operation struct {
	Kind    OpKind
	Entries []KeyValue
}

// LookupResult reports one key's outcome, in the order the keys were
// presented. Value is nil unless Present.
type LookupResult struct {
	Key     []byte
	Value   []byte
	Present bool
}

// validateOperation checks the descriptor shape and returns a copy of the
// entries sorted ascending by key, with inputIndex[i] giving the position the
// i'th sorted entry had in the original batch. Keys and values are copied so
// the tree never aliases caller buffers.
func validateOperation(op Operation, keyBytes int) (sorted []KeyValue, inputIndex []int, err error) {
	switch op.Kind {
	case OpInsert, OpUpdate, OpRemove, OpLookup:
	default:
		return nil, nil, fmt.Errorf("%w: unknown kind %d", ErrInvalidOperation, uint8(op.Kind))
	}
	if len(op.Entries) == 0 {
		return nil, nil, ErrEmptyBatch
	}

	sorted = make([]KeyValue, len(op.Entries))
	inputIndex = make([]int, len(op.Entries))
	for i, e := range op.Entries {
		if len(e.Key) != keyBytes {
			return nil, nil, fmt.Errorf("%w: got %d want %d", ErrBadKeySize, len(e.Key), keyBytes)
		}
		if isReservedKey(e.Key) {
			return nil, nil, fmt.Errorf("%w: %x", ErrReservedKey, e.Key)
		}
		switch op.Kind {
		case OpRemove, OpLookup:
			if e.Value != nil {
				return nil, nil, fmt.Errorf("%w: %s entries must not carry values", ErrInvalidOperation, op.Kind)
			}
		default:
			if uint64(len(e.Value)) > math.MaxUint32 {
				return nil, nil, ErrValueTooLarge
			}
		}
		sorted[i] = KeyValue{Key: bytes.Clone(e.Key), Value: bytes.Clone(e.Value)}
		inputIndex[i] = i
	}

	// Processing in ascending key order keeps batch proofs minimal: sorted
	// keys share path prefixes, and shared nodes are serialized once.
	sort.SliceStable(inputIndex, func(a, b int) bool {
		return bytes.Compare(sorted[inputIndex[a]].Key, sorted[inputIndex[b]].Key) < 0
	})
	ordered := make([]KeyValue, len(sorted))
	for pos, idx := range inputIndex {
		ordered[pos] = sorted[idx]
	}
	return ordered, inputIndex, nil
}
