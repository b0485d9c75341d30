package avl

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash"
)

// Proof is the canonical serialization of the tree fragments one batch
// touched: a pre-order directive stream over the marked sub-forest of the
// pre-operation tree. A proof produced for a Lookup is byte-identical to one
// produced for an Update over the same key set against the same tree state.
type Proof []byte

// Directive discriminators. Internal directives carry the node's balance
// (encoded +1) and, depending on the tag, the labels of children the batch
// never visited; visited children follow inline, left before right.
const (
	proofTagLeaf       = 0x01
	proofTagFork       = 0x02 // both children follow
	proofTagLeftLabel  = 0x03 // left child by label, right follows
	proofTagRightLabel = 0x04 // right child by label, left follows
	proofTagBothLabels = 0x05 // both children by label
)

// maxProofDepth bounds directive nesting while decoding. No valid tree
// exceeds the 255 height a digest can express.
const maxProofDepth = 256

// encodeProof serializes the visited sub-forest reachable from the
// pre-operation root.
func (t *Tree) encodeProof(oldRoot Ref) (Proof, error) {
	buf, err := t.appendNodeProof(nil, oldRoot)
	if err != nil {
		return nil, err
	}
	return Proof(buf), nil
}

func (c *core) appendNodeProof(buf []byte, r Ref) ([]byte, error) {
	n := c.at(r)
	switch n.kind {
	case kindLeaf:
		buf = append(buf, proofTagLeaf)
		buf = append(buf, n.key...)
		buf = append(buf, n.nextKey...)
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(n.value)))
		buf = append(buf, n.value...)
		return buf, nil
	case kindInternal:
		var err error
		bal := byte(c.balanceOf(r) + 1)
		left, right := n.left, n.right
		leftVisited, rightVisited := c.at(left).visited, c.at(right).visited
		switch {
		case leftVisited && rightVisited:
			buf = append(buf, proofTagFork, bal)
			if buf, err = c.appendNodeProof(buf, left); err != nil {
				return nil, err
			}
			return c.appendNodeProof(buf, right)
		case rightVisited:
			var label [LabelBytes]byte
			if label, err = c.computeLabel(left); err != nil {
				return nil, err
			}
			buf = append(buf, proofTagLeftLabel, bal)
			buf = append(buf, label[:]...)
			return c.appendNodeProof(buf, right)
		case leftVisited:
			var label [LabelBytes]byte
			if label, err = c.computeLabel(right); err != nil {
				return nil, err
			}
			buf = append(buf, proofTagRightLabel, bal)
			buf = append(buf, label[:]...)
			return c.appendNodeProof(buf, left)
		default:
			var ll, rl [LabelBytes]byte
			if ll, err = c.computeLabel(left); err != nil {
				return nil, err
			}
			if rl, err = c.computeLabel(right); err != nil {
				return nil, err
			}
			buf = append(buf, proofTagBothLabels, bal)
			buf = append(buf, ll[:]...)
			buf = append(buf, rl[:]...)
			return buf, nil
		}
	}
	return nil, fmt.Errorf("%w: unencodable node kind", ErrProofSerialization)
}

// skeleton is the verifier-side partial tree: the decoded directives plus,
// per internal node, the balance the proof committed to. Heights are derived
// by Verify before replay. Decoded internal nodes carry no routing keys; the
// replay locates leaves through their committed intervals instead, so the
// proof never has to serialize uncommitted navigation data.
type skeleton struct {
	core
	bals []int8
}

func decodeProof(hasher hash.Hash, keyBytes int, p Proof) (*skeleton, error) {
	sk := &skeleton{core: core{hasher: hasher, keyBytes: keyBytes}}
	pos := 0
	root, err := sk.parseNode(p, &pos, 0)
	if err != nil {
		return nil, err
	}
	if pos != len(p) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrProofSerialization, len(p)-pos)
	}
	sk.root = root
	return sk, nil
}

func (sk *skeleton) parseNode(p Proof, pos *int, depth int) (Ref, error) {
	if depth > maxProofDepth {
		return NoRef, fmt.Errorf("%w: directive nesting exceeds any valid height", ErrProofSerialization)
	}
	take := func(n int) ([]byte, error) {
		if len(p)-*pos < n {
			return nil, fmt.Errorf("%w: truncated at offset %d", ErrProofSerialization, *pos)
		}
		b := p[*pos : *pos+n]
		*pos += n
		return b, nil
	}

	hdr, err := take(1)
	if err != nil {
		return NoRef, err
	}
	tag := hdr[0]

	if tag == proofTagLeaf {
		key, err := take(sk.keyBytes)
		if err != nil {
			return NoRef, err
		}
		nextKey, err := take(sk.keyBytes)
		if err != nil {
			return NoRef, err
		}
		if bytes.Compare(key, nextKey) >= 0 {
			return NoRef, fmt.Errorf("%w: leaf interval is empty", ErrProofSerialization)
		}
		vlen, err := take(4)
		if err != nil {
			return NoRef, err
		}
		value, err := take(int(binary.BigEndian.Uint32(vlen)))
		if err != nil {
			return NoRef, err
		}
		return sk.ar.alloc(node{
			kind:    kindLeaf,
			key:     bytes.Clone(key),
			nextKey: bytes.Clone(nextKey),
			value:   bytes.Clone(value),
			fresh:   true,
		}), nil
	}

	if tag < proofTagFork || tag > proofTagBothLabels {
		return NoRef, fmt.Errorf("%w: unknown directive 0x%02x", ErrProofSerialization, tag)
	}
	balByte, err := take(1)
	if err != nil {
		return NoRef, err
	}
	if balByte[0] > 2 {
		return NoRef, fmt.Errorf("%w: balance byte 0x%02x out of range", ErrProofSerialization, balByte[0])
	}
	bal := int8(balByte[0]) - 1

	stub := func() (Ref, error) {
		label, err := take(LabelBytes)
		if err != nil {
			return NoRef, err
		}
		n := node{kind: kindStub, labelOK: true, fresh: true}
		copy(n.label[:], label)
		return sk.ar.alloc(n), nil
	}

	var left, right Ref
	switch tag {
	case proofTagFork:
		if left, err = sk.parseNode(p, pos, depth+1); err != nil {
			return NoRef, err
		}
		right, err = sk.parseNode(p, pos, depth+1)
	case proofTagLeftLabel:
		if left, err = stub(); err != nil {
			return NoRef, err
		}
		right, err = sk.parseNode(p, pos, depth+1)
	case proofTagRightLabel:
		if right, err = stub(); err != nil {
			return NoRef, err
		}
		left, err = sk.parseNode(p, pos, depth+1)
	case proofTagBothLabels:
		if left, err = stub(); err != nil {
			return NoRef, err
		}
		right, err = stub()
	}
	if err != nil {
		return NoRef, err
	}

	r := sk.ar.alloc(node{kind: kindInternal, left: left, right: right, fresh: true})
	sk.setBal(r, bal)
	return r, nil
}

func (sk *skeleton) setBal(r Ref, b int8) {
	for len(sk.bals) <= int(r) {
		sk.bals = append(sk.bals, 0)
	}
	sk.bals[r] = b
}

// deriveHeights assigns every skeleton node its absolute height, walking down
// from the height the prior digest claims using the committed balances. Any
// assignment that cannot belong to a valid AVL tree fails verification.
func (sk *skeleton) deriveHeights(r Ref, h int) error {
	n := sk.at(r)
	switch n.kind {
	case kindLeaf:
		if h != 0 {
			return fmt.Errorf("%w: leaf at height %d", ErrProofVerification, h)
		}
		n.height = 0
	case kindStub:
		if h < 0 {
			return fmt.Errorf("%w: negative derived height", ErrProofVerification)
		}
		n.height = uint8(h)
	case kindInternal:
		if h < 1 {
			return fmt.Errorf("%w: internal node at height %d", ErrProofVerification, h)
		}
		n.height = uint8(h)
		b := int(sk.bals[r])
		var hl, hr int
		if b >= 0 {
			hr, hl = h-1, h-1-b
		} else {
			hl, hr = h-1, h-1+b
		}
		if hl < 0 || hr < 0 {
			return fmt.Errorf("%w: balance inconsistent with height", ErrProofVerification)
		}
		left, right := n.left, n.right
		if err := sk.deriveHeights(left, hl); err != nil {
			return err
		}
		return sk.deriveHeights(right, hr)
	}
	return nil
}

// Shards splits the proof into ordered shards of shardBytes each, the final
// shard possibly shorter. Sharding is pure transport plumbing: JoinShards
// restores the exact original bytes.
func (p Proof) Shards(shardBytes int) ([][]byte, error) {
	if shardBytes < 1 {
		return nil, ErrShardSize
	}
	var shards [][]byte
	for off := 0; off < len(p); off += shardBytes {
		end := min(off+shardBytes, len(p))
		shards = append(shards, bytes.Clone(p[off:end]))
	}
	return shards, nil
}

// JoinShards reassembles a proof from ordered shards by concatenation.
func JoinShards(shards [][]byte) Proof {
	var p Proof
	for _, s := range shards {
		p = append(p, s...)
	}
	return p
}
