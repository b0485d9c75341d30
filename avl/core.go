package avl

import (
	"fmt"
	"hash"
)

// core is the engine state shared by the prover tree and the verifier
// skeleton. Both sides run the identical apply routine over it; the only
// difference is how the arena was populated (full tree vs decoded proof).
type core struct {
	hasher   hash.Hash
	keyBytes int

	ar   arena
	root Ref

	// markLog records the order nodes were first marked visited, so an
	// aborted batch can unwind its marks exactly.
	markLog []Ref
}

func (c *core) at(r Ref) *node {
	return c.ar.at(r)
}

func (c *core) mark(r Ref) {
	n := c.at(r)
	if n.visited {
		return
	}
	n.visited = true
	c.markLog = append(c.markLog, r)
}

// copyForWrite returns a ref whose node may be mutated in place. Nodes
// created by the in-flight operation are returned as-is; all others are
// copied into a fresh arena slot and the original is marked for the proof.
func (c *core) copyForWrite(r Ref) Ref {
	n := c.at(r)
	if n.fresh {
		return r
	}
	c.mark(r)
	cp := *n
	cp.fresh = true
	cp.visited = false
	return c.ar.alloc(cp)
}

func (c *core) heightOf(r Ref) uint8 {
	return c.at(r).height
}

// balanceOf is height(right) - height(left). Only valid for internal nodes
// whose children carry heights, which holds for every resolved node on both
// the prover and verifier sides.
func (c *core) balanceOf(r Ref) int8 {
	n := c.at(r)
	return int8(int(c.heightOf(n.right)) - int(c.heightOf(n.left)))
}

// computeLabel returns the node's label, recomputing and caching it if any
// structural change below invalidated it. Stub labels are never recomputed;
// they are exactly the opaque commitment the proof carried.
func (c *core) computeLabel(r Ref) ([LabelBytes]byte, error) {
	n := c.at(r)
	if n.labelOK {
		return n.label, nil
	}
	var label [LabelBytes]byte
	var err error
	switch n.kind {
	case kindLeaf:
		var vh [LabelBytes]byte
		if vh, err = HashValue(c.hasher, n.value); err != nil {
			return label, err
		}
		label, err = HashLeaf(c.hasher, n.key, n.nextKey, vh)
	case kindInternal:
		var left, right [LabelBytes]byte
		if left, err = c.computeLabel(n.left); err != nil {
			return label, err
		}
		if right, err = c.computeLabel(n.right); err != nil {
			return label, err
		}
		label, err = HashInternal(c.hasher, c.balanceOf(r), n.height, left, right)
	default:
		// Stubs always have labelOK set at construction.
		return label, fmt.Errorf("%w: label requested for unresolved node", ErrProofVerification)
	}
	if err != nil {
		return label, err
	}
	// n may be stale if the arena grew during recursion.
	n = c.at(r)
	n.label = label
	n.labelOK = true
	return label, nil
}

func (c *core) digest() (Digest, error) {
	label, err := c.computeLabel(c.root)
	if err != nil {
		return Digest{}, err
	}
	return newDigest(label, c.heightOf(c.root)), nil
}
