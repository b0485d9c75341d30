package avl

import (
	"bytes"
	"fmt"
)

// applyOps runs one operation batch against the core, prover and verifier
// alike. Entries are processed in ascending key order; the first failure
// aborts the batch and the caller unwinds any partial state.
func (c *core) applyOps(op Operation) ([]LookupResult, error) {
	sorted, inputIndex, err := validateOperation(op, c.keyBytes)
	if err != nil {
		return nil, err
	}

	var results []LookupResult
	if op.Kind == OpLookup {
		results = make([]LookupResult, len(sorted))
	}
	for pos, e := range sorted {
		switch op.Kind {
		case OpInsert:
			err = c.insertOne(e.Key, e.Value)
		case OpUpdate:
			err = c.updateOne(e.Key, e.Value)
		case OpRemove:
			err = c.removeOne(e.Key)
		case OpLookup:
			var res LookupResult
			if res, err = c.lookupOne(e.Key); err == nil {
				results[inputIndex[pos]] = res
			}
		}
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}

// descend finds the leaf the operation must land on and marks the path to it.
//
// With predecessor false the target is the leaf whose interval [key, nextKey)
// contains key; with predecessor true it is the leaf whose committed
// successor is key. On the prover every internal node carries a routing key
// and the walk is a plain binary descent. Decoded skeleton nodes carry no
// routing keys, so on the verifier the walk degrades to a search for the
// target leaf. That search is sound: leaf intervals partition the key space
// and are committed by the labels already checked against the digest, so at
// most one resolved leaf can match and its position fixes the structural
// path. A target outside the resolved portion of the skeleton fails
// verification.
//
// path and dirs record the internal nodes on the way down and the direction
// taken at each, outermost first.
func (c *core) descend(key []byte, predecessor bool) ([]Ref, []bool, Ref, error) {
	var path []Ref
	var dirs []bool
	leaf, ok := c.locate(c.root, key, predecessor, &path, &dirs)
	if !ok {
		return nil, nil, NoRef, fmt.Errorf(
			"%w: no resolved leaf governs the operation key", ErrProofVerification)
	}
	for _, r := range path {
		c.mark(r)
	}
	c.mark(leaf)
	return path, dirs, leaf, nil
}

func (c *core) locate(r Ref, key []byte, predecessor bool, path *[]Ref, dirs *[]bool) (Ref, bool) {
	n := c.at(r)
	switch n.kind {
	case kindStub:
		return NoRef, false
	case kindLeaf:
		if predecessor {
			return r, bytes.Compare(n.key, key) < 0 && bytes.Equal(n.nextKey, key)
		}
		return r, bytes.Compare(n.key, key) <= 0 && bytes.Compare(key, n.nextKey) < 0
	}

	if n.key != nil {
		goRight := bytes.Compare(key, n.key) >= 0
		if predecessor {
			goRight = bytes.Compare(n.key, key) < 0
		}
		child := n.left
		if goRight {
			child = n.right
		}
		*path = append(*path, r)
		*dirs = append(*dirs, goRight)
		return c.locate(child, key, predecessor, path, dirs)
	}

	// No routing key: try both children, left first, unwinding the records
	// of a miss.
	depth := len(*path)
	for _, goRight := range []bool{false, true} {
		child := n.left
		if goRight {
			child = n.right
		}
		*path = append(*path, r)
		*dirs = append(*dirs, goRight)
		if leaf, ok := c.locate(child, key, predecessor, path, dirs); ok {
			return leaf, true
		}
		*path = (*path)[:depth]
		*dirs = (*dirs)[:depth]
	}
	return NoRef, false
}

func (c *core) insertOne(key, value []byte) error {
	path, dirs, leafRef, err := c.descend(key, false)
	if err != nil {
		return err
	}
	if bytes.Equal(c.at(leafRef).key, key) {
		return fmt.Errorf("%w: %x", ErrKeyExists, key)
	}

	// The governing leaf splits: it keeps its key and value, the new leaf
	// takes over the upper part of its interval.
	wl := c.copyForWrite(leafRef)
	succ := c.at(wl).nextKey
	newLeaf := c.ar.alloc(node{kind: kindLeaf, key: key, value: value, nextKey: succ, fresh: true})
	wn := c.at(wl)
	wn.nextKey = key
	wn.labelOK = false
	parent := c.ar.alloc(node{
		kind: kindInternal, key: key, left: wl, right: newLeaf, height: 1, fresh: true,
	})
	return c.retreat(path, dirs, parent, nil)
}

func (c *core) updateOne(key, value []byte) error {
	path, dirs, leafRef, err := c.descend(key, false)
	if err != nil {
		return err
	}
	if !bytes.Equal(c.at(leafRef).key, key) {
		return fmt.Errorf("%w: %x", ErrKeyNotFound, key)
	}
	wl := c.copyForWrite(leafRef)
	wn := c.at(wl)
	wn.value = value
	wn.labelOK = false
	return c.retreat(path, dirs, wl, nil)
}

func (c *core) removeOne(key []byte) error {
	// Locate the target leaf first; its successor key is needed to rewrite
	// both the predecessor linkage and any routing keys equal to key.
	_, _, leafRef, err := c.descend(key, false)
	if err != nil {
		return err
	}
	if !bytes.Equal(c.at(leafRef).key, key) {
		return fmt.Errorf("%w: %x", ErrKeyNotFound, key)
	}
	targetNext := c.at(leafRef).nextKey

	// Rewrite the predecessor leaf's linkage: its interval absorbs the
	// removed key's.
	ppath, pdirs, predRef, err := c.descend(key, true)
	if err != nil {
		return err
	}
	wp := c.copyForWrite(predRef)
	wpn := c.at(wp)
	wpn.nextKey = targetNext
	wpn.labelOK = false
	if err = c.retreat(ppath, pdirs, wp, nil); err != nil {
		return err
	}

	// Structural removal: the target's parent collapses to the sibling.
	// Re-descend because the predecessor retreat may have copied shared
	// prefix nodes.
	path, dirs, leafRef, err := c.descend(key, false)
	if err != nil {
		return err
	}
	if !bytes.Equal(c.at(leafRef).key, key) || len(path) == 0 {
		return fmt.Errorf("%w: remove target vanished during replay", ErrProofVerification)
	}
	last := len(path) - 1
	mn := c.at(path[last])
	sibling := mn.right
	if dirs[last] {
		sibling = mn.left
	}
	return c.retreat(path[:last], dirs[:last], sibling, &routingFix{match: key, repl: targetNext})
}

func (c *core) lookupOne(key []byte) (LookupResult, error) {
	_, _, leafRef, err := c.descend(key, false)
	if err != nil {
		return LookupResult{}, err
	}
	n := c.at(leafRef)
	if bytes.Equal(n.key, key) {
		return LookupResult{Key: key, Value: bytes.Clone(n.value), Present: true}, nil
	}
	return LookupResult{Key: key}, nil
}

// routingFix replaces routing keys equal to match while retreating after a
// removal: the removed key was the minimum of those right subtrees, and its
// successor takes over.
type routingFix struct {
	match, repl []byte
}

// retreat re-links the (possibly copied) path bottom-up after newChild
// replaced the subtree the walk ended at, refreshing heights and rebalancing
// at every level.
func (c *core) retreat(path []Ref, dirs []bool, newChild Ref, fix *routingFix) error {
	cur := newChild
	for i := len(path) - 1; i >= 0; i-- {
		p := c.copyForWrite(path[i])
		pn := c.at(p)
		if dirs[i] {
			pn.right = cur
		} else {
			pn.left = cur
		}
		if fix != nil && pn.key != nil && bytes.Equal(pn.key, fix.match) {
			pn.key = fix.repl
		}
		pn.labelOK = false
		c.updateHeight(p)
		var err error
		if cur, err = c.rebalance(p); err != nil {
			return err
		}
	}
	c.root = cur
	return nil
}

func (c *core) updateHeight(r Ref) {
	n := c.at(r)
	hl, hr := c.heightOf(n.left), c.heightOf(n.right)
	if hl > hr {
		n.height = hl + 1
	} else {
		n.height = hr + 1
	}
}

// rebalance restores the AVL invariant at r (which must be writable) and
// returns the ref now rooting the subtree. When the taller grandchild ties
// the shorter one, the single rotation is chosen: it restores balance while
// touching fewer nodes, keeping proofs minimal.
func (c *core) rebalance(r Ref) (Ref, error) {
	n := c.at(r)
	bal := int(c.heightOf(n.right)) - int(c.heightOf(n.left))
	switch {
	case bal > 1:
		y := n.right
		if err := c.requireResolved(y); err != nil {
			return NoRef, err
		}
		if c.balanceOf(y) < 0 {
			return c.rotateRightLeft(r)
		}
		return c.rotateLeft(r)
	case bal < -1:
		y := n.left
		if err := c.requireResolved(y); err != nil {
			return NoRef, err
		}
		if c.balanceOf(y) > 0 {
			return c.rotateLeftRight(r)
		}
		return c.rotateRight(r)
	}
	return r, nil
}

func (c *core) requireResolved(r Ref) error {
	if c.at(r).kind == kindStub {
		return fmt.Errorf("%w: rebalancing needs a node outside the proof frontier", ErrProofVerification)
	}
	return nil
}

// rotateLeft:
//
//	  z                y
//	 / \              / \
//	T1  y     ->     z  T3
//	   / \          / \
//	  T2 T3        T1 T2
func (c *core) rotateLeft(z Ref) (Ref, error) {
	y := c.copyForWrite(c.at(z).right)
	zn, yn := c.at(z), c.at(y)
	zn.right = yn.left
	yn.left = z
	zn.labelOK, yn.labelOK = false, false
	c.updateHeight(z)
	c.updateHeight(y)
	return y, nil
}

func (c *core) rotateRight(z Ref) (Ref, error) {
	y := c.copyForWrite(c.at(z).left)
	zn, yn := c.at(z), c.at(y)
	zn.left = yn.right
	yn.right = z
	zn.labelOK, yn.labelOK = false, false
	c.updateHeight(z)
	c.updateHeight(y)
	return y, nil
}

// rotateRightLeft:
//
//	  z               w
//	 / \            /   \
//	T1  y    ->    z     y
//	   / \        / \   / \
//	  w  T4      T1 T2 T3 T4
//	 / \
//	T2 T3
func (c *core) rotateRightLeft(z Ref) (Ref, error) {
	y := c.at(z).right
	if err := c.requireResolved(c.at(y).left); err != nil {
		return NoRef, err
	}
	y = c.copyForWrite(y)
	w := c.copyForWrite(c.at(y).left)
	zn, yn, wn := c.at(z), c.at(y), c.at(w)
	zn.right = wn.left
	yn.left = wn.right
	wn.left = z
	wn.right = y
	zn.labelOK, yn.labelOK, wn.labelOK = false, false, false
	c.updateHeight(z)
	c.updateHeight(y)
	c.updateHeight(w)
	return w, nil
}

func (c *core) rotateLeftRight(z Ref) (Ref, error) {
	y := c.at(z).left
	if err := c.requireResolved(c.at(y).right); err != nil {
		return NoRef, err
	}
	y = c.copyForWrite(y)
	w := c.copyForWrite(c.at(y).right)
	zn, yn, wn := c.at(z), c.at(y), c.at(w)
	zn.left = wn.right
	yn.right = wn.left
	wn.right = z
	wn.left = y
	zn.labelOK, yn.labelOK, wn.labelOK = false, false, false
	c.updateHeight(z)
	c.updateHeight(y)
	c.updateHeight(w)
	return w, nil
}
