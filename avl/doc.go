package avl

/*

# Authenticated AVL+ dictionaries

This package implements an authenticated key-value dictionary as a balanced
(AVL) binary search tree in which every node carries a cryptographic label.
The root label, concatenated with one byte of tree height, is the *digest*: a
33 byte commitment to the entire key-value content of the tree.

It follows the same "functional primitives" style as the other forestrie
merkle packages:

- small, composable functions
- explicit byte layouts for everything that crosses a trust boundary
- nodes held in an index-addressable arena, children referenced by Ref

## Prover and verifier

The party holding the full tree (the prover) applies batched insert, update,
remove and lookup operations. Every node visited or restructured by a batch is
recorded, and after a successful batch the marked sub-forest of the
pre-operation tree is serialized into a *proof*.

A party holding only the previous digest (the verifier) decodes the proof into
a skeleton - a partial tree in which unvisited siblings are present only as
opaque labels - checks the skeleton against the digest, replays the identical
operation against the skeleton with the same apply routine the prover used,
and derives the new digest. Verification never requires the full tree; the
verifier's state is the 33 byte digest and nothing else.

## Leaf linkage

All key-value content lives in leaves. Each leaf commits to the key of its
successor, so the leaves form a sorted linked list partitioning the key space.
A replayed search locates the unique leaf whose interval [key, nextKey)
contains the operation key: internal nodes never commit or serialize routing
information, and an absent key in a valid lookup proof is a definitive
"not present", not an error.

The empty tree is a single sentinel leaf spanning the whole key space. The
all-0x00 and all-0xFF keys of the configured width are reserved for the
sentinel interval and rejected from operations.

## Label framing

	valueHash      = H( value )
	leaf label     = H( 0x00 || 0x00 || key || nextKey || valueHash )
	internal label = H( 0x01 || balance+1 || height || leftLabel || rightLabel )

The leading tag byte keeps leaf and internal preimages disjoint. Balance and
height are both committed: the digest carries only the root height, and the
verifier derives every other height top-down from the committed balances.

*/
