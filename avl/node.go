package avl

// node is a tagged variant: leaf, internal, or (verifier side only) stub.
//
// Leaves own key, value and nextKey. Internal nodes own the child refs, their
// stored height, and a routing key: the minimum leaf key of the right
// subtree, used to direct descent and never committed by any label. Stubs own
// nothing but a label and a derived height.
type node struct {
	kind nodeKind

	// key is the leaf key for leaves and the routing key for internal nodes.
	// Internal nodes decoded from a proof carry a nil routing key; replayed
	// descents locate leaves by their committed intervals instead.
	key     []byte
	value   []byte
	nextKey []byte

	left  Ref
	right Ref

	// height is 0 for leaves. Stubs carry the height derived from the
	// committed balances during proof verification.
	height uint8

	label   [LabelBytes]byte
	labelOK bool

	// visited marks the node for inclusion in the next proof.
	visited bool
	// fresh nodes were created by the in-flight operation and may be
	// mutated in place; all others are copied on write.
	fresh bool
}

// arena is the index-addressable node store. Refs are positions in nodes;
// copy-on-write appends, so truncating to a snapshot length discards every
// node an aborted operation created.
type arena struct {
	nodes []node
}

func (a *arena) at(r Ref) *node {
	return &a.nodes[r]
}

func (a *arena) alloc(n node) Ref {
	a.nodes = append(a.nodes, n)
	return Ref(len(a.nodes) - 1)
}

func (a *arena) len() int {
	return len(a.nodes)
}

func (a *arena) truncate(n int) {
	a.nodes = a.nodes[:n]
}
