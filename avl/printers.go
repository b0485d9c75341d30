package avl

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// debug utilities

// Sprint renders the tree structure for debugging: one node per line,
// indented by depth, right subtree first so the output reads like the tree
// rotated 90 degrees counter-clockwise.
func (t *Tree) Sprint() string {
	var b strings.Builder
	t.sprintNode(&b, t.root, 0)
	return b.String()
}

func (c *core) sprintNode(b *strings.Builder, r Ref, depth int) {
	n := c.at(r)
	indent := strings.Repeat("  ", depth)
	switch n.kind {
	case kindInternal:
		c.sprintNode(b, n.right, depth+1)
		fmt.Fprintf(b, "%s%s h=%d\n", indent, keyStringer(n.key), n.height)
		c.sprintNode(b, n.left, depth+1)
	case kindLeaf:
		fmt.Fprintf(b, "%s[%s..%s) v=%dB\n",
			indent, keyStringer(n.key), keyStringer(n.nextKey), len(n.value))
	default:
		fmt.Fprintf(b, "%s<%s> h=%d\n", indent, hex.EncodeToString(n.label[:4]), n.height)
	}
}

func keyStringer(key []byte) string {
	if key == nil {
		return "-"
	}
	if len(key) <= 4 {
		return hex.EncodeToString(key)
	}
	return hex.EncodeToString(key[:4])
}
