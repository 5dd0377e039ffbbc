package viewport

import (
	"math/rand/v2"

	"github.com/adamavenir/frayline/internal/types"
)

// heightIndex keeps record heights ordered by sequence key with subtree
// sums, so the line at which a record starts is found in O(log n).
type heightIndex struct {
	root *heightNode
}

type heightNode struct {
	key         types.SequenceKey
	height      int
	sum         int
	priority    uint64
	left, right *heightNode
}

func (n *heightNode) total() int {
	if n == nil {
		return 0
	}
	return n.sum
}

func (n *heightNode) update() {
	n.sum = n.height + n.left.total() + n.right.total()
}

// split divides n into keys before key and the rest. With inclusive set, key
// itself goes to the first half.
func split(n *heightNode, key types.SequenceKey, inclusive bool) (*heightNode, *heightNode) {
	if n == nil {
		return nil, nil
	}
	if n.key.Less(key) || (inclusive && n.key == key) {
		left, right := split(n.right, key, inclusive)
		n.right = left
		n.update()
		return n, right
	}
	left, right := split(n.left, key, inclusive)
	n.left = right
	n.update()
	return left, n
}

// join merges two treaps where every key in a sorts before every key in b.
func join(a, b *heightNode) *heightNode {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case a.priority > b.priority:
		a.right = join(a.right, b)
		a.update()
		return a
	default:
		b.left = join(a, b.left)
		b.update()
		return b
	}
}

// set stores height for key. A height of zero removes it.
func (h *heightIndex) set(key types.SequenceKey, height int) {
	before, rest := split(h.root, key, false)
	_, after := split(rest, key, true)
	if height > 0 {
		node := &heightNode{key: key, height: height, sum: height, priority: rand.Uint64()}
		before = join(before, node)
	}
	h.root = join(before, after)
}

// prefix sums the heights of every key before key.
func (h *heightIndex) prefix(key types.SequenceKey) int {
	sum := 0
	for n := h.root; n != nil; {
		if n.key.Less(key) {
			sum += n.left.total() + n.height
			n = n.right
		} else {
			n = n.left
		}
	}
	return sum
}

func (h *heightIndex) total() int {
	return h.root.total()
}

func (h *heightIndex) reset() {
	h.root = nil
}
