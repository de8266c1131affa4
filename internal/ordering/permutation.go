// Package ordering maintains the column permutation of the heatmap.
package ordering

import (
	"errors"
	"fmt"

	"github.com/atlasmap-sc/heatmap/internal/cluster"
)

// ErrInvalidTree is returned when a dendrogram's leaves do not match the item count.
var ErrInvalidTree = errors.New("ordering: dendrogram leaves do not form a permutation")

// Permutation maps an item index to its display slot: p[item] = slot.
type Permutation []int

// Identity returns the permutation that leaves every item in place.
func Identity(n int) Permutation {
	p := make(Permutation, n)
	for i := range p {
		p[i] = i
	}
	return p
}

// Valid reports whether p is a bijection on [0, len(p)).
func (p Permutation) Valid() bool {
	seen := make([]bool, len(p))
	for _, slot := range p {
		if slot < 0 || slot >= len(p) || seen[slot] {
			return false
		}
		seen[slot] = true
	}
	return true
}

// Inverse returns the items in display order: inv[slot] = item.
func (p Permutation) Inverse() []int {
	inv := make([]int, len(p))
	for item, slot := range p {
		inv[slot] = item
	}
	return inv
}

// ItemAt returns the item shown in slot, or -1.
func (p Permutation) ItemAt(slot int) int {
	for item, s := range p {
		if s == slot {
			return item
		}
	}
	return -1
}

// Clone returns a copy of p.
func (p Permutation) Clone() Permutation {
	return append(Permutation(nil), p...)
}

// FromDendrogram orders items by the tree's leaf order (right subtree first)
// and inverts it into a permutation over n items.
func FromDendrogram(root *cluster.Node, n int) (Permutation, error) {
	if root == nil {
		return nil, fmt.Errorf("%w: nil tree", ErrInvalidTree)
	}
	leaves := root.Leaves()
	if len(leaves) != n {
		return nil, fmt.Errorf("%w: %d leaves for %d items", ErrInvalidTree, len(leaves), n)
	}
	p := make(Permutation, n)
	for i := range p {
		p[i] = -1
	}
	for pos, key := range leaves {
		if key < 0 || key >= n || p[key] != -1 {
			return nil, fmt.Errorf("%w: leaf key %d", ErrInvalidTree, key)
		}
		p[key] = pos
	}
	return p, nil
}
