// Package cluster implements agglomerative hierarchical clustering of heatmap
// columns over the active marker subset.
package cluster

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput is returned for empty or ragged input.
	ErrInvalidInput = errors.New("cluster: invalid input")
	// ErrNoDimensions is returned when every vector is empty (no active markers).
	// Callers are expected to guard against it; it wraps ErrInvalidInput.
	ErrNoDimensions = fmt.Errorf("%w: vectors have no dimensions", ErrInvalidInput)
)

// Node is a dendrogram node. Leaves carry the item index in Key; internal
// nodes have both children and Key == -1.
type Node struct {
	Key   int     `json:"key"`
	Left  *Node   `json:"left,omitempty"`
	Right *Node   `json:"right,omitempty"`
	Dist  float64 `json:"dist"`
	Size  int     `json:"size"`
}

// IsLeaf reports whether n has no children.
func (n *Node) IsLeaf() bool {
	return n.Left == nil && n.Right == nil
}

// Leaves returns leaf keys visiting the right subtree before the left one,
// which is the column order the dendrogram is drawn in.
func (n *Node) Leaves() []int {
	out := make([]int, 0, n.Size)
	var walk func(*Node)
	walk = func(cur *Node) {
		if cur == nil {
			return
		}
		if cur.IsLeaf() {
			out = append(out, cur.Key)
			return
		}
		walk(cur.Right)
		walk(cur.Left)
	}
	walk(n)
	return out
}

// Height is the merge distance at the root.
func (n *Node) Height() float64 {
	if n == nil {
		return 0
	}
	return n.Dist
}

// Engine clusters vectors with a fixed distance and linkage.
type Engine struct {
	Distance DistanceFunc
	Linkage  Linkage
}

// Cluster builds the merge tree for vectors.
func (e Engine) Cluster(vectors [][]float64) (*Node, error) {
	return e.ClusterContext(context.Background(), vectors)
}

// ClusterContext is Cluster with cancellation checked between merge steps.
//
// At every step the two closest clusters are merged; pairs are scanned in
// slot order (i < j) with a strict comparison, so among equal distances the
// first pair found wins. This tie-break is implementation-defined. The merged
// cluster keeps the lower slot and becomes its Left child.
func (e Engine) ClusterContext(ctx context.Context, vectors [][]float64) (*Node, error) {
	n := len(vectors)
	if n == 0 {
		return nil, fmt.Errorf("%w: no vectors", ErrInvalidInput)
	}
	dims := len(vectors[0])
	for i, v := range vectors {
		if len(v) != dims {
			return nil, fmt.Errorf("%w: vector %d has length %d, expected %d", ErrInvalidInput, i, len(v), dims)
		}
	}
	if dims == 0 {
		return nil, ErrNoDimensions
	}
	if n == 1 {
		return &Node{Key: 0, Size: 1}, nil
	}

	distFn := e.Distance
	if distFn == nil {
		distFn = Euclidean
	}

	nodes := make([]*Node, n)
	dist := make([][]float64, n)
	for i := range vectors {
		nodes[i] = &Node{Key: i, Size: 1}
		dist[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := distFn(vectors[i], vectors[j])
			dist[i][j] = d
			dist[j][i] = d
		}
	}

	active := make([]int, n)
	for i := range active {
		active[i] = i
	}

	for len(active) > 1 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		bestA, bestB := 0, 1
		best := dist[active[0]][active[1]]
		for a := 0; a < len(active); a++ {
			for b := a + 1; b < len(active); b++ {
				if d := dist[active[a]][active[b]]; d < best {
					best, bestA, bestB = d, a, b
				}
			}
		}

		i, j := active[bestA], active[bestB]
		ni, nj := nodes[i].Size, nodes[j].Size
		for _, k := range active {
			if k == i || k == j {
				continue
			}
			d := e.Linkage.combine(dist[i][k], dist[j][k], ni, nj)
			dist[i][k] = d
			dist[k][i] = d
		}

		nodes[i] = &Node{
			Key:   -1,
			Left:  nodes[i],
			Right: nodes[j],
			Dist:  best,
			Size:  ni + nj,
		}
		nodes[j] = nil
		active = append(active[:bestB], active[bestB+1:]...)
	}

	return nodes[active[0]], nil
}
