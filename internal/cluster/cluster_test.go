package cluster

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClusterSingleVectorIsLeaf(t *testing.T) {
	root, err := Engine{}.Cluster([][]float64{{1, 2, 3}})
	require.NoError(t, err)
	assert.True(t, root.IsLeaf())
	assert.Equal(t, 0, root.Key)
	assert.Equal(t, 1, root.Size)
	assert.Equal(t, []int{0}, root.Leaves())
}

func TestClusterIdenticalVectorsMergeAtZero(t *testing.T) {
	root, err := Engine{}.Cluster([][]float64{{1, 2}, {1, 2}})
	require.NoError(t, err)
	require.False(t, root.IsLeaf())
	assert.Equal(t, 0.0, root.Height())
	assert.Equal(t, 0, root.Left.Key)
	assert.Equal(t, 1, root.Right.Key)
	assert.Equal(t, 2, root.Size)
}

func TestHeight(t *testing.T) {
	var empty *Node
	assert.Equal(t, 0.0, empty.Height())

	root, err := Engine{}.Cluster([][]float64{{0}, {3}, {4}})
	require.NoError(t, err)
	assert.Equal(t, root.Dist, root.Height())
	// 3 and 4 merge first; 0 joins at distance 3 or more.
	assert.GreaterOrEqual(t, root.Height(), 3.0)
}

func TestClusterInvalidInput(t *testing.T) {
	_, err := Engine{}.Cluster(nil)
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = Engine{}.Cluster([][]float64{{1, 2}, {1}})
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = Engine{}.Cluster([][]float64{{}, {}})
	require.ErrorIs(t, err, ErrNoDimensions)
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestClusterLinkages(t *testing.T) {
	vectors := [][]float64{{0}, {1}, {10}}
	tests := []struct {
		linkage Linkage
		root    float64
	}{
		{AverageLinkage, 9.5},
		{SingleLinkage, 9},
		{CompleteLinkage, 10},
	}
	for _, tt := range tests {
		t.Run(tt.linkage.String(), func(t *testing.T) {
			root, err := Engine{Distance: Euclidean, Linkage: tt.linkage}.Cluster(vectors)
			require.NoError(t, err)

			assert.InDelta(t, tt.root, root.Dist, 1e-9)
			assert.Equal(t, 3, root.Size)
			require.False(t, root.Left.IsLeaf())
			assert.InDelta(t, 1.0, root.Left.Dist, 1e-9)
			assert.Equal(t, 2, root.Right.Key)
			assert.Equal(t, []int{2, 1, 0}, root.Leaves())
		})
	}
}

func TestClusterTieBreakFirstPair(t *testing.T) {
	// d(0,1) == d(1,2) == 1; the scan meets (0,1) first.
	root, err := Engine{}.Cluster([][]float64{{0}, {1}, {2}})
	require.NoError(t, err)
	require.False(t, root.Left.IsLeaf())
	assert.Equal(t, 0, root.Left.Left.Key)
	assert.Equal(t, 1, root.Left.Right.Key)
}

func TestClusterCoversAllItems(t *testing.T) {
	vectors := [][]float64{
		{5, 1, 0}, {4.8, 1.2, 0.1}, {0, 3, 3}, {0.2, 2.9, 3.1}, {9, 9, 9}, {1, 1, 1}, {4.9, 1, 0.2},
	}
	root, err := Engine{Distance: Manhattan}.Cluster(vectors)
	require.NoError(t, err)

	leaves := root.Leaves()
	sort.Ints(leaves)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6}, leaves)
	assert.Equal(t, len(vectors), root.Size)

	var check func(n *Node)
	check = func(n *Node) {
		if n.IsLeaf() {
			return
		}
		require.NotNil(t, n.Left)
		require.NotNil(t, n.Right)
		assert.GreaterOrEqual(t, n.Dist, 0.0)
		check(n.Left)
		check(n.Right)
	}
	check(root)
}

func TestClusterContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Engine{}.ClusterContext(ctx, [][]float64{{0}, {1}, {2}})
	require.ErrorIs(t, err, context.Canceled)
}

func TestDistances(t *testing.T) {
	a, b := []float64{0, 0}, []float64{3, 4}
	assert.InDelta(t, 5.0, Euclidean(a, b), 1e-9)
	assert.InDelta(t, 7.0, Manhattan(a, b), 1e-9)
	assert.InDelta(t, 4.0, Chebyshev(a, b), 1e-9)

	fn, err := DistanceByName("L1")
	require.NoError(t, err)
	assert.InDelta(t, 7.0, fn(a, b), 1e-9)

	_, err = DistanceByName("cosine")
	require.Error(t, err)
}

func TestLinkageByName(t *testing.T) {
	l, err := LinkageByName("")
	require.NoError(t, err)
	assert.Equal(t, AverageLinkage, l)

	l, err = LinkageByName("Complete")
	require.NoError(t, err)
	assert.Equal(t, CompleteLinkage, l)

	_, err = LinkageByName("ward")
	require.Error(t, err)
}
