package ordering

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlasmap-sc/heatmap/internal/cluster"
)

// matrix is a row-per-item ValueSource.
type matrix [][]float64

func (m matrix) Len() int { return len(m) }
func (m matrix) Dims() int {
	if len(m) == 0 {
		return 0
	}
	return len(m[0])
}
func (m matrix) Value(i, d int) float64 { return m[i][d] }

var threeItems = matrix{{3}, {1}, {2}}

func TestSortByMarkerDescendingDefault(t *testing.T) {
	e := NewEngine()
	p := e.SortByMarker(threeItems, 0, false, []bool{false, false, false})

	assert.Equal(t, Permutation{0, 2, 1}, p)
	assert.Equal(t, []int{0, 2, 1}, p.Inverse())
	assert.Equal(t, 0, e.SortBy())
	assert.False(t, e.LowToHigh())
}

func TestSortByMarkerSelectionPriority(t *testing.T) {
	tests := []struct {
		name      string
		selection []bool
		lowToHigh bool
		want      Permutation
	}{
		{name: "two selected keep value order", selection: []bool{true, false, true}, want: Permutation{0, 2, 1}},
		{name: "selected group first", selection: []bool{false, true, true}, want: Permutation{2, 1, 0}},
		{name: "selected group first ascending", selection: []bool{false, true, true}, lowToHigh: true, want: Permutation{2, 0, 1}},
		{name: "single selection is value only", selection: []bool{false, true, false}, want: Permutation{0, 2, 1}},
		{name: "no selection", selection: nil, want: Permutation{0, 2, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEngine()
			e.lowToHigh = tt.lowToHigh
			assert.Equal(t, tt.want, e.SortByMarker(threeItems, 0, false, tt.selection))
		})
	}
}

func TestSortByMarkerInvalidDimension(t *testing.T) {
	e := NewEngine()
	e.SortByMarker(threeItems, 0, false, nil)

	assert.Equal(t, Identity(3), e.SortByMarker(threeItems, 7, true, nil))
	assert.Equal(t, Permutation{2, 0, 1}, e.SortByMarker(threeItems, -1, false, []bool{false, true, true}))
	assert.Equal(t, 0, e.SortBy(), "invalid marker must not replace the sort marker")
	assert.False(t, e.LowToHigh())
}

func TestSortByMarkerFlipOnRepeat(t *testing.T) {
	e := NewEngine()
	original := e.SortByMarker(threeItems, 0, true, nil)
	assert.False(t, e.LowToHigh(), "first sort on a marker never flips")

	flipped := e.SortByMarker(threeItems, 0, true, nil)
	assert.True(t, e.LowToHigh())
	assert.Equal(t, Permutation{2, 0, 1}, flipped)

	assert.Equal(t, original, e.SortByMarker(threeItems, 0, true, nil))
	assert.False(t, e.LowToHigh())
}

func TestSortByMarkerFlipRequiresSameMarker(t *testing.T) {
	m := matrix{{3, 0}, {1, 5}, {2, 1}}
	e := NewEngine()
	e.SortByMarker(m, 0, false, nil)
	p := e.SortByMarker(m, 1, true, nil)

	assert.False(t, e.LowToHigh())
	assert.Equal(t, 1, e.SortBy())
	assert.Equal(t, Permutation{2, 0, 1}, p)
}

func TestRecomputeKeepsMarker(t *testing.T) {
	e := NewEngine()
	e.SortByMarker(threeItems, 0, false, nil)
	assert.Equal(t, Permutation{2, 1, 0}, e.Recompute(threeItems, []bool{false, true, true}))

	fresh := NewEngine()
	assert.Equal(t, Identity(3), fresh.Recompute(threeItems, nil))
}

func TestFromDendrogramRightBeforeLeft(t *testing.T) {
	root := &cluster.Node{
		Key:   -1,
		Left:  &cluster.Node{Key: 1, Size: 1},
		Right: &cluster.Node{Key: 0, Size: 1},
		Dist:  0.5,
		Size:  2,
	}
	// Right subtree (key 0) is visited first and lands in slot 0.
	p, err := FromDendrogram(root, 2)
	require.NoError(t, err)
	assert.Equal(t, Permutation{0, 1}, p)

	root.Left, root.Right = root.Right, root.Left
	p, err = FromDendrogram(root, 2)
	require.NoError(t, err)
	assert.Equal(t, Permutation{1, 0}, p)
}

func TestFromDendrogramRejectsMismatch(t *testing.T) {
	_, err := FromDendrogram(nil, 1)
	require.ErrorIs(t, err, ErrInvalidTree)

	_, err = FromDendrogram(&cluster.Node{Key: 0, Size: 1}, 2)
	require.ErrorIs(t, err, ErrInvalidTree)

	dup := &cluster.Node{Key: -1, Left: &cluster.Node{Key: 0}, Right: &cluster.Node{Key: 0}, Size: 2}
	_, err = FromDendrogram(dup, 2)
	require.ErrorIs(t, err, ErrInvalidTree)
}

func TestPermutationValidity(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	engine := cluster.Engine{Distance: cluster.Euclidean}

	for n := 1; n <= 25; n++ {
		m := make(matrix, n)
		for i := range m {
			m[i] = []float64{float64(rng.Intn(4)), rng.Float64(), rng.NormFloat64()}
		}
		sel := make([]bool, n)
		for i := range sel {
			sel[i] = rng.Intn(3) == 0
		}

		e := NewEngine()
		for dim := -1; dim <= m.Dims(); dim++ {
			require.True(t, e.SortByMarker(m, dim, true, sel).Valid(), "marker n=%d dim=%d", n, dim)
		}

		root, err := engine.Cluster(m)
		require.NoError(t, err)
		p, err := FromDendrogram(root, n)
		require.NoError(t, err)
		require.True(t, p.Valid(), "dendrogram n=%d", n)
	}
}

func TestPermutationHelpers(t *testing.T) {
	p := Permutation{2, 0, 1}
	assert.True(t, p.Valid())
	assert.Equal(t, 1, p.ItemAt(0))
	assert.Equal(t, -1, p.ItemAt(3))
	assert.False(t, Permutation{0, 0, 1}.Valid())
	assert.False(t, Permutation{0, 3, 1}.Valid())

	c := p.Clone()
	c[0] = 9
	assert.Equal(t, 2, p[0])
	assert.Equal(t, "dendrogram", StrategyDendrogram.String())
}
