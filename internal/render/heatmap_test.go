package render

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlasmap-sc/heatmap/internal/cluster"
	"github.com/atlasmap-sc/heatmap/internal/data/dataset"
	"github.com/atlasmap-sc/heatmap/internal/ordering"
	"github.com/atlasmap-sc/heatmap/internal/session"
	"github.com/atlasmap-sc/heatmap/pkg/colormap"
)

// snapshot shows items a, b, c as b, c, a with markers m0 and m2 active.
func snapshot() session.Snapshot {
	return session.Snapshot{
		Version: 1,
		Dataset: &dataset.Dataset{
			Names: []string{"m0", "m1", "m2"},
			Items: []dataset.Item{
				{Name: "a", Expression: []float64{0, 5, 1}},
				{Name: "b", Expression: []float64{2, 5, 0}},
				{Name: "c", Expression: []float64{1, 5, 0.5}},
			},
		},
		Permutation:   ordering.Permutation{2, 0, 1},
		Selection:     []bool{false, true, false},
		Markers:       []bool{true, false, true},
		PrefixSums:    []int{0, 1, 1},
		ActiveMarkers: []int{0, 2},
		MarkerRange:   session.Range{Min: 0, Max: 2, Valid: true},
		Highlight:     -1,
	}
}

func decode(t *testing.T, data []byte) image.Image {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return img
}

func sameColor(a, b color.Color) bool {
	ar, ag, ab, _ := a.RGBA()
	br, bg, bb, _ := b.RGBA()
	return ar>>8 == br>>8 && ag>>8 == bg>>8 && ab>>8 == bb>>8
}

func TestRenderLayoutAndColors(t *testing.T) {
	r := NewHeatmapRenderer(Config{CellWidth: 10, CellHeight: 10, DefaultColormap: "seurat"})
	s := snapshot()

	l := r.Layout(s)
	assert.Equal(t, 3, l.Columns)
	assert.Equal(t, 2, l.Rows)
	assert.Equal(t, 0, l.TopMargin)

	data, err := r.Render(s, Options{})
	require.NoError(t, err)
	img := decode(t, data)
	assert.Equal(t, l.Width, img.Bounds().Dx())
	assert.Equal(t, 20, img.Bounds().Dy())

	// Slot 0 shows item b; marker m0 is 2, the top of the range.
	assert.True(t, sameColor(colormap.Seurat.At(1), img.At(l.LabelWidth+5, 5)))
	// Slot 2 shows item a; marker m0 is 0, the bottom of the range. Marker m2
	// is drawn in the second row because m1 is inactive.
	assert.True(t, sameColor(colormap.Seurat.At(0), img.At(l.LabelWidth+25, 5)))
	assert.True(t, sameColor(colormap.Seurat.At(0.5), img.At(l.LabelWidth+25, 15)))
}

func TestRenderUserBoundsAndDiscrete(t *testing.T) {
	r := NewHeatmapRenderer(Config{CellWidth: 10, CellHeight: 10})
	s := snapshot()
	s.UserBounds = session.Range{Min: 0, Max: 1, Valid: true}

	cmap := r.Colormap(Options{Colormap: "magma", Discrete: true})
	data, err := r.Render(s, Options{Colormap: "magma", Discrete: true})
	require.NoError(t, err)
	img := decode(t, data)

	// Item c (slot 1) has m0 = 1, the top of the user bounds.
	assert.True(t, sameColor(cmap.At(1), img.At(r.Layout(s).LabelWidth+15, 5)))
}

func TestRenderDendrogramBand(t *testing.T) {
	r := NewHeatmapRenderer(Config{CellWidth: 10, CellHeight: 10, DendrogramHeight: 40})
	s := snapshot()
	s.Tree = &cluster.Node{
		Key:   -1,
		Left:  &cluster.Node{Key: -1, Left: &cluster.Node{Key: 0, Size: 1}, Right: &cluster.Node{Key: 2, Size: 1}, Dist: 1, Size: 2},
		Right: &cluster.Node{Key: 1, Size: 1},
		Dist:  2,
		Size:  3,
	}
	s.Strategy = ordering.StrategyDendrogram

	data, err := r.Render(s, Options{})
	require.NoError(t, err)
	img := decode(t, data)
	assert.Equal(t, 60, img.Bounds().Dy())
}

func TestRenderWithoutData(t *testing.T) {
	r := NewHeatmapRenderer(Config{})
	_, err := r.Render(session.Snapshot{}, Options{})
	require.ErrorIs(t, err, session.ErrNoDataset)
	require.ErrorIs(t, WriteCSV(&bytes.Buffer{}, session.Snapshot{}), session.ErrNoDataset)
}

func TestWriteCSVDisplayOrder(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, snapshot()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, []string{
		"marker,b,c,a",
		"m0,2,1,0",
		"m2,0,0.5,1",
	}, lines)
}
