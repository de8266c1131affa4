// Package render draws heatmap snapshots using fogleman/gg.
package render

import (
	"bytes"
	"fmt"
	"image/color"
	"image/png"
	"sync"

	"github.com/fogleman/gg"

	"github.com/atlasmap-sc/heatmap/internal/cluster"
	"github.com/atlasmap-sc/heatmap/internal/session"
	"github.com/atlasmap-sc/heatmap/pkg/colormap"
)

// Config contains renderer configuration.
type Config struct {
	CellWidth        int
	CellHeight       int
	DendrogramHeight int
	DefaultColormap  string
	DiscreteSteps    int
}

// Options select how one image is drawn.
type Options struct {
	Colormap string
	Discrete bool
}

const (
	labelCharWidth = 7 // basicfont.Face7x13, gg's default face
	labelPadding   = 10
	minVariation   = 0.2
)

var (
	selectionColor = color.RGBA{R: 33, G: 33, B: 33, A: 255}
	highlightColor = color.RGBA{R: 255, G: 152, B: 0, A: 255}
	linkColor      = color.RGBA{R: 90, G: 90, B: 90, A: 255}
)

// HeatmapRenderer renders snapshots to PNG.
type HeatmapRenderer struct {
	config     Config
	bufferPool sync.Pool
}

// NewHeatmapRenderer creates a new heatmap renderer.
func NewHeatmapRenderer(cfg Config) *HeatmapRenderer {
	if cfg.CellWidth <= 0 {
		cfg.CellWidth = 24
	}
	if cfg.CellHeight <= 0 {
		cfg.CellHeight = 16
	}
	if cfg.DendrogramHeight <= 0 {
		cfg.DendrogramHeight = 120
	}
	if cfg.DiscreteSteps <= 0 {
		cfg.DiscreteSteps = 7
	}
	if _, ok := colormap.ByName(cfg.DefaultColormap); !ok {
		cfg.DefaultColormap = "viridis"
	}
	return &HeatmapRenderer{
		config: cfg,
		bufferPool: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, 32*1024))
			},
		},
	}
}

// DefaultColormap names the colormap used when a request names none.
func (r *HeatmapRenderer) DefaultColormap() string {
	return r.config.DefaultColormap
}

// Colormap resolves the colormap for opts, falling back to the default.
func (r *HeatmapRenderer) Colormap(opts Options) colormap.Colormap {
	cmap, ok := colormap.ByName(opts.Colormap)
	if !ok {
		cmap, _ = colormap.ByName(r.config.DefaultColormap)
	}
	if opts.Discrete {
		return colormap.Discrete(cmap, r.config.DiscreteSteps)
	}
	return cmap
}

// Layout is the pixel geometry of a rendered snapshot.
type Layout struct {
	Width, Height int
	LabelWidth    int
	TopMargin     int
	Columns, Rows int
}

// Layout computes the image geometry for s.
func (r *HeatmapRenderer) Layout(s session.Snapshot) Layout {
	l := Layout{
		Columns: s.Dataset.Len(),
		Rows:    len(s.ActiveMarkers),
	}
	longest := 0
	for _, d := range s.ActiveMarkers {
		longest = max(longest, len(s.Dataset.Names[d]))
	}
	l.LabelWidth = longest*labelCharWidth + labelPadding
	if s.Tree != nil {
		l.TopMargin = r.config.DendrogramHeight
	}
	l.Width = l.LabelWidth + l.Columns*r.config.CellWidth
	l.Height = l.TopMargin + max(l.Rows, 1)*r.config.CellHeight
	return l
}

// Render draws the heatmap of s: one column per item in display order, one
// row per active marker. Selected columns are outlined and the dendrogram,
// when present, is drawn above the cells.
func (r *HeatmapRenderer) Render(s session.Snapshot, opts Options) ([]byte, error) {
	if !s.HasData() {
		return nil, session.ErrNoDataset
	}

	l := r.Layout(s)
	dc := gg.NewContext(l.Width, l.Height)
	dc.SetColor(color.White)
	dc.Clear()

	cmap := r.Colormap(opts)
	lo, hi, _ := s.ColorBounds()
	cw, ch := float64(r.config.CellWidth), float64(r.config.CellHeight)
	x0, y0 := float64(l.LabelWidth), float64(l.TopMargin)

	maxVar := 0.0
	if s.ShowVariation {
		for _, it := range s.Dataset.Items {
			for _, d := range s.ActiveMarkers {
				maxVar = max(maxVar, it.VariationAt(d))
			}
		}
	}

	// Rows are placed by the marker prefix sums so that inactive markers
	// leave no gaps.
	dc.SetColor(color.Black)
	for _, d := range s.ActiveMarkers {
		y := y0 + float64(s.PrefixSums[d])*ch
		dc.DrawStringAnchored(s.Dataset.Names[d], x0-labelPadding/2, y+ch/2, 1, 0.5)
	}

	for slot, item := range s.DisplayOrder() {
		it := s.Dataset.Items[item]
		x := x0 + float64(slot)*cw
		for _, d := range s.ActiveMarkers {
			y := y0 + float64(s.PrefixSums[d])*ch
			h := ch
			if maxVar > 0 {
				h = ch * (minVariation + (1-minVariation)*it.VariationAt(d)/maxVar)
			}
			dc.SetColor(cmap.At(colormap.Normalize(it.Expression[d], lo, hi)))
			dc.DrawRectangle(x, y+(ch-h)/2, cw, h)
			dc.Fill()
		}
	}

	gridHeight := float64(l.Rows) * ch
	for slot, item := range s.DisplayOrder() {
		x := x0 + float64(slot)*cw
		switch {
		case item == s.Highlight:
			dc.SetColor(highlightColor)
			dc.SetLineWidth(3)
		case item < len(s.Selection) && s.Selection[item]:
			dc.SetColor(selectionColor)
			dc.SetLineWidth(2)
		default:
			continue
		}
		dc.DrawRectangle(x+1, y0+1, cw-2, gridHeight-2)
		dc.Stroke()
	}

	if s.Tree != nil {
		r.drawDendrogram(dc, s.Tree, s.Permutation, x0, cw, float64(l.TopMargin))
	}

	return r.encodeContext(dc)
}

// drawDendrogram draws elbow links from each merge down to its children.
// Leaves sit at the center of their display slot; merge heights scale with
// distance so that the root touches the top of the band.
func (r *HeatmapRenderer) drawDendrogram(dc *gg.Context, root *cluster.Node, perm []int, x0, cw, band float64) {
	const top = 20.0
	scale := 0.0
	if h := root.Height(); h > 0 {
		scale = (band - top) / h
	}
	yOf := func(n *cluster.Node) float64 { return band - n.Dist*scale }

	var place func(n *cluster.Node) float64
	place = func(n *cluster.Node) float64 {
		if n.IsLeaf() {
			return x0 + (float64(perm[n.Key])+0.5)*cw
		}
		xl, xr := place(n.Left), place(n.Right)
		y := yOf(n)
		dc.DrawLine(xl, y, xl, yOf(n.Left))
		dc.DrawLine(xr, y, xr, yOf(n.Right))
		dc.DrawLine(xl, y, xr, y)
		return (xl + xr) / 2
	}

	dc.SetColor(linkColor)
	dc.SetLineWidth(1)
	place(root)
	dc.Stroke()
}

func (r *HeatmapRenderer) encodeContext(dc *gg.Context) ([]byte, error) {
	buf := r.bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		r.bufferPool.Put(buf)
	}()

	// Use fast PNG encoder
	encoder := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := encoder.Encode(buf, dc.Image()); err != nil {
		return nil, fmt.Errorf("encode heatmap: %w", err)
	}

	// Copy buffer contents (buffer will be reused)
	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}
