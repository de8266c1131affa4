// Package session owns the heatmap state: the current dataset, the column
// and marker selections, the permutation and the dendrogram. A Controller
// serialises every change so that exactly one logical thread mutates state
// at a time, and publishes immutable snapshots to listeners.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/atlasmap-sc/heatmap/internal/cache"
	"github.com/atlasmap-sc/heatmap/internal/cluster"
	"github.com/atlasmap-sc/heatmap/internal/data/dataset"
	"github.com/atlasmap-sc/heatmap/internal/data/payload"
	"github.com/atlasmap-sc/heatmap/internal/metrics"
	"github.com/atlasmap-sc/heatmap/internal/ordering"
	"github.com/atlasmap-sc/heatmap/internal/selection"
)

// ErrNoDataset is returned by interactions that need a loaded dataset.
var ErrNoDataset = errors.New("session: no dataset loaded")

// Config holds clustering and initial view settings.
type Config struct {
	Distance      string // euclidean (default), manhattan, chebyshev
	Linkage       string // average (default), single, complete
	Dendrogram    bool   // start in dendrogram mode
	ShowVariation bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithDecoder sets the payload decoder. The controller does not close it.
func WithDecoder(d *payload.Decoder) Option {
	return func(c *Controller) { c.decoder = d }
}

// WithCache enables tree caching.
func WithCache(m *cache.Manager) Option {
	return func(c *Controller) { c.cache = m }
}

// WithMetrics records clustering and recompute activity.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// Controller is the context object for one heatmap.
type Controller struct {
	decoder     *payload.Decoder
	ownsDecoder bool
	cache       *cache.Manager
	metrics     *metrics.Metrics

	engine       cluster.Engine
	distanceName string

	mu         sync.Mutex
	version    uint64
	ds         *dataset.Dataset
	digest     string
	sel        *selection.State
	order      *ordering.Engine
	perm       ordering.Permutation
	tree       *cluster.Node
	strategy   ordering.Strategy
	dendrogram bool

	bounds        Range
	highlight     int
	markerMode    bool
	showVariation bool
	available     []string

	listeners []Listener
}

// New creates a controller with no dataset.
func New(cfg Config, opts ...Option) (*Controller, error) {
	if cfg.Distance == "" {
		cfg.Distance = "euclidean"
	}
	if cfg.Linkage == "" {
		cfg.Linkage = "average"
	}
	distance, err := cluster.DistanceByName(cfg.Distance)
	if err != nil {
		return nil, err
	}
	linkage, err := cluster.LinkageByName(cfg.Linkage)
	if err != nil {
		return nil, err
	}

	c := &Controller{
		engine:        cluster.Engine{Distance: distance, Linkage: linkage},
		distanceName:  strings.ToLower(cfg.Distance),
		sel:           selection.New(),
		order:         ordering.NewEngine(),
		dendrogram:    cfg.Dendrogram,
		highlight:     -1,
		showVariation: cfg.ShowVariation,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.decoder == nil {
		d, err := payload.NewDecoder(0)
		if err != nil {
			return nil, err
		}
		c.decoder = d
		c.ownsDecoder = true
	}
	return c, nil
}

// Close releases the decoder if the controller created it.
func (c *Controller) Close() {
	if c.ownsDecoder {
		c.decoder.Close()
	}
}

// AddListener registers l for future changes.
func (c *Controller) AddListener(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// ApplyPayload decodes raw and replaces the dataset. It is the queue's
// process callback: if ctx is cancelled before the new state is committed,
// nothing changes.
func (c *Controller) ApplyPayload(ctx context.Context, raw []byte) error {
	ds, err := c.decoder.Decode(raw)
	if err != nil {
		return err
	}
	digest := payload.Digest(raw)

	c.mu.Lock()
	if err := ctx.Err(); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("payload abandoned before commit: %w", err)
	}

	sel := c.sel.Clone()
	sel.Reset(ds.Len(), ds.Dims())
	perm, tree, strategy, err := c.computeOrdering(ctx, ds, digest, sel, c.dendrogram)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if err := ctx.Err(); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("payload abandoned before commit: %w", err)
	}

	c.ds = ds
	c.digest = digest
	c.sel = sel
	c.perm, c.tree, c.strategy = perm, tree, strategy
	if c.highlight >= ds.Len() {
		c.highlight = -1
	}
	c.bounds = Range{}
	c.version++
	snap := c.snapshotLocked()
	notify := c.listenersLocked()
	c.mu.Unlock()

	log.Printf("[Session] dataset v%d ready: %d items x %d markers (%s)", snap.Version, ds.Len(), ds.Dims(), strategy)
	for _, l := range notify {
		l.OnDatasetReady(snap)
	}
	return nil
}

// ToggleColumn flips the selection of item i. Without additive every other
// item is deselected first.
func (c *Controller) ToggleColumn(i int, additive bool) error {
	c.mu.Lock()
	if c.ds == nil {
		c.mu.Unlock()
		return ErrNoDataset
	}
	affects, err := c.sel.ToggleColumn(i, additive)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	reordered := false
	if affects {
		reordered = c.reorderLocked()
	}
	c.version++
	selected := c.sel.Selected()
	perm := c.perm.Clone()
	notify := c.listenersLocked()
	c.mu.Unlock()

	for _, l := range notify {
		l.OnSelectionChanged(selected)
		if reordered {
			l.OnOrderingChanged(perm)
		}
	}
	return nil
}

// SetSelection replaces the selection on behalf of the host. The change is
// not echoed back through OnSelectionChanged.
func (c *Controller) SetSelection(flags []bool) error {
	c.mu.Lock()
	if c.ds == nil {
		c.mu.Unlock()
		return ErrNoDataset
	}
	affects, err := c.sel.Set(flags)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	reordered := false
	if affects {
		reordered = c.reorderLocked()
	}
	c.version++
	perm := c.perm.Clone()
	notify := c.listenersLocked()
	c.mu.Unlock()

	if reordered {
		for _, l := range notify {
			l.OnOrderingChanged(perm)
		}
	}
	return nil
}

// MoveSelection moves a single selected item along the display order.
func (c *Controller) MoveSelection(dir selection.Direction) error {
	c.mu.Lock()
	if c.ds == nil {
		c.mu.Unlock()
		return ErrNoDataset
	}
	changed, err := c.sel.Move(dir, c.perm)
	if err != nil || !changed {
		c.mu.Unlock()
		return err
	}
	c.version++
	selected := c.sel.Selected()
	notify := c.listenersLocked()
	c.mu.Unlock()

	for _, l := range notify {
		l.OnSelectionChanged(selected)
	}
	return nil
}

// MergeSelected asks the host to merge the selected items. The first selected
// item stays selected in the dataset the host sends back.
func (c *Controller) MergeSelected() (int, error) {
	c.mu.Lock()
	if c.ds == nil {
		c.mu.Unlock()
		return -1, ErrNoDataset
	}
	item, ok := c.sel.ArmMerge()
	if !ok {
		c.mu.Unlock()
		return -1, fmt.Errorf("%w: merging needs at least two selected items", dataset.ErrInvalidInput)
	}
	notify := c.listenersLocked()
	c.mu.Unlock()

	for _, l := range notify {
		if h, ok := l.(HostListener); ok {
			h.OnMergeRequested(item)
		}
	}
	return item, nil
}

// ToggleMarker flips marker d. In dendrogram mode the tree is rebuilt over
// the new marker subset.
func (c *Controller) ToggleMarker(d int) error {
	c.mu.Lock()
	if c.ds == nil {
		c.mu.Unlock()
		return ErrNoDataset
	}
	if dims := c.ds.Dims(); d < 0 || d >= dims {
		c.mu.Unlock()
		return fmt.Errorf("%w: marker %d of %d", selection.ErrOutOfRange, d, dims)
	}
	next := c.sel.Clone()
	if err := next.ToggleMarker(d); err != nil {
		c.mu.Unlock()
		return err
	}

	reordered := false
	if c.dendrogram {
		perm, tree, strategy, err := c.computeOrdering(context.Background(), c.ds, c.digest, next, true)
		if err != nil {
			c.mu.Unlock()
			return err
		}
		reordered = !slices.Equal(perm, c.perm)
		c.perm, c.tree, c.strategy = perm, tree, strategy
	}
	c.sel = next
	c.clampBoundsLocked()
	c.version++
	perm := c.perm.Clone()
	notify := c.listenersLocked()
	c.mu.Unlock()

	if reordered {
		for _, l := range notify {
			l.OnOrderingChanged(perm)
		}
	}
	return nil
}

// InitMarkerSelection seeds the marker flags. It reports false once a
// dataset has been loaded, in which case the flags are ignored.
func (c *Controller) InitMarkerSelection(flags []bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.sel.InitMarkers(flags) {
		return false
	}
	c.version++
	return true
}

// SortByMarker orders items by marker dim. flip reverses the direction when
// dim is already the sort marker. In dendrogram mode the sort marker is
// remembered but the dendrogram keeps ownership of the permutation.
func (c *Controller) SortByMarker(dim int, flip bool) (ordering.Permutation, error) {
	c.mu.Lock()
	if c.ds == nil {
		c.mu.Unlock()
		return nil, ErrNoDataset
	}
	p := c.order.SortByMarker(c.ds, dim, flip, c.sel.Selected())
	reordered := false
	if c.strategy == ordering.StrategyMarker {
		reordered = !slices.Equal(p, c.perm)
		c.perm = p
		c.metrics.Recompute(ordering.StrategyMarker.String())
	}
	c.version++
	perm := c.perm.Clone()
	notify := c.listenersLocked()
	c.mu.Unlock()

	if reordered {
		for _, l := range notify {
			l.OnOrderingChanged(perm)
		}
	}
	return perm, nil
}

// SetDendrogram switches dendrogram mode and replaces the permutation.
func (c *Controller) SetDendrogram(on bool) error {
	c.mu.Lock()
	if c.dendrogram == on {
		c.mu.Unlock()
		return nil
	}
	return c.switchDendrogramLocked(on)
}

// ToggleDendrogram flips dendrogram mode.
func (c *Controller) ToggleDendrogram() error {
	c.mu.Lock()
	return c.switchDendrogramLocked(!c.dendrogram)
}

// switchDendrogramLocked expects c.mu held and releases it.
func (c *Controller) switchDendrogramLocked(on bool) error {
	if c.ds == nil {
		c.dendrogram = on
		c.version++
		c.mu.Unlock()
		return nil
	}
	perm, tree, strategy, err := c.computeOrdering(context.Background(), c.ds, c.digest, c.sel, on)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.dendrogram = on
	c.perm, c.tree, c.strategy = perm, tree, strategy
	c.version++
	out := c.perm.Clone()
	notify := c.listenersLocked()
	c.mu.Unlock()

	for _, l := range notify {
		l.OnOrderingChanged(out)
	}
	return nil
}

// RenameItem changes the display name of item i and forwards it to the host.
func (c *Controller) RenameItem(i int, name string) error {
	c.mu.Lock()
	if c.ds == nil {
		c.mu.Unlock()
		return ErrNoDataset
	}
	if err := c.ds.Rename(i, name); err != nil {
		c.mu.Unlock()
		return err
	}
	c.version++
	notify := c.listenersLocked()
	c.mu.Unlock()

	for _, l := range notify {
		if h, ok := l.(HostListener); ok {
			h.OnRenameRequested(i, name)
		}
	}
	return nil
}

// SetHighlight marks item i as hovered; -1 clears it.
func (c *Controller) SetHighlight(i int) error {
	c.mu.Lock()
	if n := c.ds.Len(); i < -1 || i >= n {
		c.mu.Unlock()
		return fmt.Errorf("%w: highlight %d of %d", selection.ErrOutOfRange, i, n)
	}
	if c.highlight == i {
		c.mu.Unlock()
		return nil
	}
	c.highlight = i
	c.version++
	notify := c.listenersLocked()
	c.mu.Unlock()

	for _, l := range notify {
		if h, ok := l.(HostListener); ok {
			h.OnHighlightChanged(i)
		}
	}
	return nil
}

// SetUserBounds narrows the color scale. The bounds are clamped to the
// marker range of the active markers.
func (c *Controller) SetUserBounds(lo, hi float64) (Range, error) {
	if math.IsNaN(lo) || math.IsNaN(hi) || lo > hi {
		return Range{}, fmt.Errorf("%w: bounds [%g, %g]", dataset.ErrInvalidInput, lo, hi)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ds == nil {
		return Range{}, ErrNoDataset
	}
	c.bounds = Range{Min: lo, Max: hi, Valid: true}
	c.clampBoundsLocked()
	c.version++
	return c.bounds, nil
}

// ResetUserBounds returns the color scale to the marker range.
func (c *Controller) ResetUserBounds() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bounds.Valid {
		c.bounds = Range{}
		c.version++
	}
}

// SetMarkerSelectionMode shows or hides the marker selection controls.
func (c *Controller) SetMarkerSelectionMode(on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ds == nil {
		return ErrNoDataset
	}
	if c.markerMode != on {
		c.markerMode = on
		c.version++
	}
	return nil
}

// SetShowVariation toggles drawing of per-value variation.
func (c *Controller) SetShowVariation(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.showVariation != on {
		c.showVariation = on
		c.version++
	}
}

// AddAvailableDataset records a dataset name the host can switch to.
// Duplicate names are ignored; the return value reports whether name was added.
func (c *Controller) AddAvailableDataset(name string) (bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return false, fmt.Errorf("%w: empty dataset name", dataset.ErrInvalidInput)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if slices.Contains(c.available, name) {
		return false, nil
	}
	c.available = append(c.available, name)
	c.version++
	return true, nil
}

// AvailableDatasets returns the known dataset names in insertion order.
func (c *Controller) AvailableDatasets() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.available)
}

// SelectAvailableDataset asks the host to send the named dataset.
func (c *Controller) SelectAvailableDataset(name string) error {
	c.mu.Lock()
	if !slices.Contains(c.available, name) {
		c.mu.Unlock()
		return fmt.Errorf("%w: unknown dataset %q", dataset.ErrInvalidInput, name)
	}
	notify := c.listenersLocked()
	c.mu.Unlock()

	for _, l := range notify {
		if h, ok := l.(HostListener); ok {
			h.OnDatasetRequested(name)
		}
	}
	return nil
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Version returns the state version, which changes on every committed edit.
func (c *Controller) Version() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

// computeOrdering derives the permutation for ds under sel without touching
// controller state.
func (c *Controller) computeOrdering(ctx context.Context, ds *dataset.Dataset, digest string, sel *selection.State, dendrogram bool) (ordering.Permutation, *cluster.Node, ordering.Strategy, error) {
	if dendrogram {
		root, err := c.clusterTree(ctx, ds, digest, sel)
		if err != nil {
			return nil, nil, 0, err
		}
		if root != nil {
			perm, err := ordering.FromDendrogram(root, ds.Len())
			if err != nil {
				return nil, nil, 0, err
			}
			c.metrics.Recompute(ordering.StrategyDendrogram.String())
			return perm, root, ordering.StrategyDendrogram, nil
		}
		// No active markers to cluster on.
	}
	c.metrics.Recompute(ordering.StrategyMarker.String())
	return c.order.Recompute(ds, sel.Selected()), nil, ordering.StrategyMarker, nil
}

func (c *Controller) clusterTree(ctx context.Context, ds *dataset.Dataset, digest string, sel *selection.State) (*cluster.Node, error) {
	dims := ds.Dims()
	if len(sel.ActiveMarkers(dims)) == 0 {
		return nil, nil
	}

	key := cache.TreeKey(digest, sel.Markers(dims), c.distanceName, c.engine.Linkage.String())
	if c.cache != nil {
		if root, ok := c.cache.GetTree(key); ok {
			return root, nil
		}
	}

	vectors := make([][]float64, ds.Len())
	for i, it := range ds.Items {
		vectors[i] = sel.Compact(it.Expression)
	}
	start := time.Now()
	root, err := c.engine.ClusterContext(ctx, vectors)
	c.metrics.ClusterRun(time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("clustering %d items: %w", len(vectors), err)
	}
	if c.cache != nil {
		c.cache.SetTree(key, root)
	}
	return root, nil
}

// reorderLocked recomputes the permutation after a selection change. The
// dendrogram order does not depend on the selection.
func (c *Controller) reorderLocked() bool {
	if c.strategy != ordering.StrategyMarker {
		return false
	}
	p := c.order.Recompute(c.ds, c.sel.Selected())
	c.metrics.Recompute(ordering.StrategyMarker.String())
	changed := !slices.Equal(p, c.perm)
	c.perm = p
	return changed
}

// clampBoundsLocked keeps the user bounds inside the marker range, dropping
// them when they no longer overlap it.
func (c *Controller) clampBoundsLocked() {
	if !c.bounds.Valid {
		return
	}
	lo, hi, ok := c.ds.MarkerRange(c.sel.Markers(c.ds.Dims()))
	if !ok {
		c.bounds = Range{}
		return
	}
	b := Range{Min: max(c.bounds.Min, lo), Max: min(c.bounds.Max, hi), Valid: true}
	if b.Min > b.Max {
		b = Range{}
	}
	c.bounds = b
}

func (c *Controller) snapshotLocked() Snapshot {
	dims := c.ds.Dims()
	s := Snapshot{
		Version:             c.version,
		Dataset:             c.ds.Clone(),
		Permutation:         c.perm.Clone(),
		Selection:           c.sel.Selected(),
		Markers:             c.sel.Markers(dims),
		PrefixSums:          c.sel.PrefixSums(dims),
		ActiveMarkers:       c.sel.ActiveMarkers(dims),
		Tree:                c.tree,
		Strategy:            c.strategy,
		SortBy:              c.order.SortBy(),
		SortLowToHigh:       c.order.LowToHigh(),
		UserBounds:          c.bounds,
		Highlight:           c.highlight,
		MarkerSelectionMode: c.markerMode,
		ShowVariation:       c.showVariation,
	}
	if c.ds != nil {
		lo, hi, ok := c.ds.MarkerRange(s.Markers)
		s.MarkerRange = Range{Min: lo, Max: hi, Valid: ok}
	}
	return s
}

func (c *Controller) listenersLocked() []Listener {
	return slices.Clone(c.listeners)
}
