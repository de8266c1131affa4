package session

import (
	"github.com/atlasmap-sc/heatmap/internal/cluster"
	"github.com/atlasmap-sc/heatmap/internal/data/dataset"
	"github.com/atlasmap-sc/heatmap/internal/ordering"
)

// Range is a closed value interval. Valid is false when it is undefined.
type Range struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Valid bool    `json:"valid"`
}

// Snapshot is an immutable copy of the controller state handed to renderers
// and listeners. Tree is shared with the tree cache and must not be modified.
type Snapshot struct {
	Version             uint64               `json:"version"`
	Dataset             *dataset.Dataset     `json:"dataset"`
	Permutation         ordering.Permutation `json:"permutation"`
	Selection           []bool               `json:"selection"`
	Markers             []bool               `json:"markers"`
	PrefixSums          []int                `json:"prefix_sums"`
	ActiveMarkers       []int                `json:"active_markers"`
	Tree                *cluster.Node        `json:"tree,omitempty"`
	Strategy            ordering.Strategy    `json:"strategy"`
	SortBy              int                  `json:"sort_by"`
	SortLowToHigh       bool                 `json:"sort_low_to_high"`
	MarkerRange         Range                `json:"marker_range"`
	UserBounds          Range                `json:"user_bounds"`
	Highlight           int                  `json:"highlight"`
	MarkerSelectionMode bool                 `json:"marker_selection_mode"`
	ShowVariation       bool                 `json:"show_variation"`
}

// HasData reports whether a dataset has been loaded.
func (s Snapshot) HasData() bool {
	return s.Dataset != nil
}

// DisplayOrder returns item indices from the leftmost column to the rightmost.
func (s Snapshot) DisplayOrder() []int {
	return s.Permutation.Inverse()
}

// ColorBounds returns the value range colors are scaled to: the user bounds
// when set, the marker range otherwise.
func (s Snapshot) ColorBounds() (lo, hi float64, ok bool) {
	if s.UserBounds.Valid {
		return s.UserBounds.Min, s.UserBounds.Max, true
	}
	return s.MarkerRange.Min, s.MarkerRange.Max, s.MarkerRange.Valid
}

// Listener receives state changes. Calls are made after the controller lock
// is released, on the goroutine that caused the change.
type Listener interface {
	OnDatasetReady(Snapshot)
	OnSelectionChanged([]bool)
	OnOrderingChanged(ordering.Permutation)
}

// HostListener is optionally implemented by listeners that forward user
// requests to the host application.
type HostListener interface {
	OnHighlightChanged(item int)
	OnMergeRequested(item int)
	OnRenameRequested(item int, name string)
	OnDatasetRequested(name string)
}

// ListenerFuncs adapts plain functions to Listener and HostListener. Nil
// fields are skipped.
type ListenerFuncs struct {
	DatasetReady     func(Snapshot)
	SelectionChanged func([]bool)
	OrderingChanged  func(ordering.Permutation)
	HighlightChanged func(int)
	MergeRequested   func(int)
	RenameRequested  func(int, string)
	DatasetRequested func(string)
}

func (f ListenerFuncs) OnDatasetReady(s Snapshot) {
	if f.DatasetReady != nil {
		f.DatasetReady(s)
	}
}

func (f ListenerFuncs) OnSelectionChanged(sel []bool) {
	if f.SelectionChanged != nil {
		f.SelectionChanged(sel)
	}
}

func (f ListenerFuncs) OnOrderingChanged(p ordering.Permutation) {
	if f.OrderingChanged != nil {
		f.OrderingChanged(p)
	}
}

func (f ListenerFuncs) OnHighlightChanged(item int) {
	if f.HighlightChanged != nil {
		f.HighlightChanged(item)
	}
}

func (f ListenerFuncs) OnMergeRequested(item int) {
	if f.MergeRequested != nil {
		f.MergeRequested(item)
	}
}

func (f ListenerFuncs) OnRenameRequested(item int, name string) {
	if f.RenameRequested != nil {
		f.RenameRequested(item, name)
	}
}

func (f ListenerFuncs) OnDatasetRequested(name string) {
	if f.DatasetRequested != nil {
		f.DatasetRequested(name)
	}
}
