// Package selection tracks which heatmap columns and markers are active.
package selection

import (
	"errors"
	"fmt"
	"strings"

	"github.com/atlasmap-sc/heatmap/internal/ordering"
)

// ErrOutOfRange is returned for column or marker indices outside the current dataset.
var ErrOutOfRange = errors.New("selection: index out of range")

// Direction moves a single selection along the display order.
type Direction int

const (
	Previous Direction = iota
	Next
	First
	Last
)

// ParseDirection accepts previous/left, next/right, first and last.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "previous", "prev", "left":
		return Previous, nil
	case "next", "right":
		return Next, nil
	case "first":
		return First, nil
	case "last":
		return Last, nil
	default:
		return 0, fmt.Errorf("unknown direction %q", s)
	}
}

// State holds the column selection, the marker selection and its prefix sums.
type State struct {
	items   []bool
	markers []bool
	sat     []int

	pendingMerge int
	hasData      bool
}

// New returns an empty selection state.
func New() *State {
	return &State{pendingMerge: -1}
}

// Reset reconciles the state with a freshly loaded dataset of the given shape.
// Column flags are cleared, except for an item armed by ArmMerge. The marker
// vector only grows: the first dataset activates every marker unless flags
// were supplied earlier, later growth appends inactive markers.
func (s *State) Reset(items, dims int) {
	s.items = make([]bool, items)
	if s.pendingMerge >= 0 {
		if s.pendingMerge < items {
			s.items[s.pendingMerge] = true
		}
		s.pendingMerge = -1
	}

	if start := len(s.markers); start < dims {
		fill := start == 0
		for i := start; i < dims; i++ {
			s.markers = append(s.markers, fill)
		}
		s.refreshPrefixSums()
	}
	s.hasData = true
}

// Clone returns an independent copy, used to stage changes that may be abandoned.
func (s *State) Clone() *State {
	return &State{
		items:        append([]bool(nil), s.items...),
		markers:      append([]bool(nil), s.markers...),
		sat:          append([]int(nil), s.sat...),
		pendingMerge: s.pendingMerge,
		hasData:      s.hasData,
	}
}

// Len returns the number of columns.
func (s *State) Len() int { return len(s.items) }

// Count returns the number of selected columns.
func (s *State) Count() int {
	n := 0
	for _, v := range s.items {
		if v {
			n++
		}
	}
	return n
}

// Selected returns a copy of the column flags.
func (s *State) Selected() []bool {
	return append([]bool(nil), s.items...)
}

// ToggleColumn flips column i, clearing every other column unless additive.
// affectsOrder reports whether selection priority was or is now in effect
// (more than one selected), in which case the ordering must be recomputed.
func (s *State) ToggleColumn(i int, additive bool) (affectsOrder bool, err error) {
	if i < 0 || i >= len(s.items) {
		return false, fmt.Errorf("%w: column %d of %d", ErrOutOfRange, i, len(s.items))
	}
	before := s.Count()
	next := !s.items[i]
	if !additive {
		clear(s.items)
	}
	s.items[i] = next
	return before > 1 || s.Count() > 1, nil
}

// Set replaces the column flags, as requested by the host application.
func (s *State) Set(flags []bool) (affectsOrder bool, err error) {
	if len(flags) != len(s.items) {
		return false, fmt.Errorf("%w: got %d flags for %d columns", ErrOutOfRange, len(flags), len(s.items))
	}
	before := s.Count()
	copy(s.items, flags)
	return before > 1 || s.Count() > 1, nil
}

// Move re-selects the column adjacent to (or at an end of) the display order.
// Previous and Next need exactly one selected column, First and Last at most
// one; otherwise Move is a no-op.
func (s *State) Move(dir Direction, perm ordering.Permutation) (changed bool, err error) {
	if len(perm) != len(s.items) {
		return false, fmt.Errorf("%w: permutation has %d slots for %d columns", ErrOutOfRange, len(perm), len(s.items))
	}
	if len(s.items) == 0 {
		return false, nil
	}
	count := s.Count()
	if count > 1 || (count < 1 && (dir == Previous || dir == Next)) {
		return false, nil
	}

	current := -1
	for i, v := range s.items {
		if v {
			current = i
			break
		}
	}

	var target int
	switch dir {
	case Previous:
		target = max(0, perm[current]-1)
	case Next:
		target = min(len(perm)-1, perm[current]+1)
	case First:
		target = 0
	case Last:
		target = len(perm) - 1
	}

	item := perm.ItemAt(target)
	if item < 0 {
		return false, fmt.Errorf("%w: no column in slot %d", ErrOutOfRange, target)
	}
	if current >= 0 {
		s.items[current] = false
	}
	s.items[item] = true
	return item != current, nil
}

// ArmMerge remembers the first selected column so that it stays selected in
// the dataset produced by merging the selection. It needs more than one
// selected column.
func (s *State) ArmMerge() (int, bool) {
	if s.Count() < 2 {
		return -1, false
	}
	for i, v := range s.items {
		if v {
			s.pendingMerge = i
			return i, true
		}
	}
	return -1, false
}

// ToggleMarker flips marker d and refreshes the prefix sums.
func (s *State) ToggleMarker(d int) error {
	if d < 0 || d >= len(s.markers) {
		return fmt.Errorf("%w: marker %d of %d", ErrOutOfRange, d, len(s.markers))
	}
	s.markers[d] = !s.markers[d]
	s.refreshPrefixSums()
	return nil
}

// InitMarkers seeds the marker flags. It is ignored once a dataset has been
// loaded and reports whether the flags were taken.
func (s *State) InitMarkers(flags []bool) bool {
	if s.hasData {
		return false
	}
	if len(flags) > len(s.markers) {
		s.markers = append(s.markers, make([]bool, len(flags)-len(s.markers))...)
	}
	copy(s.markers, flags)
	s.refreshPrefixSums()
	return true
}

// Markers returns the marker flags of the first dims markers.
func (s *State) Markers(dims int) []bool {
	out := make([]bool, dims)
	copy(out, s.markers)
	return out
}

// ActiveMarkers returns the indices of active markers below dims.
func (s *State) ActiveMarkers(dims int) []int {
	var out []int
	for i := 0; i < dims && i < len(s.markers); i++ {
		if s.markers[i] {
			out = append(out, i)
		}
	}
	return out
}

// PrefixSums returns the compacted row of every marker below dims:
// sat[0] = 0, sat[i] = sat[i-1] + markers[i-1].
func (s *State) PrefixSums(dims int) []int {
	out := make([]int, dims)
	copy(out, s.sat)
	return out
}

// Compact keeps the values of active markers, in marker order.
func (s *State) Compact(values []float64) []float64 {
	out := make([]float64, 0, len(values))
	for i, v := range values {
		if i < len(s.markers) && s.markers[i] {
			out = append(out, v)
		}
	}
	return out
}

func (s *State) refreshPrefixSums() {
	s.sat = make([]int, len(s.markers))
	for i := 1; i < len(s.markers); i++ {
		s.sat[i] = s.sat[i-1]
		if s.markers[i-1] {
			s.sat[i]++
		}
	}
}
