package ordering

import (
	"cmp"
	"sort"
)

// Strategy selects which ordering regime owns the permutation.
type Strategy int

const (
	// StrategyMarker orders by a marker's value (or by index) with selection priority.
	StrategyMarker Strategy = iota
	// StrategyDendrogram orders by the clustering tree's leaf order.
	StrategyDendrogram
)

func (s Strategy) String() string {
	if s == StrategyDendrogram {
		return "dendrogram"
	}
	return "marker"
}

// MarshalText encodes the strategy by name.
func (s Strategy) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ValueSource exposes the expression matrix to the sorter.
type ValueSource interface {
	Len() int
	Dims() int
	Value(item, dim int) float64
}

// Engine remembers the sort marker and direction across calls.
type Engine struct {
	sortBy    int
	lowToHigh bool
}

// NewEngine returns an engine with no sort marker, sorting high to low.
func NewEngine() *Engine {
	return &Engine{sortBy: -1}
}

// SortBy returns the current sort marker, or -1.
func (e *Engine) SortBy() int { return e.sortBy }

// LowToHigh reports whether marker sorts are ascending.
func (e *Engine) LowToHigh() bool { return e.lowToHigh }

// SortByMarker orders items by marker dim.
//
// An out-of-range dim yields index order and leaves the sort state alone.
// flip toggles the direction only when dim is already the sort marker. When
// more than one item is selected, selected items precede unselected ones and
// the value (or index) order applies within each group.
func (e *Engine) SortByMarker(src ValueSource, dim int, flip bool, selection []bool) Permutation {
	n := src.Len()
	valid := dim >= 0 && dim < src.Dims()
	if valid {
		if flip && dim == e.sortBy {
			e.lowToHigh = !e.lowToHigh
		}
		e.sortBy = dim
	}

	selected := func(i int) bool { return i < len(selection) && selection[i] }
	priority := countSelected(selection) > 1

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ia, ib := order[a], order[b]
		if priority {
			if sa, sb := selected(ia), selected(ib); sa != sb {
				return sa
			}
		}
		if !valid {
			return false
		}
		c := cmp.Compare(src.Value(ia, dim), src.Value(ib, dim))
		if e.lowToHigh {
			return c < 0
		}
		return c > 0
	})

	p := make(Permutation, n)
	for slot, item := range order {
		p[item] = slot
	}
	return p
}

// Recompute repeats the last marker sort against a new selection or dataset.
func (e *Engine) Recompute(src ValueSource, selection []bool) Permutation {
	return e.SortByMarker(src, e.sortBy, false, selection)
}

func countSelected(selection []bool) int {
	n := 0
	for _, s := range selection {
		if s {
			n++
		}
	}
	return n
}
