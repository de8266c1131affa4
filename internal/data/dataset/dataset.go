// Package dataset holds the per-cluster expression matrix shown by the heatmap.
package dataset

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidInput is returned when a dataset has an inconsistent shape.
var ErrInvalidInput = errors.New("invalid input")

// Item is one heatmap column: a cluster with one expression value per marker.
type Item struct {
	Name       string    `json:"name"`
	Expression []float64 `json:"expression"`
	// Variation is optional; when empty the expression vector is used instead.
	Variation []float64 `json:"stddev,omitempty"`
}

// VariationAt returns the variation value for dimension d.
func (it Item) VariationAt(d int) float64 {
	if len(it.Variation) == len(it.Expression) {
		return it.Variation[d]
	}
	return it.Expression[d]
}

// Dataset is an ordered list of items plus the marker (dimension) names.
type Dataset struct {
	Names []string `json:"names"`
	Items []Item   `json:"nodes"`
}

// Len returns the number of items.
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Items)
}

// Dims returns the number of markers.
func (d *Dataset) Dims() int {
	if d == nil {
		return 0
	}
	return len(d.Names)
}

// Validate checks that every vector matches the marker count.
func (d *Dataset) Validate() error {
	if d == nil || len(d.Items) == 0 {
		return fmt.Errorf("%w: dataset has no items", ErrInvalidInput)
	}
	dims := len(d.Names)
	for i, it := range d.Items {
		if len(it.Expression) != dims {
			return fmt.Errorf("%w: item %d has %d values, expected %d", ErrInvalidInput, i, len(it.Expression), dims)
		}
		if len(it.Variation) != 0 && len(it.Variation) != dims {
			return fmt.Errorf("%w: item %d has %d variation values, expected %d", ErrInvalidInput, i, len(it.Variation), dims)
		}
		for j, v := range it.Expression {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w: item %d marker %q is not finite", ErrInvalidInput, i, d.Names[j])
			}
		}
	}
	return nil
}

// Value returns the expression of item i at marker dim.
func (d *Dataset) Value(i, dim int) float64 {
	return d.Items[i].Expression[dim]
}

// Rename changes the display name of item i. It is the only in-place edit a
// dataset receives between replacements.
func (d *Dataset) Rename(i int, name string) error {
	if i < 0 || i >= len(d.Items) {
		return fmt.Errorf("%w: item %d out of range [0,%d)", ErrInvalidInput, i, len(d.Items))
	}
	d.Items[i].Name = name
	return nil
}

// Clone returns a deep copy.
func (d *Dataset) Clone() *Dataset {
	if d == nil {
		return nil
	}
	out := &Dataset{
		Names: append([]string(nil), d.Names...),
		Items: make([]Item, len(d.Items)),
	}
	for i, it := range d.Items {
		out.Items[i] = Item{
			Name:       it.Name,
			Expression: append([]float64(nil), it.Expression...),
		}
		if len(it.Variation) > 0 {
			out.Items[i].Variation = append([]float64(nil), it.Variation...)
		}
	}
	return out
}

// MarkerRange returns the min and max expression over the active markers.
// ok is false when no marker is active.
func (d *Dataset) MarkerRange(active []bool) (lo, hi float64, ok bool) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, it := range d.Items {
		for j, v := range it.Expression {
			if j >= len(active) || !active[j] {
				continue
			}
			ok = true
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
	}
	if !ok {
		return 0, 0, false
	}
	return lo, hi, true
}
