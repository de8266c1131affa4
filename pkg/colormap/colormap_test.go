package colormap

import (
	"image/color"
	"math"
	"testing"
)

func TestSeuratColormapEndpoints(t *testing.T) {
	t.Parallel()

	c0, ok := Seurat.At(0).(color.RGBA)
	if !ok {
		t.Fatalf("expected color.RGBA at t=0")
	}
	if c0 != (color.RGBA{R: 211, G: 211, B: 211, A: 255}) {
		t.Fatalf("unexpected Seurat.At(0): %#v", c0)
	}

	c1, ok := Seurat.At(1).(color.RGBA)
	if !ok {
		t.Fatalf("expected color.RGBA at t=1")
	}
	if c1 != (color.RGBA{R: 255, G: 0, B: 0, A: 255}) {
		t.Fatalf("unexpected Seurat.At(1): %#v", c1)
	}
}

func TestLinearColormapNaN(t *testing.T) {
	t.Parallel()

	if got := Viridis.At(math.NaN()); got != Viridis.At(0) {
		t.Fatalf("expected NaN to map to the low end, got %#v", got)
	}
}

func TestDiscreteColormapBands(t *testing.T) {
	t.Parallel()

	d := Discrete(Seurat, 4)
	if d.At(0) != d.At(0.24) {
		t.Fatalf("expected values in one band to share a color")
	}
	if d.At(0.24) == d.At(0.26) {
		t.Fatalf("expected a new band at 0.25")
	}
	if d.At(1) != d.At(0.99) || d.At(-1) != d.At(0) {
		t.Fatalf("expected out-of-range values to clamp to the end bands")
	}
	if d.AtIndex(5) != d.AtIndex(1) {
		t.Fatalf("expected AtIndex to wrap")
	}
	if Discrete(Seurat, 0).steps != 2 {
		t.Fatalf("expected at least two bands")
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		v, lo, hi, want float64
	}{
		{5, 0, 10, 0.5},
		{-1, 0, 10, 0},
		{11, 0, 10, 1},
		{3, 3, 3, 0.5},
	}
	for _, tt := range tests {
		if got := Normalize(tt.v, tt.lo, tt.hi); got != tt.want {
			t.Fatalf("Normalize(%v, %v, %v) = %v, want %v", tt.v, tt.lo, tt.hi, got, tt.want)
		}
	}
}

func TestByName(t *testing.T) {
	t.Parallel()

	if _, ok := ByName(" Viridis "); !ok {
		t.Fatalf("expected case-insensitive lookup")
	}
	if _, ok := ByName("jet"); ok {
		t.Fatalf("expected unknown colormap to be missing")
	}
	names := Names()
	if len(names) != len(registry) || names[0] != "categorical" {
		t.Fatalf("unexpected names %v", names)
	}
}
