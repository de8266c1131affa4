package dataset

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample() *Dataset {
	return &Dataset{
		Names: []string{"CD3", "CD4", "CD8"},
		Items: []Item{
			{Name: "T helper", Expression: []float64{3, 4, 0.5}},
			{Name: "T cytotoxic", Expression: []float64{3.2, 0.2, 4.1}, Variation: []float64{0.1, 0.2, 0.3}},
		},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(d *Dataset)
		ok     bool
	}{
		{name: "valid", mutate: func(d *Dataset) {}, ok: true},
		{name: "no items", mutate: func(d *Dataset) { d.Items = nil }},
		{name: "short vector", mutate: func(d *Dataset) { d.Items[0].Expression = []float64{1} }},
		{name: "variation mismatch", mutate: func(d *Dataset) { d.Items[1].Variation = []float64{1} }},
		{name: "nan", mutate: func(d *Dataset) { d.Items[0].Expression[1] = math.NaN() }},
		{name: "inf", mutate: func(d *Dataset) { d.Items[1].Expression[2] = math.Inf(1) }},
		{name: "zero markers", mutate: func(d *Dataset) {
			d.Names = nil
			for i := range d.Items {
				d.Items[i].Expression = []float64{}
				d.Items[i].Variation = nil
			}
		}, ok: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := sample()
			tt.mutate(d)
			err := d.Validate()
			if tt.ok {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestVariationDefaultsToExpression(t *testing.T) {
	d := sample()
	assert.Equal(t, 4.0, d.Items[0].VariationAt(1))
	assert.Equal(t, 0.2, d.Items[1].VariationAt(1))
}

func TestCloneIsDeep(t *testing.T) {
	d := sample()
	c := d.Clone()
	c.Items[0].Expression[0] = 99
	c.Names[0] = "changed"
	require.NoError(t, c.Rename(1, "renamed"))

	assert.Equal(t, 3.0, d.Items[0].Expression[0])
	assert.Equal(t, "CD3", d.Names[0])
	assert.Equal(t, "T cytotoxic", d.Items[1].Name)
}

func TestRenameOutOfRange(t *testing.T) {
	d := sample()
	require.ErrorIs(t, d.Rename(5, "x"), ErrInvalidInput)
	require.ErrorIs(t, d.Rename(-1, "x"), ErrInvalidInput)
}

func TestMarkerRange(t *testing.T) {
	d := sample()

	lo, hi, ok := d.MarkerRange([]bool{true, false, true})
	require.True(t, ok)
	assert.Equal(t, 0.5, lo)
	assert.Equal(t, 4.1, hi)

	_, _, ok = d.MarkerRange([]bool{false, false, false})
	assert.False(t, ok)
}
