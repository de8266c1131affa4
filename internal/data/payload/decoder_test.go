package payload

import (
	"bytes"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlasmap-sc/heatmap/internal/data/dataset"
)

const doc = `{
  "names": ["CD3", "CD19"],
  "nodes": [
    {"name": "T cells", "expression": [4.2, 0.1], "stddev": [0.3, 0.05]},
    {"name": "B cells", "expression": [0.2, 3.9]}
  ]
}`

func newDecoder(t *testing.T) *Decoder {
	t.Helper()
	d, err := NewDecoder(0)
	require.NoError(t, err)
	t.Cleanup(d.Close)
	return d
}

func checkDoc(t *testing.T, ds *dataset.Dataset) {
	t.Helper()
	require.Equal(t, []string{"CD3", "CD19"}, ds.Names)
	require.Len(t, ds.Items, 2)
	assert.Equal(t, "T cells", ds.Items[0].Name)
	assert.Equal(t, []float64{0.3, 0.05}, ds.Items[0].Variation)
	assert.Nil(t, ds.Items[1].Variation)
	assert.Equal(t, 3.9, ds.Items[1].VariationAt(1))
}

func TestDecodePlainJSON(t *testing.T) {
	ds, err := newDecoder(t).Decode([]byte(doc))
	require.NoError(t, err)
	checkDoc(t, ds)
}

func TestDecodeZstd(t *testing.T) {
	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	compressed := enc.EncodeAll([]byte(doc), nil)
	require.NoError(t, enc.Close())

	ds, err := newDecoder(t).Decode(compressed)
	require.NoError(t, err)
	checkDoc(t, ds)
}

func TestDecodeGzip(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(doc))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	ds, err := newDecoder(t).Decode(buf.Bytes())
	require.NoError(t, err)
	checkDoc(t, ds)
}

func TestDecodeRejectsBadPayloads(t *testing.T) {
	d := newDecoder(t)
	for name, raw := range map[string]string{
		"not json":     `{"names": [`,
		"empty":        `{"names": ["a"], "nodes": []}`,
		"shape":        `{"names": ["a", "b"], "nodes": [{"name": "x", "expression": [1]}]}`,
		"stddev shape": `{"names": ["a"], "nodes": [{"name": "x", "expression": [1], "stddev": [1, 2]}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := d.Decode([]byte(raw))
			require.ErrorIs(t, err, dataset.ErrInvalidInput)
		})
	}
}

func TestDecodeSizeLimit(t *testing.T) {
	d, err := NewDecoder(16)
	require.NoError(t, err)
	defer d.Close()

	_, err = d.Decode([]byte(doc))
	require.ErrorIs(t, err, dataset.ErrInvalidInput)
}

func TestDigestStable(t *testing.T) {
	a := Digest([]byte(doc))
	assert.Equal(t, a, Digest([]byte(doc)))
	assert.NotEqual(t, a, Digest([]byte(doc+" ")))
	assert.Len(t, a, 64)
}
