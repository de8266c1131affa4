// Package payload decodes raw dataset payloads delivered by the host bridge.
//
// A payload is the JSON document the host application emits:
//
//	{"names": ["CD3", ...], "nodes": [{"name": "...", "expression": [...], "stddev": [...]}]}
//
// optionally compressed with zstd or gzip.
package payload

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/atlasmap-sc/heatmap/internal/data/dataset"
)

// DefaultMaxDecodedBytes bounds the decompressed payload size.
const DefaultMaxDecodedBytes = 64 << 20

var (
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
	gzipMagic = []byte{0x1f, 0x8b}
)

// Decoder turns raw payload bytes into validated datasets.
type Decoder struct {
	maxBytes int64
	zstd     *zstd.Decoder
}

// NewDecoder creates a decoder. maxDecodedBytes <= 0 selects DefaultMaxDecodedBytes.
func NewDecoder(maxDecodedBytes int64) (*Decoder, error) {
	if maxDecodedBytes <= 0 {
		maxDecodedBytes = DefaultMaxDecodedBytes
	}
	zd, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(uint64(maxDecodedBytes)))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &Decoder{maxBytes: maxDecodedBytes, zstd: zd}, nil
}

// Close releases decoder resources.
func (d *Decoder) Close() {
	d.zstd.Close()
}

// Decode decompresses (if needed), parses and validates a payload.
func (d *Decoder) Decode(raw []byte) (*dataset.Dataset, error) {
	body, err := d.decompress(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", dataset.ErrInvalidInput, err)
	}

	var ds dataset.Dataset
	if err := json.Unmarshal(body, &ds); err != nil {
		return nil, fmt.Errorf("%w: failed to parse payload: %v", dataset.ErrInvalidInput, err)
	}
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	return &ds, nil
}

func (d *Decoder) decompress(raw []byte) ([]byte, error) {
	switch {
	case bytes.HasPrefix(raw, zstdMagic):
		out, err := d.zstd.DecodeAll(raw, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress failed: %w", err)
		}
		return out, nil
	case bytes.HasPrefix(raw, gzipMagic):
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("gzip header: %w", err)
		}
		defer zr.Close()
		out, err := io.ReadAll(io.LimitReader(zr, d.maxBytes+1))
		if err != nil {
			return nil, fmt.Errorf("gzip decompress failed: %w", err)
		}
		if int64(len(out)) > d.maxBytes {
			return nil, fmt.Errorf("payload exceeds %d bytes", d.maxBytes)
		}
		return out, nil
	default:
		if int64(len(raw)) > d.maxBytes {
			return nil, fmt.Errorf("payload exceeds %d bytes", d.maxBytes)
		}
		return raw, nil
	}
}

// Digest identifies a payload by content.
func Digest(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
