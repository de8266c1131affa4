// Package cache provides caching for cluster trees and encoded responses.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/allegro/bigcache/v3"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/atlasmap-sc/heatmap/internal/cluster"
	"github.com/atlasmap-sc/heatmap/internal/metrics"
)

// Config contains cache configuration.
type Config struct {
	ResponseCacheSizeMB int
	ResponseTTL         time.Duration
	TreeCacheSize       int
	Metrics             *metrics.Metrics
}

// Manager manages the response and tree caches.
type Manager struct {
	responses *bigcache.BigCache
	trees     *lru.Cache[string, *cluster.Node]
	metrics   *metrics.Metrics
}

// NewManager creates a new cache manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.ResponseTTL <= 0 {
		cfg.ResponseTTL = 10 * time.Minute
	}
	if cfg.TreeCacheSize <= 0 {
		cfg.TreeCacheSize = 32
	}
	if cfg.ResponseCacheSizeMB <= 0 {
		cfg.ResponseCacheSizeMB = 64
	}

	// Rendered PNGs of large heatmaps are the biggest entries.
	responseConfig := bigcache.Config{
		Shards:             16,
		LifeWindow:         cfg.ResponseTTL,
		CleanWindow:        cfg.ResponseTTL / 2,
		MaxEntriesInWindow: 1024,
		MaxEntrySize:       64 * 1024,
		HardMaxCacheSize:   cfg.ResponseCacheSizeMB,
		Verbose:            false,
	}

	responses, err := bigcache.New(context.Background(), responseConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create response cache: %w", err)
	}

	trees, err := lru.New[string, *cluster.Node](cfg.TreeCacheSize)
	if err != nil {
		responses.Close()
		return nil, fmt.Errorf("failed to create tree cache: %w", err)
	}

	return &Manager{
		responses: responses,
		trees:     trees,
		metrics:   cfg.Metrics,
	}, nil
}

// GetResponse retrieves an encoded response.
func (m *Manager) GetResponse(key string) ([]byte, bool) {
	data, err := m.responses.Get(key)
	m.metrics.CacheLookup("response", err == nil)
	if err != nil {
		return nil, false
	}
	return data, true
}

// SetResponse stores an encoded response.
func (m *Manager) SetResponse(key string, data []byte) error {
	return m.responses.Set(key, data)
}

// GetTree retrieves a clustering result. Trees are shared and must not be modified.
func (m *Manager) GetTree(key string) (*cluster.Node, bool) {
	root, ok := m.trees.Get(key)
	m.metrics.CacheLookup("tree", ok)
	return root, ok
}

// SetTree stores a clustering result.
func (m *Manager) SetTree(key string, root *cluster.Node) {
	m.trees.Add(key, root)
}

// TreeKey identifies a clustering of one dataset over a marker subset.
func TreeKey(digest string, markers []bool, distance, linkage string) string {
	var mask strings.Builder
	for _, on := range markers {
		if on {
			mask.WriteByte('1')
		} else {
			mask.WriteByte('0')
		}
	}
	h := sha256.Sum256([]byte(mask.String()))
	return fmt.Sprintf("tree:%s:%s:%s:%s", digest, distance, linkage, hex.EncodeToString(h[:])[:16])
}

// ResponseKey generates a cache key for an encoded snapshot view.
func ResponseKey(kind string, version uint64, params map[string]string) string {
	base := fmt.Sprintf("%s:v%d", kind, version)
	if len(params) == 0 {
		return base
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	h.Write([]byte(base))
	for _, k := range keys {
		fmt.Fprintf(h, "%s=%s;", k, params[k])
	}
	return base + ":" + hex.EncodeToString(h.Sum(nil))[:16]
}

// Stats returns cache statistics.
func (m *Manager) Stats() map[string]interface{} {
	return map[string]interface{}{
		"response_cache_len": m.responses.Len(),
		"response_cache_cap": m.responses.Capacity(),
		"tree_cache_len":     m.trees.Len(),
	}
}

// Close closes the cache manager.
func (m *Manager) Close() error {
	m.trees.Purge()
	return m.responses.Close()
}
