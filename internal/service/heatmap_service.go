// Package service provides the encoded views served by the heatmap bridge.
package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"strconv"

	"github.com/atlasmap-sc/heatmap/internal/cache"
	"github.com/atlasmap-sc/heatmap/internal/render"
	"github.com/atlasmap-sc/heatmap/internal/session"
)

// HeatmapServiceConfig contains heatmap service configuration.
type HeatmapServiceConfig struct {
	Session  *session.Controller
	Cache    *cache.Manager
	Renderer *render.HeatmapRenderer
}

// HeatmapService encodes controller snapshots and caches the results by
// state version.
type HeatmapService struct {
	session  *session.Controller
	cache    *cache.Manager
	renderer *render.HeatmapRenderer
}

// NewHeatmapService creates a new heatmap service.
func NewHeatmapService(cfg HeatmapServiceConfig) *HeatmapService {
	return &HeatmapService{
		session:  cfg.Session,
		cache:    cfg.Cache,
		renderer: cfg.Renderer,
	}
}

// Session returns the controller the service reads from.
func (s *HeatmapService) Session() *session.Controller {
	return s.session
}

// State returns the current snapshot as JSON along with its version.
func (s *HeatmapService) State() ([]byte, uint64, error) {
	snap := s.session.Snapshot()
	key := cache.ResponseKey("state", snap.Version, nil)
	if data, ok := s.cache.GetResponse(key); ok {
		return data, snap.Version, nil
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to encode state: %w", err)
	}

	s.storeResponse(key, data)
	return data, snap.Version, nil
}

// PNG renders the current heatmap.
func (s *HeatmapService) PNG(opts render.Options) ([]byte, uint64, error) {
	snap := s.session.Snapshot()
	if !snap.HasData() {
		return nil, snap.Version, session.ErrNoDataset
	}
	key := cache.ResponseKey("png", snap.Version, map[string]string{
		"colormap": opts.Colormap,
		"discrete": strconv.FormatBool(opts.Discrete),
	})
	if data, ok := s.cache.GetResponse(key); ok {
		return data, snap.Version, nil
	}

	data, err := s.renderer.Render(snap, opts)
	if err != nil {
		return nil, snap.Version, fmt.Errorf("failed to render heatmap: %w", err)
	}

	s.storeResponse(key, data)
	return data, snap.Version, nil
}

// storeResponse caches an encoded view. A failed store only costs a
// re-encode on the next request.
func (s *HeatmapService) storeResponse(key string, data []byte) {
	if err := s.cache.SetResponse(key, data); err != nil {
		log.Printf("[HeatmapService] failed to cache response %s (%d bytes): %v", key, len(data), err)
	}
}

// DefaultColormap names the colormap PNG renders fall back to.
func (s *HeatmapService) DefaultColormap() string {
	return s.renderer.DefaultColormap()
}

// CacheStats reports the fill level of the response and tree caches.
func (s *HeatmapService) CacheStats() map[string]interface{} {
	return s.cache.Stats()
}

// CSV exports the visible heatmap in display order.
func (s *HeatmapService) CSV() ([]byte, uint64, error) {
	snap := s.session.Snapshot()
	var buf bytes.Buffer
	if err := render.WriteCSV(&buf, snap); err != nil {
		return nil, snap.Version, err
	}
	return buf.Bytes(), snap.Version, nil
}
