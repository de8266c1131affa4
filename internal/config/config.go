// Package config handles configuration loading for the heatmap server.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the server configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Data    DataConfig    `yaml:"data"`
	Queue   QueueConfig   `yaml:"queue"`
	Cluster ClusterConfig `yaml:"cluster"`
	Cache   CacheConfig   `yaml:"cache"`
	Render  RenderConfig  `yaml:"render"`
	View    ViewConfig    `yaml:"view"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port         int      `yaml:"port"`
	CORSOrigins  []string `yaml:"cors_origins"`
	IngestRate   float64  `yaml:"ingest_rate"`  // payloads per second
	IngestBurst  int      `yaml:"ingest_burst"` // payloads
	MaxPayloadMB int      `yaml:"max_payload_mb"`
}

// DataConfig seeds the session at startup.
type DataConfig struct {
	// Available lists dataset names offered to the host for switching.
	Available []string `yaml:"available"`
	// PayloadPath optionally points to a payload file enqueued at startup.
	PayloadPath string `yaml:"payload_path"`
}

// QueueConfig contains sequencing queue settings.
type QueueConfig struct {
	Capacity   int `yaml:"capacity"`
	TickMS     int `yaml:"tick_ms"`
	WatchdogMS int `yaml:"watchdog_ms"`
}

// ClusterConfig contains hierarchical clustering settings.
type ClusterConfig struct {
	Distance      string `yaml:"distance"`
	Linkage       string `yaml:"linkage"`
	TreeCacheSize int    `yaml:"tree_cache_size"`
}

// CacheConfig contains response caching settings.
type CacheConfig struct {
	ResponseSizeMB     int `yaml:"response_size_mb"`
	ResponseTTLMinutes int `yaml:"response_ttl_minutes"`
}

// RenderConfig contains rendering settings.
type RenderConfig struct {
	CellWidth        int    `yaml:"cell_width"`
	CellHeight       int    `yaml:"cell_height"`
	DendrogramHeight int    `yaml:"dendrogram_height"`
	DefaultColormap  string `yaml:"default_colormap"`
	DiscreteSteps    int    `yaml:"discrete_steps"`
}

// ViewConfig contains the initial view state.
type ViewConfig struct {
	Dendrogram    bool `yaml:"dendrogram"`
	ShowVariation bool `yaml:"show_variation"`
}

// TickInterval returns the queue tick as a duration.
func (q QueueConfig) TickInterval() time.Duration {
	return time.Duration(q.TickMS) * time.Millisecond
}

// Watchdog returns the queue watchdog as a duration.
func (q QueueConfig) Watchdog() time.Duration {
	return time.Duration(q.WatchdogMS) * time.Millisecond
}

// ResponseTTL returns the response cache lifetime.
func (c CacheConfig) ResponseTTL() time.Duration {
	return time.Duration(c.ResponseTTLMinutes) * time.Minute
}

// MaxPayloadBytes returns the ingest body limit in bytes.
func (s ServerConfig) MaxPayloadBytes() int64 {
	return int64(s.MaxPayloadMB) << 20
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		// Return default config if file doesn't exist
		return DefaultConfig(), nil
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	// Apply defaults for missing values
	applyDefaults(&cfg)

	return &cfg, nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			CORSOrigins:  []string{"http://localhost:3000", "http://localhost:5173"},
			IngestRate:   20,
			IngestBurst:  5,
			MaxPayloadMB: 64,
		},
		Queue: QueueConfig{
			Capacity:   1,
			TickMS:     10,
			WatchdogMS: 500,
		},
		Cluster: ClusterConfig{
			Distance:      "euclidean",
			Linkage:       "average",
			TreeCacheSize: 32,
		},
		Cache: CacheConfig{
			ResponseSizeMB:     64,
			ResponseTTLMinutes: 10,
		},
		Render: RenderConfig{
			CellWidth:        24,
			CellHeight:       16,
			DendrogramHeight: 120,
			DefaultColormap:  "viridis",
			DiscreteSteps:    7,
		},
	}
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = defaults.Server.CORSOrigins
	}
	if cfg.Server.IngestRate <= 0 {
		cfg.Server.IngestRate = defaults.Server.IngestRate
	}
	if cfg.Server.IngestBurst <= 0 {
		cfg.Server.IngestBurst = defaults.Server.IngestBurst
	}
	if cfg.Server.MaxPayloadMB <= 0 {
		cfg.Server.MaxPayloadMB = defaults.Server.MaxPayloadMB
	}
	if cfg.Queue.Capacity <= 0 {
		cfg.Queue.Capacity = defaults.Queue.Capacity
	}
	if cfg.Queue.TickMS <= 0 {
		cfg.Queue.TickMS = defaults.Queue.TickMS
	}
	if cfg.Queue.WatchdogMS <= 0 {
		cfg.Queue.WatchdogMS = defaults.Queue.WatchdogMS
	}
	if cfg.Cluster.Distance == "" {
		cfg.Cluster.Distance = defaults.Cluster.Distance
	}
	if cfg.Cluster.Linkage == "" {
		cfg.Cluster.Linkage = defaults.Cluster.Linkage
	}
	if cfg.Cluster.TreeCacheSize <= 0 {
		cfg.Cluster.TreeCacheSize = defaults.Cluster.TreeCacheSize
	}
	if cfg.Cache.ResponseSizeMB == 0 {
		cfg.Cache.ResponseSizeMB = defaults.Cache.ResponseSizeMB
	}
	if cfg.Cache.ResponseTTLMinutes == 0 {
		cfg.Cache.ResponseTTLMinutes = defaults.Cache.ResponseTTLMinutes
	}
	if cfg.Render.CellWidth == 0 {
		cfg.Render.CellWidth = defaults.Render.CellWidth
	}
	if cfg.Render.CellHeight == 0 {
		cfg.Render.CellHeight = defaults.Render.CellHeight
	}
	if cfg.Render.DendrogramHeight == 0 {
		cfg.Render.DendrogramHeight = defaults.Render.DendrogramHeight
	}
	if cfg.Render.DefaultColormap == "" {
		cfg.Render.DefaultColormap = defaults.Render.DefaultColormap
	}
	if cfg.Render.DiscreteSteps == 0 {
		cfg.Render.DiscreteSteps = defaults.Render.DiscreteSteps
	}
}
