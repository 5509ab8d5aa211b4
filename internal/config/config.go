// Package config handles configuration loading for the tile server.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the server configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Data   DataConfig   `yaml:"data"`
	Cache  CacheConfig  `yaml:"cache"`
	Render RenderConfig `yaml:"render"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
	Title       string   `yaml:"title"`
}

// DatasetConfig describes one dataset's data sources.
type DatasetConfig struct {
	ZarrPath   string `yaml:"zarr_path"`
	TileDBPath string `yaml:"tiledb_path"`
	Colormap   string `yaml:"colormap"`
}

// DataConfig contains the configured datasets. The YAML section is a
// mapping of dataset ID to DatasetConfig; the first entry becomes the
// default dataset. A legacy flat section with zarr_path at the top level
// maps to a single dataset named "default".
type DataConfig struct {
	DefaultDataset string
	Datasets       map[string]DatasetConfig
	order          []string
}

// DatasetIDs returns the dataset IDs in YAML order.
func (d *DataConfig) DatasetIDs() []string {
	return d.order
}

// UnmarshalYAML decodes the data section, keeping dataset order.
func (d *DataConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("data section must be a mapping")
	}

	// Legacy flat format: data: { zarr_path: ..., tiledb_path: ... }
	for i := 0; i < len(node.Content); i += 2 {
		if node.Content[i].Value == "zarr_path" {
			var ds DatasetConfig
			if err := node.Decode(&ds); err != nil {
				return err
			}
			d.DefaultDataset = "default"
			d.Datasets = map[string]DatasetConfig{"default": ds}
			d.order = []string{"default"}
			return nil
		}
	}

	d.Datasets = make(map[string]DatasetConfig)
	for i := 0; i+1 < len(node.Content); i += 2 {
		id := node.Content[i].Value
		var ds DatasetConfig
		if err := node.Content[i+1].Decode(&ds); err != nil {
			return fmt.Errorf("dataset %q: %w", id, err)
		}
		d.Datasets[id] = ds
		d.order = append(d.order, id)
	}
	if len(d.order) > 0 {
		d.DefaultDataset = d.order[0]
	}
	return nil
}

// CacheConfig contains caching settings.
type CacheConfig struct {
	TileSizeMB     int    `yaml:"tile_size_mb"`
	TileTTLMinutes int    `yaml:"tile_ttl_minutes"`
	ChunkLRUSize   int    `yaml:"chunk_lru_size"`
	Disabled       bool   `yaml:"disabled"`
	Prefetch       bool   `yaml:"prefetch"`
	StorePath      string `yaml:"store_path"`
}

// RenderConfig contains rendering settings.
type RenderConfig struct {
	TileSize        int    `yaml:"tile_size"`
	DefaultColormap string `yaml:"default_colormap"`
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
		return nil, err
	}

	// Apply defaults for missing values
	applyDefaults(&cfg)

	return &cfg, nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Data: DataConfig{
			DefaultDataset: "default",
			Datasets: map[string]DatasetConfig{
				"default": {ZarrPath: "./data/pyramid.zarr"},
			},
			order: []string{"default"},
		},
		Cache: CacheConfig{
			TileSizeMB:     512,
			TileTTLMinutes: 10,
			ChunkLRUSize:   4096,
		},
		Render: RenderConfig{
			TileSize:        256,
			DefaultColormap: "gray",
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
	if len(cfg.Data.Datasets) == 0 {
		cfg.Data = defaults.Data
	}
	if cfg.Cache.TileSizeMB == 0 {
		cfg.Cache.TileSizeMB = defaults.Cache.TileSizeMB
	}
	if cfg.Cache.TileTTLMinutes == 0 {
		cfg.Cache.TileTTLMinutes = defaults.Cache.TileTTLMinutes
	}
	if cfg.Cache.ChunkLRUSize == 0 {
		cfg.Cache.ChunkLRUSize = defaults.Cache.ChunkLRUSize
	}
	if cfg.Render.TileSize == 0 {
		cfg.Render.TileSize = defaults.Render.TileSize
	}
	if cfg.Render.DefaultColormap == "" {
		cfg.Render.DefaultColormap = defaults.Render.DefaultColormap
	}
}
