package main

import (
	"fmt"
	"os"

	yaml "gopkg.in/yaml.v2"
)

// config holds operator defaults loadable from a YAML file. Command
// line flags override anything set here.
type config struct {
	MaxPerChunk int     `yaml:"max_per_chunk"`
	MinCellSize float64 `yaml:"min_cell_size"`
	Chunks      int     `yaml:"chunks"`
	Compress    bool    `yaml:"compress"`
	CacheSizeMB int64   `yaml:"cache_size_mb"`
}

func loadConfig(path string) (config, error) {
	var cfg config
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
