package ingest

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	ChunkSize    int `json:"chunk_size"`
	ChunkOverlap int `json:"chunk_overlap"`
}

func (c Config) Merge(override Config) Config {
	result := c
	if override.ChunkSize > 0 {
		result.ChunkSize = override.ChunkSize
	}
	if override.ChunkOverlap > 0 {
		result.ChunkOverlap = override.ChunkOverlap
	}
	return result
}

// LoadConfig reads the chunking settings from CHUNK_SIZE / CHUNK_OVERLAP,
// defaulting to 1000-token chunks with no overlap.
func LoadConfig() (Config, error) {
	cfg := Config{}
	if raw := strings.TrimSpace(os.Getenv("CHUNK_SIZE")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse CHUNK_SIZE: %w", err)
		}
		cfg.ChunkSize = value
	}
	if raw := strings.TrimSpace(os.Getenv("CHUNK_OVERLAP")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse CHUNK_OVERLAP: %w", err)
		}
		cfg.ChunkOverlap = value
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.ChunkSize <= 0 {
		c.ChunkSize = 1000
	}
	if c.ChunkOverlap < 0 {
		c.ChunkOverlap = 0
	}
}
