// Package config loads and validates the runner configuration. Everything
// that can fail from a bad config fails here, at load time: unknown metric
// names, unknown engine types, and out-of-range ranks never reach the
// validation pass.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/framelab/sreval/internal/metric"
)

// EngineType selects the inference backend.
type EngineType string

const (
	EngineBicubic EngineType = "bicubic"
	EngineHTTP    EngineType = "http"
)

// Config is the full runner configuration.
type Config struct {
	Experiment string           `yaml:"experiment"`
	IsTrain    bool             `yaml:"is_train"`
	Dataset    DatasetConfig    `yaml:"dataset"`
	Engine     EngineConfig     `yaml:"engine"`
	Validation ValidationConfig `yaml:"validation"`
	Paths      PathsConfig      `yaml:"paths"`
	Cluster    ClusterConfig    `yaml:"cluster"`
	Postgres   *PostgresConfig  `yaml:"postgres"`
}

type DatasetConfig struct {
	// Name is the display name; it also drives dataset-specific save-image
	// naming (vimeo-style datasets get three-part names).
	Name   string `yaml:"name"`
	LQRoot string `yaml:"lq_root"`
	GTRoot string `yaml:"gt_root"`
}

type EngineConfig struct {
	Type     EngineType `yaml:"type"`
	Scale    int        `yaml:"scale"`
	Endpoint string     `yaml:"endpoint"`
}

type MetricConfig struct {
	Name         string `yaml:"name"`
	Type         string `yaml:"type"`
	CropBorder   int    `yaml:"crop_border"`
	TestYChannel bool   `yaml:"test_y_channel"`
}

// ValidationConfig configures the pass. Metrics is an ordered list; metric
// positions in the results tables follow it.
type ValidationConfig struct {
	Metrics    []MetricConfig `yaml:"metrics"`
	SaveImages bool           `yaml:"save_images"`
	Suffix     string         `yaml:"suffix"`
}

type PathsConfig struct {
	Visualization string `yaml:"visualization"`
	Events        string `yaml:"events"`
}

type ClusterConfig struct {
	Peers []string `yaml:"peers"`
	Rank  int      `yaml:"rank"`
}

type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
}

// Load reads, parses, and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %q: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %q: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config %q: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Experiment == "" {
		return fmt.Errorf("experiment name is required")
	}
	if c.Dataset.Name == "" || c.Dataset.LQRoot == "" {
		return fmt.Errorf("dataset name and lq_root are required")
	}
	switch c.Engine.Type {
	case EngineBicubic:
		if c.Engine.Scale < 1 {
			return fmt.Errorf("bicubic engine requires a positive scale, got %d", c.Engine.Scale)
		}
	case EngineHTTP:
		if c.Engine.Endpoint == "" {
			return fmt.Errorf("http engine requires an endpoint")
		}
	default:
		return fmt.Errorf("unknown engine type %q", c.Engine.Type)
	}
	if len(c.Cluster.Peers) == 0 {
		return fmt.Errorf("cluster.peers must list at least one worker")
	}
	if c.Cluster.Rank < 0 || c.Cluster.Rank >= len(c.Cluster.Peers) {
		return fmt.Errorf("cluster.rank %d out of range [0,%d)", c.Cluster.Rank, len(c.Cluster.Peers))
	}
	if _, err := c.Scorers(); err != nil {
		return err
	}
	return nil
}

// Scorers resolves the configured metric list into scorers, preserving
// order. Unknown metric types fail here.
func (c *Config) Scorers() ([]metric.Scorer, error) {
	scorers := make([]metric.Scorer, 0, len(c.Validation.Metrics))
	seen := make(map[string]bool)
	for _, mc := range c.Validation.Metrics {
		name := mc.Name
		if name == "" {
			name = mc.Type
		}
		if seen[name] {
			return nil, fmt.Errorf("duplicate metric %q", name)
		}
		seen[name] = true
		kind, err := metric.ResolveKind(mc.Type)
		if err != nil {
			return nil, err
		}
		scorers = append(scorers, metric.NewScorer(name, kind, metric.Opts{
			CropBorder:   mc.CropBorder,
			TestYChannel: mc.TestYChannel,
		}))
	}
	return scorers, nil
}
