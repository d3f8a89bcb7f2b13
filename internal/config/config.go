package config

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models crewline.yml.
type Config struct {
	Team struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"team"`
	Assignment struct {
		MinOutcomes      int     `yaml:"min_outcomes"`
		Trees            int     `yaml:"trees"`
		Seed             int64   `yaml:"seed"`
		WorkloadWeight   float64 `yaml:"workload_weight"`
		OverloadWeight   float64 `yaml:"overload_weight"`
		QualityWeight    float64 `yaml:"quality_weight"`
		EfficiencyWeight float64 `yaml:"efficiency_weight"`
	} `yaml:"assignment"`
	Server struct {
		Addr             string `yaml:"addr"`
		BasePath         string `yaml:"base_path"`
		JWTSecret        string `yaml:"jwt_secret"`
		AllowActorHeader bool   `yaml:"allow_actor_header"`
	} `yaml:"server"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create it with crew init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure. Zero-valued
// assignment knobs are allowed; the engine substitutes its defaults.
func (c *Config) Validate() error {
	if c.Team.ID == "" {
		return fmt.Errorf("config.team.id is required")
	}
	if c.Assignment.MinOutcomes < 0 {
		return fmt.Errorf("config.assignment.min_outcomes must not be negative")
	}
	if c.Assignment.Trees < 0 {
		return fmt.Errorf("config.assignment.trees must not be negative")
	}
	if c.Assignment.WorkloadWeight < 0 {
		return fmt.Errorf("config.assignment.workload_weight must not be negative")
	}
	if c.Assignment.OverloadWeight < 0 {
		return fmt.Errorf("config.assignment.overload_weight must not be negative")
	}
	q, e := c.Assignment.QualityWeight, c.Assignment.EfficiencyWeight
	if q < 0 || e < 0 {
		return fmt.Errorf("config.assignment quality/efficiency weights must not be negative")
	}
	if (q != 0 || e != 0) && math.Abs(q+e-1) > 1e-9 {
		return fmt.Errorf("config.assignment quality_weight and efficiency_weight must sum to 1")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "crewline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(teamID string) string {
	return fmt.Sprintf(defaultTemplate, teamID)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a team.
func Default(teamID string) *Config {
	var cfg Config
	cfg.Team.ID = teamID
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, teamID))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `team:
  id: %s

assignment:
  min_outcomes: 5
  trees: 100
  seed: 42
  workload_weight: 0.08
  overload_weight: 0.05
  quality_weight: 0.7
  efficiency_weight: 0.3

server:
  addr: 127.0.0.1:8787
  base_path: /v0
  allow_actor_header: true
`
