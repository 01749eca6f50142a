// Package config loads engine settings from YAML: retry policy, governor
// defaults, and per-project oversight levels.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/petrijr/maestro/internal/governor"
	"github.com/petrijr/maestro/internal/hitl"
	"github.com/petrijr/maestro/pkg/api"
)

// Duration wraps time.Duration so YAML can carry values like "1s" or
// "500ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// RetryConfig is the YAML shape of the retry policy. Zero fields fall back
// to the engine defaults.
type RetryConfig struct {
	MaxRetries int      `yaml:"max_retries"`
	BaseDelay  Duration `yaml:"base_delay"`
	MaxDelay   Duration `yaml:"max_delay"`
	Multiplier float64  `yaml:"multiplier"`
}

// GovernorConfig is the YAML shape of the action governor defaults.
type GovernorConfig struct {
	// Enabled defaults to true when omitted.
	Enabled *bool `yaml:"enabled"`
	Limit   int   `yaml:"limit"`
}

// OversightConfig maps projects to oversight levels.
type OversightConfig struct {
	DefaultLevel string            `yaml:"default_level"`
	Projects     map[string]string `yaml:"projects"`
}

// Config is the root of the engine configuration file.
type Config struct {
	Retry     RetryConfig     `yaml:"retry"`
	Governor  GovernorConfig  `yaml:"governor"`
	Oversight OversightConfig `yaml:"oversight"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(data)
}

// Parse parses YAML configuration bytes.
func Parse(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must be >= 0, got %d", c.Retry.MaxRetries)
	}
	if c.Governor.Limit < 0 {
		return fmt.Errorf("governor.limit must be >= 0, got %d", c.Governor.Limit)
	}
	if lvl := c.Oversight.DefaultLevel; lvl != "" && !validLevel(lvl) {
		return fmt.Errorf("oversight.default_level %q is not one of low, standard, high, strict", lvl)
	}
	for project, lvl := range c.Oversight.Projects {
		if !validLevel(lvl) {
			return fmt.Errorf("oversight.projects[%s]: level %q is not one of low, standard, high, strict", project, lvl)
		}
	}
	return nil
}

func validLevel(s string) bool {
	switch hitl.OversightLevel(s) {
	case hitl.OversightLow, hitl.OversightStandard, hitl.OversightHigh, hitl.OversightStrict:
		return true
	}
	return false
}

// RetryConfig converts to the engine's retry policy.
func (c Config) RetryConfig() api.RetryConfig {
	return api.RetryConfig{
		MaxRetries: c.Retry.MaxRetries,
		BaseDelay:  c.Retry.BaseDelay.Duration,
		MaxDelay:   c.Retry.MaxDelay.Duration,
		Multiplier: c.Retry.Multiplier,
	}
}

// GovernorDefaults converts to the governor's lazy-init defaults.
func (c Config) GovernorDefaults() governor.Defaults {
	d := governor.StockDefaults()
	if c.Governor.Enabled != nil {
		d.Enabled = *c.Governor.Enabled
	}
	if c.Governor.Limit > 0 {
		d.Limit = c.Governor.Limit
	}
	return d
}

// HitlConfig converts to the oversight integrator's config.
func (c Config) HitlConfig() hitl.Config {
	cfg := hitl.Config{
		DefaultLevel: hitl.OversightLevel(c.Oversight.DefaultLevel),
	}
	if len(c.Oversight.Projects) > 0 {
		projects := make(map[string]hitl.OversightLevel, len(c.Oversight.Projects))
		for k, v := range c.Oversight.Projects {
			projects[k] = hitl.OversightLevel(v)
		}
		cfg.LevelFor = func(projectID string) hitl.OversightLevel {
			return projects[projectID]
		}
	}
	return cfg
}
