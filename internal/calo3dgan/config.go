package calo3dgan

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config drives a generate/score run.
type Config struct {
	LatentSize int        `yaml:"latentSize"`
	Power      Real       `yaml:"power"`
	DataFormat DataFormat `yaml:"dataFormat"`
	Seed       int64      `yaml:"seed"`
	Workers    int        `yaml:"workers,omitempty"`
	Energies   []Real     `yaml:"energies"`
	RawOut     string     `yaml:"rawOut"`
	GIFOut     string     `yaml:"gifOut,omitempty"`
	PNGPrefix  string     `yaml:"pngPrefix,omitempty"`
	GIFDelay   int        `yaml:"gifDelay,omitempty"`
	Gamma      Real       `yaml:"gamma,omitempty"`
}

func DefaultConfig() *Config {
	cfg := &Config{Power: Power, Seed: Seed}
	cfg.applyDefaults()
	return cfg
}

// LoadConfig reads a YAML config over DefaultConfig; an empty path yields the defaults.
// Keys present in the file always win, so an explicit "power: 0" is rejected rather
// than replaced.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	DebugLog("Loaded config from %s: latent=%d, power=%g, format=%s, events=%d, seed=%d", path, cfg.LatentSize, cfg.Power, cfg.DataFormat, len(cfg.Energies), cfg.Seed)
	return cfg, nil
}

// applyDefaults fills fields whose zero value is never valid. Power and Seed are not
// among them: 0 is a meaningful seed and an invalid power.
func (c *Config) applyDefaults() {
	if c.LatentSize <= 0 {
		c.LatentSize = LatentSize
	}
	if len(c.Energies) == 0 {
		c.Energies = append([]Real(nil), DefaultEnergies...)
	}
	if c.RawOut == "" {
		c.RawOut = RawOut
	}
	if c.GIFDelay <= 0 {
		c.GIFDelay = GIFDelay
	}
	if c.Gamma <= 0 {
		c.Gamma = Gamma
	}
}

func (c *Config) Validate() error {
	if !isFinite(c.Power) || c.Power <= 0 {
		return fmt.Errorf("%w: power %v", ErrConfig, c.Power)
	}
	if c.DataFormat != ChannelsLast && c.DataFormat != ChannelsFirst {
		return fmt.Errorf("%w: data format %v", ErrConfig, c.DataFormat)
	}
	for i, e := range c.Energies {
		if !isFinite(e) || e <= 0 {
			return fmt.Errorf("%w: energies[%d] = %v must be > 0", ErrConfig, i, e)
		}
	}
	return nil
}
