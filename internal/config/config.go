// Package config loads the server configuration from YAML with sane
// defaults, so an empty path still yields a runnable dev setup.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	DataDir    string `yaml:"data_dir"`

	// World content.
	Experience    string `yaml:"experience"`
	WorldFile     string `yaml:"world_file"`
	TemplatesFile string `yaml:"templates_file"`
	SpawnLocation string `yaml:"spawn_location"`
	SpawnArea     string `yaml:"spawn_area"`

	// Bus. Empty URL runs without a bus (no live deltas).
	NATSURL       string `yaml:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix"`

	// Flexible command path.
	FlexibleTimeoutSec int `yaml:"flexible_timeout_sec"`

	// Admin delete backups.
	BackupRetain int `yaml:"backup_retain"`
}

func Load(path string) (Config, error) {
	cfg := defaults()
	if strings.TrimSpace(path) == "" {
		cfg.Normalize()
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func defaults() Config {
	return Config{
		ListenAddr:      ":8080",
		DataDir:         "data",
		Experience:      "dream_cafe",
		WorldFile:       "configs/world.json",
		TemplatesFile:   "configs/templates.json",
		SpawnLocation:   "cafe",
		SpawnArea:       "spawn_zone_1",
		SubjectPrefix:      "world",
		FlexibleTimeoutSec: 15,
		BackupRetain:       20,
	}
}

func (c *Config) Normalize() {
	if c == nil {
		return
	}
	if strings.TrimSpace(c.ListenAddr) == "" {
		c.ListenAddr = ":8080"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "data"
	}
	if strings.TrimSpace(c.SubjectPrefix) == "" {
		c.SubjectPrefix = "world"
	}
	if c.FlexibleTimeoutSec <= 0 {
		c.FlexibleTimeoutSec = 15
	}
	if c.BackupRetain < 0 {
		c.BackupRetain = 0
	}
}

// FlexibleTimeout is how long the generative command path may run before the
// command fails with a timeout.
func (c *Config) FlexibleTimeout() time.Duration {
	return time.Duration(c.FlexibleTimeoutSec) * time.Second
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Experience) == "" {
		return fmt.Errorf("experience must not be empty")
	}
	if strings.TrimSpace(c.WorldFile) == "" {
		return fmt.Errorf("world_file must not be empty")
	}
	if strings.TrimSpace(c.TemplatesFile) == "" {
		return fmt.Errorf("templates_file must not be empty")
	}
	if strings.TrimSpace(c.SpawnLocation) == "" || strings.TrimSpace(c.SpawnArea) == "" {
		return fmt.Errorf("spawn_location and spawn_area must not be empty")
	}
	return nil
}
