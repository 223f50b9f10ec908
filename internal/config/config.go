// Package config loads the draftpad agent configuration from YAML.
package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all agent configuration.
type Config struct {
	DataDir      string             `yaml:"data_dir"`
	ListenAddr   string             `yaml:"listen_addr"`
	Remote       RemoteConfig       `yaml:"remote"`
	Connectivity ConnectivityConfig `yaml:"connectivity"`
	AutoSave     AutoSaveConfig     `yaml:"autosave"`
}

// RemoteConfig points the agent at the remote draft store.
type RemoteConfig struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`
}

// ConnectivityConfig controls the reachability probe.
type ConnectivityConfig struct {
	ProbeURL      string        `yaml:"probe_url"`
	ProbeInterval time.Duration `yaml:"probe_interval"`
}

// AutoSaveConfig controls save scheduling.
type AutoSaveConfig struct {
	Interval     time.Duration `yaml:"interval"`
	Debounce     time.Duration `yaml:"debounce"`
	RequeueDelay time.Duration `yaml:"requeue_delay"`
	Disabled     bool          `yaml:"disabled"`
}

func (c *Config) defaults() {
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		c.DataDir = filepath.Join(home, ".draftpad")
	}
	if c.ListenAddr == "" {
		c.ListenAddr = "127.0.0.1:8091"
	}
	if c.Connectivity.ProbeInterval <= 0 {
		c.Connectivity.ProbeInterval = 15 * time.Second
	}
	if c.Connectivity.ProbeURL == "" {
		c.Connectivity.ProbeURL = c.Remote.BaseURL
	}
	if c.AutoSave.Interval <= 0 {
		c.AutoSave.Interval = 30 * time.Second
	}
	if c.AutoSave.Debounce <= 0 {
		c.AutoSave.Debounce = 5 * time.Second
	}
	if c.AutoSave.RequeueDelay <= 0 {
		c.AutoSave.RequeueDelay = 100 * time.Millisecond
	}
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{}
	cfg.defaults()
	return cfg
}

// LoadConfigFile reads a YAML config file and fills in defaults.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.defaults()
	return cfg, nil
}
