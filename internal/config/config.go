// Package config loads and validates the obsrelay YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// OBSConnection holds the recorder backend connection settings.
type OBSConnection struct {
	Host     string `yaml:"obs_host"`
	Port     int    `yaml:"obs_port"`
	Password string `yaml:"obs_password,omitempty"`
}

// Paths holds the filesystem locations used around a recording.
type Paths struct {
	BufferFolder string `yaml:"buffer_folder"`
	SaveFolder   string `yaml:"save_folder"`
}

// Control holds the control-channel listener settings.
type Control struct {
	Host string `yaml:"host,omitempty"`
	Port int    `yaml:"port,omitempty"`
}

// Upload holds the optional remote upload endpoint.
type Upload struct {
	Endpoint string            `yaml:"endpoint,omitempty"`
	Token    string            `yaml:"token,omitempty"`
	Fields   map[string]string `yaml:"fields,omitempty"`
}

// Archive tunes the post-recording move/rename pass.
type Archive struct {
	MaxRetries    int `yaml:"max_retries,omitempty"`
	RetryDelayMS  int `yaml:"retry_delay_ms,omitempty"`
	SettleDelayMS int `yaml:"settle_delay_ms,omitempty"`
}

// Discovery controls mDNS advertisement of the control endpoint.
type Discovery struct {
	Enabled  bool   `yaml:"enabled,omitempty"`
	Instance string `yaml:"instance,omitempty"`
}

// Config is the full startup configuration, loaded once.
type Config struct {
	OBS       OBSConnection `yaml:"obs_connection"`
	Paths     Paths         `yaml:"paths"`
	Control   Control       `yaml:"control,omitempty"`
	Upload    Upload        `yaml:"upload,omitempty"`
	Archive   Archive       `yaml:"archive,omitempty"`
	Discovery Discovery     `yaml:"discovery,omitempty"`
	OpsListen string        `yaml:"ops_listen,omitempty"` // healthz + metrics, empty disables
	LogLevel  string        `yaml:"log_level,omitempty"`

	// AutoCreateRoot approves creation of a missing save root without
	// asking; the upstream system popped up a confirmation dialog here.
	AutoCreateRoot bool `yaml:"auto_create_root,omitempty"`
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Control.Host == "" {
		c.Control.Host = "0.0.0.0"
	}
	if c.Control.Port == 0 {
		c.Control.Port = 8765
	}
	if c.Archive.MaxRetries == 0 {
		c.Archive.MaxRetries = 6
	}
	if c.Archive.RetryDelayMS == 0 {
		c.Archive.RetryDelayMS = 500
	}
	if c.Archive.SettleDelayMS == 0 {
		c.Archive.SettleDelayMS = 1000
	}
}

// Validate reports missing mandatory values. Startup aborts on error, the
// daemon never runs half-configured.
func (c *Config) Validate() error {
	if c.OBS.Host == "" {
		return fmt.Errorf("config: obs_connection.obs_host is required")
	}
	if c.OBS.Port <= 0 || c.OBS.Port > 65535 {
		return fmt.Errorf("config: obs_connection.obs_port %d is out of range", c.OBS.Port)
	}
	if c.Paths.BufferFolder == "" {
		return fmt.Errorf("config: paths.buffer_folder is required")
	}
	if c.Paths.SaveFolder == "" {
		return fmt.Errorf("config: paths.save_folder is required")
	}
	return nil
}

// OBSURL returns the websocket URL for the recorder backend.
func (c *Config) OBSURL() string {
	return fmt.Sprintf("ws://%s:%d", c.OBS.Host, c.OBS.Port)
}

// ControlAddr returns the listen address for the control channel.
func (c *Config) ControlAddr() string {
	return fmt.Sprintf("%s:%d", c.Control.Host, c.Control.Port)
}

// RetryDelay returns the archive retry delay as a duration.
func (c *Archive) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMS) * time.Millisecond
}

// SettleDelay returns the post-stop settle delay as a duration.
func (c *Archive) SettleDelay() time.Duration {
	return time.Duration(c.SettleDelayMS) * time.Millisecond
}
