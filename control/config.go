// File: control/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// YAML transport configuration with defaults and validation.

package control

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/momentics/sockchan/channel"
)

// FileConfig is the on-disk shape of a transport deployment.
type FileConfig struct {
	// Listen is the server bind address, host:port.
	Listen string `yaml:"listen"`

	// Workers is the number of IO loops driving accepted channels.
	Workers int `yaml:"workers"`

	// Channel holds the per-channel knobs.
	Channel channel.Config `yaml:"channel"`
}

// DefaultFileConfig returns the stock deployment configuration.
func DefaultFileConfig() *FileConfig {
	return &FileConfig{
		Listen:  "127.0.0.1:0",
		Workers: 1,
		Channel: *channel.DefaultConfig(),
	}
}

// Load reads and validates a YAML config file; unset fields keep defaults.
func Load(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := DefaultFileConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *FileConfig) validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	if c.Channel.Backlog <= 0 {
		return fmt.Errorf("backlog must be positive, got %d", c.Channel.Backlog)
	}
	if c.Channel.ReadBufferMin > c.Channel.ReadBufferMax {
		return fmt.Errorf("read_buffer_min %d exceeds read_buffer_max %d",
			c.Channel.ReadBufferMin, c.Channel.ReadBufferMax)
	}
	return nil
}
