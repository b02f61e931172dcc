// File: channel/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package channel

import (
	"time"

	"gopkg.in/yaml.v3"
)

// Config carries per-channel behavior knobs. The zero value is not usable;
// construct with DefaultConfig and override fields.
type Config struct {
	// ConnectTimeout bounds a pending connect attempt. Zero disables the
	// timeout timer.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// AllowHalfClosure keeps the channel open for writing after the peer
	// half-closed; the read side surfaces api.InputShutdownEvent instead
	// of closing.
	AllowHalfClosure bool `yaml:"allow_half_closure"`

	// AutoRead keeps read interest armed across read passes. When false,
	// read interest is cleared at the start of each readiness callback and
	// must be re-armed with BeginRead (flow control).
	AutoRead bool `yaml:"auto_read"`

	// Backlog is the listen(2) backlog for listening channels.
	Backlog int `yaml:"backlog"`

	// ReuseAddr sets SO_REUSEADDR before bind.
	ReuseAddr bool `yaml:"reuse_addr"`

	// ReadBufferMin, ReadBufferInitial and ReadBufferMax bound the
	// adaptive receive sizer for channels constructed without an explicit
	// sizer.
	ReadBufferMin     int `yaml:"read_buffer_min"`
	ReadBufferInitial int `yaml:"read_buffer_initial"`
	ReadBufferMax     int `yaml:"read_buffer_max"`
}

// UnmarshalYAML decodes the config, accepting Go duration strings such as
// "5s" for connect_timeout.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	type plain Config
	aux := struct {
		ConnectTimeout string `yaml:"connect_timeout"`
		*plain
	}{plain: (*plain)(c)}
	if err := value.Decode(&aux); err != nil {
		return err
	}
	if aux.ConnectTimeout != "" {
		d, err := time.ParseDuration(aux.ConnectTimeout)
		if err != nil {
			return err
		}
		c.ConnectTimeout = d
	}
	return nil
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() *Config {
	return &Config{
		ConnectTimeout:    10 * time.Second,
		AutoRead:          true,
		Backlog:           128,
		ReuseAddr:         true,
		ReadBufferMin:     64,
		ReadBufferInitial: 2048,
		ReadBufferMax:     64 * 1024,
	}
}
