// Copyright 2024 The Bit-Babbler Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package config loads seedd's JSON configuration document into a typed
// Config. No INI or flags library appears anywhere in the retrieved
// corpus for this kind of document config, so this is a small loader over
// the standard library's encoding/json (see DESIGN.md's internal/config
// section for why stdlib is the right call here rather than a gap).
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// DeviceConfig overrides an acquisition worker's defaults for one serial.
// Zero values mean "use the daemon-wide default" for every field except
// Group, which defaults to the ungrouped pool (group 0). cmd/seedd applies
// only Bitrate, Folding, ChunkSize and Group per device; NoQA,
// IdleSleepInit, IdleSleepMax and SuspendAfter are parsed but not used.
type DeviceConfig struct {
	Serial        string `json:"Serial"`
	Bitrate       int    `json:"Bitrate,omitempty"`
	Folding       int    `json:"Folding,omitempty"`
	ChunkSize     int    `json:"ChunkSize,omitempty"`
	NoQA          bool   `json:"NoQA,omitempty"`
	Group         uint   `json:"Group,omitempty"`
	IdleSleepInit string `json:"IdleSleepInit,omitempty"`
	IdleSleepMax  string `json:"IdleSleepMax,omitempty"`
	SuspendAfter  string `json:"SuspendAfter,omitempty"`
}

// GroupConfig sizes one Group's merge buffer.
type GroupConfig struct {
	ID   uint `json:"ID"`
	Size int  `json:"Size"`
}

// KernelFeedConfig enables the optional kernel entropy feed.
type KernelFeedConfig struct {
	Enabled    bool   `json:"Enabled,omitempty"`
	Device     string `json:"Device,omitempty"`
	RefillTime string `json:"RefillTime,omitempty"`
}

// UDPConfig enables the connectionless UDP responder.
type UDPConfig struct {
	Enabled bool   `json:"Enabled,omitempty"`
	Listen  string `json:"Listen,omitempty"`
}

// FDWriterConfig enables a block-loop writer to an arbitrary path (a named
// pipe or regular file).
type FDWriterConfig struct {
	Enabled   bool   `json:"Enabled,omitempty"`
	Path      string `json:"Path,omitempty"`
	ChunkSize int    `json:"ChunkSize,omitempty"`
	MaxBytes  int64  `json:"MaxBytes,omitempty"`
}

// WatchConfig enables an external-device drain.
type WatchConfig struct {
	Enabled   bool   `json:"Enabled,omitempty"`
	Path      string `json:"Path,omitempty"`
	BlockSize int    `json:"BlockSize,omitempty"`
	DelayMS   int    `json:"DelayMS,omitempty"`
	MaxBytes  int64  `json:"MaxBytes,omitempty"`
}

// ConsumersConfig collects every optional Pool consumer.
type ConsumersConfig struct {
	KernelFeed KernelFeedConfig `json:"KernelFeed,omitempty"`
	UDP        UDPConfig        `json:"UDP,omitempty"`
	FDWriter   FDWriterConfig   `json:"FDWriter,omitempty"`
	Watch      []WatchConfig    `json:"Watch,omitempty"`
}

// Config is the top-level daemon configuration document.
type Config struct {
	// ControlSocket is a Unix path, "tcp:host:port", or "none".
	ControlSocket string `json:"ControlSocket"`
	// ControlSocketGroup, if set, makes the Unix control socket
	// group-accessible to this group name.
	ControlSocketGroup string `json:"ControlSocketGroup,omitempty"`

	// MetricsListen, if set, serves Prometheus metrics on this address
	// (e.g. ":9090").
	MetricsListen string `json:"MetricsListen,omitempty"`

	// PoolSize is the entropy pool's capacity in bytes.
	PoolSize int `json:"PoolSize"`

	// Defaults applied to every device absent a matching DeviceConfig
	// field override.
	DefaultBitrate       int    `json:"DefaultBitrate,omitempty"`
	DefaultFolding       int    `json:"DefaultFolding,omitempty"`
	DefaultChunkSize     int    `json:"DefaultChunkSize,omitempty"`
	DefaultIdleSleepInit string `json:"DefaultIdleSleepInit,omitempty"`
	DefaultIdleSleepMax  string `json:"DefaultIdleSleepMax,omitempty"`
	DefaultSuspendAfter  string `json:"DefaultSuspendAfter,omitempty"`

	Devices   []DeviceConfig  `json:"Devices,omitempty"`
	Groups    []GroupConfig   `json:"Groups,omitempty"`
	Consumers ConsumersConfig `json:"Consumers,omitempty"`

	LogLevel string `json:"LogLevel,omitempty"`
}

// Load reads and parses the JSON document at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var c Config
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	c.applyDefaults()

	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.ControlSocket == "" {
		c.ControlSocket = "none"
	}
	if c.PoolSize == 0 {
		c.PoolSize = 1 << 20
	}
	if c.DefaultChunkSize == 0 {
		c.DefaultChunkSize = 4096
	}
}

func (c *Config) validate() error {
	if c.PoolSize <= 0 {
		return fmt.Errorf("PoolSize must be positive, got %d", c.PoolSize)
	}
	seen := make(map[string]bool, len(c.Devices))
	for _, d := range c.Devices {
		if d.Serial == "" {
			return fmt.Errorf("a Devices entry is missing Serial")
		}
		if seen[d.Serial] {
			return fmt.Errorf("duplicate Devices entry for serial %q", d.Serial)
		}
		seen[d.Serial] = true
	}
	return nil
}

// Duration parses a Go duration string, treating an empty string as zero
// rather than an error (every *Duration field in Config is optional).
func Duration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("config: invalid duration %q: %w", s, err)
	}
	return d, nil
}

// BitrateFor returns the configured bitrate for serial, falling back to
// DefaultBitrate.
func (c *Config) BitrateFor(serial string) int {
	if d := c.deviceFor(serial); d != nil && d.Bitrate != 0 {
		return d.Bitrate
	}
	return c.DefaultBitrate
}

// FoldingFor returns the configured fold count for serial, falling back to
// DefaultFolding.
func (c *Config) FoldingFor(serial string) int {
	if d := c.deviceFor(serial); d != nil && d.Folding != 0 {
		return d.Folding
	}
	return c.DefaultFolding
}

// ChunkSizeFor returns the configured read chunk size for serial, falling
// back to DefaultChunkSize.
func (c *Config) ChunkSizeFor(serial string) int {
	if d := c.deviceFor(serial); d != nil && d.ChunkSize != 0 {
		return d.ChunkSize
	}
	return c.DefaultChunkSize
}

// GroupFor returns the group id serial should join (0 meaning ungrouped).
func (c *Config) GroupFor(serial string) uint {
	if d := c.deviceFor(serial); d != nil {
		return d.Group
	}
	return 0
}

func (c *Config) deviceFor(serial string) *DeviceConfig {
	for i := range c.Devices {
		if c.Devices[i].Serial == serial {
			return &c.Devices[i]
		}
	}
	return nil
}
