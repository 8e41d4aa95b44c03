// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config handles configuration loading and management.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/Thermoquad/vestat/pkg/vedirect"
)

// Default config file locations.
var configPaths = []string{
	"./vestat.yaml",
	"./vestat.yml",
	"~/.config/vestat/config.yaml",
}

// Config is the vestat configuration file.
type Config struct {
	Connection ConnectionConfig `yaml:"connection"`
	Engine     EngineConfig     `yaml:"engine"`
	Logging    LoggingConfig    `yaml:"logging"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	History    HistoryConfig    `yaml:"history"`
	API        APIConfig        `yaml:"api"`
	Poll       []PollConfig     `yaml:"poll" validate:"dive"`
}

// ConnectionConfig selects a serial port or a WebSocket bridge.
type ConnectionConfig struct {
	Port        string `yaml:"port,omitempty"`
	Baud        int    `yaml:"baud" validate:"gt=0"`
	URL         string `yaml:"url,omitempty" validate:"omitempty,url"`
	Username    string `yaml:"username,omitempty"`
	NoSSLVerify bool   `yaml:"no_ssl_verify,omitempty"`
}

// EngineConfig holds protocol engine timing.
type EngineConfig struct {
	TimeoutMs      int  `yaml:"timeout_ms" validate:"gt=0"`
	MaxRetries     int  `yaml:"max_retries" validate:"gte=0,lte=20"`
	Compression    bool `yaml:"compression"`
	RecheckMs      int  `yaml:"recheck_ms" validate:"gt=0"`
	WatchdogFactor int  `yaml:"watchdog_factor" validate:"gte=1"`
	SeedChecksum   bool `yaml:"seed_checksum"`
}

// LoggingConfig configures zerolog output.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=trace debug info warn error disabled"`
	Format string `yaml:"format" validate:"oneof=console json"`
}

// MQTTConfig configures register change publishing.
type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker" validate:"required_if=Enabled true"`
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic" validate:"required"`
	QoS      byte   `yaml:"qos" validate:"lte=2"`
	Encoding string `yaml:"encoding" validate:"oneof=json cbor"`
}

// HistoryConfig configures the SQLite change history.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path" validate:"required_if=Enabled true"`
}

// APIConfig configures the HTTP API.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen" validate:"required_if=Enabled true"`
}

// PollConfig requests a register periodically.
type PollConfig struct {
	Register   string `yaml:"register" validate:"required"`
	IntervalMs int    `yaml:"interval_ms" validate:"gte=100"`
}

// Load loads configuration from path, or from the first default location
// that exists. Without a file the defaults are returned.
func Load(path string) (*Config, error) {
	if path != "" {
		return loadFile(path)
	}

	for _, p := range configPaths {
		if p[0] == '~' {
			home, err := os.UserHomeDir()
			if err != nil {
				continue
			}
			p = filepath.Join(home, p[2:])
		}

		if _, err := os.Stat(p); err == nil {
			return loadFile(p)
		}
	}

	return DefaultConfig(), nil
}

// loadFile loads configuration from a specific file over the defaults.
func loadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate validates the configuration.
func Validate(cfg *Config) error {
	validate := validator.New()
	return validate.Struct(cfg)
}

// Save saves configuration to file.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// DefaultConfig returns a default configuration.
func DefaultConfig() *Config {
	return &Config{
		Connection: ConnectionConfig{
			Baud: 19200,
		},
		Engine: EngineConfig{
			TimeoutMs:      int(vedirect.DefaultTimeout / time.Millisecond),
			MaxRetries:     vedirect.DefaultMaxRetries,
			Compression:    true,
			RecheckMs:      int(vedirect.DefaultRecheck / time.Millisecond),
			WatchdogFactor: vedirect.DefaultWatchdogFactor,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		MQTT: MQTTConfig{
			Broker:   "tcp://localhost:1883",
			ClientID: "vestat",
			Topic:    "vestat",
			Encoding: "json",
		},
		History: HistoryConfig{
			Path: "vestat.db",
		},
		API: APIConfig{
			Listen: ":8080",
		},
	}
}

// EngineSettings converts the engine section to vedirect settings. The
// logger and callbacks are left for the caller.
func (c *Config) EngineSettings() vedirect.Config {
	cfg := vedirect.DefaultConfig()
	cfg.Timeout = time.Duration(c.Engine.TimeoutMs) * time.Millisecond
	cfg.MaxRetries = c.Engine.MaxRetries
	cfg.Compression = c.Engine.Compression
	cfg.Recheck = time.Duration(c.Engine.RecheckMs) * time.Millisecond
	cfg.WatchdogFactor = c.Engine.WatchdogFactor
	cfg.SeedChecksum = c.Engine.SeedChecksum
	return cfg
}
