// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	if err := Validate(DefaultConfig()); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vestat.yaml")
	data := []byte(`
connection:
  port: /dev/ttyUSB0
engine:
  timeout_ms: 2500
  max_retries: 5
  compression: false
mqtt:
  enabled: true
  broker: tcp://broker:1883
  encoding: cbor
poll:
  - register: stateOfCharge
    interval_ms: 5000
`)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Connection.Port != "/dev/ttyUSB0" {
		t.Errorf("port = %q", cfg.Connection.Port)
	}
	if cfg.Connection.Baud != 19200 {
		t.Errorf("baud default lost: %d", cfg.Connection.Baud)
	}
	if cfg.Engine.RecheckMs != 1000 {
		t.Errorf("recheck default lost: %d", cfg.Engine.RecheckMs)
	}
	if cfg.MQTT.Encoding != "cbor" || !cfg.MQTT.Enabled {
		t.Errorf("mqtt = %+v", cfg.MQTT)
	}
	if len(cfg.Poll) != 1 || cfg.Poll[0].Register != "stateOfCharge" {
		t.Errorf("poll = %+v", cfg.Poll)
	}

	ec := cfg.EngineSettings()
	if ec.Timeout != 2500*time.Millisecond || ec.MaxRetries != 5 || ec.Compression {
		t.Errorf("engine settings = %+v", ec)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "negative retries", yaml: "engine:\n  max_retries: -1\n"},
		{name: "bad encoding", yaml: "mqtt:\n  encoding: xml\n"},
		{name: "bad level", yaml: "logging:\n  level: loud\n"},
		{name: "fast poll", yaml: "poll:\n  - register: V\n    interval_ms: 1\n"},
		{name: "history without path", yaml: "history:\n  enabled: true\n  path: \"\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "vestat.yaml")
			if err := os.WriteFile(path, []byte(tt.yaml), 0644); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadSingleAttemptAndSeeding(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vestat.yaml")
	data := []byte("engine:\n  max_retries: 0\n  seed_checksum: true\n")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	ec := cfg.EngineSettings()
	if ec.MaxRetries != 0 {
		t.Errorf("max retries = %d, want 0", ec.MaxRetries)
	}
	if !ec.SeedChecksum {
		t.Error("seed_checksum not carried into engine settings")
	}
	if DefaultConfig().EngineSettings().SeedChecksum {
		t.Error("checksum seeding should default to off")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	cfg := DefaultConfig()
	cfg.API.Enabled = true
	cfg.Poll = []PollConfig{{Register: "0xED8D", IntervalMs: 1000}}

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !got.API.Enabled || len(got.Poll) != 1 || got.Poll[0].Register != "0xED8D" {
		t.Errorf("round trip lost values: %+v", got)
	}
}

func TestLoadWithoutFileReturnsDefaults(t *testing.T) {
	dir := t.TempDir()
	wd, _ := os.Getwd()
	defer os.Chdir(wd)
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Setenv("HOME", dir)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Engine.TimeoutMs != 5000 {
		t.Errorf("timeout = %d", cfg.Engine.TimeoutMs)
	}
}
