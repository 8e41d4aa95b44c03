// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/vestat/internal/config"
	"github.com/Thermoquad/vestat/internal/logging"
)

var (
	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	configPath string
	logLevel   string
	logFormat  string

	// Loaded by the root pre-run hook, flags applied
	cfg    *config.Config
	logger zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "vestat",
	Short: "VE.Direct Protocol Driver and Analyzer",
	Long: `Vestat - A CLI tool for talking to VE.Direct battery monitors and solar
charge controllers.

Decodes the periodic text telemetry stream, validates every frame checksum,
and reads or writes device registers with HEX commands over the same link.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 19200]
  WebSocket: --url ws://host/path [--username user]

Settings are read from ./vestat.yaml or ~/.config/vestat/config.yaml when
present; flags override the file.

For WebSocket authentication, the password is read from the VESTAT_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version:           "0.3.0",
	SilenceUsage:      true,
	PersistentPreRunE: loadSettings,
}

func init() {
	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 19200, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format (console, json)")
}

// loadSettings reads the config file and lets explicitly set flags win.
func loadSettings(cmd *cobra.Command, args []string) error {
	loaded, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		loaded.Connection.Port = portName
	}
	if flags.Changed("baud") {
		loaded.Connection.Baud = baudRate
	}
	if flags.Changed("url") {
		loaded.Connection.URL = wsURL
	}
	if flags.Changed("username") {
		loaded.Connection.Username = wsUsername
	}
	if flags.Changed("no-ssl-verify") {
		loaded.Connection.NoSSLVerify = wsNoSSLVerify
	}
	if logLevel != "" {
		loaded.Logging.Level = logLevel
	}
	if logFormat != "" {
		loaded.Logging.Format = logFormat
	}

	if err := config.Validate(loaded); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}

	logger, err = logging.Setup(loaded.Logging.Level, loaded.Logging.Format)
	if err != nil {
		return err
	}
	cfg = loaded
	return nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
