// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Vestat - VE.Direct Protocol Driver and Analyzer
//
// A CLI tool for decoding VE.Direct telemetry and reading or writing device
// registers over serial or a WebSocket bridge.

package main

import (
	"os"

	"github.com/Thermoquad/vestat/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
