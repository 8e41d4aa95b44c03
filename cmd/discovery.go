// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/vestat/pkg/transport"
	"github.com/Thermoquad/vestat/pkg/vedirect"
)

var discoveryTimeout int

var discoveryCmd = &cobra.Command{
	Use:   "discovery",
	Short: "Find VE.Direct devices on local serial ports",
	Long: `Listen on every serial port (or only --port) for VE.Direct telemetry.

A port is reported as a device when a frame with a valid checksum arrives
before the timeout. The product ID, serial number and firmware fields of the
frame are shown when the device sends them.

Examples:
  # Scan all serial ports
  vestat discovery

  # Check one port at a non-default baud rate
  vestat discovery --port /dev/ttyUSB0 --baud 9600

Exit codes:
  0 - Discovery successful (at least one device found)
  1 - Discovery failed (no devices or timeout)
  2 - Could not enumerate serial ports`,
	RunE: runDiscovery,
}

func init() {
	rootCmd.AddCommand(discoveryCmd)
	discoveryCmd.Flags().IntVar(&discoveryTimeout, "timeout", 3, "Seconds to listen on each port")
}

// probeResult is what a port produced while being probed.
type probeResult struct {
	frame   *vedirect.Frame
	invalid int
	err     error
}

// probe reads lines from conn until a valid frame arrives, the reader fails
// or timeout passes. The connection is closed on return. seed selects
// checksum seeding as in vedirect.FrameParser.SeedTerminator.
func probe(conn transport.Conn, timeout time.Duration, seed bool) probeResult {
	done := make(chan probeResult, 1)

	go func() {
		parser := vedirect.NewFrameParser(nil)
		parser.SeedTerminator = seed
		scanner := bufio.NewScanner(conn)
		scanner.Split(transport.ScanLines)

		invalid := 0
		for scanner.Scan() {
			res := parser.Feed(scanner.Text())
			if res.Kind != vedirect.LineFrame {
				continue
			}
			if res.Frame.Valid {
				done <- probeResult{frame: res.Frame, invalid: invalid}
				return
			}
			invalid++
		}
		done <- probeResult{invalid: invalid, err: scanner.Err()}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-done:
		conn.Close()
		return r
	case <-timer.C:
		// unblocks the reader
		conn.Close()
		r := <-done
		r.frame = nil
		return r
	}
}

// frameField returns the value of key in f, or "-".
func frameField(f *vedirect.Frame, key string) string {
	for _, field := range f.Fields {
		if field.Key == key {
			return field.Value
		}
	}
	return "-"
}

func runDiscovery(cmd *cobra.Command, args []string) error {
	ports := []string{cfg.Connection.Port}
	if cfg.Connection.Port == "" {
		var err error
		ports, err = transport.ListSerialPorts()
		if err != nil {
			exitWith(exitConnection, "Could not list serial ports: %v", err)
		}
	}

	fmt.Printf("Vestat - Device Discovery\n")
	fmt.Printf("Ports: %d @ %d baud\n", len(ports), cfg.Connection.Baud)
	fmt.Printf("Timeout: %d seconds per port\n\n", discoveryTimeout)

	found := 0
	for _, name := range ports {
		conn, err := transport.OpenSerial(name, cfg.Connection.Baud)
		if err != nil {
			fmt.Printf("%-20s unavailable: %v\n", name, err)
			continue
		}

		r := probe(conn, time.Duration(discoveryTimeout)*time.Second, cfg.Engine.SeedChecksum)
		if r.frame == nil {
			if r.invalid > 0 {
				fmt.Printf("%-20s no valid frame (%d corrupted, check baud rate)\n", name, r.invalid)
			} else {
				fmt.Printf("%-20s no device\n", name)
			}
			continue
		}

		found++
		fmt.Printf("%-20s PID=%s SER#=%s FW=%s (%d fields)\n", name,
			frameField(r.frame, "PID"), frameField(r.frame, "SER#"), frameField(r.frame, "FW"), len(r.frame.Fields))
	}

	fmt.Printf("\nDiscovered %d device(s)\n", found)
	if found == 0 {
		os.Exit(exitFailed)
	}
	return nil
}
