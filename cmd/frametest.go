// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/vestat/pkg/vedirect"
)

var frameTestTimeout int

var frameTestCmd = &cobra.Command{
	Use:   "frame_test",
	Short: "Test connection by waiting for a valid telemetry frame",
	Long: `Wait for a valid VE.Direct telemetry frame on the connection until timeout.

This command connects to a serial port or WebSocket and waits for any complete
text frame whose checksum verifies. Partial and corrupted frames are counted
and skipped.

Exit codes:
  0 - Frame received before timeout
  1 - Timeout reached without receiving a valid frame
  2 - Connection error

Useful for testing cabling, baud rate and WebSocket bridges.`,
	RunE: runFrameTest,
}

func init() {
	rootCmd.AddCommand(frameTestCmd)
	frameTestCmd.Flags().IntVar(&frameTestTimeout, "timeout", 10, "Timeout in seconds to wait for a frame")
}

func runFrameTest(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	frameChan := make(chan *vedirect.Frame, 1)
	var invalidFrames atomic.Int64

	s, err := openSession(ctx, vedirect.Config{
		OnFrame: func(f *vedirect.Frame) {
			if !f.Valid {
				invalidFrames.Add(1)
				return
			}
			select {
			case frameChan <- f:
			default:
			}
		},
	})
	if err != nil {
		exitWith(exitConnection, "Connection error: %v", err)
	}

	fmt.Printf("Vestat - Frame Test\n")
	fmt.Printf("Connection: %s\n", s.Info())
	fmt.Printf("Timeout: %d seconds\n", frameTestTimeout)
	fmt.Printf("Waiting for valid VE.Direct frame...\n\n")

	select {
	case frame := <-frameChan:
		s.Close()
		if n := invalidFrames.Load(); n > 0 {
			fmt.Printf("(skipped %d invalid frames before sync)\n", n)
		}
		fmt.Printf("SUCCESS: Received valid frame\n")
		fmt.Printf("  Fields: %d\n", len(frame.Fields))
		for _, key := range []string{"PID", "FW", "SER#", "V"} {
			for _, f := range frame.Fields {
				if f.Key == key {
					fmt.Printf("  %s: %s\n", key, f.Value)
				}
			}
		}
		fmt.Printf("  Checksum: 0x%02X\n", frame.Checksum)
		os.Exit(exitOK)

	case err := <-s.Done():
		s.Close()
		exitWith(exitConnection, "Read error: %v", err)

	case <-time.After(time.Duration(frameTestTimeout) * time.Second):
		s.Close()
		exitWith(exitFailed, "TIMEOUT: No valid frame received within %d seconds (%d invalid)",
			frameTestTimeout, invalidFrames.Load())
	}

	return nil
}
