// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/vestat/pkg/vedirect"
)

var (
	pingTimeout int
	pingCount   int
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Send HEX ping commands and wait for the replies",
	Long: `Send ping commands to the device and wait for each reply.

The device answers a ping with its firmware version. This is useful for
verifying:
  - The connection is established
  - HTTP Basic authentication works (WebSocket bridge)
  - The device accepts HEX commands while streaming telemetry
  - Bidirectional traffic works

Exit codes:
  0 - All pings successful
  1 - One or more pings failed/timed out
  2 - Connection error`,
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().IntVar(&pingTimeout, "timeout", 0, "Timeout in seconds for each ping (0 derives it from the engine settings)")
	pingCmd.Flags().IntVar(&pingCount, "count", 3, "Number of pings to send")
}

func runPing(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	waiter := newReplyWaiter()
	s, err := openSession(ctx, vedirect.Config{OnResponse: waiter.observe})
	if err != nil {
		exitWith(exitConnection, "Connection error: %v", err)
	}
	defer s.Close()

	timeout := replyTimeout(pingTimeout)

	fmt.Printf("Vestat - Ping Test\n")
	fmt.Printf("Connection: %s\n", s.Info())
	fmt.Printf("Timeout: %v per ping\n", timeout)
	fmt.Printf("Count: %d pings\n\n", pingCount)

	successCount := 0
	failCount := 0

	for i := 1; i <= pingCount; i++ {
		fmt.Printf("Ping %d/%d: ", i, pingCount)

		startTime := time.Now()
		if err := s.engine.Ping(); err != nil {
			fmt.Printf("SEND FAILED: %v\n", err)
			failCount++
			continue
		}

		reply, err := waiter.wait(ctx, vedirect.PingCommand.Prefix, timeout)
		if err != nil {
			fmt.Printf("FAILED: %v\n", err)
			failCount++
		} else {
			rtt := time.Since(startTime)
			fmt.Printf("PONG, firmware=%s, rtt=%v\n", formatVersion(reply.Payload), rtt.Round(time.Millisecond))
			successCount++
		}

		// Small delay between pings
		if i < pingCount {
			time.Sleep(100 * time.Millisecond)
		}
	}

	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Printf("%d pings sent, %d responses received, %.0f%% loss\n",
		pingCount, successCount, float64(failCount)/float64(pingCount)*100)

	if failCount > 0 {
		s.Close()
		os.Exit(exitFailed)
	}
	return nil
}

// formatVersion renders a firmware version payload such as 4116 as 1.16.
// The leading digit is the release type and is dropped.
func formatVersion(payload string) string {
	if len(payload) != 4 {
		return "0x" + payload
	}
	return payload[1:2] + "." + payload[2:]
}
