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
	getTimeout  int
	getPriority bool
)

var getCmd = &cobra.Command{
	Use:   "get <register>...",
	Short: "Read device registers with HEX get commands",
	Long: `Read one or more registers by name (stateOfCharge) or address (0x0FFF).

Each register is queued on the engine and the command waits for the matching
reply. Timeouts are retried by the engine and, once the retry budget is spent,
the device is restarted.

Exit codes:
  0 - All registers read
  1 - One or more reads failed or timed out
  2 - Connection error`,
	Args: cobra.MinimumNArgs(1),
	RunE: runGet,
}

func init() {
	rootCmd.AddCommand(getCmd)
	getCmd.Flags().IntVar(&getTimeout, "timeout", 0, "Seconds to wait for each reply (0 derives it from the engine settings)")
	getCmd.Flags().BoolVar(&getPriority, "priority", false, "Queue ahead of pending commands")
}

func runGet(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	waiter := newReplyWaiter()
	s, err := openSession(ctx, vedirect.Config{OnResponse: waiter.observe})
	if err != nil {
		exitWith(exitConnection, "Connection error: %v", err)
	}
	defer s.Close()

	fmt.Fprintf(os.Stderr, "Connection: %s\n", s.Info())

	failed := 0
	for _, name := range args {
		address, err := s.dir.Resolve(name)
		if err != nil {
			fmt.Printf("%s: %v\n", name, err)
			failed++
			continue
		}
		command, err := vedirect.BuildGet(address)
		if err != nil {
			fmt.Printf("%s: %v\n", name, err)
			failed++
			continue
		}

		start := time.Now()
		if err := s.engine.Get(address, getPriority); err != nil {
			fmt.Printf("%s: %v\n", name, err)
			failed++
			continue
		}

		reply, err := waiter.wait(ctx, command.Prefix, replyTimeout(getTimeout))
		if err == nil {
			var value string
			value, err = decodeReply(s.dir, reply)
			if err == nil {
				fmt.Printf("%s (%s) = %s  [%v]\n", name, address, value, time.Since(start).Round(time.Millisecond))
				continue
			}
		}
		fmt.Printf("%s (%s): %v\n", name, address, err)
		failed++
	}

	if failed > 0 {
		s.Close()
		os.Exit(exitFailed)
	}
	return nil
}
