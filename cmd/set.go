// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/vestat/pkg/vedirect"
)

var (
	setTimeout  int
	setPriority bool
)

var setCmd = &cobra.Command{
	Use:   "set <register> <hex value>",
	Short: "Write a device register with a HEX set command",
	Long: `Write a register by name (relayMode) or address (0x034F).

The value is given in big-endian hex at the register's width, for example
0001 for a 16 bit register. The engine converts it to the little-endian wire
order. The device echoes the stored value, which is printed decoded.

Exit codes:
  0 - Value written
  1 - Device rejected the value or did not reply
  2 - Connection error`,
	Args: cobra.ExactArgs(2),
	RunE: runSet,
}

func init() {
	rootCmd.AddCommand(setCmd)
	setCmd.Flags().IntVar(&setTimeout, "timeout", 0, "Seconds to wait for the reply (0 derives it from the engine settings)")
	setCmd.Flags().BoolVar(&setPriority, "priority", true, "Queue ahead of pending commands")
}

func runSet(cmd *cobra.Command, args []string) error {
	name := args[0]
	value := strings.TrimPrefix(strings.TrimPrefix(args[1], "0x"), "0X")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	waiter := newReplyWaiter()
	s, err := openSession(ctx, vedirect.Config{OnResponse: waiter.observe})
	if err != nil {
		exitWith(exitConnection, "Connection error: %v", err)
	}
	defer s.Close()

	address, err := s.dir.Resolve(name)
	if err != nil {
		return err
	}
	command, err := vedirect.BuildSet(address, value)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "Connection: %s\n", s.Info())
	fmt.Fprint(os.Stderr, vedirect.FormatCommand(command))

	if err := s.engine.Set(address, value, setPriority); err != nil {
		return err
	}

	reply, err := waiter.wait(ctx, command.Prefix, replyTimeout(setTimeout))
	if err == nil {
		var stored string
		stored, err = decodeReply(s.dir, reply)
		if err == nil {
			fmt.Printf("%s (%s) = %s\n", name, address, stored)
			return nil
		}
	}

	s.Close()
	exitWith(exitFailed, "%s (%s): %v", name, address, err)
	return nil
}
