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

var infoTimeout int

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Query the device firmware version and product ID",
	Long: `Send the app version and product ID commands and print the replies.

Exit codes:
  0 - Both queries answered
  1 - A query failed or timed out
  2 - Connection error`,
	RunE: runInfo,
}

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart the device",
	Long: `Write the restart command to the device. The device does not reply;
the echo of the command is logged when it arrives.`,
	RunE: runRestart,
}

func init() {
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(restartCmd)
	infoCmd.Flags().IntVar(&infoTimeout, "timeout", 0, "Seconds to wait for each reply (0 derives it from the engine settings)")
}

func runInfo(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	waiter := newReplyWaiter()
	s, err := openSession(ctx, vedirect.Config{OnResponse: waiter.observe})
	if err != nil {
		exitWith(exitConnection, "Connection error: %v", err)
	}
	defer s.Close()

	fmt.Printf("Connection: %s\n", s.Info())

	queries := []struct {
		label string
		send  func() error
		cmd   vedirect.Command
	}{
		{"Firmware", s.engine.AppVersion, vedirect.AppVersionCommand},
		{"Product ID", s.engine.ProductID, vedirect.ProductIDCommand},
	}

	failed := false
	for _, q := range queries {
		if err := q.send(); err != nil {
			fmt.Printf("%-11s %v\n", q.label+":", err)
			failed = true
			continue
		}
		reply, err := waiter.wait(ctx, q.cmd.Prefix, replyTimeout(infoTimeout))
		if err != nil {
			fmt.Printf("%-11s %v\n", q.label+":", err)
			failed = true
			continue
		}
		if q.cmd.Opcode == vedirect.OpAppVersion {
			fmt.Printf("%-11s %s (0x%s)\n", q.label+":", formatVersion(reply.Payload), reply.Payload)
		} else {
			fmt.Printf("%-11s 0x%s\n", q.label+":", reply.Payload)
		}
	}

	if failed {
		s.Close()
		os.Exit(exitFailed)
	}
	return nil
}

func runRestart(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := openSession(ctx, vedirect.Config{})
	if err != nil {
		exitWith(exitConnection, "Connection error: %v", err)
	}
	defer s.Close()

	if err := s.engine.Restart(); err != nil {
		return err
	}

	// give the engine a moment to write before the link is closed
	time.Sleep(250 * time.Millisecond)
	fmt.Printf("Restart sent to %s\n", s.Info())
	return nil
}
