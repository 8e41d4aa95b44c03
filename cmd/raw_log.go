// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/vestat/pkg/vedirect"
)

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display raw frame log in human-readable format",
	Long: `Continuously decode and display VE.Direct telemetry frames and HEX
replies as they arrive.

Each frame is shown with its timestamp, checksum status and fields. Frames
that fail their checksum are shown too, marked BAD CHECKSUM.

Supports both serial and WebSocket connections.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
}

func runRawLog(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := openSession(ctx, vedirect.Config{
		OnFrame: func(f *vedirect.Frame) {
			fmt.Print(vedirect.FormatFrame(f))
		},
		OnResponse: func(r vedirect.Response) {
			fmt.Print(vedirect.FormatResponse(r))
		},
	})
	if err != nil {
		return err
	}
	defer s.Close()

	fmt.Printf("Vestat - Raw Frame Log\n")
	fmt.Printf("Connection: %s\n", s.Info())
	fmt.Printf("Press Ctrl+C to exit\n\n")

	err = <-s.Done()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
