// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/vestat/pkg/vedirect"
)

var (
	showAll       bool
	statsInterval int
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Track frame and command errors with periodic statistics",
	Long: `Monitor the link and report errors as they happen.

This command reports:
  - Frames discarded because their checksum failed
  - HEX replies with a bad checksum or a device error status
  - Command timeouts, retries and device restarts
  - Statistics and trends (frame rate, error rate, success rate)

By default only errors are displayed. Use --show-all to display valid frames
too. A statistics summary is printed at the configured interval. See the
monitor command for the same data in a terminal UI.`,
	RunE: runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
	statsCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all frames (not just errors)")
	statsCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds)")
}

// printBadFrame prints a discarded frame in highlighted format
func printBadFrame(f *vedirect.Frame) {
	timestamp := f.Timestamp.Format("15:04:05.000")
	fmt.Printf("[%s] \033[1;31mCHECKSUM ERROR:\033[0m %d fields, sum=0x%02X\n", timestamp, len(f.Fields), f.Sum)
	for _, field := range f.Fields {
		fmt.Printf("  %-8s %s\n", field.Key, field.Value)
	}
	fmt.Printf("  >>> FRAME DISCARDED <<<\n\n")
}

// printReply prints a HEX reply, highlighting device errors
func printReply(r vedirect.Response) {
	timestamp := time.Now().Format("15:04:05.000")
	switch {
	case r.Opcode == vedirect.ReplyUnknown || r.Opcode == vedirect.ReplyError:
		fmt.Printf("[%s] \033[1;33mDEVICE ERROR:\033[0m %s", timestamp, vedirect.FormatResponse(r))
	case r.HasRegister() && r.Status != vedirect.StatusOK:
		fmt.Printf("[%s] \033[1;33mREGISTER ERROR:\033[0m %s", timestamp, vedirect.FormatResponse(r))
	case r.Opcode == vedirect.ReplyPing:
		// Always print ping replies (for debugging)
		fmt.Printf("[%s] \033[1;32mPING:\033[0m firmware %s\n", timestamp, formatVersion(r.Payload))
	case showAll:
		fmt.Printf("[%s] %s", timestamp, vedirect.FormatResponse(r))
	}
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	synchronized := false
	invalidBeforeSync := 0

	// Callbacks run on the engine goroutine, one at a time
	s, err := openSession(ctx, vedirect.Config{
		OnFrame: func(f *vedirect.Frame) {
			if !synchronized {
				if !f.Valid {
					invalidBeforeSync++
					return
				}
				synchronized = true
				if invalidBeforeSync > 0 {
					fmt.Printf("[SYNC] Synchronized after skipping %d invalid frames\n\n", invalidBeforeSync)
				} else {
					fmt.Printf("[SYNC] Synchronized\n\n")
				}
			}

			if !f.Valid {
				printBadFrame(f)
			} else if showAll {
				fmt.Print(vedirect.FormatFrame(f))
			}
		},
		OnResponse: printReply,
	})
	if err != nil {
		return err
	}
	defer s.Close()

	fmt.Printf("Vestat - Error Detection Mode\n")
	fmt.Printf("Connection: %s\n", s.Info())
	fmt.Printf("Statistics interval: %d seconds\n", statsInterval)
	if showAll {
		fmt.Printf("Mode: All frames\n")
	} else {
		fmt.Printf("Mode: Errors only\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	statsTicker := time.NewTicker(time.Duration(statsInterval) * time.Second)
	defer statsTicker.Stop()

	for {
		select {
		case <-statsTicker.C:
			stats := s.engine.Stats()
			fmt.Println()
			fmt.Print(stats.String())
			fmt.Println()

		case <-s.Done():
			return nil
		}
	}
}
