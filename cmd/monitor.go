// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"io"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/vestat/internal/logging"
	"github.com/Thermoquad/vestat/pkg/vedirect"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Interactive TUI for monitoring and configuring a device",
	Long: `Monitor a VE.Direct device in an interactive terminal UI.

Features:
  - Live register values from telemetry frames and HEX replies
  - Frame and command statistics (frame rate, error rate, retries)
  - Register reads (r) and writes (w) on the selected row
  - Ping (p)
  - Event log of checksum errors and device rejections
  - Automatic reconnection on connection loss

Supports both serial and WebSocket connections.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Log lines would corrupt the alternate screen
	quiet, err := logging.New(io.Discard, cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	logger = quiet

	// Engine callbacks must not block; the forwarder absorbs TUI latency
	events := make(chan tea.Msg, 256)
	forward := func(msg tea.Msg) {
		select {
		case events <- msg:
		default:
		}
	}

	s, err := openSession(ctx, vedirect.Config{
		OnFrame: func(f *vedirect.Frame) {
			forward(frameMsg{valid: f.Valid, fields: len(f.Fields), sum: f.Sum})
		},
		OnResponse: func(r vedirect.Response) {
			forward(replyMsg{reply: r})
		},
	})
	if err != nil {
		return err
	}
	defer s.Close()

	m := initialModel(s.engine, s.dir.Registers, s.port.Operational, s.Info())
	p := tea.NewProgram(m)

	go func() {
		for {
			select {
			case msg := <-events:
				p.Send(msg)
			case <-ctx.Done():
				return
			}
		}
	}()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}
