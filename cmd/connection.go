// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"syscall"

	"golang.org/x/term"

	"github.com/Thermoquad/vestat/internal/config"
	"github.com/Thermoquad/vestat/pkg/register"
	"github.com/Thermoquad/vestat/pkg/transport"
	"github.com/Thermoquad/vestat/pkg/vedirect"
)

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	// First check environment variable
	if pw := os.Getenv("VESTAT_PASSWORD"); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	// Read password without echo
	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// NewDialer returns a dialer for the serial port or WebSocket bridge named by
// the connection settings. The password is asked for once, up front.
func NewDialer(c config.ConnectionConfig) (transport.Dialer, error) {
	if c.URL != "" {
		password := ""
		if c.Username != "" {
			var err error
			password, err = GetPassword()
			if err != nil {
				return nil, err
			}
		}

		info := fmt.Sprintf("WebSocket: %s", c.URL)
		return func(ctx context.Context) (transport.Conn, string, error) {
			conn, err := transport.OpenWebSocket(ctx, c.URL, c.Username, password, c.NoSSLVerify)
			return conn, info, err
		}, nil
	}

	if c.Port != "" {
		info := fmt.Sprintf("Serial: %s @ %d baud", c.Port, c.Baud)
		return func(context.Context) (transport.Conn, string, error) {
			conn, err := transport.OpenSerial(c.Port, c.Baud)
			return conn, info, err
		}, nil
	}

	return nil, fmt.Errorf("either --port or --url must be specified")
}

// session is a connected engine with its transport and register directory.
type session struct {
	port   *transport.Port
	dir    *register.Directory
	engine *vedirect.Engine

	cancel context.CancelFunc
	wg     sync.WaitGroup
	errc   chan error
}

// openSession connects to the device and starts the engine. observe carries
// any OnFrame/OnResponse observers; timing comes from the loaded settings.
func openSession(ctx context.Context, observe vedirect.Config) (*session, error) {
	dial, err := NewDialer(cfg.Connection)
	if err != nil {
		return nil, err
	}

	opts := transport.DefaultOptions()
	opts.Logger = logger
	opts.OnState = func(connected bool, info string) {
		if connected {
			logger.Info().Str("connection", info).Msg("connection restored")
		} else {
			logger.Warn().Msg("connection lost, reconnecting")
		}
	}

	port := transport.NewPort(dial, opts)
	if err := port.Open(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)

	engineCfg := cfg.EngineSettings()
	engineCfg.Logger = logger
	engineCfg.OnFrame = observe.OnFrame
	engineCfg.OnResponse = observe.OnResponse
	if observe.AfterFunc != nil {
		engineCfg.AfterFunc = observe.AfterFunc
	}

	dir := register.NewDefaultDirectory()
	s := &session{
		port:   port,
		dir:    dir,
		engine: vedirect.New(port, dir, engineCfg),
		cancel: cancel,
		errc:   make(chan error, 2),
	}

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.errc <- port.Run(ctx)
	}()
	go func() {
		defer s.wg.Done()
		s.errc <- s.engine.Run(ctx, port.Lines())
	}()

	return s, nil
}

// Info describes the current connection.
func (s *session) Info() string {
	return s.port.Info()
}

// Done delivers the error of whichever of the transport or engine loops
// returns first.
func (s *session) Done() <-chan error {
	return s.errc
}

// Close stops the transport and engine loops and waits for them to exit.
func (s *session) Close() {
	s.cancel()
	s.wg.Wait()
	s.port.Close()
}
