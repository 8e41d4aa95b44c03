// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package transport provides the line-oriented byte stream the VE.Direct
// engine runs on, over a local serial port or a WebSocket serial bridge.
package transport

import (
	"bufio"
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// ErrNotConnected is returned by Write while no connection is open.
var ErrNotConnected = errors.New("not connected")

// Conn is a raw byte stream to the device.
type Conn interface {
	io.Reader
	io.Writer
	io.Closer
}

// Dialer opens a connection and describes it for display.
type Dialer func(ctx context.Context) (conn Conn, info string, err error)

// Options configures a Port.
type Options struct {
	// MinBackoff and MaxBackoff bound the reconnect delay.
	MinBackoff time.Duration
	MaxBackoff time.Duration

	// LineBuffer is the capacity of the Lines channel.
	LineBuffer int

	Logger zerolog.Logger

	// OnState is called when the connection is lost or re-established.
	OnState func(connected bool, info string)
}

// DefaultOptions returns the standard reconnect settings.
func DefaultOptions() Options {
	return Options{
		MinBackoff: 1 * time.Second,
		MaxBackoff: 30 * time.Second,
		LineBuffer: 256,
		Logger:     zerolog.Nop(),
	}
}

// Port is a reconnecting line transport. Lines are delivered without their
// CR LF terminator. The port becomes operational when the first byte of a
// connection arrives.
type Port struct {
	dial Dialer
	opts Options
	log  zerolog.Logger

	mu   sync.RWMutex
	conn Conn
	info string

	operational atomic.Bool
	lines       chan string
}

// NewPort creates a port that connects with dial.
func NewPort(dial Dialer, opts Options) *Port {
	def := DefaultOptions()
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = def.MinBackoff
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = def.MaxBackoff
		if opts.MaxBackoff < opts.MinBackoff {
			opts.MaxBackoff = opts.MinBackoff
		}
	}
	if opts.LineBuffer <= 0 {
		opts.LineBuffer = def.LineBuffer
	}

	return &Port{
		dial:  dial,
		opts:  opts,
		log:   opts.Logger.With().Str("component", "transport").Logger(),
		lines: make(chan string, opts.LineBuffer),
	}
}

// Open makes the initial connection.
func (p *Port) Open(ctx context.Context) error {
	conn, info, err := p.dial(ctx)
	if err != nil {
		return err
	}
	p.setConn(conn, info)
	return nil
}

// Lines returns the received lines. It is closed when Run returns.
func (p *Port) Lines() <-chan string {
	return p.lines
}

// Info describes the current connection.
func (p *Port) Info() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.info
}

// Operational reports whether the current connection has received data.
func (p *Port) Operational() bool {
	return p.operational.Load()
}

// Write sends raw bytes to the device.
func (p *Port) Write(b []byte) (int, error) {
	conn := p.getConn()
	if conn == nil {
		return 0, ErrNotConnected
	}
	return conn.Write(b)
}

// Close closes the current connection. Run reconnects unless its context is
// done.
func (p *Port) Close() error {
	conn := p.getConn()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// Run reads lines until ctx is done, reconnecting with exponential backoff
// whenever the connection fails.
func (p *Port) Run(ctx context.Context) error {
	defer close(p.lines)

	stop := context.AfterFunc(ctx, func() { p.Close() })
	defer stop()

	for {
		conn := p.getConn()
		if conn == nil {
			if !p.reconnect(ctx) {
				return ctx.Err()
			}
			continue
		}

		err := p.readLines(ctx, conn)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		p.log.Warn().Err(err).Str("connection", p.Info()).Msg("connection lost")
		conn.Close()
		p.setConn(nil, "")
		if p.opts.OnState != nil {
			p.opts.OnState(false, "")
		}
	}
}

func (p *Port) readLines(ctx context.Context, conn Conn) error {
	scanner := bufio.NewScanner(&activityReader{r: conn, seen: &p.operational})
	scanner.Split(ScanLines)

	for scanner.Scan() {
		select {
		case p.lines <- scanner.Text():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return io.EOF
}

// reconnect returns false if ctx ended first.
func (p *Port) reconnect(ctx context.Context) bool {
	backoff := p.opts.MinBackoff

	for {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}

		conn, info, err := p.dial(ctx)
		if err == nil {
			p.setConn(conn, info)
			p.log.Info().Str("connection", info).Msg("reconnected")
			if p.opts.OnState != nil {
				p.opts.OnState(true, info)
			}
			return true
		}
		p.log.Debug().Err(err).Dur("backoff", backoff).Msg("reconnect failed")

		backoff *= 2
		if backoff > p.opts.MaxBackoff {
			backoff = p.opts.MaxBackoff
		}
	}
}

func (p *Port) getConn() Conn {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.conn
}

func (p *Port) setConn(conn Conn, info string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conn = conn
	p.info = info
	p.operational.Store(false)
}

// activityReader marks the port operational on the first byte read.
type activityReader struct {
	r    io.Reader
	seen *atomic.Bool
}

func (a *activityReader) Read(b []byte) (int, error) {
	n, err := a.r.Read(b)
	if n > 0 {
		a.seen.Store(true)
	}
	return n, err
}
