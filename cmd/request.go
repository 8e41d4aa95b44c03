// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Thermoquad/vestat/pkg/register"
	"github.com/Thermoquad/vestat/pkg/vedirect"
)

// Exit codes shared by the one-shot commands
const (
	exitOK         = 0
	exitFailed     = 1
	exitConnection = 2
)

var (
	errReplyTimeout = errors.New("no reply")
	errRejected     = errors.New("device rejected command")
)

// replyWaiter collects HEX replies from the engine goroutine without blocking
// it.
type replyWaiter struct {
	replies chan vedirect.Response
}

func newReplyWaiter() *replyWaiter {
	return &replyWaiter{replies: make(chan vedirect.Response, 16)}
}

func (w *replyWaiter) observe(r vedirect.Response) {
	select {
	case w.replies <- r:
	default:
	}
}

// wait returns the first reply with the given prefix. An unknown-command or
// error reply fails the wait.
func (w *replyWaiter) wait(ctx context.Context, prefix string, timeout time.Duration) (vedirect.Response, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case r := <-w.replies:
			switch {
			case r.Prefix == prefix:
				return r, nil
			case r.Opcode == vedirect.ReplyUnknown || r.Opcode == vedirect.ReplyError:
				return r, fmt.Errorf("%w: %s", errRejected, vedirect.FormatOpcode(r.Opcode))
			}
		case <-deadline.C:
			return vedirect.Response{}, errReplyTimeout
		case <-ctx.Done():
			return vedirect.Response{}, ctx.Err()
		}
	}
}

// decodeReply converts a register reply into a display value.
func decodeReply(dir *register.Directory, r vedirect.Response) (string, error) {
	if r.Status != vedirect.StatusOK {
		return "", fmt.Errorf("%w: %s", errRejected, vedirect.StatusText(r.Status))
	}
	info, ok := dir.LookupAddress(r.Address)
	if !ok || info.Decode == nil {
		return "0x" + r.Payload, nil
	}
	v, err := info.Decode(r.Payload)
	if err != nil {
		return "", err
	}
	return formatValue(v, info.Precision, info.Unit), nil
}

// formatValue renders a register value with its precision and unit.
func formatValue(v register.Value, precision int, unit string) string {
	var s string
	switch x := v.(type) {
	case float64:
		s = fmt.Sprintf("%.*f", precision, x)
	case nil:
		s = "-"
	default:
		s = fmt.Sprint(x)
	}
	if unit != "" && v != nil {
		s += " " + unit
	}
	return s
}

// replyTimeout covers the engine's full retry budget plus the recheck wait
// for an idle transport.
func replyTimeout(seconds int) time.Duration {
	if seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	e := cfg.EngineSettings()
	return time.Duration(e.MaxRetries+1)*e.Timeout + e.Recheck
}

// exitWith prints a failure to stderr and exits with code.
func exitWith(code int, format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(code)
}
