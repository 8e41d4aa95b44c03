// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/Thermoquad/vestat/pkg/register"
	"github.com/Thermoquad/vestat/pkg/vedirect"
)

func TestReplyWaiter(t *testing.T) {
	get, err := vedirect.BuildGet("0x0FFF")
	if err != nil {
		t.Fatalf("BuildGet: %v", err)
	}

	t.Run("skips other replies", func(t *testing.T) {
		w := newReplyWaiter()
		w.observe(vedirect.Response{Opcode: vedirect.ReplyPing, Prefix: "5"})
		w.observe(vedirect.Response{Opcode: vedirect.ReplyGet, Prefix: get.Prefix, Payload: "2710"})

		r, err := w.wait(context.Background(), get.Prefix, time.Second)
		if err != nil {
			t.Fatalf("wait: %v", err)
		}
		if r.Payload != "2710" {
			t.Errorf("payload = %q", r.Payload)
		}
	})

	t.Run("rejection", func(t *testing.T) {
		w := newReplyWaiter()
		w.observe(vedirect.Response{Opcode: vedirect.ReplyUnknown, Prefix: "3"})

		if _, err := w.wait(context.Background(), get.Prefix, time.Second); !errors.Is(err, errRejected) {
			t.Errorf("err = %v, want errRejected", err)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		w := newReplyWaiter()
		if _, err := w.wait(context.Background(), get.Prefix, 10*time.Millisecond); !errors.Is(err, errReplyTimeout) {
			t.Errorf("err = %v, want errReplyTimeout", err)
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		w := newReplyWaiter()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := w.wait(ctx, get.Prefix, time.Second); !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	})

	t.Run("observe never blocks", func(t *testing.T) {
		w := newReplyWaiter()
		for i := 0; i < 100; i++ {
			w.observe(vedirect.Response{})
		}
	})
}

func TestDecodeReply(t *testing.T) {
	dir := register.NewDefaultDirectory()

	tests := []struct {
		name    string
		reply   vedirect.Response
		want    string
		wantErr bool
	}{
		{
			name:  "state of charge",
			reply: vedirect.Response{Opcode: vedirect.ReplyGet, Address: "0x0FFF", Payload: "2710"},
			want:  "100.00 %",
		},
		{
			name:  "relay mode",
			reply: vedirect.Response{Opcode: vedirect.ReplySet, Address: "0x034F", Payload: "01"},
			want:  "1",
		},
		{
			name:  "unknown register",
			reply: vedirect.Response{Opcode: vedirect.ReplyGet, Address: "0xABCD", Payload: "0102"},
			want:  "0x0102",
		},
		{
			name:    "status error",
			reply:   vedirect.Response{Opcode: vedirect.ReplyGet, Address: "0x0FFF", Status: vedirect.StatusUnknownID},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeReply(dir, tt.reply)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("decodeReply: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormatHelpers(t *testing.T) {
	if got := formatValue(int64(12800), 0, "mV"); got != "12800 mV" {
		t.Errorf("formatValue int = %q", got)
	}
	if got := formatValue(12.345, 1, "V"); got != "12.3 V" {
		t.Errorf("formatValue float = %q", got)
	}
	if got := formatValue(nil, 0, "V"); got != "-" {
		t.Errorf("formatValue nil = %q", got)
	}
	if got := formatValue("ON", 0, ""); got != "ON" {
		t.Errorf("formatValue text = %q", got)
	}

	if got := formatVersion("4116"); got != "1.16" {
		t.Errorf("formatVersion = %q", got)
	}
	if got := formatVersion("16"); got != "0x16" {
		t.Errorf("formatVersion short = %q", got)
	}

	uptimes := []struct {
		d    time.Duration
		want string
	}{
		{0, "0 seconds"},
		{time.Second, "1 second"},
		{90 * time.Minute, "1 hour and 30 minutes"},
		{26*time.Hour + 3*time.Second, "1 day, 2 hours, and 3 seconds"},
	}
	for _, u := range uptimes {
		if got := formatUptime(u.d); got != u.want {
			t.Errorf("formatUptime(%v) = %q, want %q", u.d, got, u.want)
		}
	}
}

func TestProbe(t *testing.T) {
	body := "V\t12800\r\nChecksum\t"

	tests := []struct {
		name string
		seed bool
		// running sum the frame after a Checksum line starts from
		start byte
	}{
		{"unseeded", false, 0},
		{"seeded", true, vedirect.AccumulateString(0, vedirect.LineTerminator)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checksum := byte(0) - vedirect.AccumulateString(tt.start, body)
			stream := "I\t-1\r\nChecksum\tZ\r\n" + body + string(checksum) + "\r\n"

			device, host := net.Pipe()
			go device.Write([]byte(stream))

			r := probe(host, 5*time.Second, tt.seed)
			if r.frame == nil {
				t.Fatalf("no frame, err=%v", r.err)
			}
			if frameField(r.frame, "V") != "12800" {
				t.Errorf("V = %q", frameField(r.frame, "V"))
			}
			if frameField(r.frame, "PID") != "-" {
				t.Errorf("missing field should render as -")
			}
			if r.invalid != 1 {
				t.Errorf("invalid = %d, want 1", r.invalid)
			}
		})
	}

	t.Run("silent port", func(t *testing.T) {
		_, host := net.Pipe()
		r := probe(host, 20*time.Millisecond, false)
		if r.frame != nil {
			t.Error("frame from a silent port")
		}
	})
}
