// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Thermoquad/vestat/pkg/register"
	"github.com/Thermoquad/vestat/pkg/vedirect"
)

type fakeBackend struct {
	gets  []string
	sets  []string
	pings int
}

func (f *fakeBackend) Get(name string, priority bool) error {
	f.gets = append(f.gets, name)
	return nil
}

func (f *fakeBackend) Set(name, value string, priority bool) error {
	f.sets = append(f.sets, name+"="+value)
	return nil
}

func (f *fakeBackend) Ping() error {
	f.pings++
	return nil
}

func (f *fakeBackend) Stats() vedirect.Statistics {
	return vedirect.Statistics{StartTime: time.Now(), ValidFrames: 3}
}

func newTestModel(t *testing.T) (model, *fakeBackend, *register.Directory) {
	t.Helper()
	dir, err := register.NewDirectory(
		register.Register{Name: "V", Unit: "mV", Parse: register.ParseInt},
		register.Register{Name: "relayMode", Address: "0x034F", Decode: register.Unsigned(1, 1)},
	)
	if err != nil {
		t.Fatalf("NewDirectory: %v", err)
	}
	backend := &fakeBackend{}
	m := initialModel(backend, dir.Registers, func() bool { return true }, "test")
	return m, backend, dir
}

func keyRunes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func update(t *testing.T, m model, msg tea.Msg) model {
	t.Helper()
	next, _ := m.Update(msg)
	out, ok := next.(model)
	if !ok {
		t.Fatalf("Update returned %T", next)
	}
	return out
}

func TestModel_RowsFollowDirectory(t *testing.T) {
	m, _, dir := newTestModel(t)

	// uncommitted telemetry is hidden, HEX registers always listed
	if rows := m.table.Rows(); len(rows) != 1 || rows[0][0] != "relayMode" {
		t.Fatalf("rows = %v", rows)
	}

	dir.Stage("V", "12800")
	dir.Commit()
	m = update(t, m, tickMsg(time.Now()))

	rows := m.table.Rows()
	if len(rows) != 2 {
		t.Fatalf("rows = %v", rows)
	}
	if rows[0][0] != "V" || rows[0][2] != "12800 mV" {
		t.Errorf("telemetry row = %v", rows[0])
	}
	if m.stats.ValidFrames != 3 {
		t.Errorf("stats not refreshed")
	}
}

func TestModel_ReadAndPing(t *testing.T) {
	m, backend, _ := newTestModel(t)

	m = update(t, m, keyRunes("r"))
	if len(backend.gets) != 1 || backend.gets[0] != "relayMode" {
		t.Errorf("gets = %v", backend.gets)
	}

	m = update(t, m, keyRunes("p"))
	if backend.pings != 1 {
		t.Errorf("pings = %d", backend.pings)
	}
	if len(m.errorLog) != 2 {
		t.Errorf("log entries = %d, want 2", len(m.errorLog))
	}
}

func TestModel_ReadTelemetryOnly(t *testing.T) {
	m, backend, dir := newTestModel(t)
	dir.Stage("V", "12800")
	dir.Commit()
	m = update(t, m, tickMsg(time.Now()))

	// cursor is on V
	m = update(t, m, keyRunes("r"))
	if len(backend.gets) != 0 {
		t.Errorf("telemetry field was read: %v", backend.gets)
	}
	if len(m.errorLog) != 1 || !m.errorLog[0].isError {
		t.Errorf("log = %+v", m.errorLog)
	}
}

func TestModel_Write(t *testing.T) {
	m, backend, _ := newTestModel(t)

	m = update(t, m, keyRunes("w"))
	if m.editing != "relayMode" {
		t.Fatalf("editing = %q", m.editing)
	}
	if !strings.Contains(m.View(), "Write relayMode") {
		t.Error("prompt not shown")
	}

	m = update(t, m, keyRunes("0"))
	m = update(t, m, keyRunes("1"))
	m = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})

	if m.editing != "" {
		t.Error("still editing after enter")
	}
	if len(backend.sets) != 1 || backend.sets[0] != "relayMode=01" {
		t.Errorf("sets = %v", backend.sets)
	}
}

func TestModel_WriteCancelled(t *testing.T) {
	m, backend, _ := newTestModel(t)

	m = update(t, m, keyRunes("w"))
	m = update(t, m, keyRunes("1"))
	m = update(t, m, tea.KeyMsg{Type: tea.KeyEsc})

	if m.editing != "" || len(backend.sets) != 0 {
		t.Errorf("editing=%q sets=%v", m.editing, backend.sets)
	}
}

func TestModel_Synchronization(t *testing.T) {
	m, _, _ := newTestModel(t)

	m = update(t, m, frameMsg{valid: false, fields: 2})
	m = update(t, m, frameMsg{valid: false, fields: 1})
	if m.synced || m.skipped != 2 {
		t.Fatalf("synced=%v skipped=%d", m.synced, m.skipped)
	}

	m = update(t, m, frameMsg{valid: true, fields: 5})
	if !m.synced {
		t.Fatal("not synchronized after a valid frame")
	}
	if !strings.Contains(m.errorLog[0].message, "skipping 2 invalid frames") {
		t.Errorf("log = %q", m.errorLog[0].message)
	}

	m = update(t, m, frameMsg{valid: false, fields: 3, sum: 0x12})
	if last := m.errorLog[len(m.errorLog)-1]; !last.isError || !strings.Contains(last.message, "0x12") {
		t.Errorf("checksum error not logged: %+v", last)
	}
}

func TestModel_Replies(t *testing.T) {
	tests := []struct {
		name    string
		reply   vedirect.Response
		logged  bool
		isError bool
	}{
		{"ping", vedirect.Response{Opcode: vedirect.ReplyPing, Prefix: "5", Payload: "4116"}, true, false},
		{"unknown command", vedirect.Response{Opcode: vedirect.ReplyUnknown, Prefix: "3"}, true, true},
		{"status error", vedirect.Response{Opcode: vedirect.ReplyGet, Address: "0x034F", Status: vedirect.StatusUnknownID}, true, true},
		{"async", vedirect.Response{Opcode: vedirect.ReplyAsync, Address: "0x0FFF"}, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _, _ := newTestModel(t)
			m = update(t, m, replyMsg{reply: tt.reply})

			if !tt.logged {
				if len(m.errorLog) != 0 {
					t.Errorf("unexpected log %+v", m.errorLog)
				}
				return
			}
			if len(m.errorLog) != 1 {
				t.Fatalf("log = %+v", m.errorLog)
			}
			if m.errorLog[0].isError != tt.isError {
				t.Errorf("isError = %v, want %v", m.errorLog[0].isError, tt.isError)
			}
		})
	}
}

func TestModel_Quit(t *testing.T) {
	m, _, _ := newTestModel(t)
	next, cmd := m.Update(keyRunes("q"))
	if cmd == nil {
		t.Fatal("no quit command")
	}
	if !next.(model).quitting {
		t.Error("not quitting")
	}
	if next.View() != "Shutting down...\n" {
		t.Errorf("view = %q", next.View())
	}
}
