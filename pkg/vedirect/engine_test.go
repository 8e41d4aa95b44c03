// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vedirect

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Thermoquad/vestat/pkg/register"
)

// ============================================================
// Engine Test Helpers
// ============================================================

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// fakeClock hands out timers that only fire when told to
type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{d: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

// active returns the pending timers with duration d
func (c *fakeClock) active(d time.Duration) []*fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*fakeTimer
	for _, t := range c.timers {
		if t.d == d && !t.stopped && !t.fired {
			out = append(out, t)
		}
	}
	return out
}

// fire runs the single pending timer of duration d
func (c *fakeClock) fire(t *testing.T, d time.Duration) {
	t.Helper()
	timers := c.active(d)
	if len(timers) != 1 {
		t.Fatalf("expected 1 active %v timer, got %d", d, len(timers))
	}
	timers[0].fired = true
	timers[0].f()
}

type fakeTransport struct {
	writes      []string
	operational bool
	err         error
}

func (f *fakeTransport) Write(p []byte) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.writes = append(f.writes, string(p))
	return len(p), nil
}

func (f *fakeTransport) Operational() bool {
	return f.operational
}

func (f *fakeTransport) count(frame string) int {
	n := 0
	for _, w := range f.writes {
		if w == frame {
			n++
		}
	}
	return n
}

const testTimeout = 100 * time.Millisecond

type engineFixture struct {
	engine    *Engine
	clock     *fakeClock
	transport *fakeTransport
	dir       *register.Directory
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	clock := &fakeClock{}
	transport := &fakeTransport{operational: true}
	dir := register.NewDefaultDirectory()

	cfg := DefaultConfig()
	cfg.Timeout = testTimeout
	cfg.MaxRetries = 3
	cfg.AfterFunc = clock.AfterFunc

	return &engineFixture{
		engine:    New(transport, dir, cfg),
		clock:     clock,
		transport: transport,
		dir:       dir,
	}
}

// step processes everything posted to the engine
func (f *engineFixture) step() {
	f.engine.drain()
}

func (f *engineFixture) watchdogDuration() time.Duration {
	cfg := f.engine.cfg
	return time.Duration(cfg.WatchdogFactor*(cfg.MaxRetries+1)) * cfg.Timeout
}

// ============================================================
// Engine Tests
// ============================================================

func TestEngine_GetWritesOnceAndRegistersCompletion(t *testing.T) {
	f := newEngineFixture(t)

	if err := f.engine.Get("0x0FFF", false); err != nil {
		t.Fatalf("Get: %v", err)
	}
	f.step()

	if len(f.transport.writes) != 1 {
		t.Fatalf("expected 1 write, got %d: %q", len(f.transport.writes), f.transport.writes)
	}
	if f.transport.writes[0] != ":7FF0F0040\n" {
		t.Errorf("frame = %q", f.transport.writes[0])
	}
	if f.engine.corr.Len() != 1 {
		t.Errorf("expected 1 pending completion, got %d", f.engine.corr.Len())
	}
	if _, ok := f.engine.corr.lookup("7FF0F"); !ok {
		t.Errorf("no completion for prefix 7FF0F, pending %v", f.engine.corr.Pending())
	}
	if f.engine.QueueLen() != 1 {
		t.Errorf("queue length = %d, want 1", f.engine.QueueLen())
	}
}

func TestEngine_GetByName(t *testing.T) {
	f := newEngineFixture(t)
	if err := f.engine.Get("stateOfCharge", false); err != nil {
		t.Fatalf("Get: %v", err)
	}
	f.step()
	if len(f.transport.writes) != 1 || f.transport.writes[0] != ":7FF0F0040\n" {
		t.Errorf("writes = %q", f.transport.writes)
	}
}

func TestEngine_GetInvalidArguments(t *testing.T) {
	f := newEngineFixture(t)
	if err := f.engine.Get("nonsense register", false); err == nil {
		t.Error("expected error for unknown register")
	}
	if err := f.engine.Set("0x0FFF", "XYZ", false); !errors.Is(err, ErrInvalidHex) {
		t.Errorf("expected ErrInvalidHex, got %v", err)
	}
	f.step()
	if len(f.transport.writes) != 0 {
		t.Errorf("invalid calls wrote %q", f.transport.writes)
	}
}

func TestEngine_ResponseAppliesValueAndAdvances(t *testing.T) {
	f := newEngineFixture(t)

	var got []register.Value
	if err := f.engine.RegisterListener("stateOfCharge", func(n, _ register.Value, precision int) {
		got = append(got, n)
		if precision != 2 {
			t.Errorf("precision = %d, want 2", precision)
		}
	}); err != nil {
		t.Fatalf("RegisterListener: %v", err)
	}
	if !f.engine.HasListener("stateOfCharge") {
		t.Error("HasListener = false after RegisterListener")
	}

	f.engine.Get("0x0FFF", false)
	f.engine.Get("0xED8D", false)
	f.step()
	if len(f.transport.writes) != 1 {
		t.Fatalf("second command sent before the first was answered: %q", f.transport.writes)
	}

	f.engine.HandleLine(":7FF0F00102709")
	f.step()

	if len(got) != 1 {
		t.Fatalf("listener fired %d times, want 1", len(got))
	}
	if v, ok := got[0].(float64); !ok || math.Abs(v-100.0) > 1e-9 {
		t.Errorf("stateOfCharge = %v, want 100", got[0])
	}
	if len(f.transport.writes) != 2 {
		t.Fatalf("expected next command after reply, writes %q", f.transport.writes)
	}
	if _, ok := f.engine.corr.lookup("78DED"); !ok {
		t.Errorf("expected completion for 0xED8D, pending %v", f.engine.corr.Pending())
	}

	stats := f.engine.Stats()
	if stats.Acknowledged != 1 || stats.Sent != 2 {
		t.Errorf("stats acked=%d sent=%d", stats.Acknowledged, stats.Sent)
	}
	if snap := f.engine.Update(); snap["stateOfCharge"] == nil {
		t.Error("snapshot missing stateOfCharge")
	}
}

func TestEngine_RetryExhaustion(t *testing.T) {
	f := newEngineFixture(t)
	f.engine.Get("0x0FFF", false)
	f.step()

	get := ":7FF0F0040\n"
	restart := RestartCommand.Frame

	for i := 1; i <= 2; i++ {
		f.clock.fire(t, testTimeout)
		f.step()
		if f.transport.count(restart) != 0 {
			t.Fatalf("restart after %d timeouts", i)
		}
		if f.transport.count(get) != i+1 {
			t.Errorf("after %d timeouts get sent %d times, want %d", i, f.transport.count(get), i+1)
		}
		if f.engine.QueueLen() != 1 {
			t.Errorf("command removed after %d timeouts", i)
		}
	}

	f.clock.fire(t, testTimeout)
	f.step()

	if f.transport.count(restart) != 1 {
		t.Errorf("expected exactly 1 restart, got %d", f.transport.count(restart))
	}
	if f.engine.QueueLen() != 0 {
		t.Errorf("command still queued after exhaustion")
	}
	if f.engine.corr.Len() != 0 {
		t.Errorf("completion left behind")
	}
	if len(f.clock.active(testTimeout)) != 0 {
		t.Errorf("timeout timer still armed")
	}
	if len(f.clock.active(f.watchdogDuration())) != 0 {
		t.Errorf("watchdog still armed")
	}

	stats := f.engine.Stats()
	if stats.Timeouts != 3 || stats.Retries != 2 || stats.Restarts != 1 {
		t.Errorf("stats timeouts=%d retries=%d restarts=%d", stats.Timeouts, stats.Retries, stats.Restarts)
	}
}

func TestEngine_StaleTimeoutIgnored(t *testing.T) {
	f := newEngineFixture(t)
	f.engine.Get("0x0FFF", false)
	f.step()

	timers := f.clock.active(testTimeout)
	if len(timers) != 1 {
		t.Fatalf("expected 1 timer, got %d", len(timers))
	}
	stale := timers[0]

	f.engine.HandleLine(":7FF0F00102709")
	f.step()
	if !stale.stopped {
		t.Error("timer not cancelled on match")
	}

	// a timer that raced the reply must not resend
	stale.f()
	f.step()
	if len(f.transport.writes) != 1 {
		t.Errorf("stale timeout caused writes %q", f.transport.writes)
	}
}

func TestEngine_StatusErrorDequeuesWithoutRetry(t *testing.T) {
	f := newEngineFixture(t)
	f.engine.Get("0x0FFF", false)
	f.step()

	f.engine.HandleLine(":7FF0F013F")
	f.step()

	if f.engine.QueueLen() != 0 {
		t.Error("command not dequeued after status error")
	}
	if v, _ := f.dir.Value("stateOfCharge"); v != nil {
		t.Errorf("status error stored a value: %v", v)
	}
	if f.engine.Stats().StatusErrors != 1 {
		t.Errorf("status errors = %d", f.engine.Stats().StatusErrors)
	}
	if len(f.clock.active(testTimeout)) != 0 {
		t.Error("timeout still armed")
	}
}

func TestEngine_RejectionDequeuesWithoutRetry(t *testing.T) {
	tests := []struct {
		name  string
		issue func(e *Engine) error
		reply string
		sent  string
	}{
		{"unknown command", (*Engine).ProductID, ":352", ProductIDCommand.Frame},
		{"error reply", (*Engine).AppVersion, ":451", AppVersionCommand.Frame},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newEngineFixture(t)
			tt.issue(f.engine)
			f.engine.Get("0x0FFF", false)
			f.step()

			f.engine.HandleLine(tt.reply)
			f.step()

			if f.engine.Stats().StatusErrors != 1 {
				t.Errorf("status errors = %d", f.engine.Stats().StatusErrors)
			}
			if f.engine.corr.Len() != 1 {
				t.Errorf("pending = %v, want only the next command", f.engine.corr.Pending())
			}
			// the queued get goes out next
			if f.transport.count(":7FF0F0040\n") != 1 {
				t.Errorf("next command not sent: %q", f.transport.writes)
			}

			// no timeout is left for the rejected command
			f.clock.fire(t, testTimeout)
			f.step()
			f.clock.fire(t, testTimeout)
			f.step()
			f.clock.fire(t, testTimeout)
			f.step()

			if f.transport.count(tt.sent) != 1 {
				t.Errorf("rejected command resent: %q", f.transport.writes)
			}
			if f.engine.QueueLen() != 0 {
				t.Errorf("queue length = %d", f.engine.QueueLen())
			}
			// only the get exhausts its retries
			if f.engine.Stats().Restarts != 1 {
				t.Errorf("restarts = %d, want 1", f.engine.Stats().Restarts)
			}
		})
	}
}

func TestEngine_RejectionAloneRestartsNothing(t *testing.T) {
	f := newEngineFixture(t)
	f.engine.ProductID()
	f.step()

	f.engine.HandleLine(":352")
	f.step()

	if f.engine.QueueLen() != 0 {
		t.Errorf("queue length = %d", f.engine.QueueLen())
	}
	if len(f.clock.active(testTimeout)) != 0 {
		t.Error("timeout still armed")
	}
	if len(f.clock.active(f.watchdogDuration())) != 0 {
		t.Error("watchdog still armed")
	}
	if f.transport.count(RestartCommand.Frame) != 0 {
		t.Errorf("restart sent: %q", f.transport.writes)
	}

	// a stray rejection with nothing in flight changes nothing
	f.engine.HandleLine(":352")
	f.step()
	if f.engine.Stats().StatusErrors != 2 || len(f.transport.writes) != 1 {
		t.Errorf("stray rejection: writes=%q stats=%+v", f.transport.writes, f.engine.Stats())
	}
}

func TestEngine_MaxRetries(t *testing.T) {
	tests := []struct {
		name       string
		maxRetries int
		attempts   int
	}{
		{"zero is a single attempt", 0, 1},
		{"one is a single attempt", 1, 1},
		{"negative takes the default", -1, DefaultMaxRetries},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := &fakeClock{}
			transport := &fakeTransport{operational: true}
			cfg := DefaultConfig()
			cfg.Timeout = testTimeout
			cfg.MaxRetries = tt.maxRetries
			cfg.AfterFunc = clock.AfterFunc
			e := New(transport, register.NewDefaultDirectory(), cfg)

			e.Get("0x0FFF", false)
			e.drain()
			for i := 0; i < tt.attempts; i++ {
				clock.fire(t, testTimeout)
				e.drain()
			}

			if got := transport.count(":7FF0F0040\n"); got != tt.attempts {
				t.Errorf("get sent %d times, want %d", got, tt.attempts)
			}
			if transport.count(RestartCommand.Frame) != 1 || e.QueueLen() != 0 {
				t.Errorf("writes = %q, queue = %d", transport.writes, e.QueueLen())
			}
		})
	}
}

func TestEngine_ChecksumSeeding(t *testing.T) {
	for _, seed := range []bool{false, true} {
		cfg := DefaultConfig()
		cfg.SeedChecksum = seed
		e := New(&fakeTransport{operational: true}, register.NewDefaultDirectory(), cfg)

		start := byte(0)
		if seed {
			start = AccumulateString(0, LineTerminator)
		}
		for i, lines := range [][]string{
			frameLines(0, Field{"V", "12800"}),
			frameLines(start, Field{"V", "12810"}),
		} {
			for _, line := range lines {
				e.handleLine(strings.TrimSuffix(line, LineTerminator))
			}
			if e.Stats().ValidFrames != uint64(i+1) {
				t.Fatalf("seed=%v frame %d rejected: stats=%+v", seed, i, e.Stats())
			}
		}
		if v, _ := e.dir.(*register.Directory).Value("V"); v != int64(12810) {
			t.Errorf("seed=%v V = %v", seed, v)
		}
	}
}

func TestEngine_UnmatchedResponseKeepsWaiting(t *testing.T) {
	f := newEngineFixture(t)
	f.engine.Get("0x0FFF", false)
	f.step()

	// reply for a register that was not asked for
	cmd := mustGet(t, "0xED8D")
	body := cmd.Prefix + "00" + "E204"
	sum, _ := CommandChecksum(body)
	f.engine.HandleLine(":" + body + sum)
	f.step()

	if f.engine.QueueLen() != 1 {
		t.Error("unmatched response advanced the queue")
	}
	if f.engine.corr.Len() != 1 {
		t.Error("unmatched response removed the completion")
	}
	if f.engine.Stats().Unmatched != 1 {
		t.Errorf("unmatched = %d", f.engine.Stats().Unmatched)
	}
}

func TestEngine_BadChecksumResponseDropped(t *testing.T) {
	f := newEngineFixture(t)
	f.engine.Get("0x0FFF", false)
	f.step()

	f.engine.HandleLine(":7FF0F00102708")
	f.step()

	if f.engine.QueueLen() != 1 {
		t.Error("corrupt response advanced the queue")
	}
	if f.engine.Stats().ChecksumErrors != 1 {
		t.Errorf("checksum errors = %d", f.engine.Stats().ChecksumErrors)
	}
}

func TestEngine_Sentinels(t *testing.T) {
	f := newEngineFixture(t)
	f.engine.Get("0x0FFF", false)
	f.step()

	f.engine.HandleLine(":4AAAAFD")
	f.engine.HandleLine(":64F")
	f.step()

	stats := f.engine.Stats()
	if stats.FramingErrors != 1 {
		t.Errorf("framing errors = %d", stats.FramingErrors)
	}
	if stats.Unmatched != 0 || stats.ChecksumErrors != 0 {
		t.Errorf("sentinels treated as replies: %+v", stats)
	}
	if f.engine.QueueLen() != 1 {
		t.Error("sentinel advanced the queue")
	}
}

func TestEngine_Watchdog(t *testing.T) {
	f := newEngineFixture(t)
	f.engine.Get("0x0FFF", false)
	f.engine.Get("0xED8D", false)
	f.step()

	f.clock.fire(t, f.watchdogDuration())
	f.step()

	if f.engine.Stats().WatchdogDrops != 1 {
		t.Errorf("watchdog drops = %d", f.engine.Stats().WatchdogDrops)
	}
	if f.engine.QueueLen() != 1 {
		t.Errorf("queue length = %d, want 1", f.engine.QueueLen())
	}
	last := f.transport.writes[len(f.transport.writes)-1]
	if last != mustGet(t, "0xED8D").Frame {
		t.Errorf("next command not sent after watchdog, last write %q", last)
	}
	if f.transport.count(RestartCommand.Frame) != 0 {
		t.Error("watchdog must not restart the device")
	}
}

func TestEngine_DefersUntilOperational(t *testing.T) {
	f := newEngineFixture(t)
	f.transport.operational = false

	f.engine.Get("0x0FFF", false)
	f.step()
	if len(f.transport.writes) != 0 {
		t.Fatalf("wrote while transport not operational")
	}

	// still down: the recheck is re-armed
	f.clock.fire(t, DefaultRecheck)
	f.step()
	if len(f.transport.writes) != 0 {
		t.Fatalf("wrote while transport not operational")
	}

	f.transport.operational = true
	f.clock.fire(t, DefaultRecheck)
	f.step()
	if len(f.transport.writes) != 1 {
		t.Errorf("expected send once operational, writes %q", f.transport.writes)
	}
}

func TestEngine_CompressionWhileDeferred(t *testing.T) {
	f := newEngineFixture(t)
	f.transport.operational = false

	f.engine.Set("relayMode", "01", false)
	f.engine.Set("relayMode", "02", false)
	f.step()

	if f.engine.QueueLen() != 1 {
		t.Fatalf("queue length = %d, want 1", f.engine.QueueLen())
	}
	f.transport.operational = true
	f.clock.fire(t, DefaultRecheck)
	f.step()

	want := mustSet(t, "0x034F", "02").Frame
	if len(f.transport.writes) != 1 || f.transport.writes[0] != want {
		t.Errorf("writes = %q, want [%q]", f.transport.writes, want)
	}
	if f.engine.Stats().Compressed != 1 {
		t.Errorf("compressed = %d", f.engine.Stats().Compressed)
	}
}

func TestEngine_SimpleCommands(t *testing.T) {
	f := newEngineFixture(t)
	f.engine.Ping()
	f.step()

	if f.transport.writes[0] != PingCommand.Frame {
		t.Fatalf("writes = %q", f.transport.writes)
	}
	f.engine.HandleLine(":51641F9")
	f.step()

	if f.engine.QueueLen() != 0 {
		t.Error("ping not acknowledged")
	}

	f.engine.Restart()
	f.step()
	if f.transport.count(RestartCommand.Frame) != 1 {
		t.Error("restart not written")
	}
	if f.engine.QueueLen() != 0 {
		t.Error("restart went through the queue")
	}
}

func TestEngine_TelemetryAndEmbeddedReply(t *testing.T) {
	f := newEngineFixture(t)

	var frames []*Frame
	f.engine.cfg.OnFrame = func(fr *Frame) { frames = append(frames, fr) }

	f.engine.Get("0x0FFF", false)
	f.step()

	sum := AccumulateString(0, "V\t12800\r\n")
	f.engine.HandleLine("V\t12800")
	f.engine.HandleLine(checksumLine(sum)[:len("Checksum\t")+1] + ":7FF0F00102709")
	f.step()

	if len(frames) != 1 || !frames[0].Valid {
		t.Fatalf("frames = %+v", frames)
	}
	if v, _ := f.dir.Value("V"); v != int64(12800) {
		t.Errorf("V = %v", v)
	}
	if f.engine.QueueLen() != 0 {
		t.Error("embedded reply not correlated")
	}
}

func TestEngine_ListenerMayIssueCommands(t *testing.T) {
	f := newEngineFixture(t)

	f.engine.RegisterListener("V", func(_, _ register.Value, _ int) {
		if err := f.engine.Get("0x0FFF", true); err != nil {
			t.Errorf("Get from listener: %v", err)
		}
	})

	sum := AccumulateString(0, "V\t12800\r\n")
	f.engine.HandleLine("V\t12800")
	f.engine.HandleLine(checksumLine(sum))
	f.step()

	if len(f.transport.writes) != 1 {
		t.Errorf("writes = %q", f.transport.writes)
	}
}

func TestEngine_WriteErrorFallsBackToRetry(t *testing.T) {
	f := newEngineFixture(t)
	f.transport.err = errors.New("port closed")
	f.engine.Get("0x0FFF", false)
	f.step()

	if f.engine.corr.Len() != 1 {
		t.Fatal("completion not registered after failed write")
	}
	f.transport.err = nil
	f.clock.fire(t, testTimeout)
	f.step()
	if len(f.transport.writes) != 1 {
		t.Errorf("retry did not resend, writes %q", f.transport.writes)
	}
}

func TestEngine_RunStops(t *testing.T) {
	f := newEngineFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	lines := make(chan string)
	done := make(chan error, 1)

	go func() { done <- f.engine.Run(ctx, lines) }()
	lines <- "V\t12800"
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}

	if err := f.engine.Ping(); !errors.Is(err, ErrEngineStopped) {
		t.Errorf("Ping after stop = %v, want ErrEngineStopped", err)
	}
}
