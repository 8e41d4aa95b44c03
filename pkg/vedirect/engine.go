// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vedirect

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/vestat/pkg/register"
)

// ErrEngineStopped is returned by calls made after Run has returned.
var ErrEngineStopped = errors.New("engine stopped")

// Transport is the outbound half of the byte-stream link.
type Transport interface {
	Write(p []byte) (int, error)

	// Operational reports whether the device has been heard from.
	Operational() bool
}

// Directory is the register store the engine stages telemetry into and
// applies HEX replies to.
type Directory interface {
	Sink
	ApplyHex(address, payloadHex string) (register.Value, error)
	Resolve(nameOrAddress string) (string, error)
	Subscribe(name string, l register.Listener) error
	HasListener(name string) bool
	Snapshot() map[string]register.Value
}

// Config holds engine settings.
type Config struct {
	// Timeout is how long to wait for the reply to a command.
	Timeout time.Duration

	// MaxRetries is the number of timeouts tolerated for one command. The
	// last one drops the command and restarts the device. 0 and 1 both
	// allow a single attempt; negative takes the default.
	MaxRetries int

	// Compression collapses consecutive commands for the same register.
	Compression bool

	// Recheck is the poll interval while the transport is not operational.
	Recheck time.Duration

	// WatchdogFactor scales the per-command safety net,
	// WatchdogFactor * (MaxRetries+1) * Timeout.
	WatchdogFactor int

	// SeedChecksum starts every frame after the first with the CR LF of the
	// previous Checksum line. See FrameParser.SeedTerminator.
	SeedChecksum bool

	Logger zerolog.Logger

	// AfterFunc creates timers. Defaults to time.AfterFunc.
	AfterFunc AfterFunc

	// OnFrame and OnResponse observe decoded traffic. They run on the
	// engine goroutine and must not block.
	OnFrame    func(*Frame)
	OnResponse func(Response)
}

// DefaultConfig returns the standard engine settings.
func DefaultConfig() Config {
	return Config{
		Timeout:        DefaultTimeout,
		MaxRetries:     DefaultMaxRetries,
		Compression:    true,
		Recheck:        DefaultRecheck,
		WatchdogFactor: DefaultWatchdogFactor,
		Logger:         zerolog.Nop(),
	}
}

// Engine decodes the telemetry stream and runs outbound HEX commands one at a
// time. All protocol state is owned by a single goroutine; public methods
// post work to it and never block on the device.
type Engine struct {
	cfg       Config
	log       zerolog.Logger
	transport Transport
	dir       Directory

	parser *FrameParser
	queue  *Queue
	corr   *Correlator
	stats  *counters

	queueLen atomic.Int64

	mu      sync.Mutex
	inbox   []func()
	wake    chan struct{}
	stopped bool

	// owned by the engine goroutine
	recheck    Timer
	watchdog   Timer
	generation uint64
}

// New creates an engine writing to transport and storing values in dir.
// Zero durations and factors in cfg take their defaults.
func New(transport Transport, dir Directory, cfg Config) *Engine {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.Recheck <= 0 {
		cfg.Recheck = DefaultRecheck
	}
	if cfg.WatchdogFactor <= 0 {
		cfg.WatchdogFactor = DefaultWatchdogFactor
	}
	if cfg.AfterFunc == nil {
		cfg.AfterFunc = realAfterFunc
	}

	return &Engine{
		cfg:       cfg,
		log:       cfg.Logger.With().Str("component", "vedirect").Logger(),
		transport: transport,
		dir:       dir,
		parser:    &FrameParser{SeedTerminator: cfg.SeedChecksum, sink: dir},
		queue:     NewQueue(cfg.Compression),
		corr:      NewCorrelator(),
		stats:     newCounters(),
		wake:      make(chan struct{}, 1),
	}
}

// Run processes lines and posted work until ctx is cancelled or lines is
// closed. Lines are expected without their CR LF terminator.
func (e *Engine) Run(ctx context.Context, lines <-chan string) error {
	defer e.shutdown()

	e.drain()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			e.handleLine(line)
			e.drain()
		case <-e.wake:
			e.drain()
		}
	}
}

// HandleLine queues one received line for processing.
func (e *Engine) HandleLine(line string) error {
	return e.post(func() { e.handleLine(line) })
}

// Get queues a read of the register given by name or address.
func (e *Engine) Get(nameOrAddress string, priority bool) error {
	addr, err := e.dir.Resolve(nameOrAddress)
	if err != nil {
		return err
	}
	cmd, err := BuildGet(addr)
	if err != nil {
		return err
	}
	return e.post(func() { e.push(cmd, priority) })
}

// Set queues a write of valueHex (big-endian) to the register.
func (e *Engine) Set(nameOrAddress, valueHex string, priority bool) error {
	addr, err := e.dir.Resolve(nameOrAddress)
	if err != nil {
		return err
	}
	cmd, err := BuildSet(addr, valueHex)
	if err != nil {
		return err
	}
	return e.post(func() { e.push(cmd, priority) })
}

// Ping queues a ping.
func (e *Engine) Ping() error {
	return e.post(func() { e.push(PingCommand, false) })
}

// AppVersion queues a firmware version query.
func (e *Engine) AppVersion() error {
	return e.post(func() { e.push(AppVersionCommand, false) })
}

// ProductID queues a product id query.
func (e *Engine) ProductID() error {
	return e.post(func() { e.push(ProductIDCommand, false) })
}

// Restart writes a restart command immediately, outside the queue.
func (e *Engine) Restart() error {
	return e.post(e.restart)
}

// RegisterListener subscribes to changes of a register.
func (e *Engine) RegisterListener(name string, l register.Listener) error {
	return e.dir.Subscribe(name, l)
}

// HasListener reports whether the register has any subscriber.
func (e *Engine) HasListener(name string) bool {
	return e.dir.HasListener(name)
}

// Update returns the committed register values.
func (e *Engine) Update() map[string]register.Value {
	return e.dir.Snapshot()
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Statistics {
	return e.stats.snapshot()
}

// QueueLen returns the number of queued commands, including the one in flight.
func (e *Engine) QueueLen() int {
	return int(e.queueLen.Load())
}

func (e *Engine) post(fn func()) error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return ErrEngineStopped
	}
	e.inbox = append(e.inbox, fn)
	e.mu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
	return nil
}

// drain runs posted work until the inbox is empty.
func (e *Engine) drain() {
	for {
		e.mu.Lock()
		batch := e.inbox
		e.inbox = nil
		e.mu.Unlock()

		if len(batch) == 0 {
			return
		}
		for _, fn := range batch {
			fn()
		}
	}
}

func (e *Engine) shutdown() {
	e.mu.Lock()
	e.stopped = true
	e.inbox = nil
	e.mu.Unlock()

	if e.recheck != nil {
		e.recheck.Stop()
		e.recheck = nil
	}
	e.stopWatchdog()
	e.corr.clear()
}

func (e *Engine) handleLine(line string) {
	res := e.parser.Feed(line)

	switch res.Kind {
	case LineUnknownField:
		e.stats.unknownFields.Add(1)
		e.log.Debug().Str("key", res.Field.Key).Msg("unknown telemetry field")
	case LineFrame:
		if res.Frame.Valid {
			e.stats.validFrames.Add(1)
		} else {
			e.stats.invalidFrames.Add(1)
			e.log.Warn().
				Uint8("checksum", res.Frame.Checksum).
				Uint8("sum", res.Frame.Sum).
				Int("fields", len(res.Frame.Fields)).
				Msg("frame checksum failed, discarded")
		}
		if e.cfg.OnFrame != nil {
			e.cfg.OnFrame(res.Frame)
		}
	}

	for _, r := range res.Responses {
		e.handleResponse(r)
	}
}

func (e *Engine) push(cmd Command, priority bool) {
	wasEmpty := e.queue.Len() == 0
	res := e.queue.Push(cmd, priority)
	e.queueLen.Store(int64(e.queue.Len()))

	switch res {
	case PushReplaced:
		e.stats.compressed.Add(1)
	case PushDropped:
		e.stats.duplicates.Add(1)
	default:
		e.stats.queued.Add(1)
	}
	e.log.Debug().
		Str("frame", strings.TrimSpace(cmd.Frame)).
		Bool("priority", priority).
		Stringer("result", res).
		Msg("command queued")

	if wasEmpty {
		e.kick()
	}
}

// kick sends the head if it has not been sent yet, deferring while the
// transport is not operational.
func (e *Engine) kick() {
	head, ok := e.queue.Head()
	if !ok || head.Sent {
		return
	}

	if !e.transport.Operational() {
		if e.recheck == nil {
			e.recheck = e.cfg.AfterFunc(e.cfg.Recheck, func() {
				_ = e.post(func() {
					e.recheck = nil
					e.kick()
				})
			})
		}
		return
	}

	head.Sent = true
	e.transmit(head.Command.Frame)
	e.armCompletion(head, e.cfg.MaxRetries)
	e.armWatchdog(head)
}

func (e *Engine) transmit(frame string) {
	if _, err := e.transport.Write([]byte(frame)); err != nil {
		// the timeout path retries
		e.log.Error().Err(err).Str("frame", strings.TrimSpace(frame)).Msg("write failed")
		return
	}
	e.stats.sent.Add(1)
}

func (e *Engine) armCompletion(head *Entry, retries int) {
	e.generation++
	gen := e.generation
	prefix := head.Command.Prefix

	p := &completion{
		prefix:     prefix,
		entryID:    head.ID,
		retries:    retries,
		generation: gen,
	}
	p.timer = e.cfg.AfterFunc(e.cfg.Timeout, func() {
		_ = e.post(func() { e.onTimeout(prefix, gen) })
	})
	e.corr.register(p)
}

func (e *Engine) onTimeout(prefix string, gen uint64) {
	p, ok := e.corr.lookup(prefix)
	if !ok || p.generation != gen {
		return
	}
	e.stats.timeouts.Add(1)

	head, ok := e.queue.Head()
	if !ok || head.ID != p.entryID {
		e.corr.remove(prefix)
		e.kick()
		return
	}

	p.retries--
	if p.retries > 0 {
		e.stats.retries.Add(1)
		e.log.Warn().
			Str("prefix", prefix).
			Int("retries", p.retries).
			Msg("command timed out, resending")
		e.transmit(head.Command.Frame)
		e.armCompletion(head, p.retries)
		return
	}

	e.log.Error().
		Str("prefix", prefix).
		Str("frame", strings.TrimSpace(head.Command.Frame)).
		Msg("command retries exhausted, restarting device")
	e.corr.remove(prefix)
	e.finishHead()
	e.restart()
	e.kick()
}

func (e *Engine) armWatchdog(head *Entry) {
	e.stopWatchdog()
	id := head.ID
	d := time.Duration(e.cfg.WatchdogFactor*(e.cfg.MaxRetries+1)) * e.cfg.Timeout
	e.watchdog = e.cfg.AfterFunc(d, func() {
		_ = e.post(func() { e.onWatchdog(id) })
	})
}

func (e *Engine) stopWatchdog() {
	if e.watchdog != nil {
		e.watchdog.Stop()
		e.watchdog = nil
	}
}

func (e *Engine) onWatchdog(id uint64) {
	head, ok := e.queue.Head()
	if !ok || head.ID != id {
		return
	}
	e.stats.watchdogDrops.Add(1)
	e.log.Warn().
		Str("prefix", head.Command.Prefix).
		Msg("watchdog dropped stalled command")
	e.corr.remove(head.Command.Prefix)
	e.finishHead()
	e.kick()
}

func (e *Engine) finishHead() {
	e.stopWatchdog()
	e.queue.Pop()
	e.queueLen.Store(int64(e.queue.Len()))
}

func (e *Engine) restart() {
	e.stats.restarts.Add(1)
	e.transmit(RestartCommand.Frame)
}

func (e *Engine) handleResponse(raw string) {
	raw = strings.ToUpper(strings.TrimSpace(raw))
	if raw == "" {
		return
	}
	e.stats.responses.Add(1)

	switch {
	case strings.HasPrefix(raw, framingErrorPrefix):
		e.stats.framingErrors.Add(1)
		e.log.Warn().Str("response", raw).Msg("device reported framing error")
		return
	case raw == restartEcho:
		e.log.Info().Msg("device acknowledged restart")
		return
	}

	if !ValidateResponse(raw) {
		e.stats.checksumErrors.Add(1)
		e.log.Warn().Str("response", raw).Msg("response checksum failed, dropped")
		return
	}
	resp, err := DecodeResponse(raw)
	if err != nil {
		e.stats.checksumErrors.Add(1)
		e.log.Warn().Err(err).Str("response", raw).Msg("undecodable response")
		return
	}
	if e.cfg.OnResponse != nil {
		e.cfg.OnResponse(resp)
	}

	switch resp.Opcode {
	case ReplyAsync:
		if resp.Status == StatusOK {
			e.apply(resp)
		}
		return
	case ReplyUnknown, ReplyError:
		e.stats.statusErrors.Add(1)
		e.log.Warn().Str("response", raw).Msg("device rejected command")
		e.resolveHead()
		return
	}

	p, ok := e.corr.lookup(resp.Prefix)
	head, hasHead := e.queue.Head()
	if !ok || !hasHead || head.ID != p.entryID {
		// left for the timeout path to resolve
		e.stats.unmatched.Add(1)
		e.log.Warn().Str("prefix", resp.Prefix).Msg("unmatched response ignored")
		return
	}

	e.corr.remove(resp.Prefix)
	e.finishHead()
	e.stats.acknowledged.Add(1)

	if resp.HasRegister() {
		if resp.Status != StatusOK {
			e.stats.statusErrors.Add(1)
			e.log.Warn().
				Str("register", resp.Address).
				Uint8("status", resp.Status).
				Msg(StatusText(resp.Status))
		} else {
			e.apply(resp)
		}
	} else {
		e.log.Info().Str("prefix", resp.Prefix).Str("payload", resp.Payload).Msg("reply")
	}

	e.kick()
}

// resolveHead dequeues the in-flight command after a reply that carries no
// prefix but still answers it, such as unknown command or error.
func (e *Engine) resolveHead() {
	head, ok := e.queue.Head()
	if !ok || !head.Sent {
		return
	}
	p, ok := e.corr.lookup(head.Command.Prefix)
	if !ok || p.entryID != head.ID {
		return
	}
	e.corr.remove(head.Command.Prefix)
	e.finishHead()
	e.kick()
}

func (e *Engine) apply(resp Response) {
	v, err := e.dir.ApplyHex(resp.Address, resp.Payload)
	if err != nil {
		e.log.Debug().Err(err).Str("register", resp.Address).Msg("reply not stored")
		return
	}
	e.log.Debug().Str("register", resp.Address).Interface("value", v).Msg("register updated")
}
