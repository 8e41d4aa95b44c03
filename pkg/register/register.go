// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package register holds the register directory used by the VE.Direct engine.
//
// A Directory owns every committed register value and the listeners attached
// to it. Telemetry fields and HEX command responses are staged into the
// directory and only become visible once committed, so a reader never sees a
// half-applied frame.
package register

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Common errors.
var (
	ErrUnknownRegister = errors.New("unknown register")
	ErrDuplicate       = errors.New("register already defined")
	ErrInvalidAddress  = errors.New("invalid register address")
	ErrNoDecoder       = errors.New("register has no decoder")
)

// Value is a committed register value: a raw telemetry string, an int64 or a
// float64 produced by a decoder.
type Value = any

// Listener is called after a register's committed value changed.
type Listener func(newValue, oldValue Value, precision int)

// DecodeFunc converts a big-endian hex payload into a register value.
type DecodeFunc func(payloadHex string) (Value, error)

// ParseFunc converts a raw telemetry string into a register value.
type ParseFunc func(raw string) Value

// Register describes one device register.
type Register struct {
	// Name is the telemetry key or human-readable alias ("V", "SOC", "Relay").
	Name string

	// Address is the canonical HEX register address ("0x0FFF"), empty for
	// text-only telemetry fields.
	Address string

	Description string
	Unit        string
	Precision   int

	// Decode converts HEX get/set payloads. Required when Address is set.
	Decode DecodeFunc

	// Parse converts telemetry text. Nil keeps the raw string.
	Parse ParseFunc
}

// Info is a read-only view of a register and its committed value.
type Info struct {
	Register
	Value     Value
	Committed bool
	Listeners int
}

type entry struct {
	def        Register
	value      Value
	committed  bool
	pending    Value
	hasPending bool
	listeners  []Listener
}

type change struct {
	listeners []Listener
	newValue  Value
	oldValue  Value
	precision int
}

// Directory maps names and addresses to registers.
// All methods are safe for concurrent use.
type Directory struct {
	mu        sync.RWMutex
	byName    map[string]*entry
	byAddress map[string]*entry
	staged    []*entry
}

// NewDirectory creates a directory holding the given registers.
func NewDirectory(regs ...Register) (*Directory, error) {
	d := &Directory{
		byName:    make(map[string]*entry),
		byAddress: make(map[string]*entry),
	}
	for _, r := range regs {
		if err := d.Add(r); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Add defines a new register.
func (d *Directory) Add(r Register) error {
	if r.Name == "" {
		return fmt.Errorf("register name required")
	}
	if r.Address != "" {
		addr, err := NormalizeAddress(r.Address)
		if err != nil {
			return fmt.Errorf("register %s: %w", r.Name, err)
		}
		r.Address = addr
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.byName[r.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, r.Name)
	}
	if r.Address != "" {
		if _, ok := d.byAddress[r.Address]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicate, r.Address)
		}
	}

	e := &entry{def: r}
	d.byName[r.Name] = e
	if r.Address != "" {
		d.byAddress[r.Address] = e
	}
	return nil
}

// Lookup returns the register with the given name.
func (d *Directory) Lookup(name string) (Info, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.byName[name]
	if !ok {
		return Info{}, false
	}
	return e.info(), true
}

// LookupAddress returns the register with the given HEX address.
func (d *Directory) LookupAddress(address string) (Info, bool) {
	addr, err := NormalizeAddress(address)
	if err != nil {
		return Info{}, false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.byAddress[addr]
	if !ok {
		return Info{}, false
	}
	return e.info(), true
}

// Resolve turns a register name or address into a canonical address.
func (d *Directory) Resolve(nameOrAddress string) (string, error) {
	if info, ok := d.Lookup(nameOrAddress); ok {
		if info.Address == "" {
			return "", fmt.Errorf("register %s has no HEX address", nameOrAddress)
		}
		return info.Address, nil
	}
	return NormalizeAddress(nameOrAddress)
}

// Stage records a pending telemetry value. It reports false when the key is
// not known. No listener fires until Commit.
func (d *Directory) Stage(name, raw string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.byName[name]
	if !ok {
		return false
	}
	var v Value = raw
	if e.def.Parse != nil {
		v = e.def.Parse(raw)
	}
	d.stage(e, v)
	return true
}

func (d *Directory) stage(e *entry, v Value) {
	if !e.hasPending {
		d.staged = append(d.staged, e)
	}
	e.pending = v
	e.hasPending = true
}

// Commit applies every pending value that differs from the committed one, in
// staging order, then notifies listeners. It returns the number of changed
// registers.
func (d *Directory) Commit() int {
	d.mu.Lock()
	changes := make([]change, 0, len(d.staged))
	for _, e := range d.staged {
		if c, ok := e.commit(); ok {
			changes = append(changes, c)
		}
	}
	d.staged = d.staged[:0]
	d.mu.Unlock()

	notify(changes)
	return len(changes)
}

// DiscardAll drops every pending value without touching committed values.
func (d *Directory) DiscardAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, e := range d.staged {
		e.pending = nil
		e.hasPending = false
	}
	d.staged = d.staged[:0]
}

// ApplyHex decodes a HEX payload for the register at address and commits it
// on its own, leaving any staged telemetry untouched.
func (d *Directory) ApplyHex(address, payloadHex string) (Value, error) {
	addr, err := NormalizeAddress(address)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	e, ok := d.byAddress[addr]
	if !ok {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownRegister, addr)
	}
	if e.def.Decode == nil {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNoDecoder, addr)
	}
	v, err := e.def.Decode(payloadHex)
	if err != nil {
		d.mu.Unlock()
		return nil, fmt.Errorf("decode %s (%s): %w", e.def.Name, addr, err)
	}

	var changes []change
	wasStaged := e.hasPending
	saved := e.pending
	e.pending = v
	e.hasPending = true
	if c, ok := e.commit(); ok {
		changes = append(changes, c)
	}
	if wasStaged {
		e.pending = saved
		e.hasPending = true
	}
	d.mu.Unlock()

	notify(changes)
	return v, nil
}

// Subscribe adds a listener to the named register.
func (d *Directory) Subscribe(name string, l Listener) error {
	if l == nil {
		return fmt.Errorf("nil listener for %s", name)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.byName[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRegister, name)
	}
	e.listeners = append(e.listeners, l)
	return nil
}

// SubscribeAll adds the listener to every register. The listener receives the
// register name as well.
func (d *Directory) SubscribeAll(l func(name string, newValue, oldValue Value, precision int)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for name, e := range d.byName {
		name := name
		e.listeners = append(e.listeners, func(n, o Value, p int) {
			l(name, n, o, p)
		})
	}
}

// HasListener reports whether the named register has at least one listener.
func (d *Directory) HasListener(name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.byName[name]
	return ok && len(e.listeners) > 0
}

// Value returns the committed value of a register.
func (d *Directory) Value(name string) (Value, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.byName[name]
	if !ok || !e.committed {
		return nil, false
	}
	return e.value, true
}

// Snapshot returns every committed value keyed by register name.
func (d *Directory) Snapshot() map[string]Value {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]Value, len(d.byName))
	for name, e := range d.byName {
		if e.committed {
			out[name] = e.value
		}
	}
	return out
}

// Registers returns all registers sorted by name.
func (d *Directory) Registers() []Info {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Info, 0, len(d.byName))
	for _, e := range d.byName {
		out = append(out, e.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (e *entry) info() Info {
	return Info{
		Register:  e.def,
		Value:     e.value,
		Committed: e.committed,
		Listeners: len(e.listeners),
	}
}

// commit must be called with the directory lock held.
func (e *entry) commit() (change, bool) {
	if !e.hasPending {
		return change{}, false
	}
	pending := e.pending
	e.pending = nil
	e.hasPending = false

	if e.committed && reflect.DeepEqual(pending, e.value) {
		return change{}, false
	}

	old := e.value
	e.value = pending
	e.committed = true

	listeners := make([]Listener, len(e.listeners))
	copy(listeners, e.listeners)
	return change{listeners: listeners, newValue: pending, oldValue: old, precision: e.def.Precision}, true
}

func notify(changes []change) {
	for _, c := range changes {
		for _, l := range c.listeners {
			l(c.newValue, c.oldValue, c.precision)
		}
	}
}

// NormalizeAddress canonicalizes a register address to "0x" followed by four
// upper-case hex digits.
func NormalizeAddress(address string) (string, error) {
	s := strings.TrimSpace(address)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" || len(s) > 4 {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	n, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	return fmt.Sprintf("0x%04X", n), nil
}
