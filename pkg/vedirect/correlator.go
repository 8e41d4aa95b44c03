// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vedirect

import "time"

// Timer is a cancellable pending callback.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f to run once after d.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// completion tracks the reply expected for the command in flight.
type completion struct {
	prefix  string
	entryID uint64
	timer   Timer
	retries int

	// generation guards against a timer that fired after being replaced
	generation uint64
}

// Correlator maps reply prefixes to pending completions.
// It is not safe for concurrent use.
type Correlator struct {
	pending map[string]*completion
}

// NewCorrelator creates an empty correlator.
func NewCorrelator() *Correlator {
	return &Correlator{pending: make(map[string]*completion)}
}

// register adds a completion, cancelling any previous one for the prefix.
func (c *Correlator) register(p *completion) {
	c.remove(p.prefix)
	c.pending[p.prefix] = p
}

func (c *Correlator) lookup(prefix string) (*completion, bool) {
	p, ok := c.pending[prefix]
	return p, ok
}

// remove cancels the timer and drops the completion for prefix.
func (c *Correlator) remove(prefix string) {
	p, ok := c.pending[prefix]
	if !ok {
		return
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	delete(c.pending, prefix)
}

// clear cancels every pending completion.
func (c *Correlator) clear() {
	for prefix := range c.pending {
		c.remove(prefix)
	}
}

// Pending returns the prefixes awaiting a reply.
func (c *Correlator) Pending() []string {
	out := make([]string, 0, len(c.pending))
	for prefix := range c.pending {
		out = append(out, prefix)
	}
	return out
}

// Len returns the number of pending completions.
func (c *Correlator) Len() int {
	return len(c.pending)
}
