// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type countingGetter struct {
	mu    sync.Mutex
	calls map[string]int
	fail  string
}

func (g *countingGetter) Get(name string, priority bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls[name]++
	if name == g.fail {
		return errors.New("unknown register")
	}
	return nil
}

func (g *countingGetter) count(name string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[name]
}

func TestPollerRun(t *testing.T) {
	g := &countingGetter{calls: map[string]int{}, fail: "bogus"}
	p := New(g, []Job{
		{Register: "stateOfCharge", Interval: 5 * time.Millisecond},
		{Register: "bogus", Interval: 5 * time.Millisecond},
		{Register: "disabled", Interval: 0},
	}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for g.count("stateOfCharge") < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done

	if g.count("stateOfCharge") < 3 {
		t.Errorf("stateOfCharge polled %d times", g.count("stateOfCharge"))
	}
	if g.count("bogus") != 1 {
		t.Errorf("failing job polled %d times, want 1", g.count("bogus"))
	}
	if g.count("disabled") != 0 {
		t.Errorf("zero interval job polled")
	}
}
