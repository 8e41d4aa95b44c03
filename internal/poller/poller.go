// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package poller reads HEX registers on a fixed schedule.
package poller

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Getter queues a register read.
type Getter interface {
	Get(nameOrAddress string, priority bool) error
}

// Job polls one register.
type Job struct {
	Register string
	Interval time.Duration
}

// Poller issues a get for every job at its interval. Compression in the
// engine queue keeps slow devices from accumulating duplicate reads.
type Poller struct {
	getter Getter
	jobs   []Job
	log    zerolog.Logger
}

// New creates a poller.
func New(getter Getter, jobs []Job, logger zerolog.Logger) *Poller {
	return &Poller{
		getter: getter,
		jobs:   jobs,
		log:    logger.With().Str("component", "poller").Logger(),
	}
}

// Run polls until ctx is done. Every job fires once immediately.
func (p *Poller) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, job := range p.jobs {
		if job.Interval <= 0 {
			continue
		}
		wg.Add(1)
		go func(job Job) {
			defer wg.Done()
			p.poll(ctx, job)
		}(job)
	}
	wg.Wait()
}

func (p *Poller) poll(ctx context.Context, job Job) {
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		if err := p.getter.Get(job.Register, false); err != nil {
			p.log.Error().Err(err).Str("register", job.Register).Msg("poll failed")
			// argument errors never go away
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
