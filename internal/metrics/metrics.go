// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package metrics exports engine counters and register values to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Thermoquad/vestat/pkg/register"
	"github.com/Thermoquad/vestat/pkg/vedirect"
)

const namespace = "vestat"

// Source is the engine view the collector reads on every scrape.
type Source interface {
	Stats() vedirect.Statistics
	QueueLen() int
	Update() map[string]register.Value
}

// Collector implements prometheus.Collector over a Source.
type Collector struct {
	src Source

	frames    *prometheus.Desc
	commands  *prometheus.Desc
	errors    *prometheus.Desc
	queue     *prometheus.Desc
	registers *prometheus.Desc
}

// NewCollector creates a collector reading from src.
func NewCollector(src Source) *Collector {
	return &Collector{
		src: src,
		frames: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "frames_total"),
			"Telemetry frames received, by checksum result.",
			[]string{"status"}, nil),
		commands: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "commands_total"),
			"HEX command events.",
			[]string{"event"}, nil),
		errors: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "errors_total"),
			"Protocol errors, by type.",
			[]string{"type"}, nil),
		queue: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "queue_length"),
			"Commands queued, including the one in flight.",
			nil, nil),
		registers: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "register_value"),
			"Last committed numeric register value.",
			[]string{"register"}, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.frames
	ch <- c.commands
	ch <- c.errors
	ch <- c.queue
	ch <- c.registers
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.src.Stats()

	counter := func(desc *prometheus.Desc, v uint64, label string) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(v), label)
	}

	counter(c.frames, s.ValidFrames, "valid")
	counter(c.frames, s.InvalidFrames, "invalid")

	counter(c.commands, s.Queued, "queued")
	counter(c.commands, s.Compressed, "compressed")
	counter(c.commands, s.Duplicates, "duplicate")
	counter(c.commands, s.Sent, "sent")
	counter(c.commands, s.Acknowledged, "acknowledged")
	counter(c.commands, s.Retries, "retry")
	counter(c.commands, s.Timeouts, "timeout")
	counter(c.commands, s.Restarts, "restart")
	counter(c.commands, s.WatchdogDrops, "watchdog")

	counter(c.errors, s.UnknownFields, "unknown_field")
	counter(c.errors, s.ChecksumErrors, "response_checksum")
	counter(c.errors, s.StatusErrors, "device_status")
	counter(c.errors, s.Unmatched, "unmatched")
	counter(c.errors, s.FramingErrors, "framing")

	ch <- prometheus.MustNewConstMetric(c.queue, prometheus.GaugeValue, float64(c.src.QueueLen()))

	for name, v := range c.src.Update() {
		if f, ok := numeric(v); ok {
			ch <- prometheus.MustNewConstMetric(c.registers, prometheus.GaugeValue, f, name)
		}
	}
}

func numeric(v register.Value) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}
