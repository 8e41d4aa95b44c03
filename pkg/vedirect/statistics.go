// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vedirect

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Statistics is a snapshot of engine counters.
type Statistics struct {
	StartTime time.Time

	// Telemetry
	ValidFrames   uint64
	InvalidFrames uint64
	UnknownFields uint64

	// Commands
	Queued        uint64
	Compressed    uint64
	Duplicates    uint64
	Sent          uint64
	Acknowledged  uint64
	Retries       uint64
	Timeouts      uint64
	Restarts      uint64
	WatchdogDrops uint64

	// Replies
	Responses      uint64
	ChecksumErrors uint64
	StatusErrors   uint64
	Unmatched      uint64
	FramingErrors  uint64

	// Rates (calculated)
	FrameRate float64 // frames/sec
	ErrorRate float64 // errors/sec
}

// counters is the live, concurrently readable form of Statistics.
type counters struct {
	start time.Time

	validFrames   atomic.Uint64
	invalidFrames atomic.Uint64
	unknownFields atomic.Uint64

	queued        atomic.Uint64
	compressed    atomic.Uint64
	duplicates    atomic.Uint64
	sent          atomic.Uint64
	acknowledged  atomic.Uint64
	retries       atomic.Uint64
	timeouts      atomic.Uint64
	restarts      atomic.Uint64
	watchdogDrops atomic.Uint64

	responses      atomic.Uint64
	checksumErrors atomic.Uint64
	statusErrors   atomic.Uint64
	unmatched      atomic.Uint64
	framingErrors  atomic.Uint64
}

func newCounters() *counters {
	return &counters{start: time.Now()}
}

func (c *counters) snapshot() Statistics {
	s := Statistics{
		StartTime:      c.start,
		ValidFrames:    c.validFrames.Load(),
		InvalidFrames:  c.invalidFrames.Load(),
		UnknownFields:  c.unknownFields.Load(),
		Queued:         c.queued.Load(),
		Compressed:     c.compressed.Load(),
		Duplicates:     c.duplicates.Load(),
		Sent:           c.sent.Load(),
		Acknowledged:   c.acknowledged.Load(),
		Retries:        c.retries.Load(),
		Timeouts:       c.timeouts.Load(),
		Restarts:       c.restarts.Load(),
		WatchdogDrops:  c.watchdogDrops.Load(),
		Responses:      c.responses.Load(),
		ChecksumErrors: c.checksumErrors.Load(),
		StatusErrors:   c.statusErrors.Load(),
		Unmatched:      c.unmatched.Load(),
		FramingErrors:  c.framingErrors.Load(),
	}
	s.CalculateRates()
	return s
}

// TotalFrames returns valid plus invalid frames.
func (s *Statistics) TotalFrames() uint64 {
	return s.ValidFrames + s.InvalidFrames
}

// Errors returns the number of error events of any kind.
func (s *Statistics) Errors() uint64 {
	return s.InvalidFrames + s.ChecksumErrors + s.StatusErrors + s.Timeouts + s.FramingErrors
}

// CalculateRates calculates frame and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.FrameRate = float64(s.TotalFrames()) / elapsed
		s.ErrorRate = float64(s.Errors()) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	var validPercent, invalidPercent float64
	if total := s.TotalFrames(); total > 0 {
		validPercent = float64(s.ValidFrames) * 100.0 / float64(total)
		invalidPercent = float64(s.InvalidFrames) * 100.0 / float64(total)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Frames:    %8d\n", s.TotalFrames())
	result += fmt.Sprintf("Valid Frames:    %8d (%.1f%%)\n", s.ValidFrames, validPercent)

	if s.InvalidFrames > 0 {
		result += fmt.Sprintf("Checksum Errors: %8d (%.1f%%)\n", s.InvalidFrames, invalidPercent)
	}
	if s.UnknownFields > 0 {
		result += fmt.Sprintf("Unknown Fields:  %8d\n", s.UnknownFields)
	}

	if s.Queued > 0 {
		result += fmt.Sprintf("Commands Queued: %8d (compressed %d, duplicates %d)\n", s.Queued, s.Compressed, s.Duplicates)
		result += fmt.Sprintf("Commands Sent:   %8d\n", s.Sent)
		result += fmt.Sprintf("Acknowledged:    %8d\n", s.Acknowledged)
	}
	if s.Timeouts > 0 {
		result += fmt.Sprintf("Timeouts:        %8d (retries %d, restarts %d)\n", s.Timeouts, s.Retries, s.Restarts)
	}
	if s.WatchdogDrops > 0 {
		result += fmt.Sprintf("Watchdog Drops:  %8d\n", s.WatchdogDrops)
	}
	if s.Responses > 0 {
		result += fmt.Sprintf("HEX Replies:     %8d\n", s.Responses)
	}
	if s.ChecksumErrors > 0 {
		result += fmt.Sprintf("  Bad Checksum:     %5d\n", s.ChecksumErrors)
	}
	if s.StatusErrors > 0 {
		result += fmt.Sprintf("  Device Errors:    %5d\n", s.StatusErrors)
	}
	if s.Unmatched > 0 {
		result += fmt.Sprintf("  Unmatched:        %5d\n", s.Unmatched)
	}
	if s.FramingErrors > 0 {
		result += fmt.Sprintf("  Framing Errors:   %5d\n", s.FramingErrors)
	}

	result += fmt.Sprintf("Frame Rate:      %8.1f frames/sec\n", s.FrameRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}
