// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vedirect

import (
	"strings"
	"time"
)

// Sink receives staged telemetry values and the frame-boundary decision.
type Sink interface {
	// Stage records a pending value, reporting false for unknown keys.
	Stage(key, raw string) bool
	// Commit applies all pending values.
	Commit() int
	// DiscardAll drops all pending values.
	DiscardAll()
}

// LineKind classifies a line handled by the FrameParser.
type LineKind int

const (
	LineIgnored LineKind = iota
	LineField
	LineUnknownField
	LineFrame
	LineResponse
)

// Field is one telemetry key/value pair.
type Field struct {
	Key   string
	Value string
}

// Frame is a completed telemetry frame.
type Frame struct {
	Fields    []Field
	Checksum  byte
	Sum       byte
	Valid     bool
	Timestamp time.Time
}

// LineResult describes what a single line did to the parser.
type LineResult struct {
	Kind  LineKind
	Field Field
	Frame *Frame

	// Responses holds HEX replies found on the line, without their colon.
	Responses []string
}

// FrameParser implements the line-oriented telemetry frame state machine.
// It is not safe for concurrent use.
type FrameParser struct {
	// SeedTerminator starts each frame after the first with the CR LF that
	// closed the previous Checksum line, as some devices count it. Off by
	// default: every frame starts from 0.
	SeedTerminator bool

	sink   Sink
	sum    byte
	fields []Field
}

// NewFrameParser creates a parser staging into sink. A nil sink accepts every
// field and discards commits.
func NewFrameParser(sink Sink) *FrameParser {
	return &FrameParser{sink: sink}
}

// Reset clears the running checksum and any partial frame.
func (p *FrameParser) Reset() {
	p.sum = 0
	p.fields = p.fields[:0]
	if p.sink != nil {
		p.sink.DiscardAll()
	}
}

// Sum returns the current running checksum.
func (p *FrameParser) Sum() byte {
	return p.sum
}

// Feed processes one line from the transport. The line may or may not still
// carry its CR LF terminator.
func (p *FrameParser) Feed(line string) LineResult {
	if strings.HasPrefix(line, string(CommandStart)) {
		// HEX replies on their own line are not part of the text frame
		return LineResult{Kind: LineResponse, Responses: splitResponses(line)}
	}

	if key, _, ok := strings.Cut(line, FieldSeparator); ok && key == ChecksumField {
		return p.finishFrame(line)
	}

	text := strings.TrimSuffix(line, LineTerminator)
	key, value, _ := strings.Cut(text, FieldSeparator)
	if key == "" {
		return LineResult{Kind: LineIgnored}
	}

	p.sum = AccumulateString(p.sum, text)
	p.sum = AccumulateString(p.sum, LineTerminator)

	field := Field{Key: key, Value: value}
	p.fields = append(p.fields, field)

	if p.sink != nil && !p.sink.Stage(key, value) {
		return LineResult{Kind: LineUnknownField, Field: field}
	}
	return LineResult{Kind: LineField, Field: field}
}

func (p *FrameParser) finishFrame(line string) LineResult {
	head := ChecksumField + FieldSeparator
	p.sum = AccumulateString(p.sum, head)

	var checksum byte
	rest := ""
	if len(line) > len(head) {
		checksum = line[len(head)]
		p.sum += checksum
		rest = line[len(head)+1:]
	}

	frame := &Frame{
		Fields:    append([]Field(nil), p.fields...),
		Checksum:  checksum,
		Sum:       p.sum,
		Valid:     FrameValid(p.sum),
		Timestamp: time.Now(),
	}

	if p.sink != nil {
		if frame.Valid {
			p.sink.Commit()
		} else {
			p.sink.DiscardAll()
		}
	}

	p.sum = 0
	if p.SeedTerminator {
		p.sum = AccumulateString(0, LineTerminator)
	}
	p.fields = p.fields[:0]

	return LineResult{Kind: LineFrame, Frame: frame, Responses: splitResponses(rest)}
}

// splitResponses extracts colon-delimited HEX replies from trailing bytes.
func splitResponses(s string) []string {
	s = strings.TrimSuffix(s, LineTerminator)
	idx := strings.IndexByte(s, CommandStart)
	if idx < 0 {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s[idx+1:], string(CommandStart)) {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
