// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package register

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// Unsigned returns a decoder for an unsigned integer of the given byte width.
// A scale of 1 yields int64 values, anything else float64.
func Unsigned(width int, scale float64) DecodeFunc {
	return func(payload string) (Value, error) {
		n, err := parseWidth(payload, width)
		if err != nil {
			return nil, err
		}
		return scaled(int64(n), scale), nil
	}
}

// Signed returns a decoder for a two's complement integer of the given byte
// width.
func Signed(width int, scale float64) DecodeFunc {
	return func(payload string) (Value, error) {
		n, err := parseWidth(payload, width)
		if err != nil {
			return nil, err
		}
		bits := uint(width * 8)
		v := int64(n)
		if n&(1<<(bits-1)) != 0 {
			v -= int64(1) << bits
		}
		return scaled(v, scale), nil
	}
}

// Text decodes a payload of ASCII bytes, trimming trailing NULs.
func Text(payload string) (Value, error) {
	b, err := hex.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("invalid hex payload %q: %w", payload, err)
	}
	return strings.TrimRight(string(b), "\x00"), nil
}

// ParseInt is a telemetry parser that keeps non-numeric text as is.
func ParseInt(raw string) Value {
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n
	}
	return raw
}

func parseWidth(payload string, width int) (uint64, error) {
	if len(payload) != width*2 {
		return 0, fmt.Errorf("payload %q: want %d bytes", payload, width)
	}
	n, err := strconv.ParseUint(payload, 16, width*8)
	if err != nil {
		return 0, fmt.Errorf("invalid hex payload %q: %w", payload, err)
	}
	return n, nil
}

func scaled(v int64, scale float64) Value {
	if scale == 0 || scale == 1 {
		return v
	}
	return float64(v) * scale
}
