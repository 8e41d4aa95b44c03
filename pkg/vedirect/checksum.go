// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vedirect

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Common errors.
var (
	ErrInvalidHex      = errors.New("invalid hex")
	ErrInvalidChecksum = errors.New("checksum mismatch")
	ErrShortResponse   = errors.New("response too short")
)

// Accumulate adds every byte of data to a running text-frame checksum.
func Accumulate(sum byte, data []byte) byte {
	for _, b := range data {
		sum += b
	}
	return sum
}

// AccumulateString is Accumulate for string data.
func AccumulateString(sum byte, data string) byte {
	for i := 0; i < len(data); i++ {
		sum += data[i]
	}
	return sum
}

// FrameValid reports whether a frame's running checksum closes to zero.
func FrameValid(sum byte) bool {
	return sum == 0
}

// CommandChecksum computes the HEX frame checksum over body, the frame
// without its leading colon. An odd digit count is padded with a leading
// zero nibble before pairing digits into bytes. The result is two upper-case
// hex digits.
func CommandChecksum(body string) (string, error) {
	sum, err := hexByteSum(body)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%02X", byte(commandChecksumBase-sum)), nil
}

func hexByteSum(digits string) (byte, error) {
	if len(digits)%2 == 1 {
		digits = "0" + digits
	}
	raw, err := hex.DecodeString(digits)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidHex, digits)
	}
	return Accumulate(0, raw), nil
}

// EndianSwapHex left-pads hexStr to 2*length digits and reverses its byte
// order.
func EndianSwapHex(hexStr string, length int) (string, error) {
	width := 2 * length
	if len(hexStr) > width {
		return "", fmt.Errorf("%w: %q longer than %d bytes", ErrInvalidHex, hexStr, length)
	}
	if !isHex(hexStr) {
		return "", fmt.Errorf("%w: %q", ErrInvalidHex, hexStr)
	}
	padded := strings.Repeat("0", width-len(hexStr)) + hexStr

	var b strings.Builder
	b.Grow(width)
	for i := width - 2; i >= 0; i -= 2 {
		b.WriteString(padded[i : i+2])
	}
	return b.String(), nil
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
