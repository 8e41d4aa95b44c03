// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package vedirect implements the VE.Direct protocol engine.
//
// VE.Direct devices (battery monitors, solar charge controllers) stream a
// periodic text frame of tab separated fields closed by a Checksum field, and
// accept HEX commands over the same half-duplex link. The engine decodes the
// text stream, validates frames, and serializes register get/set commands one
// at a time with timeout, retry and correlation against their replies.
package vedirect

import "time"

// Text protocol framing
const (
	ChecksumField  = "Checksum"
	FieldSeparator = "\t"
	LineTerminator = "\r\n"
)

// HEX protocol framing
const (
	CommandStart = ':'
	CommandEnd   = '\n'

	// Sum of all bytes of a HEX frame, including the checksum, is 0x55.
	commandChecksumBase = 0x55

	// Flags byte sent with get/set commands
	commandFlags = "00"

	addressBytes = 2
	prefixLength = 5 // opcode + little-endian address
	statusLength = 2
	checksumHex  = 2
)

// Opcode is a HEX protocol command or reply nibble.
type Opcode byte

// Commands (host -> device)
const (
	OpEnterBoot  Opcode = 0x0
	OpPing       Opcode = 0x1
	OpAppVersion Opcode = 0x3
	OpProductID  Opcode = 0x4
	OpRestart    Opcode = 0x6
	OpGet        Opcode = 0x7
	OpSet        Opcode = 0x8
)

// Replies (device -> host)
const (
	ReplyDone    Opcode = 0x1
	ReplyUnknown Opcode = 0x3
	ReplyError   Opcode = 0x4
	ReplyPing    Opcode = 0x5
	ReplyGet     Opcode = 0x7
	ReplySet     Opcode = 0x8
	ReplyAsync   Opcode = 0xA
)

// Status codes carried in the flags byte of get/set replies
const (
	StatusOK             byte = 0x00
	StatusUnknownID      byte = 0x01
	StatusNotSupported   byte = 0x02
	StatusParameterError byte = 0x04
)

// Sentinel replies recognised outside the normal correlation path
const (
	framingErrorPrefix = "4AAAA"
)

// Engine defaults
const (
	DefaultTimeout        = 5000 * time.Millisecond
	DefaultMaxRetries     = 3
	DefaultRecheck        = 1 * time.Second
	DefaultWatchdogFactor = 2
)
