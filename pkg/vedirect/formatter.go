// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vedirect

import (
	"fmt"
	"strings"
)

// FormatFrame formats a telemetry frame into a human-readable string
func FormatFrame(f *Frame) string {
	timestamp := f.Timestamp.Format("15:04:05.000")
	status := "OK"
	if !f.Valid {
		status = fmt.Sprintf("BAD CHECKSUM (sum=0x%02X)", f.Sum)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] FRAME fields=%d %s\n", timestamp, len(f.Fields), status)
	for _, field := range f.Fields {
		fmt.Fprintf(&b, "  %-8s %s\n", field.Key, field.Value)
	}
	return b.String()
}

// FormatOpcode returns the human-readable name for a reply opcode
func FormatOpcode(op Opcode) string {
	switch op {
	case ReplyDone:
		return "DONE"
	case ReplyUnknown:
		return "UNKNOWN_COMMAND"
	case ReplyError:
		return "ERROR"
	case ReplyPing:
		return "PING"
	case ReplyGet:
		return "GET"
	case ReplySet:
		return "SET"
	case ReplyAsync:
		return "ASYNC"
	default:
		return "UNKNOWN"
	}
}

// FormatResponse formats a decoded HEX reply
func FormatResponse(r Response) string {
	name := FormatOpcode(r.Opcode)
	if !r.HasRegister() {
		return fmt.Sprintf("%s (0x%X) payload=%s\n", name, byte(r.Opcode), r.Payload)
	}

	result := fmt.Sprintf("%s (0x%X) register=%s status=%s", name, byte(r.Opcode), r.Address, StatusText(r.Status))
	if r.Payload != "" {
		result += " value=0x" + r.Payload
	}
	return result + "\n"
}

// FormatCommand formats an outbound command frame
func FormatCommand(c Command) string {
	frame := strings.TrimSpace(c.Frame)
	if c.Address == "" {
		return fmt.Sprintf("CMD 0x%X %s\n", byte(c.Opcode), frame)
	}
	if c.Value != "" {
		return fmt.Sprintf("CMD 0x%X register=%s value=0x%s %s\n", byte(c.Opcode), c.Address, c.Value, frame)
	}
	return fmt.Sprintf("CMD 0x%X register=%s %s\n", byte(c.Opcode), c.Address, frame)
}
