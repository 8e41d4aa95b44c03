// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vedirect

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Thermoquad/vestat/pkg/register"
)

// Command is a serialized HEX command ready for the outbound queue.
type Command struct {
	Opcode Opcode

	// Address is the canonical register address, empty for simple commands.
	Address string

	// Value is the big-endian hex value of a set command.
	Value string

	// Frame is the wire form, ":" through "\n".
	Frame string

	// Prefix is the start of the reply that answers this command.
	Prefix string
}

// key identifies the register a command targets, for queue compression.
func (c Command) key() string {
	if c.Address == "" {
		return ""
	}
	return fmt.Sprintf("%X%s", byte(c.Opcode), c.Address)
}

// BuildCommand builds a get or set command frame for a register. valueHex is
// big-endian and may be empty for get.
func BuildCommand(op Opcode, address, valueHex string) (Command, error) {
	addr, err := register.NormalizeAddress(address)
	if err != nil {
		return Command{}, err
	}
	addrLE, err := EndianSwapHex(addr[2:], addressBytes)
	if err != nil {
		return Command{}, err
	}

	valueHex = strings.ToUpper(valueHex)
	if len(valueHex)%2 == 1 {
		valueHex = "0" + valueHex
	}
	valueLE, err := EndianSwapHex(valueHex, len(valueHex)/2)
	if err != nil {
		return Command{}, err
	}

	opHex := fmt.Sprintf("%X", byte(op))
	body := opHex + addrLE + commandFlags + valueLE
	sum, err := CommandChecksum(body)
	if err != nil {
		return Command{}, err
	}

	return Command{
		Opcode:  op,
		Address: addr,
		Value:   valueHex,
		Frame:   string(CommandStart) + body + sum + string(CommandEnd),
		Prefix:  opHex + addrLE,
	}, nil
}

// BuildGet builds a register read.
func BuildGet(address string) (Command, error) {
	return BuildCommand(OpGet, address, "")
}

// BuildSet builds a register write.
func BuildSet(address, valueHex string) (Command, error) {
	if valueHex == "" {
		return Command{}, fmt.Errorf("%w: empty value", ErrInvalidHex)
	}
	return BuildCommand(OpSet, address, valueHex)
}

// BuildSimple builds a fixed command without arguments, answered by a reply
// starting with the expected opcode.
func BuildSimple(op Opcode, reply Opcode) Command {
	body := fmt.Sprintf("%X", byte(op))
	// a single nibble is always valid hex
	sum, _ := CommandChecksum(body)
	return Command{
		Opcode: op,
		Frame:  string(CommandStart) + body + sum + string(CommandEnd),
		Prefix: fmt.Sprintf("%X", byte(reply)),
	}
}

// Fixed commands
var (
	PingCommand       = BuildSimple(OpPing, ReplyPing)
	AppVersionCommand = BuildSimple(OpAppVersion, ReplyDone)
	ProductIDCommand  = BuildSimple(OpProductID, ReplyDone)
	RestartCommand    = BuildSimple(OpRestart, OpRestart)
)

// restartEcho is the restart command body echoed by the device.
var restartEcho = strings.TrimSuffix(strings.TrimPrefix(RestartCommand.Frame, string(CommandStart)), string(CommandEnd))

// Response is a decoded HEX reply.
type Response struct {
	Raw    string
	Opcode Opcode

	// Prefix is the correlation key: opcode and little-endian address for
	// register replies, the opcode alone otherwise.
	Prefix string

	// Address is the canonical register address of register replies.
	Address string

	Status byte

	// Payload is the reply value converted to big-endian hex.
	Payload string

	Checksum string
}

// HasRegister reports whether the reply carries a register address.
func (r Response) HasRegister() bool {
	return r.Address != ""
}

// ValidateResponse recomputes the checksum of a reply (without its colon)
// and compares it with the trailing two hex digits.
func ValidateResponse(resp string) bool {
	if len(resp) < 1+checksumHex {
		return false
	}
	body := resp[:len(resp)-checksumHex]
	want, err := CommandChecksum(body)
	if err != nil {
		return false
	}
	return strings.EqualFold(want, resp[len(resp)-checksumHex:])
}

// DecodeResponse splits a reply (without its colon) into prefix, status and
// payload. It does not validate the checksum.
func DecodeResponse(resp string) (Response, error) {
	resp = strings.ToUpper(strings.TrimSpace(resp))
	if len(resp) < 1+checksumHex {
		return Response{}, fmt.Errorf("%w: %q", ErrShortResponse, resp)
	}
	if !isHex(resp) {
		return Response{}, fmt.Errorf("%w: %q", ErrInvalidHex, resp)
	}

	op, _ := strconv.ParseUint(resp[:1], 16, 8)
	r := Response{
		Raw:      resp,
		Opcode:   Opcode(op),
		Checksum: resp[len(resp)-checksumHex:],
	}

	var payloadLE string
	switch r.Opcode {
	case ReplyGet, ReplySet, ReplyAsync:
		if len(resp) < prefixLength+statusLength+checksumHex {
			return Response{}, fmt.Errorf("%w: %q", ErrShortResponse, resp)
		}
		r.Prefix = resp[:prefixLength]
		addr, err := EndianSwapHex(resp[1:prefixLength], addressBytes)
		if err != nil {
			return Response{}, err
		}
		r.Address = "0x" + addr
		status, _ := strconv.ParseUint(resp[prefixLength:prefixLength+statusLength], 16, 8)
		r.Status = byte(status)
		payloadLE = resp[prefixLength+statusLength : len(resp)-checksumHex]
	default:
		r.Prefix = resp[:1]
		payloadLE = resp[1 : len(resp)-checksumHex]
	}

	if len(payloadLE)%2 == 1 {
		payloadLE = "0" + payloadLE
	}
	payload, err := EndianSwapHex(payloadLE, len(payloadLE)/2)
	if err != nil {
		return Response{}, err
	}
	r.Payload = payload
	return r, nil
}

// StatusText describes a get/set status code.
func StatusText(status byte) string {
	switch status {
	case StatusOK:
		return "ok"
	case StatusUnknownID:
		return "unknown register id"
	case StatusNotSupported:
		return "not supported (read-only)"
	case StatusParameterError:
		return "parameter error (out of range)"
	default:
		return fmt.Sprintf("unknown status 0x%02X", status)
	}
}
