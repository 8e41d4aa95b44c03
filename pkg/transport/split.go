// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import "bytes"

var crlf = []byte("\r\n")

// ScanLines is a bufio.SplitFunc for the VE.Direct stream. Text lines end
// in CR LF and are returned without it, so a checksum byte of CR or LF stays
// inside its line. HEX replies starting with ':' also end at a bare LF.
func ScanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	end, skip := bytes.Index(data, crlf), len(crlf)
	if len(data) > 0 && data[0] == ':' {
		if lf := bytes.IndexByte(data, '\n'); lf >= 0 && (end < 0 || lf < end) {
			end, skip = lf, 1
		}
	}
	if end >= 0 {
		return end + skip, data[:end], nil
	}

	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
