// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Openrail Contributors

package dcc

import (
	"fmt"
	"strings"
)

// FormatPayload renders a parity-complete payload as a human-readable
// line: the decoded meaning where the instruction is recognised, the
// raw bytes either way.
func FormatPayload(payload []byte) string {
	var sb strings.Builder
	sb.WriteString(describePayload(payload))
	sb.WriteString(" [")
	for i, b := range payload {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02X", b)
	}
	sb.WriteByte(']')
	return sb.String()
}

// describePayload names the instruction a payload carries.
func describePayload(payload []byte) string {
	if len(payload) < 2 {
		return "MALFORMED"
	}
	if Parity(payload[:len(payload)-1]) != payload[len(payload)-1] {
		return "BAD_PARITY"
	}
	body := payload[:len(payload)-1]

	if body[0] == 0x00 && len(body) == 2 && body[1] == 0x00 {
		return "RESET"
	}
	if body[0] == 0xFF && len(body) == 2 && body[1] == 0x00 {
		return "IDLE"
	}
	if body[0]&0xF0 == serviceModeBase && len(body) == 3 {
		return describeServiceMode(body)
	}
	if body[0]&0xC0 == 0x80 && len(body) == 2 && body[1]&0x80 != 0 {
		adrs := int(body[0]&0x3F) | (int(^body[1]>>4)&0x07)<<6
		sub := int(body[1]>>1) & 3
		state := int(body[1]) & 1
		return fmt.Sprintf("ACCESSORY addr=%d state=%d", adrs<<2+sub+1, state)
	}

	// Mobile instruction behind a short or long address.
	addr, rest := splitAddress(body)
	if rest == nil {
		return "UNRECOGNISED"
	}
	switch {
	case len(rest) == 2 && rest[0] == speed128Flag:
		dir := 0
		if rest[1]&directionBit != 0 {
			dir = 1
		}
		switch s := rest[1] &^ directionBit; s {
		case 0:
			return fmt.Sprintf("STOP addr=%d dir=%d", addr, dir)
		case 1:
			return fmt.Sprintf("ESTOP addr=%d dir=%d", addr, dir)
		default:
			return fmt.Sprintf("SPEED addr=%d speed=%d dir=%d", addr, int(s)-1, dir)
		}
	case len(rest) == 1 && rest[0]&0xE0 == groupOneBase:
		return fmt.Sprintf("FUNC F0-F4 addr=%d bits=%05b", addr, rest[0]&0x1F)
	case len(rest) == 1 && rest[0]&0xF0 == groupTwoABase:
		return fmt.Sprintf("FUNC F5-F8 addr=%d bits=%04b", addr, rest[0]&0x0F)
	case len(rest) == 1 && rest[0]&0xF0 == groupTwoBBase:
		return fmt.Sprintf("FUNC F9-F12 addr=%d bits=%04b", addr, rest[0]&0x0F)
	case len(rest) == 2 && rest[0] == groupThreeExt:
		return fmt.Sprintf("FUNC F13-F20 addr=%d bits=%08b", addr, rest[1])
	case len(rest) == 2 && rest[0] == groupFourExt:
		return fmt.Sprintf("FUNC F21-F28 addr=%d bits=%08b", addr, rest[1])
	}
	return "UNRECOGNISED"
}

// splitAddress strips the mobile address from the front of a payload
// body, returning the address and the instruction bytes after it.
func splitAddress(body []byte) (int, []byte) {
	if body[0]&0xC0 == longAddressPrefix && body[0] != 0xFF {
		if len(body) < 3 {
			return 0, nil
		}
		return int(body[0]&0x3F)<<8 | int(body[1]), body[2:]
	}
	if body[0]&0x80 == 0 {
		return int(body[0]), body[1:]
	}
	return 0, nil
}

// describeServiceMode names a direct-mode programming instruction.
func describeServiceMode(body []byte) string {
	cv := (int(body[0]&0x03)<<8 | int(body[1])) + 1
	switch body[0] & serviceWrite {
	case serviceWrite:
		return fmt.Sprintf("CV_WRITE cv=%d value=%d", cv, body[2])
	case serviceVerify:
		return fmt.Sprintf("CV_VERIFY cv=%d value=%d", cv, body[2])
	case serviceBitManip:
		bit := int(body[2]) & 7
		val := int(body[2]>>3) & 1
		if body[2]&serviceBitWrite != 0 {
			return fmt.Sprintf("CV_WRITE_BIT cv=%d bit=%d value=%d", cv, bit, val)
		}
		return fmt.Sprintf("CV_VERIFY_BIT cv=%d bit=%d value=%d", cv, bit, val)
	}
	return "UNRECOGNISED"
}
