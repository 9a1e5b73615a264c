// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Openrail Contributors

package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/openrail/signalbox/pkg/dcc"
	"github.com/openrail/signalbox/pkg/pipeline"
	"github.com/openrail/signalbox/pkg/station"
)

// dispatch runs one console command against the station and returns
// the immediate textual response. Deferred responses (ON_SEND and
// ON_CONFIRM replies) arrive later on the station's reply channel.
//
// Grammar:
//
//	power off|main|prog
//	mobile <addr> <speed> <dir>
//	estop <addr> [dir]
//	accessory <addr> on|off
//	function <addr> <fn> on|off|toggle
//	cv write <cv> <value> | cv verify <cv> <value>
//	cv writebit <cv> <bit> <value> | cv verifybit <cv> <bit> <value>
//	set <name> <value>
//	names
//	status
func dispatch(st *station.Station, line string) (string, error) {
	fields := strings.Fields(strings.TrimSpace(line))
	if len(fields) == 0 {
		return "", nil
	}

	switch fields[0] {
	case "power":
		if len(fields) != 2 {
			return "", fmt.Errorf("usage: power off|main|prog")
		}
		var mode pipeline.Mode
		switch fields[1] {
		case "off":
			mode = pipeline.ModeOff
		case "main":
			mode = pipeline.ModeMain
		case "prog":
			mode = pipeline.ModeProg
		default:
			return "", fmt.Errorf("unknown power mode: %s", fields[1])
		}
		if err := st.SetPower(mode); err != nil {
			return "", err
		}
		return "power " + fields[1], nil

	case "mobile":
		args, err := intArgs(fields[1:], 3)
		if err != nil {
			return "", fmt.Errorf("usage: mobile <addr> <speed> <dir>")
		}
		return "", st.SubmitMobile(args[0], args[1], args[2])

	case "estop":
		if len(fields) != 2 && len(fields) != 3 {
			return "", fmt.Errorf("usage: estop <addr> [dir]")
		}
		args, err := intArgs(fields[1:], len(fields)-1)
		if err != nil {
			return "", fmt.Errorf("usage: estop <addr> [dir]")
		}
		dir := 0
		if len(args) == 2 {
			dir = args[1]
		}
		return "", st.SubmitMobile(args[0], dcc.EmergencyStop, dir)

	case "accessory":
		if len(fields) != 3 {
			return "", fmt.Errorf("usage: accessory <addr> on|off")
		}
		addr, err := strconv.Atoi(fields[1])
		if err != nil {
			return "", fmt.Errorf("bad address: %s", fields[1])
		}
		state, err := onOff(fields[2])
		if err != nil {
			return "", err
		}
		return "", st.SubmitAccessory(addr, state)

	case "function":
		if len(fields) != 4 {
			return "", fmt.Errorf("usage: function <addr> <fn> on|off|toggle")
		}
		args, err := intArgs(fields[1:3], 2)
		if err != nil {
			return "", fmt.Errorf("bad address or function number")
		}
		var state station.FunctionState
		switch fields[3] {
		case "on":
			state = station.FunctionOn
		case "off":
			state = station.FunctionOff
		case "toggle":
			state = station.FunctionToggle
		default:
			return "", fmt.Errorf("unknown function state: %s", fields[3])
		}
		return "", st.SubmitFunction(args[0], args[1], state)

	case "cv":
		if len(fields) < 2 {
			return "", fmt.Errorf("usage: cv write|verify|writebit|verifybit ...")
		}
		switch fields[1] {
		case "write":
			args, err := intArgs(fields[2:], 2)
			if err != nil {
				return "", fmt.Errorf("usage: cv write <cv> <value>")
			}
			return "", st.SubmitCVWrite(args[0], args[1])
		case "verify":
			args, err := intArgs(fields[2:], 2)
			if err != nil {
				return "", fmt.Errorf("usage: cv verify <cv> <value>")
			}
			return "", st.SubmitCVVerify(args[0], args[1])
		case "writebit":
			args, err := intArgs(fields[2:], 3)
			if err != nil {
				return "", fmt.Errorf("usage: cv writebit <cv> <bit> <value>")
			}
			return "", st.SubmitCVWriteBit(args[0], args[1], args[2])
		case "verifybit":
			args, err := intArgs(fields[2:], 3)
			if err != nil {
				return "", fmt.Errorf("usage: cv verifybit <cv> <bit> <value>")
			}
			return "", st.SubmitCVVerifyBit(args[0], args[1], args[2])
		default:
			return "", fmt.Errorf("unknown cv operation: %s", fields[1])
		}

	case "set":
		if len(fields) != 3 {
			return "", fmt.Errorf("usage: set <name> <value>")
		}
		value, err := strconv.Atoi(fields[2])
		if err != nil {
			return "", fmt.Errorf("bad value: %s", fields[2])
		}
		return "", st.SubmitNamedValue(fields[1], value)

	case "names":
		return strings.Join(dcc.CVNames(), "\n"), nil

	case "status":
		return formatSnapshot(st.Status()), nil

	default:
		return "", fmt.Errorf("unrecognised command: %s", fields[0])
	}
}

// intArgs parses exactly n integer arguments.
func intArgs(fields []string, n int) ([]int, error) {
	if len(fields) != n {
		return nil, fmt.Errorf("expected %d arguments, got %d", n, len(fields))
	}
	out := make([]int, n)
	for i, f := range fields {
		v, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("bad number: %s", f)
		}
		out[i] = v
	}
	return out, nil
}

func onOff(s string) (int, error) {
	switch s {
	case "on", "1":
		return 1, nil
	case "off", "0":
		return 0, nil
	}
	return 0, fmt.Errorf("expected on or off, got %s", s)
}

// formatSnapshot renders the station status for the console.
func formatSnapshot(snap station.Snapshot) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "mode %s\n", snap.Mode)
	for i, d := range snap.Districts {
		fmt.Fprintf(&sb, "district %d %s load=%d\n", i, d.Status, d.Load)
	}
	busy := 0
	for _, s := range snap.Slots {
		if s.State != pipeline.SlotEmpty {
			busy++
		}
	}
	fmt.Fprintf(&sb, "slots %d/%d busy, pool %d free\n", busy, len(snap.Slots), snap.FreePool)
	sb.WriteString(snap.Stats.Summary())
	return sb.String()
}
